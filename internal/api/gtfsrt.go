package api

import (
	"net/http"
	"strconv"
	"time"

	gtfsrt "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"transit-tracker/internal/tracker"
)

// VehiclePositions builds a FULL_DATASET feed with one entity per ready
// vehicle. A trip descriptor is attached only when a single route remains
// probable.
func VehiclePositions(states []tracker.State, now time.Time) *gtfsrt.FeedMessage {
	entities := make([]*gtfsrt.FeedEntity, 0, len(states))
	for _, st := range states {
		if !st.Ready {
			continue
		}
		id := strconv.Itoa(int(st.ID))
		pos := &gtfsrt.Position{
			Latitude:  proto.Float32(float32(st.Lat)),
			Longitude: proto.Float32(float32(st.Lon)),
			Speed:     proto.Float32(float32(st.SpeedMps)),
		}
		if st.HasHeading {
			pos.Bearing = proto.Float32(float32(st.Heading))
		}
		vp := &gtfsrt.VehiclePosition{
			Vehicle:   &gtfsrt.VehicleDescriptor{Id: proto.String(id)},
			Position:  pos,
			Timestamp: proto.Uint64(uint64(st.Timestamp.Unix())),
		}
		if len(st.ProbableRoutes) == 1 {
			vp.Trip = &gtfsrt.TripDescriptor{RouteId: proto.String(st.ProbableRoutes[0].RouteID)}
		}
		if len(st.ClosestStops) > 0 {
			vp.StopId = proto.String(st.ClosestStops[0].StopID)
		}
		entities = append(entities, &gtfsrt.FeedEntity{
			Id:      proto.String(id),
			Vehicle: vp,
		})
	}
	return &gtfsrt.FeedMessage{
		Header: &gtfsrt.FeedHeader{
			GtfsRealtimeVersion: proto.String("2.0"),
			Incrementality:      gtfsrt.FeedHeader_FULL_DATASET.Enum(),
			Timestamp:           proto.Uint64(uint64(now.Unix())),
		},
		Entity: entities,
	}
}

func (a *API) vehiclePositionsHandler(w http.ResponseWriter, r *http.Request) {
	msg := VehiclePositions(a.vehicles.Snapshot(), a.Now())

	if r.URL.Query().Get("format") == "json" {
		data, err := protojson.MarshalOptions{Multiline: true}.Marshal(msg)
		if err != nil {
			a.log.Error("marshal vehicle positions", "error", err)
			a.errorResponse(w, http.StatusInternalServerError, "internal server error")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(data)
		return
	}

	data, err := proto.Marshal(msg)
	if err != nil {
		a.log.Error("marshal vehicle positions", "error", err)
		a.errorResponse(w, http.StatusInternalServerError, "internal server error")
		return
	}
	w.Header().Set("Content-Type", "application/x-protobuf")
	_, _ = w.Write(data)
}

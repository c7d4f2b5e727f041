package publisher

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"transit-tracker/internal/logging"
	"transit-tracker/internal/tracker"
)

// NATSPublisher fans vehicle changes out on <prefix>.<id> subjects. It is a
// tracker.Observer.
type NATSPublisher struct {
	nc          *nats.Conn
	conn        conn
	prefix      string
	logSubjects bool
	metrics     PublisherMetrics
	log         logging.Logger
}

type conn interface {
	Publish(subject string, data []byte) error
}

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

func NewNATSPublisher(url, prefix string, logSubjects bool, m PublisherMetrics, log logging.Logger) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("transit-tracker"),
		nats.DisconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Warn("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			log.Info("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Info("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	p := newPublisher(nc, prefix, logSubjects, m, log)
	p.nc = nc
	return p, nil
}

func newPublisher(c conn, prefix string, logSubjects bool, m PublisherMetrics, log logging.Logger) *NATSPublisher {
	prefix = strings.Trim(prefix, ". ")
	if prefix == "" {
		prefix = "vehicles"
	}
	return &NATSPublisher{conn: c, prefix: prefix, logSubjects: logSubjects, metrics: m, log: log}
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		p.nc.Close()
	}
}

type VehicleMessage struct {
	ID        int16              `json:"id"`
	Timestamp time.Time          `json:"timestamp"`
	Lat       float64            `json:"lat"`
	Lon       float64            `json:"lon"`
	Bearing   *float64           `json:"bearing,omitempty"`
	SpeedMps  float64            `json:"speedMps"`
	SpeedMph  float64            `json:"speedMph"`
	StopID    string             `json:"closestStopId,omitempty"`
	Routes    []tracker.RouteRef `json:"probableRoutes"`
}

type RemovedMessage struct {
	ID        int16     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

func NewVehicleMessage(st tracker.State) VehicleMessage {
	msg := VehicleMessage{
		ID:        st.ID,
		Timestamp: st.Timestamp,
		Lat:       st.Lat,
		Lon:       st.Lon,
		SpeedMps:  st.SpeedMps,
		SpeedMph:  st.SpeedMph,
		Routes:    st.ProbableRoutes,
	}
	if st.HasHeading {
		h := st.Heading
		msg.Bearing = &h
	}
	if len(st.ClosestStops) > 0 {
		msg.StopID = st.ClosestStops[0].StopID
	}
	if msg.Routes == nil {
		msg.Routes = []tracker.RouteRef{}
	}
	return msg
}

// PublishVehicle sends st on <prefix>.<id>.
func (p *NATSPublisher) PublishVehicle(st tracker.State) error {
	return p.publish(p.Subject(st.ID), NewVehicleMessage(st))
}

// VehicleUpdated publishes ready vehicles; failures are logged and counted.
func (p *NATSPublisher) VehicleUpdated(st tracker.State) {
	if !st.Ready {
		return
	}
	if err := p.PublishVehicle(st); err != nil {
		p.log.Warn("publish vehicle failed", "vehicle_id", st.ID, "error", err)
	}
}

// VehicleRemoved publishes on <prefix>.<id>.removed.
func (p *NATSPublisher) VehicleRemoved(id int16) {
	msg := RemovedMessage{ID: id, Timestamp: time.Now().UTC()}
	if err := p.publish(p.Subject(id)+".removed", msg); err != nil {
		p.log.Warn("publish removal failed", "vehicle_id", id, "error", err)
	}
}

func (p *NATSPublisher) Subject(id int16) string {
	return p.prefix + "." + subjectToken(strconv.Itoa(int(id)))
}

func (p *NATSPublisher) publish(subject string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if p.logSubjects {
		p.log.Debug("nats publish", "subject", subject)
	}
	start := time.Now()
	err = p.conn.Publish(subject, b)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	return err
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}

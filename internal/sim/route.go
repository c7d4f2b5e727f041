package sim

import (
	"math"
	"sort"

	"transit-tracker/internal/gtfs"
	"transit-tracker/internal/schedule"
)

// waypoint is a shape vertex, or a stop spliced into the vertex list.
type waypoint struct {
	Lat, Lon float64
	Stop     *schedule.StopOccurrence
}

// route is the drivable polyline of a path with cumulative distances.
type route struct {
	points []waypoint
	cum    []float64
}

// buildRoute joins the path's trip shapes, dropping the shared vertex where
// one trip starts on the last vertex of the previous, and splices the path's
// stops into the vertex list.
func buildRoute(p *schedule.RoutePath) route {
	var verts []gtfs.ShapePoint
	for _, t := range p.Trips {
		vs := t.Vertices
		if len(verts) > 0 && len(vs) > 0 {
			last := verts[len(verts)-1]
			if last.Lat == vs[0].Lat && last.Lon == vs[0].Lon {
				vs = vs[1:]
			}
		}
		verts = append(verts, vs...)
	}
	points := insertStops(verts, p.Stops)
	return route{points: points, cum: cumDistances(points)}
}

// insertStops places every stop after the start vertex of its closest
// segment. Stops are matched in order and the search never moves backwards,
// so a loop that passes a stop twice keeps both visits in place.
func insertStops(verts []gtfs.ShapePoint, stops []*schedule.StopOccurrence) []waypoint {
	out := make([]waypoint, 0, len(verts)+len(stops))
	if len(verts) < 2 {
		for _, v := range verts {
			out = append(out, waypoint{Lat: v.Lat, Lon: v.Lon})
		}
		for _, occ := range stops {
			out = append(out, stopWaypoint(occ))
		}
		return out
	}

	segs := make([]int, len(stops))
	seg := 0
	for i, occ := range stops {
		best := math.MaxFloat64
		bestSeg := seg
		for j := seg; j+1 < len(verts); j++ {
			d2 := segmentDistance2(verts[j], verts[j+1], occ.Stop.Lat, occ.Stop.Lon)
			if d2 < best {
				best = d2
				bestSeg = j
			}
		}
		seg = bestSeg
		segs[i] = seg
	}

	k := 0
	for j, v := range verts {
		out = append(out, waypoint{Lat: v.Lat, Lon: v.Lon})
		for k < len(stops) && segs[k] == j {
			out = append(out, stopWaypoint(stops[k]))
			k++
		}
	}
	return out
}

func stopWaypoint(occ *schedule.StopOccurrence) waypoint {
	return waypoint{Lat: occ.Stop.Lat, Lon: occ.Stop.Lon, Stop: occ}
}

// segmentDistance2 is the squared distance in meters from (lat, lon) to its
// projection on segment a-b, using an equirectangular approximation centered
// on the point.
func segmentDistance2(a, b gtfs.ShapePoint, lat, lon float64) float64 {
	cosLat0 := math.Cos(lat * math.Pi / 180)
	toXY := func(pLat, pLon float64) (x, y float64) {
		y = (pLat - lat) * math.Pi / 180 * 6371000.0
		x = (pLon - lon) * math.Pi / 180 * 6371000.0 * cosLat0
		return
	}
	x0, y0 := toXY(a.Lat, a.Lon)
	x1, y1 := toXY(b.Lat, b.Lon)
	dx := x1 - x0
	dy := y1 - y0
	segLen2 := dx*dx + dy*dy
	t := 0.0
	if segLen2 > 0 {
		t = -(x0*dx + y0*dy) / segLen2 // projection of origin onto segment
		if t < 0 {
			t = 0
		} else if t > 1 {
			t = 1
		}
	}
	px := x0 + t*dx
	py := y0 + t*dy
	return px*px + py*py
}

func cumDistances(pts []waypoint) []float64 {
	cum := make([]float64, len(pts))
	for i := 1; i < len(pts); i++ {
		cum[i] = cum[i-1] + gtfs.Haversine(pts[i-1].Lat, pts[i-1].Lon, pts[i].Lat, pts[i].Lon)
	}
	return cum
}

func (r route) total() float64 {
	if len(r.cum) == 0 {
		return 0
	}
	return r.cum[len(r.cum)-1]
}

// at interpolates the position dist meters along the route.
func (r route) at(dist float64) (lat, lon float64) {
	n := len(r.points)
	if n == 0 {
		return 0, 0
	}
	if dist <= 0 {
		return r.points[0].Lat, r.points[0].Lon
	}
	if dist >= r.total() {
		return r.points[n-1].Lat, r.points[n-1].Lon
	}
	i := sort.SearchFloat64s(r.cum, dist)
	if i == 0 {
		return r.points[0].Lat, r.points[0].Lon
	}
	d0, d1 := r.cum[i-1], r.cum[i]
	p0, p1 := r.points[i-1], r.points[i]
	if d1 == d0 {
		return p1.Lat, p1.Lon
	}
	frac := (dist - d0) / (d1 - d0)
	return p0.Lat + (p1.Lat-p0.Lat)*frac, p0.Lon + (p1.Lon-p0.Lon)*frac
}

// startAt returns the index of the first stop scheduled to arrive at or
// after nowMin.
func (r route) startAt(nowMin int) (int, bool) {
	for i, wp := range r.points {
		if wp.Stop != nil && wp.Stop.ArrivalMin >= nowMin {
			return i, true
		}
	}
	return 0, false
}

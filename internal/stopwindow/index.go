package stopwindow

import (
	"math"
	"time"

	"transit-tracker/internal/schedule"
)

const keyScale = 1e6

// Key is a coordinate rounded to microdegrees. Occurrences at the same
// physical stop share a key.
type Key struct {
	Lat int64
	Lon int64
}

func KeyFor(lat, lon float64) Key {
	return Key{Lat: int64(math.Round(lat * keyScale)), Lon: int64(math.Round(lon * keyScale))}
}

func (k Key) LatLon() (float64, float64) {
	return float64(k.Lat) / keyScale, float64(k.Lon) / keyScale
}

// Index maps rounded coordinates to the stop occurrences scheduled there
// within one window. It is never modified once published.
type Index struct {
	stops       map[Key][]*schedule.StopOccurrence
	keys        []Key
	occurrences int
	builtAt     time.Time
}

func newIndex() *Index {
	return newIndexSized(0)
}

// newIndexSized presizes the index for the given number of coordinates.
func newIndexSized(coordinates int) *Index {
	return &Index{
		stops: make(map[Key][]*schedule.StopOccurrence, coordinates),
		keys:  make([]Key, 0, coordinates),
	}
}

func (ix *Index) add(occ *schedule.StopOccurrence) {
	k := KeyFor(occ.Stop.Lat, occ.Stop.Lon)
	stack, ok := ix.stops[k]
	if !ok {
		ix.keys = append(ix.keys, k)
	}
	ix.stops[k] = append(stack, occ)
	ix.occurrences++
}

// StopsNear returns the stack stored at the rounded coordinate, or nil.
func (ix *Index) StopsNear(lat, lon float64) []*schedule.StopOccurrence {
	return ix.stops[KeyFor(lat, lon)]
}

// AllCoordinates returns a copy of every key in the index.
func (ix *Index) AllCoordinates() []Key {
	return append([]Key(nil), ix.keys...)
}

// Closest scans every key for the smallest squared degree distance to
// (lat, lon). ok is false when the index is empty.
func (ix *Index) Closest(lat, lon float64) (key Key, stack []*schedule.StopOccurrence, ok bool) {
	best := math.Inf(1)
	for _, k := range ix.keys {
		klat, klon := k.LatLon()
		dlat, dlon := klat-lat, klon-lon
		if d := dlat*dlat + dlon*dlon; d < best {
			best, key, ok = d, k, true
		}
	}
	if !ok {
		return Key{}, nil, false
	}
	return key, ix.stops[key], true
}

// Len is the number of distinct coordinates.
func (ix *Index) Len() int { return len(ix.keys) }

func (ix *Index) Occurrences() int { return ix.occurrences }

func (ix *Index) BuiltAt() time.Time { return ix.builtAt }

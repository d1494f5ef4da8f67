package store

import (
	"fmt"
	"sort"
	"sync"

	"ktmtrack/internal/domain"
)

type ListOptions struct {
	TripID  string
	RouteID string
}

// Store mirrors the latest position batch keyed by vehicle, with trip and
// route indices, and reports what changed between batches.
type Store struct {
	mu       sync.RWMutex
	vehicles map[string]*entry
	byTrip   map[string]map[string]struct{}
	byRoute  map[string]map[string]struct{}
}

type entry struct {
	v       domain.VehicleRecord
	routeID string
}

func New() *Store {
	return &Store{
		vehicles: make(map[string]*entry),
		byTrip:   make(map[string]map[string]struct{}),
		byRoute:  make(map[string]map[string]struct{}),
	}
}

// uniqueKey suffixes key with #2, #3... while it is taken in this batch,
// so two vehicles sharing a key both stay listed.
func uniqueKey(key string, seen map[string]struct{}) string {
	if _, dup := seen[key]; !dup {
		return key
	}
	for n := 2; ; n++ {
		k := fmt.Sprintf("%s#%d", key, n)
		if _, dup := seen[k]; !dup {
			return k
		}
	}
}

// Update replaces the store contents with records. routeOf maps a trip to
// its route and may return "" for trips the schedule does not know.
// Vehicles missing from records produce remove deltas.
func (s *Store) Update(records []domain.VehicleRecord, routeOf func(tripID string) string) []domain.VehicleDelta {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{}, len(records))
	deltas := make([]domain.VehicleDelta, 0, len(records))

	for _, v := range records {
		key := uniqueKey(v.Key(), seen)
		seen[key] = struct{}{}

		routeID := ""
		if routeOf != nil {
			routeID = routeOf(v.TripID)
		}

		existing, exists := s.vehicles[key]
		if exists && !hasChanged(&existing.v, &v) {
			// a schedule refresh can remap the trip without a new position
			if existing.routeID != routeID {
				s.removeFromIndices(key, existing)
				existing.routeID = routeID
				s.addToIndices(key, existing)
			}
			continue
		}
		if exists {
			if existing.v.TripID != v.TripID {
				deltas = append(deltas, domain.VehicleDelta{
					Type:   domain.DeltaRemove,
					Key:    key,
					TripID: existing.v.TripID,
				})
			}
			s.removeFromIndices(key, existing)
		}

		e := &entry{v: v, routeID: routeID}
		s.vehicles[key] = e
		s.addToIndices(key, e)

		vc := v
		deltas = append(deltas, domain.VehicleDelta{
			Type:    domain.DeltaUpdate,
			Key:     key,
			TripID:  v.TripID,
			Vehicle: &vc,
		})
	}

	for key, e := range s.vehicles {
		if _, ok := seen[key]; ok {
			continue
		}
		deltas = append(deltas, domain.VehicleDelta{
			Type:   domain.DeltaRemove,
			Key:    key,
			TripID: e.v.TripID,
		})
		s.removeFromIndices(key, e)
		delete(s.vehicles, key)
	}

	return deltas
}

func (s *Store) Get(key string) (domain.VehicleRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.vehicles[key]
	if !ok {
		return domain.VehicleRecord{}, false
	}
	return e.v, true
}

// List returns matching vehicles ordered by label.
func (s *Store) List(opts ListOptions) []domain.VehicleRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	candidates := s.getCandidates(opts)

	result := make([]domain.VehicleRecord, 0, len(candidates))
	for key := range candidates {
		result = append(result, s.vehicles[key].v)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Label != result[j].Label {
			return result[i].Label < result[j].Label
		}
		return result[i].Key() < result[j].Key()
	})
	return result
}

func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vehicles)
}

func (s *Store) getCandidates(opts ListOptions) map[string]struct{} {
	if opts.TripID != "" && opts.RouteID != "" {
		return intersect(s.byTrip[opts.TripID], s.byRoute[opts.RouteID])
	}
	if opts.TripID != "" {
		return copySet(s.byTrip[opts.TripID])
	}
	if opts.RouteID != "" {
		return copySet(s.byRoute[opts.RouteID])
	}

	result := make(map[string]struct{}, len(s.vehicles))
	for key := range s.vehicles {
		result[key] = struct{}{}
	}
	return result
}

func intersect(a, b map[string]struct{}) map[string]struct{} {
	if a == nil || b == nil {
		return make(map[string]struct{})
	}

	smaller, larger := a, b
	if len(a) > len(b) {
		smaller, larger = b, a
	}

	result := make(map[string]struct{})
	for key := range smaller {
		if _, ok := larger[key]; ok {
			result[key] = struct{}{}
		}
	}
	return result
}

func copySet(src map[string]struct{}) map[string]struct{} {
	result := make(map[string]struct{}, len(src))
	for key := range src {
		result[key] = struct{}{}
	}
	return result
}

func (s *Store) addToIndices(key string, e *entry) {
	addTo(s.byTrip, e.v.TripID, key)
	if e.routeID != "" {
		addTo(s.byRoute, e.routeID, key)
	}
}

func (s *Store) removeFromIndices(key string, e *entry) {
	removeFrom(s.byTrip, e.v.TripID, key)
	removeFrom(s.byRoute, e.routeID, key)
}

func addTo(index map[string]map[string]struct{}, id, key string) {
	if index[id] == nil {
		index[id] = make(map[string]struct{})
	}
	index[id][key] = struct{}{}
}

func removeFrom(index map[string]map[string]struct{}, id, key string) {
	if index[id] != nil {
		delete(index[id], key)
		if len(index[id]) == 0 {
			delete(index, id)
		}
	}
}

func hasChanged(old, new *domain.VehicleRecord) bool {
	const epsilon = 0.000001

	if old.TripID != new.TripID || old.Label != new.Label {
		return true
	}

	latDiff := old.Lat - new.Lat
	if latDiff < 0 {
		latDiff = -latDiff
	}
	lonDiff := old.Lon - new.Lon
	if lonDiff < 0 {
		lonDiff = -lonDiff
	}

	if latDiff > epsilon || lonDiff > epsilon {
		return true
	}

	if old.SpeedKMH != new.SpeedKMH || old.Bearing != new.Bearing {
		return true
	}

	return !old.Timestamp.Equal(new.Timestamp)
}

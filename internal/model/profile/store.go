package profile

// Store exposes coach profile retrieval for handlers and prompt building.
type Store interface {
	List() []CoachProfile
	FindByID(id string) (CoachProfile, bool)
}

// MemoryStore implements Store with an in-memory slice.
type MemoryStore struct {
	items []CoachProfile
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied profiles.
func NewMemoryStore(items []CoachProfile) *MemoryStore {
	return &MemoryStore{items: append([]CoachProfile(nil), items...)}
}

// List returns the configured coach lineup.
func (s *MemoryStore) List() []CoachProfile {
	return append([]CoachProfile(nil), s.items...)
}

// FindByID looks up a coach by identifier.
func (s *MemoryStore) FindByID(id string) (CoachProfile, bool) {
	for _, item := range s.items {
		if item.ID == id {
			return item, true
		}
	}
	return CoachProfile{}, false
}

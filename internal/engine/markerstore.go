package engine

import (
	"context"

	"github.com/puzpuzpuz/xsync/v3"
)

// MemoryMarkerStore keeps dependency markers in process memory. It is the
// default when no Redis address is configured and the store of choice in
// tests; markers then live only as long as the worker does.
type MemoryMarkerStore struct {
	markers *xsync.MapOf[string, Marker]
}

func NewMemoryMarkerStore() *MemoryMarkerStore {
	return &MemoryMarkerStore{markers: xsync.NewMapOf[string, Marker]()}
}

var _ MarkerStore = (*MemoryMarkerStore)(nil)

func markerKey(projectID, language string) string {
	return projectID + ":" + language
}

func (s *MemoryMarkerStore) Get(_ context.Context, projectID, language string) (*Marker, error) {
	m, ok := s.markers.Load(markerKey(projectID, language))
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (s *MemoryMarkerStore) Put(_ context.Context, projectID, language string, m Marker) error {
	s.markers.Store(markerKey(projectID, language), m)
	return nil
}

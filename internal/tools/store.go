package tools

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Screenshot is one captured frame held in memory until a cleanup tool
// drops it.
type Screenshot struct {
	URI   string
	TabID string
	Data  []byte
	Taken time.Time
}

// ScreenshotStore keeps screenshots keyed by resource URI. Nothing ages
// out on its own; memory is reclaimed only through remove_screenshot and
// clear_screenshots.
type ScreenshotStore struct {
	mu    sync.Mutex
	shots map[string]Screenshot
}

func NewScreenshotStore() *ScreenshotStore {
	return &ScreenshotStore{shots: make(map[string]Screenshot)}
}

// Add stores data under a fresh screenshot://{tabID}/{unix-ms} URI and
// returns the record.
func (s *ScreenshotStore) Add(tabID string, data []byte) Screenshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	ms := now.UnixMilli()

	// Two captures of one tab can land on the same millisecond; bump
	// until the slot is free.
	var uri string
	for {
		uri = fmt.Sprintf("screenshot://%s/%d", tabID, ms)
		if _, exists := s.shots[uri]; !exists {
			break
		}
		ms++
	}

	shot := Screenshot{URI: uri, TabID: tabID, Data: data, Taken: now}
	s.shots[uri] = shot
	return shot
}

func (s *ScreenshotStore) Get(uri string) (Screenshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	shot, ok := s.shots[uri]
	return shot, ok
}

// Remove drops one screenshot and reports whether it was held.
func (s *ScreenshotStore) Remove(uri string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.shots[uri]
	delete(s.shots, uri)
	return ok
}

// Clear drops everything and returns the URIs that were held.
func (s *ScreenshotStore) Clear() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	uris := make([]string, 0, len(s.shots))
	for uri := range s.shots {
		uris = append(uris, uri)
	}
	s.shots = make(map[string]Screenshot)
	return uris
}

// List returns every screenshot, oldest first.
func (s *ScreenshotStore) List() []Screenshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Screenshot, 0, len(s.shots))
	for _, shot := range s.shots {
		out = append(out, shot)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Taken.Equal(out[j].Taken) {
			return out[i].URI < out[j].URI
		}
		return out[i].Taken.Before(out[j].Taken)
	})
	return out
}

func (s *ScreenshotStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.shots)
}

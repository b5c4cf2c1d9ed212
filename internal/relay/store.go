// Package relay implements the context side-channel: a small keyed store used
// to hand documents and viewport data between two embed front-ends that
// cannot message each other directly, plus a TTL'd pending-request set.
package relay

import (
	"encoding/json"
	"math"
	"sync"
	"time"
)

// RequestTTL is how long a refresh request stays visible to readers.
const RequestTTL = 30 * time.Second

// Doc is one contextual document reference. Content is typically a deep link
// rather than raw file content.
type Doc struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Type    string `json:"type"`
}

// Viewport is the visible rectangle of an embed.
type Viewport struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Record is the stored context payload for one embed.
type Record struct {
	Docs      []Doc      `json:"docs"`
	Viewport  *Viewport  `json:"viewport"`
	UpdatedAt *time.Time `json:"updatedAt"`
}

// Store holds context records and pending refresh requests, keyed by embed
// id. Records are overwritten on push and never expire; only the request set
// has a TTL.
type Store struct {
	mu       sync.Mutex
	records  map[string]Record
	requests map[string]time.Time
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		records:  make(map[string]Record),
		requests: make(map[string]time.Time),
	}
}

// Push overwrites the record for the embed with a fresh timestamp and returns
// the number of documents stored. A nil docs slice is stored as empty.
func (s *Store) Push(embedID string, docs []Doc, viewport *Viewport) int {
	if docs == nil {
		docs = []Doc{}
	}
	now := time.Now()

	s.mu.Lock()
	s.records[embedID] = Record{Docs: docs, Viewport: viewport, UpdatedAt: &now}
	s.mu.Unlock()

	return len(docs)
}

// Pull returns the record for the embed, or an empty default (docs: [],
// viewport: null, updatedAt: null) if nothing was ever pushed. It never
// fails.
func (s *Store) Pull(embedID string) Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.records[embedID]; ok {
		return rec
	}
	return Record{Docs: []Doc{}}
}

// RequestRefresh records a pending "please refresh" signal for the embed,
// overwriting any earlier one.
func (s *Store) RequestRefresh(embedID string) {
	s.mu.Lock()
	s.requests[embedID] = time.Now()
	s.mu.Unlock()
}

// ListPending returns the embed ids whose refresh request is within the TTL
// window of now. Expired entries found during the scan are purged.
func (s *Store) ListPending(now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := make([]string, 0, len(s.requests))
	for id, at := range s.requests {
		if now.Sub(at) > RequestTTL {
			delete(s.requests, id)
			continue
		}
		pending = append(pending, id)
	}
	return pending
}

// PurgeExpired drops expired refresh requests. The periodic purge tick and
// ListPending share this behavior; the tick just keeps the map from growing
// between reads.
func (s *Store) PurgeExpired(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, at := range s.requests {
		if now.Sub(at) > RequestTTL {
			delete(s.requests, id)
		}
	}
}

// PendingCount returns the number of stored refresh requests, expired or not.
func (s *Store) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// ParseViewport decodes a viewport from raw JSON. It returns nil unless all
// four fields are present, numeric and finite; a malformed viewport is
// discarded rather than failing the push.
func ParseViewport(raw json.RawMessage) *Viewport {
	if len(raw) == 0 {
		return nil
	}

	var fields struct {
		X      *float64 `json:"x"`
		Y      *float64 `json:"y"`
		Width  *float64 `json:"width"`
		Height *float64 `json:"height"`
	}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil
	}

	for _, f := range []*float64{fields.X, fields.Y, fields.Width, fields.Height} {
		if f == nil || math.IsNaN(*f) || math.IsInf(*f, 0) {
			return nil
		}
	}
	return &Viewport{X: *fields.X, Y: *fields.Y, Width: *fields.Width, Height: *fields.Height}
}

package server

import (
	"errors"
	"sync"
	"time"

	"github.com/Sternrassler/latest-games/pkg/feed"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ErrSessionNotFound is returned for unknown or evicted session ids.
var ErrSessionNotFound = errors.New("session not found")

var (
	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "latest_games_sessions_active",
		Help: "Screen sessions currently holding an accumulator",
	})

	sessionsEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "latest_games_sessions_evicted_total",
		Help: "Sessions closed after idling past the session TTL",
	})
)

// session is one screen activation.
type session struct {
	id       uuid.UUID
	feed     *feed.Accumulator
	lastSeen time.Time
}

// Registry maps session ids to accumulators.
type Registry struct {
	fetcher feed.Fetcher
	config  feed.Config
	ttl     time.Duration
	now     func() time.Time

	mu       sync.Mutex
	sessions map[uuid.UUID]*session
}

// NewRegistry creates an empty registry. Every session gets its own
// accumulator over fetcher.
func NewRegistry(fetcher feed.Fetcher, config feed.Config, ttl time.Duration) *Registry {
	return &Registry{
		fetcher:  fetcher,
		config:   config,
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[uuid.UUID]*session),
	}
}

// Create registers a new session with a fresh accumulator.
func (r *Registry) Create() (uuid.UUID, *feed.Accumulator) {
	id := uuid.New()
	cfg := r.config
	cfg.SessionID = id.String()
	acc := feed.New(r.fetcher, cfg)

	r.mu.Lock()
	r.sessions[id] = &session{id: id, feed: acc, lastSeen: r.now()}
	r.mu.Unlock()

	sessionsActive.Inc()
	return id, acc
}

// Get returns the accumulator of a session and marks it as used.
func (r *Registry) Get(id uuid.UUID) (*feed.Accumulator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	s.lastSeen = r.now()
	return s.feed, nil
}

// Delete closes and removes a session.
func (r *Registry) Delete(id uuid.UUID) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	sessionsActive.Dec()
	return s.feed.Close()
}

// Evict closes sessions idle for longer than the TTL and returns how many
// were removed.
func (r *Registry) Evict() int {
	cutoff := r.now().Add(-r.ttl)

	r.mu.Lock()
	var stale []*session
	for id, s := range r.sessions {
		if s.lastSeen.Before(cutoff) {
			stale = append(stale, s)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, s := range stale {
		s.feed.Close()
	}
	sessionsActive.Sub(float64(len(stale)))
	sessionsEvicted.Add(float64(len(stale)))
	return len(stale)
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CloseAll closes every session.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	all := r.sessions
	r.sessions = make(map[uuid.UUID]*session)
	r.mu.Unlock()

	for _, s := range all {
		s.feed.Close()
	}
	sessionsActive.Sub(float64(len(all)))
}

// Package temporal keeps short-lived numeric series and expiring facts in
// memory. Rules reach it only through the functions Register installs.
package temporal

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/symbolicaengine-ai/symbolica-sub000/internal/value"
)

const (
	DefaultMaxPoints = 1000
	DefaultRetention = time.Hour
)

// ErrNotNumeric is returned when a non-numeric value is recorded.
var ErrNotNumeric = errors.New("series values must be numeric")

type point struct {
	at time.Time
	v  float64
}

type fact struct {
	v       value.Value
	expires time.Time
}

// Options configures a Store.
type Options struct {
	// MaxPoints caps each series; the oldest points are dropped first.
	MaxPoints int
	// Retention drops points older than this on every write.
	Retention time.Duration
	// Now is the clock. Defaults to time.Now.
	Now    func() time.Time
	Logger *zerolog.Logger
}

// Store is safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	series map[string][]point
	facts  map[string]fact

	maxPoints int
	retention time.Duration
	now       func() time.Time
	logger    zerolog.Logger
}

// New returns an empty Store.
func New(opts Options) *Store {
	s := &Store{
		series:    make(map[string][]point),
		facts:     make(map[string]fact),
		maxPoints: opts.MaxPoints,
		retention: opts.Retention,
		now:       opts.Now,
		logger:    zerolog.Nop(),
	}
	if s.maxPoints <= 0 {
		s.maxPoints = DefaultMaxPoints
	}
	if s.retention <= 0 {
		s.retention = DefaultRetention
	}
	if s.now == nil {
		s.now = time.Now
	}
	if opts.Logger != nil {
		s.logger = *opts.Logger
	}
	return s
}

// Record appends v to the series named key at the current time.
func (s *Store) Record(key string, v value.Value) error {
	f, ok := v.AsFloat()
	if !ok {
		return ErrNotNumeric
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	pts := append(s.series[key], point{at: now, v: f})
	cutoff := now.Add(-s.retention)
	drop := sort.Search(len(pts), func(i int) bool { return !pts[i].at.Before(cutoff) })
	if over := len(pts) - drop - s.maxPoints; over > 0 {
		drop += over
	}
	if drop > 0 {
		pts = append([]point(nil), pts[drop:]...)
	}
	s.series[key] = pts
	return nil
}

// Window returns the values recorded for key within the last d.
func (s *Store) Window(key string, d time.Duration) []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pts := s.series[key]
	cutoff := s.now().Add(-d)
	start := sort.Search(len(pts), func(i int) bool { return !pts[i].at.Before(cutoff) })
	out := make([]float64, 0, len(pts)-start)
	for _, p := range pts[start:] {
		out = append(out, p.v)
	}
	return out
}

// span returns how long the series has covered up to now, or zero when it
// has no points.
func (s *Store) span(key string) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pts := s.series[key]
	if len(pts) == 0 {
		return 0
	}
	return s.now().Sub(pts[0].at)
}

// SetFact stores v under key until ttl elapses. A non-positive ttl never
// expires.
func (s *Store) SetFact(key string, v value.Value, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := fact{v: v}
	if ttl > 0 {
		f.expires = s.now().Add(ttl)
	}
	s.facts[key] = f
}

// Fact returns the live fact stored under key.
func (s *Store) Fact(key string) (value.Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.facts[key]
	if !ok || s.expired(f) {
		return value.Null(), false
	}
	return f.v, true
}

func (s *Store) expired(f fact) bool {
	return !f.expires.IsZero() && !s.now().Before(f.expires)
}

// Prune removes expired facts and stale series. It returns how many
// entries were removed.
func (s *Store) Prune() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for k, f := range s.facts {
		if s.expired(f) {
			delete(s.facts, k)
			removed++
		}
	}
	cutoff := s.now().Add(-s.retention)
	for k, pts := range s.series {
		if len(pts) == 0 || pts[len(pts)-1].at.Before(cutoff) {
			delete(s.series, k)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Debug().Int("removed", removed).Msg("Pruned temporal store")
	}
	return removed
}

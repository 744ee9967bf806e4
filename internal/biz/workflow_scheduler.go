package biz

import (
	"sync"
	"time"

	pkglog "CareFlow/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
)

// advanceFunc is called when an auto-advance timer fires.
type advanceFunc func(clientID string, from, to int, version int64)

type scheduledAdvance struct {
	timer   *time.Timer
	from    int
	to      int
	version int64
	at      time.Time
}

// AdvanceScheduler keeps at most one pending auto-advance per client. Each
// pending advance can be cancelled until it fires.
type AdvanceScheduler struct {
	mu      sync.Mutex
	pending map[string]*scheduledAdvance
	fire    advanceFunc
	stopped bool
	wg      sync.WaitGroup
	log     *pkglog.LogHelper
}

// NewAdvanceScheduler creates a scheduler that calls fire on expiry.
func NewAdvanceScheduler(fire advanceFunc, logger log.Logger) *AdvanceScheduler {
	return &AdvanceScheduler{
		pending: make(map[string]*scheduledAdvance),
		fire:    fire,
		log:     pkglog.NewLogHelper(log.With(logger, "module", "biz/scheduler")),
	}
}

// Schedule replaces any pending advance for clientID with one that moves the
// client from phase from to phase to after delay. version is the instance
// version the advance was scheduled against.
func (s *AdvanceScheduler) Schedule(clientID string, from, to int, version int64, delay time.Duration) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	at := time.Now().Add(delay)
	if s.stopped {
		return at
	}
	s.cancelLocked(clientID)

	entry := &scheduledAdvance{from: from, to: to, version: version, at: at}
	s.wg.Add(1)
	entry.timer = time.AfterFunc(delay, func() {
		defer s.wg.Done()
		s.mu.Lock()
		current, ok := s.pending[clientID]
		if !ok || current != entry || s.stopped {
			s.mu.Unlock()
			return
		}
		delete(s.pending, clientID)
		s.mu.Unlock()

		s.log.Scheduler("auto-advance fired", "client_id", clientID, "from", from, "to", to)
		s.fire(clientID, from, to, version)
	})
	s.pending[clientID] = entry

	s.log.Scheduler("auto-advance scheduled", "client_id", clientID, "from", from, "to", to, "at", at.UTC().Format(time.RFC3339))
	return at
}

// Cancel drops the pending advance for clientID. It reports whether one existed.
func (s *AdvanceScheduler) Cancel(clientID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelLocked(clientID)
}

func (s *AdvanceScheduler) cancelLocked(clientID string) bool {
	entry, ok := s.pending[clientID]
	if !ok {
		return false
	}
	if entry.timer.Stop() {
		s.wg.Done()
	}
	delete(s.pending, clientID)
	return true
}

// Pending returns when the advance for clientID fires, if one is scheduled.
func (s *AdvanceScheduler) Pending(clientID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.pending[clientID]
	if !ok {
		return time.Time{}, false
	}
	return entry.at, true
}

// Len returns the number of pending advances.
func (s *AdvanceScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Stop cancels every pending advance and waits for running callbacks.
// Later Schedule calls are ignored.
func (s *AdvanceScheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	n := len(s.pending)
	for clientID := range s.pending {
		s.cancelLocked(clientID)
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Scheduler("advance scheduler stopped", "cancelled", n)
}

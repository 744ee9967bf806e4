package biz

import (
	"context"
	"sync"
)

// clientLocks serializes workflow transitions per client. Waiters queue on a
// one-slot channel so a blocked caller can give up when its context ends.
type clientLocks struct {
	mu    sync.Mutex
	locks map[string]*clientLock
}

type clientLock struct {
	slot    chan struct{}
	refs    int
	waiting int
}

func newClientLocks() *clientLocks {
	return &clientLocks{locks: make(map[string]*clientLock)}
}

// Lock blocks until clientID is free or ctx is done. The returned func
// releases the lock and must be called exactly once.
func (l *clientLocks) Lock(ctx context.Context, clientID string) (func(), error) {
	l.mu.Lock()
	cl, ok := l.locks[clientID]
	if !ok {
		cl = &clientLock{slot: make(chan struct{}, 1)}
		l.locks[clientID] = cl
	}
	cl.refs++
	cl.waiting++
	l.mu.Unlock()

	select {
	case cl.slot <- struct{}{}:
		l.mu.Lock()
		cl.waiting--
		l.mu.Unlock()
	case <-ctx.Done():
		l.mu.Lock()
		cl.waiting--
		l.release(clientID, cl)
		l.mu.Unlock()
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-cl.slot
			l.mu.Lock()
			l.release(clientID, cl)
			l.mu.Unlock()
		})
	}, nil
}

// release drops one reference. Caller holds l.mu.
func (l *clientLocks) release(clientID string, cl *clientLock) {
	cl.refs--
	if cl.refs == 0 {
		delete(l.locks, clientID)
	}
}

// Waiting returns the number of callers blocked on clientID.
func (l *clientLocks) Waiting(clientID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cl, ok := l.locks[clientID]; ok {
		return cl.waiting
	}
	return 0
}

package engine

import (
	"sync"

	"github.com/google/uuid"
)

// jobLocks hands out one mutex per job id. Entries are reference counted and
// removed once the last holder or waiter releases them.
type jobLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*jobLock
}

type jobLock struct {
	mu   sync.Mutex
	refs int
}

func newJobLocks() *jobLocks {
	return &jobLocks{locks: make(map[uuid.UUID]*jobLock)}
}

// Lock blocks until the caller holds the lock for id and returns its release func.
func (l *jobLocks) Lock(id uuid.UUID) (unlock func()) {
	l.mu.Lock()
	jl, ok := l.locks[id]
	if !ok {
		jl = &jobLock{}
		l.locks[id] = jl
	}
	jl.refs++
	l.mu.Unlock()

	jl.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			jl.mu.Unlock()

			l.mu.Lock()
			jl.refs--
			if jl.refs == 0 {
				delete(l.locks, id)
			}
			l.mu.Unlock()
		})
	}
}

// size reports how many ids currently have a lock entry.
func (l *jobLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

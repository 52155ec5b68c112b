package tracker

import (
	"sync"

	"github.com/sells-group/fieldtrack/internal/model"
)

// entityLocks hands out one mutex per saved entity. Entries are dropped once
// no goroutine holds or waits for them.
type entityLocks struct {
	mu   sync.Mutex
	held map[model.Ref]*entityLock
}

type entityLock struct {
	mu   sync.Mutex
	refs int
}

func newEntityLocks() *entityLocks {
	return &entityLocks{held: make(map[model.Ref]*entityLock)}
}

// lock blocks until ref is free and returns the matching unlock. Unsaved
// entities have no identity to contend on and are not locked.
func (l *entityLocks) lock(ref model.Ref) func() {
	if ref.IsNew() {
		return func() {}
	}

	l.mu.Lock()
	el := l.held[ref]
	if el == nil {
		el = &entityLock{}
		l.held[ref] = el
	}
	el.refs++
	l.mu.Unlock()

	el.mu.Lock()
	return func() {
		el.mu.Unlock()
		l.mu.Lock()
		el.refs--
		if el.refs == 0 {
			delete(l.held, ref)
		}
		l.mu.Unlock()
	}
}

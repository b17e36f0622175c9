package documents

import "sync"

// docLocks serializes chunk rewrites per document id. Entries are dropped
// once no caller holds or waits for them.
type docLocks struct {
	mu    sync.Mutex
	locks map[string]*docLock
}

type docLock struct {
	mu   sync.Mutex
	refs int
}

// lock blocks until id is free and returns the matching unlock.
func (l *docLocks) lock(id string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*docLock)
	}
	dl, ok := l.locks[id]
	if !ok {
		dl = &docLock{}
		l.locks[id] = dl
	}
	dl.refs++
	l.mu.Unlock()

	dl.mu.Lock()
	return func() {
		dl.mu.Unlock()
		l.mu.Lock()
		dl.refs--
		if dl.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

// held reports how many callers hold or wait for id.
func (l *docLocks) held(id string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if dl, ok := l.locks[id]; ok {
		return dl.refs
	}
	return 0
}

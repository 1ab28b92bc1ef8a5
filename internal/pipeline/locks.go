package pipeline

import "sync"

// keyLocks serializes work per position key. Closes for the same position
// from overlapping cycles must not interleave their cancel/re-quote steps.
type keyLocks struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func (l *keyLocks) lock(key string) func() {
	l.mu.Lock()
	if l.m == nil {
		l.m = make(map[string]*sync.Mutex)
	}
	km, ok := l.m[key]
	if !ok {
		km = &sync.Mutex{}
		l.m[key] = km
	}
	l.mu.Unlock()

	km.Lock()
	return km.Unlock
}

package memory

import (
	"context"
	"sync"
	"time"

	"github.com/xenking/feast/internal/domain/payment"
)

var _ payment.Locker = (*Locker)(nil)

// Locker implements payment.Locker within one process. Expired locks are
// taken over by the next caller.
type Locker struct {
	mu      sync.Mutex
	held    map[string]uint64
	expires map[string]time.Time
	seq     uint64
}

// NewLocker returns an empty Locker.
func NewLocker() *Locker {
	return &Locker{
		held:    make(map[string]uint64),
		expires: make(map[string]time.Time),
	}
}

// Lock implements payment.Locker.
func (l *Locker) Lock(_ context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[key]; ok && time.Now().Before(l.expires[key]) {
		return nil, payment.ErrLocked
	}
	l.seq++
	token := l.seq
	l.held[key] = token
	l.expires[key] = time.Now().Add(ttl)

	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.held[key] == token {
			delete(l.held, key)
			delete(l.expires, key)
		}
		return nil
	}, nil
}

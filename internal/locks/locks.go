// Package locks guarantees at most one in-flight evaluation per invoice.
//
// LocalLocker covers a single process. RedisLocker extends the guarantee
// across processes sharing one Redis. Processes that share a database but
// not a lock fall back to last-writer-wins on the invoice record.
package locks

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// ErrLockHeld is returned when another holder owns the key
var ErrLockHeld = errors.New("lock is held by another evaluation")

// Locker hands out exclusive, non-blocking locks by key
type Locker interface {
	// Acquire takes the lock for key or fails fast with ErrLockHeld. The
	// returned release function is safe to call more than once.
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// LocalLocker is an in-process Locker
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocalLocker creates an in-process locker
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

func (l *LocalLocker) Acquire(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[key]; ok {
		return nil, errors.Wrapf(ErrLockHeld, "key %s", key)
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}

// Held reports whether key is currently locked
func (l *LocalLocker) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[key]
	return ok
}

// IsHeld reports whether err means the lock was taken
func IsHeld(err error) bool {
	return errors.Is(err, ErrLockHeld)
}

package relay

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"
)

// maxReaders bounds concurrent read sections. A writer takes the full weight,
// so it excludes every reader and every other writer.
const maxReaders = 1 << 20

// rwLock is a reader/writer lock whose acquisition gives up after a timeout
// instead of blocking indefinitely.
type rwLock struct {
	sem     *semaphore.Weighted
	timeout time.Duration
}

func newRWLock(timeout time.Duration) *rwLock {
	return &rwLock{
		sem:     semaphore.NewWeighted(maxReaders),
		timeout: timeout,
	}
}

// RLock acquires a read section. Returns false if the lock could not be
// acquired before the timeout.
func (l *rwLock) RLock() bool {
	return l.acquire(1)
}

// TryRLock acquires a read section only if it is free right now.
func (l *rwLock) TryRLock() bool {
	return l.sem.TryAcquire(1)
}

// RUnlock releases a read section acquired with RLock.
func (l *rwLock) RUnlock() {
	l.sem.Release(1)
}

// Lock acquires the write section. Returns false if the lock could not be
// acquired before the timeout.
func (l *rwLock) Lock() bool {
	return l.acquire(maxReaders)
}

// Unlock releases the write section acquired with Lock.
func (l *rwLock) Unlock() {
	l.sem.Release(maxReaders)
}

func (l *rwLock) acquire(n int64) bool {
	if l.sem.TryAcquire(n) {
		return true
	}
	if l.timeout <= 0 {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()
	return l.sem.Acquire(ctx, n) == nil
}

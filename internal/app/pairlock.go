package app

import (
	"context"
	"sort"
	"sync"
)

// Locker serializes work on a key. Lock blocks until the key is held or ctx is done and returns
// the release func.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// keyLocks hands out per-key exclusive locks that respect context cancellation.
type keyLocks struct {
	mu    sync.Mutex
	slots map[string]*keySlot
}

type keySlot struct {
	ch   chan struct{}
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{slots: make(map[string]*keySlot)}
}

func (l *keyLocks) acquire(key string) *keySlot {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot, ok := l.slots[key]
	if !ok {
		slot = &keySlot{ch: make(chan struct{}, 1)}
		l.slots[key] = slot
	}
	slot.refs++
	return slot
}

func (l *keyLocks) release(key string, slot *keySlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot.refs--
	if slot.refs == 0 {
		delete(l.slots, key)
	}
}

// Lock blocks until key is held or ctx is done.
func (l *keyLocks) Lock(ctx context.Context, key string) (func(), error) {
	slot := l.acquire(key)
	select {
	case slot.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, slot)
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			<-slot.ch
			l.release(key, slot)
		})
	}, nil
}

// layeredLocks takes the in-process lock before the shared one, so each instance waits on a
// shared key at most once.
type layeredLocks struct {
	local  *keyLocks
	shared Locker
}

func (l layeredLocks) Lock(ctx context.Context, key string) (func(), error) {
	unlockLocal, err := l.local.Lock(ctx, key)
	if err != nil {
		return nil, err
	}
	unlockShared, err := l.shared.Lock(ctx, key)
	if err != nil {
		unlockLocal()
		return nil, err
	}
	return func() {
		unlockShared()
		unlockLocal()
	}, nil
}

// lockAll takes every key in sorted order so concurrent callers cannot deadlock.
func lockAll(ctx context.Context, l Locker, keys ...string) (func(), error) {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	unlocks := make([]func(), 0, len(sorted))
	unlockAll := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
	var prev string
	for i, key := range sorted {
		if key == "" || (i > 0 && key == prev) {
			continue
		}
		prev = key
		unlock, err := l.Lock(ctx, key)
		if err != nil {
			unlockAll()
			return nil, err
		}
		unlocks = append(unlocks, unlock)
	}
	return unlockAll, nil
}

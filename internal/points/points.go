// Package points keeps student balances in step with the transaction ledger.
package points

import (
	"context"
	"fmt"
	"sync"
)

// Balances is the part of a storage unit of work the accumulator writes to.
type Balances interface {
	AddPoints(ctx context.Context, id int64, delta int) (int, error)
}

type Accumulator struct {
	mu    sync.Mutex
	locks map[int64]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func NewAccumulator() *Accumulator {
	return &Accumulator{locks: make(map[int64]*keyLock)}
}

// Lock serializes balance mutations for one student and returns the unlock
// function. Different students never wait on each other.
func (a *Accumulator) Lock(studentID int64) (unlock func()) {
	a.mu.Lock()
	l, ok := a.locks[studentID]
	if !ok {
		l = &keyLock{}
		a.locks[studentID] = l
	}
	l.refs++
	a.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		a.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(a.locks, studentID)
		}
		a.mu.Unlock()
	}
}

// Apply adds delta to the student's balance through balances, which should
// be the storage handle of the caller's unit of work. There is no floor.
func (a *Accumulator) Apply(ctx context.Context, balances Balances, studentID int64, delta int) (int, error) {
	total, err := balances.AddPoints(ctx, studentID, delta)
	if err != nil {
		return 0, fmt.Errorf("apply %+d points to student %d: %w", delta, studentID, err)
	}
	return total, nil
}

// held reports how many keys currently have a lock entry.
func (a *Accumulator) held() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.locks)
}

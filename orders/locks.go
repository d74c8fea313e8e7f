package orders

import "sync"

// orderLocks hands out one mutex per order id so transitions on a given
// order serialize while unrelated orders proceed in parallel.
type orderLocks struct {
	mu    sync.Mutex
	locks map[uint]*sync.Mutex
}

func newOrderLocks() *orderLocks {
	return &orderLocks{
		locks: map[uint]*sync.Mutex{},
	}
}

func (l *orderLocks) get(orderID uint) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	lock, ok := l.locks[orderID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[orderID] = lock
	}
	return lock
}

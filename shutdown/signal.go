package shutdown

import (
	"os"
	"sync"
)

// signalLatch remembers the first shutdown signal and fires onForce when a
// second one arrives.
type signalLatch struct {
	mu      sync.Mutex
	first   os.Signal
	count   int
	onForce func(os.Signal)
}

// observe records sig and reports whether it was the first.
func (l *signalLatch) observe(sig os.Signal) bool {
	l.mu.Lock()
	l.count++
	count := l.count
	if count == 1 {
		l.first = sig
	}
	force := l.onForce
	l.mu.Unlock()

	if count >= 2 && force != nil {
		force(sig)
	}
	return count == 1
}

func (l *signalLatch) signal() os.Signal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.first
}

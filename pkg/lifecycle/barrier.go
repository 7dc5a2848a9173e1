package lifecycle

import "sync"

// barrier is a one-shot broadcast gate. It starts held and is released at most
// once; every waiter, including late ones, observes the same release.
type barrier struct {
	once sync.Once
	done chan struct{}
}

func newBarrier() *barrier {
	return &barrier{done: make(chan struct{})}
}

func (b *barrier) release() {
	b.once.Do(func() { close(b.done) })
}

func (b *barrier) wait() {
	<-b.done
}

func (b *barrier) released() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

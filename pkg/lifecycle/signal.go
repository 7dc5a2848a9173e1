package lifecycle

import (
	"os"
	"os/signal"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// signalTraps tracks the signal channels a lifecycle has registered.
type signalTraps struct {
	mu       sync.Mutex
	channels []chan os.Signal
	stop     chan struct{}
	disarmed bool
	active   atomic.Int32
}

func newSignalTraps() *signalTraps {
	return &signalTraps{stop: make(chan struct{})}
}

func (l *Lifecycle) armSignals(signals []os.Signal) {
	for _, sig := range signals {
		l.trap(sig)
	}
}

// trap requests shutdown the first time sig arrives. The trap is removed
// once it fires or the traps are disarmed, whichever comes first.
func (l *Lifecycle) trap(sig os.Signal) {
	traps := l.traps

	traps.mu.Lock()
	if traps.disarmed {
		traps.mu.Unlock()
		return
	}
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sig)
	traps.channels = append(traps.channels, ch)
	traps.active.Add(1)
	traps.mu.Unlock()

	go func() {
		defer traps.active.Add(-1)

		select {
		case received := <-ch:
			signal.Stop(ch)
			l.logger.Info("Signal intercepted", zap.Stringer("signal", received))
			l.Shutdown(nil)
		case <-traps.stop:
		}
	}()
}

// disarmSignals stops delivery to every trap. No trap fires for a signal
// that arrives after it returns.
func (l *Lifecycle) disarmSignals() {
	traps := l.traps

	traps.mu.Lock()
	defer traps.mu.Unlock()

	if traps.disarmed {
		return
	}
	traps.disarmed = true
	for _, ch := range traps.channels {
		signal.Stop(ch)
	}
	traps.channels = nil
	close(traps.stop)
}

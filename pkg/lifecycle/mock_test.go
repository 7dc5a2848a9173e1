package lifecycle

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// recorder collects hook events across goroutines.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	copy(out, r.events)
	return out
}

// mockComponent records its hook calls and reports preset errors.
type mockComponent struct {
	name        string
	rec         *recorder
	startErr    error
	shutdownErr error

	startCalls    atomic.Int32
	shutdownCalls atomic.Int32
}

func newMock(name string, rec *recorder) *mockComponent {
	return &mockComponent{name: name, rec: rec}
}

func (m *mockComponent) Name() string {
	return m.name
}

func (m *mockComponent) Start(done func(error)) {
	m.startCalls.Add(1)
	if m.rec != nil {
		m.rec.add("start:" + m.name)
	}
	done(m.startErr)
}

func (m *mockComponent) Shutdown(done func(error)) {
	m.shutdownCalls.Add(1)
	if m.rec != nil {
		m.rec.add("shutdown:" + m.name)
	}
	done(m.shutdownErr)
}

// testConfig runs hooks on goroutines without signals or crash handler.
func testConfig() Config {
	return Config{}
}

func waitShutdown(t *testing.T, l *Lifecycle) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, l.WaitContext(ctx), "lifecycle did not reach shutdown in time")
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for callback")
	}
	var zero T
	return zero
}

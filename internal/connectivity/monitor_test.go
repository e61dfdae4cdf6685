package connectivity

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// scriptedProber returns canned reachability answers in order, repeating the
// last one.
type scriptedProber struct {
	mu      sync.Mutex
	answers []bool
	calls   int
	block   chan struct{}
}

func (p *scriptedProber) Health(ctx context.Context) bool {
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	idx := p.calls - 1
	if idx >= len(p.answers) {
		idx = len(p.answers) - 1
	}
	return p.answers[idx]
}

func (p *scriptedProber) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func testConfig() Config {
	return Config{
		InitialDelay: time.Millisecond,
		PollInterval: time.Hour, // only manual probes fire during tests
		ProbeTimeout: time.Second,
	}
}

func TestMonitor_StartsOffline(t *testing.T) {
	m := NewMonitor(&scriptedProber{answers: []bool{true}}, testConfig(), zerolog.Nop())
	if m.Online() {
		t.Error("monitor must assume offline before the first probe")
	}
	if m.LastOnlineAt() != nil {
		t.Error("no online timestamp before the first probe")
	}
}

func TestMonitor_DuplicateStart(t *testing.T) {
	m := NewMonitor(&scriptedProber{answers: []bool{false}}, testConfig(), zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("first start: %v", err)
	}
	defer m.Stop()

	if err := m.Start(ctx); err != ErrAlreadyStarted {
		t.Fatalf("second start err = %v, want ErrAlreadyStarted", err)
	}
}

func TestMonitor_ProbeUpdatesState(t *testing.T) {
	prober := &scriptedProber{answers: []bool{true, false}}
	m := NewMonitor(prober, testConfig(), zerolog.Nop())

	if !m.Probe(context.Background()) {
		t.Fatal("first probe should report online")
	}
	if !m.Online() {
		t.Error("state must record online")
	}
	if m.LastOnlineAt() == nil {
		t.Error("online timestamp must be set")
	}
	if m.LastProbeAt().IsZero() {
		t.Error("probe timestamp must be set")
	}

	if m.Probe(context.Background()) {
		t.Fatal("second probe should report offline")
	}
	if m.LastOnlineAt() == nil {
		t.Error("going offline must not erase the last online timestamp")
	}
}

func TestMonitor_TransitionCallback(t *testing.T) {
	prober := &scriptedProber{answers: []bool{false, true, true, false}}
	m := NewMonitor(prober, testConfig(), zerolog.Nop())

	var mu sync.Mutex
	var transitions []bool
	m.OnTransition(func(online bool) {
		mu.Lock()
		transitions = append(transitions, online)
		mu.Unlock()
	})

	for i := 0; i < 4; i++ {
		m.Probe(context.Background())
	}

	mu.Lock()
	defer mu.Unlock()

	// First probe confirms offline, same as the assumed initial state: no
	// edge. Then offline->online, a steady online (no edge), online->offline.
	want := []bool{true, false}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", transitions, want)
		}
	}
}

func TestMonitor_OnProbeFiresEveryProbe(t *testing.T) {
	prober := &scriptedProber{answers: []bool{false, false, true}}
	m := NewMonitor(prober, testConfig(), zerolog.Nop())

	var mu sync.Mutex
	probes := 0
	m.OnProbe(func(online bool) {
		mu.Lock()
		probes++
		mu.Unlock()
	})

	for i := 0; i < 3; i++ {
		m.Probe(context.Background())
	}

	mu.Lock()
	defer mu.Unlock()
	if probes != 3 {
		t.Errorf("onProbe fired %d times, want 3", probes)
	}
}

func TestMonitor_OverlappingProbesCollapse(t *testing.T) {
	prober := &scriptedProber{answers: []bool{true}, block: make(chan struct{})}
	m := NewMonitor(prober, testConfig(), zerolog.Nop())

	done := make(chan struct{})
	go func() {
		m.Probe(context.Background())
		close(done)
	}()

	// Give the first probe time to take the in-flight guard.
	time.Sleep(20 * time.Millisecond)

	// This call must collapse into the running probe, not start a second one.
	m.Probe(context.Background())

	close(prober.block)
	<-done

	if got := prober.callCount(); got != 1 {
		t.Errorf("prober calls = %d, overlapping probes must collapse to 1", got)
	}
}

func TestMonitor_StopTerminatesLoop(t *testing.T) {
	prober := &scriptedProber{answers: []bool{true}}
	m := NewMonitor(prober, Config{
		InitialDelay: time.Millisecond,
		PollInterval: 5 * time.Millisecond,
		ProbeTimeout: time.Second,
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for m.LastProbeAt().IsZero() {
		select {
		case <-deadline:
			t.Fatal("monitor never probed")
		case <-time.After(time.Millisecond):
		}
	}

	m.Stop() // must return, not hang
}

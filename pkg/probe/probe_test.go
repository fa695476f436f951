// SPDX-License-Identifier: BSD-3-Clause

package probe

import (
	"context"
	"sync"
	"testing"
	"time"
)

// scriptedProbe feeds a fixed sequence of probe results, then repeats the
// final value forever. The sequence index is advanced once per probe cycle.
type scriptedProbe struct {
	mu      sync.Mutex
	results []bool
	index   int
}

func (s *scriptedProbe) probe(context.Context, string, time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index < len(s.results) {
		r := s.results[s.index]
		s.index++
		return r
	}
	if len(s.results) == 0 {
		return false
	}
	return s.results[len(s.results)-1]
}

func (s *scriptedProbe) set(results ...bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = results
	s.index = 0
}

func startProber(t *testing.T, script *scriptedProbe, cb Callbacks) *Prober {
	t.Helper()
	p, err := New(Config{
		Address:             "203.0.113.7",
		Probe:               script.probe,
		Callbacks:           cb,
		UnconfirmedInterval: time.Millisecond,
		ConfirmedInterval:   time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = p.Stop(ctx) })
	return p
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestProberDebouncesToAlive(t *testing.T) {
	script := &scriptedProbe{}
	script.set(true)

	var mu sync.Mutex
	var transitions []bool
	p := startProber(t, script, Callbacks{
		OnAliveChange: func(_ context.Context, alive bool) {
			mu.Lock()
			transitions = append(transitions, alive)
			mu.Unlock()
		},
	})

	waitFor(t, "alive to confirm", p.Alive)

	mu.Lock()
	defer mu.Unlock()
	if len(transitions) != 1 || !transitions[0] {
		t.Errorf("transitions = %v, want exactly one transition to true", transitions)
	}
}

func TestProberSingleFlapDoesNotFlip(t *testing.T) {
	script := &scriptedProbe{}
	// Confirm alive, then one failure, then back to success: the single
	// contrary probe must not flip alive, and the next success resets the
	// failure counter.
	script.set(true, true, true, false, true)

	p := startProber(t, script, Callbacks{})
	waitFor(t, "alive to confirm", p.Alive)

	// Run through the flap and well past it.
	time.Sleep(50 * time.Millisecond)
	if !p.Alive() {
		t.Error("a single failed probe flipped alive to false")
	}
}

func TestProberDebouncesToDead(t *testing.T) {
	script := &scriptedProbe{}
	script.set(true, true, true, false, false, false)

	p := startProber(t, script, Callbacks{})
	waitFor(t, "alive to confirm", p.Alive)
	waitFor(t, "alive to drop after three failures", func() bool { return !p.Alive() })
}

func TestProberResetDiscardsStaleSuccesses(t *testing.T) {
	script := &scriptedProbe{}
	script.set(true)

	var mu sync.Mutex
	var count int
	p := startProber(t, script, Callbacks{
		OnAliveChange: func(_ context.Context, _ bool) {
			mu.Lock()
			count++
			mu.Unlock()
		},
	})

	waitFor(t, "alive to confirm", p.Alive)

	// Reset zeroes both counters; with the script still returning true the
	// prober re-confirms without re-transitioning, since alive never
	// actually dropped.
	p.Reset()
	time.Sleep(50 * time.Millisecond)

	if !p.Alive() {
		t.Error("alive dropped after a counter reset with probes still succeeding")
	}
	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Errorf("OnAliveChange fired %d times, want 1 (reset must not re-publish)", count)
	}
}

func TestProberTimeHackSuppressedWhileTransferring(t *testing.T) {
	script := &scriptedProbe{}
	script.set(true)

	var mu sync.Mutex
	var hacks int
	transferring := true
	p, err := New(Config{
		Address:             "203.0.113.7",
		Probe:               script.probe,
		UnconfirmedInterval: time.Millisecond,
		ConfirmedInterval:   time.Millisecond,
		TimeHackEvery:       time.Millisecond,
		Callbacks: Callbacks{
			TimeHack: func(context.Context) error {
				mu.Lock()
				hacks++
				mu.Unlock()
				return nil
			},
			IsTransferring: func() bool {
				mu.Lock()
				defer mu.Unlock()
				return transferring
			},
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = p.Stop(ctx) })

	waitFor(t, "alive to confirm", p.Alive)
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	if hacks != 0 {
		mu.Unlock()
		t.Fatalf("time hack fired %d times during a transfer, want 0", hacks)
	}
	transferring = false
	mu.Unlock()

	waitFor(t, "time hack to fire once the transfer ends", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return hacks > 0
	})
}

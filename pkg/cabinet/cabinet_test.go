// SPDX-License-Identifier: BSD-3-Clause

package cabinet

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/netdimm-fleet/cabinetd/pkg/host"
	"github.com/netdimm-fleet/cabinetd/pkg/netdimm"
	"github.com/netdimm-fleet/cabinetd/pkg/outlet"
)

// logSink is a minimal slog.Handler that records emitted messages so tests
// can assert on the cabinet's log lines without depending on their level or
// attribute formatting.
type logSink struct {
	mu       sync.Mutex
	messages []string
}

func (s *logSink) Enabled(context.Context, slog.Level) bool { return true }

func (s *logSink) Handle(_ context.Context, r slog.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, r.Message)
	return nil
}

func (s *logSink) WithAttrs([]slog.Attr) slog.Handler { return s }
func (s *logSink) WithGroup(string) slog.Handler      { return s }

func (s *logSink) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
}

func (s *logSink) contains(msg string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m == msg {
			return true
		}
	}
	return false
}

// fakeNetdimmClient records what a send pushed through it, standing in for
// a board on the wire.
type fakeNetdimmClient struct {
	mu        sync.Mutex
	sendCalls int
	received  []byte
}

func (f *fakeNetdimmClient) Send(ctx context.Context, data io.Reader, total int64, progress netdimm.ProgressFunc, skipCRC, skipNowLoad bool) error {
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.sendCalls++
	f.received = buf
	f.mu.Unlock()
	progress(int64(len(buf)), total)
	return nil
}

func (f *fakeNetdimmClient) Reboot(ctx context.Context) error          { return nil }
func (f *fakeNetdimmClient) WipeCurrentGame(ctx context.Context) error { return nil }
func (f *fakeNetdimmClient) Info(ctx context.Context) (netdimm.Info, error) {
	return netdimm.Info{}, nil
}
func (f *fakeNetdimmClient) SetTimeLimit(ctx context.Context, minutes int) error { return nil }
func (f *fakeNetdimmClient) Close() error                                      { return nil }

func (f *fakeNetdimmClient) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sendCalls
}

// fakeOutlet records every state written to it, standing in for a PDU.
type fakeOutlet struct {
	mu     sync.Mutex
	writes []outlet.State
	state  outlet.State
}

func (f *fakeOutlet) ReadState(context.Context) outlet.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeOutlet) WriteState(_ context.Context, s outlet.State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, s)
	f.state = s
	return nil
}

func (f *fakeOutlet) written() []outlet.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]outlet.State(nil), f.writes...)
}

// spawnCabinet builds a Cabinet wired to a real host.Controller whose
// transport is the given fake client: the controller stays a genuine
// collaborator, only the board on the wire is faked.
func spawnCabinet(t *testing.T, cfg Config, client *fakeNetdimmClient) (*Cabinet, *host.Controller, *logSink) {
	t.Helper()

	sink := &logSink{}
	logger := slog.New(sink)

	dial := func(ctx context.Context, timeout time.Duration) (netdimm.Client, error) {
		return client, nil
	}

	h, err := host.New(host.Config{
		IP:     cfg.IP,
		Dial:   dial,
		Logger: logger,
	})
	if err != nil {
		t.Fatalf("host.New: %v", err)
	}

	c, err := New(cfg, h, logger)
	if err != nil {
		t.Fatalf("cabinet.New: %v", err)
	}

	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = c.Stop(ctx) })

	return c, h, sink
}

func TestCabinetTickFromStartupWaitsForPowerOn(t *testing.T) {
	c, _, sink := spawnCabinet(t, Config{IP: "1.2.3.4", Enabled: true}, &fakeNetdimmClient{})

	c.Tick(context.Background())

	if got := c.State(); got != "WAIT_FOR_CABINET_POWER_ON" {
		t.Errorf("state after first tick = %s, want WAIT_FOR_CABINET_POWER_ON", got)
	}
	if !sink.contains("Cabinet 1.2.3.4 waiting for power on.") {
		t.Errorf("log messages = %v, want to contain power-on wait message", sink.messages)
	}
}

func TestCabinetTickHostDeadNoTransition(t *testing.T) {
	c, h, sink := spawnCabinet(t, Config{IP: "1.2.3.4", Enabled: true}, &fakeNetdimmClient{})

	// Advance out of STARTUP first; STARTUP unconditionally proceeds
	// regardless of liveness.
	c.Tick(context.Background())
	h.SetAlive(false)
	sink.reset()

	c.Tick(context.Background())

	if got := c.State(); got != "WAIT_FOR_CABINET_POWER_ON" {
		t.Errorf("state = %s, want WAIT_FOR_CABINET_POWER_ON (no transition while dead)", got)
	}
	if sink.contains("Cabinet 1.2.3.4 has no associated game, waiting for power off.") ||
		sink.contains("Cabinet 1.2.3.4 waiting for power on.") {
		t.Errorf("log messages = %v, want no transition log while host is dead", sink.messages)
	}
}

func TestCabinetTickHostAliveNoGameWaitsForPowerOff(t *testing.T) {
	c, h, sink := spawnCabinet(t, Config{IP: "1.2.3.4", Enabled: true}, &fakeNetdimmClient{})

	c.Tick(context.Background())
	h.SetAlive(true)
	sink.reset()

	c.Tick(context.Background())

	if got := c.State(); got != "WAIT_FOR_CABINET_POWER_OFF" {
		t.Errorf("state = %s, want WAIT_FOR_CABINET_POWER_OFF", got)
	}
	if !sink.contains("Cabinet 1.2.3.4 has no associated game, waiting for power off.") {
		t.Errorf("log messages = %v, want to contain no-game wait message", sink.messages)
	}
}

func TestCabinetTickHostAliveGameSendsCurrentGame(t *testing.T) {
	path := filepath.Join(t.TempDir(), "abc.bin")
	if err := os.WriteFile(path, []byte("game data"), 0o600); err != nil {
		t.Fatalf("write temp image: %v", err)
	}

	client := &fakeNetdimmClient{}
	c, h, sink := spawnCabinet(t, Config{
		IP:               "1.2.3.4",
		Enabled:          true,
		SelectedFilename: path,
		Patches:          map[string][]string{path: nil},
	}, client)

	c.Tick(context.Background())
	h.SetAlive(true)
	sink.reset()

	c.Tick(context.Background())

	if !sink.contains("Cabinet 1.2.3.4 sending game " + path + ".") {
		t.Errorf("log messages = %v, want to contain sending-game message for %s", sink.messages, path)
	}
	if client.calls() == 0 {
		t.Error("expected the fake board client's Send to have been invoked")
	}
}

func tickUntilState(t *testing.T, c *Cabinet, want string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		c.Tick(context.Background())
		if c.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("state = %s, never reached %s", c.State(), want)
}

func writeTestImage(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("game data"), 0o600); err != nil {
		t.Fatalf("write temp image: %v", err)
	}
	return path
}

func TestCabinetDoesNotResendUnchangedGame(t *testing.T) {
	path := writeTestImage(t, "abc.bin")
	client := &fakeNetdimmClient{}
	c, h, _ := spawnCabinet(t, Config{
		IP:               "1.2.3.4",
		Enabled:          true,
		SelectedFilename: path,
		Patches:          map[string][]string{path: nil},
	}, client)

	c.Tick(context.Background())
	h.SetAlive(true)
	tickUntilState(t, c, "WAIT_FOR_CABINET_POWER_OFF")

	if got := client.calls(); got != 1 {
		t.Fatalf("send calls = %d, want 1", got)
	}
	for i := 0; i < 5; i++ {
		c.Tick(context.Background())
	}
	if got := c.State(); got != "WAIT_FOR_CABINET_POWER_OFF" {
		t.Errorf("state = %s, want to stay in WAIT_FOR_CABINET_POWER_OFF", got)
	}
	if got := client.calls(); got != 1 {
		t.Errorf("send calls = %d after settling, want still 1 (no resend of the same game)", got)
	}
}

func TestCabinetPowerCyclesOnGameChange(t *testing.T) {
	pathA := writeTestImage(t, "abc.bin")
	pathB := writeTestImage(t, "def.bin")

	client := &fakeNetdimmClient{}
	fo := &fakeOutlet{state: outlet.StateOn}
	c, h, sink := spawnCabinet(t, Config{
		IP:               "1.2.3.4",
		Enabled:          true,
		PowerCycle:       true,
		SelectedFilename: pathA,
		Patches:          map[string][]string{pathA: nil, pathB: nil},
		Outlet:           fo,
	}, client)

	c.Tick(context.Background())
	h.SetAlive(true)
	tickUntilState(t, c, "WAIT_FOR_CABINET_POWER_OFF")

	// Changing the selected game on a power_cycle cabinet drives the
	// outlet off and holds until liveness confirms the cabinet went down.
	if err := c.SetSelectedFilename(pathB); err != nil {
		t.Fatalf("SetSelectedFilename: %v", err)
	}
	c.Tick(context.Background())
	if got := c.State(); got != "WAIT_FOR_CABINET_DISCONNECT" {
		t.Fatalf("state = %s, want WAIT_FOR_CABINET_DISCONNECT", got)
	}
	if writes := fo.written(); len(writes) == 0 || writes[len(writes)-1] != outlet.StateOff {
		t.Fatalf("outlet writes = %v, want trailing OFF", writes)
	}

	// The cabinet still reports alive: the outlet-off has not debounced
	// yet, so the machine must hold rather than restore power early.
	c.Tick(context.Background())
	if got := c.State(); got != "WAIT_FOR_CABINET_DISCONNECT" {
		t.Fatalf("state = %s, want to hold in WAIT_FOR_CABINET_DISCONNECT while still alive", got)
	}

	// Liveness debounces to false: power is restored and the machine
	// re-arms for the boot.
	h.SetAlive(false)
	c.Tick(context.Background())
	if got := c.State(); got != "WAIT_FOR_CABINET_POWER_ON" {
		t.Fatalf("state = %s, want WAIT_FOR_CABINET_POWER_ON", got)
	}
	if writes := fo.written(); writes[len(writes)-1] != outlet.StateOn {
		t.Fatalf("outlet writes = %v, want trailing ON after confirmed power-down", writes)
	}
	if got := c.PowerState(); got != outlet.StateOn {
		t.Errorf("PowerState = %v, want StateOn", got)
	}

	// The cabinet boots back up and receives the new game.
	h.SetAlive(true)
	tickUntilState(t, c, "WAIT_FOR_CABINET_POWER_OFF")
	if !sink.contains("Cabinet 1.2.3.4 sending game " + pathB + ".") {
		t.Errorf("log messages = %v, want to contain sending-game message for %s", sink.messages, pathB)
	}
	if got := client.calls(); got != 2 {
		t.Errorf("send calls = %d, want 2 (original game plus post-cycle send)", got)
	}
}

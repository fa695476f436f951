// SPDX-License-Identifier: BSD-3-Clause

package fleet

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/netdimm-fleet/cabinetd/pkg/cabinet"
	"github.com/netdimm-fleet/cabinetd/pkg/fsm"
	"github.com/netdimm-fleet/cabinetd/pkg/host"
	"github.com/netdimm-fleet/cabinetd/pkg/netdimm"
	"github.com/netdimm-fleet/cabinetd/pkg/probe"
)

const (
	// DefaultHeartbeat is the rate at which the Manager ticks every owned
	// cabinet's control automaton, matching the control loop's documented
	// ~1 Hz cadence.
	DefaultHeartbeat = time.Second
)

// transitionEvent is the JSON payload published on
// "fleet.cabinet.<ip>.state" whenever a cabinet's automaton changes state.
type transitionEvent struct {
	IP       string `json:"ip"`
	From     string `json:"from"`
	To       string `json:"to"`
	Trigger  string `json:"trigger"`
}

// progressEvent is the JSON payload published on
// "fleet.cabinet.<ip>.progress" on every heartbeat a cabinet is
// transferring.
type progressEvent struct {
	IP     string `json:"ip"`
	Status string `json:"status"`
	Sent   int64  `json:"sent"`
	Total  int64  `json:"total"`
}

// Manager owns the runtime set of cabinets a control-plane process manages.
// It is not safe to copy.
type Manager struct {
	mu       sync.RWMutex
	cabinets map[string]*cabinet.Cabinet

	bus       *bus
	logger    *slog.Logger
	heartbeat time.Duration

	runCtx    context.Context
	runCancel context.CancelFunc
}

// New constructs a Manager and its embedded event bus. The bus and the
// heartbeat loop do not start until Run is called.
func New(name string, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	b, err := newBus(name, logger)
	if err != nil {
		return nil, err
	}
	return &Manager{
		cabinets:  make(map[string]*cabinet.Cabinet),
		bus:       b,
		logger:    logger,
		heartbeat: DefaultHeartbeat,
	}, nil
}

// Name identifies this Manager as a supervised process.
func (m *Manager) Name() string {
	return "fleet-manager"
}

// InProcessConn exposes the embedded bus's connection provider so other
// supervised components (the HTTP façade's event-stream handlers) can
// subscribe to the same in-process NATS server.
func (m *Manager) InProcessConn() (net.Conn, error) {
	return m.bus.InProcessConn()
}

// AddCabinet constructs a Host Controller and Cabinet from cfg, registers
// it, and starts its Prober and automaton. AddCabinet fails if cfg.IP is
// already registered.
func (m *Manager) AddCabinet(ctx context.Context, cfg cabinet.Config) error {
	m.mu.Lock()
	if _, exists := m.cabinets[cfg.IP]; exists {
		m.mu.Unlock()
		return fmt.Errorf("%s: %w", cfg.IP, ErrCabinetExists)
	}
	m.mu.Unlock()

	ip := cfg.IP
	hc, err := host.New(host.Config{
		IP:            ip,
		Dial:          defaultDial(ip),
		Target:        cfg.Target,
		Version:       cfg.Version,
		TimeHack:      cfg.TimeHack,
		DebounceCount: probe.DefaultDebounceCount,
		Logger:        m.logger,
	})
	if err != nil {
		return fmt.Errorf("build host controller for %s: %w", ip, err)
	}

	cfg.Broadcast = m.broadcastCallback(ip)
	cab, err := cabinet.New(cfg, hc, m.logger)
	if err != nil {
		return fmt.Errorf("build cabinet for %s: %w", ip, err)
	}

	m.mu.Lock()
	if _, exists := m.cabinets[ip]; exists {
		m.mu.Unlock()
		return fmt.Errorf("%s: %w", ip, ErrCabinetExists)
	}
	m.cabinets[ip] = cab
	m.mu.Unlock()

	// The cabinet's probe loop and automaton outlive whatever registered
	// it (often an HTTP request whose context dies with the response);
	// RemoveCabinet is what stops a cabinet.
	if err := cab.Start(context.WithoutCancel(ctx)); err != nil {
		m.mu.Lock()
		delete(m.cabinets, ip)
		m.mu.Unlock()
		return fmt.Errorf("start cabinet %s: %w", ip, err)
	}

	m.logger.InfoContext(ctx, "cabinet added to fleet", "ip", ip)
	return nil
}

// RemoveCabinet stops and unregisters the cabinet at ip.
func (m *Manager) RemoveCabinet(ctx context.Context, ip string) error {
	m.mu.Lock()
	cab, ok := m.cabinets[ip]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%s: %w", ip, ErrCabinetNotFound)
	}
	delete(m.cabinets, ip)
	m.mu.Unlock()

	err := cab.Stop(ctx)
	m.logger.InfoContext(ctx, "cabinet removed from fleet", "ip", ip)
	return err
}

// Get returns the cabinet registered at ip, if any.
func (m *Manager) Get(ip string) (*cabinet.Cabinet, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cab, ok := m.cabinets[ip]
	return cab, ok
}

// List returns every registered cabinet, in no particular order.
func (m *Manager) List() []*cabinet.Cabinet {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*cabinet.Cabinet, 0, len(m.cabinets))
	for _, cab := range m.cabinets {
		out = append(out, cab)
	}
	return out
}

// Run starts the event bus and then ticks every registered cabinet's
// automaton on the heartbeat until ctx is canceled. It is intended to be
// supervised as a long-running process; a panic anywhere in the tick loop
// propagates up for the supervision tree to restart.
func (m *Manager) Run(ctx context.Context) error {
	if err := m.bus.start(); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), busShutdownTimeout)
		defer cancel()
		for _, cab := range m.List() {
			_ = cab.Stop(stopCtx)
		}
		m.bus.stop(stopCtx)
	}()

	m.runCtx, m.runCancel = context.WithCancel(ctx)
	defer m.runCancel()

	ticker := time.NewTicker(m.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.tickAll(ctx)
		}
	}
}

// Stop cancels the running heartbeat loop started by Run, if any.
func (m *Manager) Stop() {
	if m.runCancel != nil {
		m.runCancel()
	}
}

func (m *Manager) tickAll(ctx context.Context) {
	for _, cab := range m.List() {
		cab.Tick(ctx)
		m.publishProgress(cab)
	}
}

func (m *Manager) publishProgress(cab *cabinet.Cabinet) {
	hc := cab.Host()
	status := hc.Status()
	if status != host.StatusTransferring {
		return
	}
	prog, err := hc.Progress()
	if err != nil {
		return
	}
	payload, err := json.Marshal(progressEvent{
		IP:     cab.IP(),
		Status: status.String(),
		Sent:   prog.Sent,
		Total:  prog.Total,
	})
	if err != nil {
		return
	}
	m.bus.publish(fmt.Sprintf("fleet.cabinet.%s.progress", cab.IP()), payload)
}

// broadcastCallback mirrors createHostBroadcastCallback: every automaton
// transition for ip is published as best-effort JSON on
// "fleet.cabinet.<ip>.state".
func (m *Manager) broadcastCallback(ip string) fsm.BroadcastCallback {
	return func(ctx context.Context, machineName, previousState, currentState, trigger string) error {
		payload, err := json.Marshal(transitionEvent{
			IP:      ip,
			From:    previousState,
			To:      currentState,
			Trigger: trigger,
		})
		if err != nil {
			return nil
		}
		m.bus.publish(fmt.Sprintf("fleet.cabinet.%s.state", ip), payload)
		return nil
	}
}

// defaultDial builds the Dial func a Host Controller uses to reach a
// cabinet's NetDIMM board: a fresh TCP connection per operation, on the
// protocol's well-known port.
func defaultDial(ip string) host.Dial {
	addr := net.JoinHostPort(ip, strconv.Itoa(netdimm.DefaultPort))
	return func(ctx context.Context, timeout time.Duration) (netdimm.Client, error) {
		return netdimm.Dial(ctx, addr, timeout)
	}
}

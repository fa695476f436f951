// SPDX-License-Identifier: BSD-3-Clause

package probe

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

const (
	// DefaultDebounceCount is the number of consecutive agreeing probes
	// required to flip Alive.
	DefaultDebounceCount = 3
	defaultProbeTimeout  = 1 * time.Second
	unconfirmedInterval  = 1 * time.Second
	confirmedInterval    = 2 * time.Second
	defaultTimeHackEvery = 5 * time.Second
)

// Callbacks wires the prober into its owning Host Controller without the
// prober holding the controller's lock itself.
type Callbacks struct {
	// OnAliveChange is invoked exactly once per debounced transition, with
	// the newly confirmed value. The controller acquires its own lock
	// inside this callback to publish alive.
	OnAliveChange func(ctx context.Context, alive bool)
	// TimeHack, if set, is called roughly every 5s while the target is
	// alive and not transferring, to extend the DIMM's play-time
	// watchdog. Errors are swallowed by the caller (logged at debug).
	TimeHack func(ctx context.Context) error
	// IsTransferring reports whether a transfer is currently in flight,
	// suppressing the time-hack tick while true. Nil is treated as
	// always-false.
	IsTransferring func() bool
}

// ProbeFunc issues one liveness probe against address and reports whether
// the target answered within timeout.
type ProbeFunc func(ctx context.Context, address string, timeout time.Duration) bool

// Config configures a Prober.
type Config struct {
	Address       string
	DebounceCount int
	ProbeTimeout  time.Duration
	TimeHackEvery time.Duration
	Callbacks     Callbacks
	Logger        *slog.Logger

	// Probe overrides the ICMP echo implementation; nil selects the
	// default unprivileged echo. Tests substitute a scripted function.
	Probe ProbeFunc
	// UnconfirmedInterval and ConfirmedInterval override the probe
	// cadence; zero selects the defaults (~1s until the current state is
	// confirmed, ~2s after).
	UnconfirmedInterval time.Duration
	ConfirmedInterval   time.Duration
}

// Prober is a debounced ICMP liveness monitor for a single target address.
// It runs on its own goroutine, started once by Start (New does not start
// it) and stopped once by Stop; it never blocks its owner's control loop.
type Prober struct {
	address       string
	debounce      int
	probeTimeout  time.Duration
	timeHackEvery time.Duration
	callbacks     Callbacks
	logger        *slog.Logger
	probe         ProbeFunc

	unconfirmedInterval time.Duration
	confirmedInterval   time.Duration

	mu           sync.Mutex
	successCount int
	failureCount int
	alive        bool
	resetPending bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Prober for the given configuration, applying defaults
// for any zero-valued fields.
func New(cfg Config) (*Prober, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("%w: address cannot be empty", ErrInvalidConfig)
	}

	debounce := cfg.DebounceCount
	if debounce <= 0 {
		debounce = DefaultDebounceCount
	}
	probeTimeout := cfg.ProbeTimeout
	if probeTimeout <= 0 {
		probeTimeout = defaultProbeTimeout
	}
	timeHackEvery := cfg.TimeHackEvery
	if timeHackEvery <= 0 {
		timeHackEvery = defaultTimeHackEvery
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	probeFn := cfg.Probe
	if probeFn == nil {
		probeFn = echo
	}
	unconfirmed := cfg.UnconfirmedInterval
	if unconfirmed <= 0 {
		unconfirmed = unconfirmedInterval
	}
	confirmed := cfg.ConfirmedInterval
	if confirmed <= 0 {
		confirmed = confirmedInterval
	}

	return &Prober{
		address:             cfg.Address,
		debounce:            debounce,
		probeTimeout:        probeTimeout,
		timeHackEvery:       timeHackEvery,
		callbacks:           cfg.Callbacks,
		logger:              logger,
		probe:               probeFn,
		unconfirmedInterval: unconfirmed,
		confirmedInterval:   confirmed,
	}, nil
}

// Start begins probing on its own goroutine. It returns immediately; the
// loop runs until Stop is called or ctx is canceled.
func (p *Prober) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(runCtx)
	}()

	return nil
}

// Stop halts the probe loop and waits for it to exit.
func (p *Prober) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	return nil
}

// Reset zeroes the success and failure counters. The reset is honored on
// the next probe cycle rather than immediately, and is used when an
// outlet power-cycles the cabinet so stale successes don't prematurely
// confirm liveness.
func (p *Prober) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetPending = true
}

// Alive reports the most recently confirmed liveness value. Callers
// wanting to be notified of transitions should use Callbacks.OnAliveChange
// instead of polling this.
func (p *Prober) Alive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.alive
}

func (p *Prober) run(ctx context.Context) {
	lastTimeHack := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		p.mu.Lock()
		if p.resetPending {
			p.resetPending = false
			p.successCount = 0
			p.failureCount = 0
		}
		p.mu.Unlock()

		ok := p.probe(ctx, p.address, p.probeTimeout)

		var transitioned, aliveNow, confirmed bool
		p.mu.Lock()
		if ok {
			p.successCount++
			p.failureCount = 0
			if p.successCount >= p.debounce {
				confirmed = true
				if !p.alive {
					p.alive = true
					transitioned = true
				}
			}
		} else {
			p.failureCount++
			p.successCount = 0
			if p.failureCount >= p.debounce {
				confirmed = true
				if p.alive {
					p.alive = false
					transitioned = true
				}
			}
		}
		aliveNow = p.alive
		p.mu.Unlock()

		if transitioned && p.callbacks.OnAliveChange != nil {
			p.callbacks.OnAliveChange(ctx, aliveNow)
		}

		isTransferring := p.callbacks.IsTransferring != nil && p.callbacks.IsTransferring()
		if aliveNow && p.callbacks.TimeHack != nil && !isTransferring {
			if now := time.Now(); now.Sub(lastTimeHack) >= p.timeHackEvery {
				lastTimeHack = now
				if err := p.callbacks.TimeHack(ctx); err != nil {
					p.logger.DebugContext(ctx, "time hack request failed", "address", p.address, "error", err)
				}
			}
		}

		interval := p.unconfirmedInterval
		if confirmed {
			interval = p.confirmedInterval
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// echo issues a single unprivileged ICMP echo request (over a UDP-backed
// ICMP socket, requiring no elevated capability on Linux when
// net.ipv4.ping_group_range permits it) and reports whether a matching
// echo reply arrived within timeout.
func echo(ctx context.Context, address string, timeout time.Duration) bool {
	conn, err := icmp.ListenPacket("udp4", "0.0.0.0")
	if err != nil {
		return false
	}
	defer conn.Close() //nolint:errcheck

	dst, err := net.ResolveIPAddr("ip4", address)
	if err != nil {
		return false
	}

	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Code: 0,
		Body: &icmp.Echo{
			ID:   os.Getpid() & 0xffff,
			Seq:  1,
			Data: []byte("cabinetd-probe"),
		},
	}
	wire, err := msg.Marshal(nil)
	if err != nil {
		return false
	}

	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		timeout = time.Until(deadline)
	}
	if _, err := conn.WriteTo(wire, &net.UDPAddr{IP: dst.IP}); err != nil {
		return false
	}
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return false
	}

	reply := make([]byte, 1500)
	n, _, err := conn.ReadFrom(reply)
	if err != nil {
		return false
	}

	rm, err := icmp.ParseMessage(1, reply[:n])
	if err != nil {
		return false
	}

	return rm.Type == ipv4.ICMPTypeEchoReply
}

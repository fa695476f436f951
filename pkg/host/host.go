// SPDX-License-Identifier: BSD-3-Clause

package host

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/netdimm-fleet/cabinetd/pkg/id"
	"github.com/netdimm-fleet/cabinetd/pkg/netdimm"
	"github.com/netdimm-fleet/cabinetd/pkg/patch"
	"github.com/netdimm-fleet/cabinetd/pkg/probe"
	"github.com/netdimm-fleet/cabinetd/pkg/transfer"
)

// Status is the sticky, observer-visible outcome of the most recent or
// in-flight transfer.
type Status int

const (
	StatusInactive Status = iota
	StatusTransferring
	StatusCompleted
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusInactive:
		return "INACTIVE"
	case StatusTransferring:
		return "TRANSFERRING"
	case StatusCompleted:
		return "COMPLETED"
	case StatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Progress is the last observed (sent, total) pair for the current or most
// recently finished transfer. SentinelProgress means no datum has arrived
// since the last send.
type Progress struct {
	Sent  int64
	Total int64
}

// SentinelProgress is the "no data yet" value Progress holds between a send
// call and its worker's first progress publication.
var SentinelProgress = Progress{Sent: -1, Total: -1}

const (
	defaultOperationTimeout = 5 * time.Second
	sendPollInterval        = 5 * time.Millisecond
)

// Dial opens a netdimm.Client bounded by timeout. Controller never holds a
// connection open across calls; every operation dials fresh and closes on
// return, matching the one-shot nature of reboot/wipe/info/send.
type Dial func(ctx context.Context, timeout time.Duration) (netdimm.Client, error)

// SendRequest names the payload a send assembles, mirroring the per-cabinet
// fields a Cabinet passes through from its configuration.
type SendRequest struct {
	Filename    string
	Patches     []string
	Settings    map[patch.SettingsKind][]byte
	SendTimeout time.Duration
	SkipCRC     bool
	SkipNowLoad bool
}

// Config constructs a Controller.
type Config struct {
	IP      string
	Dial    Dial
	Target  netdimm.Target
	Version netdimm.Version

	// TimeHack enables the prober's periodic watchdog refresh.
	TimeHack      bool
	DebounceCount int
	ProbeTimeout  time.Duration

	Logger *slog.Logger
}

// Controller is the per-cabinet façade owning one Prober for its whole
// lifetime and at most one Transfer Worker at a time. All public operations
// except CRC and ResetProber acquire mu, matching the single-mutex model the
// owning Cabinet State Machine expects.
type Controller struct {
	ip      string
	dial    Dial
	target  netdimm.Target
	version netdimm.Version
	logger  *slog.Logger
	prober  *probe.Prober

	rootCtx    context.Context
	rootCancel context.CancelFunc

	mu       sync.Mutex
	alive    bool
	handle   *transfer.Handle
	status   Status
	reason   string
	progress Progress

	tokenMu sync.Mutex
	token   string
}

// New constructs a Controller and its Prober. The Prober is not started
// until Start is called.
func New(cfg Config) (*Controller, error) {
	if cfg.IP == "" {
		return nil, fmt.Errorf("%w: ip cannot be empty", ErrTransport)
	}
	if cfg.Dial == nil {
		return nil, fmt.Errorf("%w: dial cannot be nil", ErrTransport)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Controller{
		ip:       cfg.IP,
		dial:     cfg.Dial,
		target:   cfg.Target,
		version:  cfg.Version,
		logger:   logger,
		progress: SentinelProgress,
	}

	var timeHack func(ctx context.Context) error
	if cfg.TimeHack {
		timeHack = c.timeHack
	}

	prober, err := probe.New(probe.Config{
		Address:       cfg.IP,
		DebounceCount: cfg.DebounceCount,
		ProbeTimeout:  cfg.ProbeTimeout,
		Logger:        logger,
		Callbacks: probe.Callbacks{
			OnAliveChange:  c.onAliveChange,
			TimeHack:       timeHack,
			IsTransferring: c.IsTransferring,
		},
	})
	if err != nil {
		return nil, err
	}
	c.prober = prober

	return c, nil
}

// Start begins the Prober's background probing. The given context bounds
// the Controller's whole lifetime, not any single operation.
func (c *Controller) Start(ctx context.Context) error {
	c.rootCtx, c.rootCancel = context.WithCancel(ctx)
	return c.prober.Start(c.rootCtx)
}

// Stop force-terminates any active transfer and stops the Prober.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	c.terminateLocked("stopped")
	c.mu.Unlock()

	if c.rootCancel != nil {
		c.rootCancel()
	}
	return c.prober.Stop(ctx)
}

// TerminateTransfer force-terminates the active transfer, if any, latching
// sticky FAILED with reason. Unlike SetAlive(false) this leaves the cached
// liveness value and the Prober's debounce counters untouched.
func (c *Controller) TerminateTransfer(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.terminateLocked(reason)
}

// ResetProber zeroes the Prober's debounce counters without touching the
// cached liveness value. An outlet power-cycle calls this so successes
// recorded before the outlet cut don't count toward re-confirming
// liveness; the next flip still comes from the Prober's own debounce.
func (c *Controller) ResetProber() {
	c.prober.Reset()
}

// Send spawns a Transfer Worker for req, failing with ErrHostBusy if one is
// already running. It busy-waits (polling the worker's message channel
// rather than blocking on it) until the first progress datum arrives or the
// worker exits, so callers always observe TRANSFERRING with a live datum
// (or a terminal status) by the time Send returns.
func (c *Controller) Send(ctx context.Context, req SendRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handle != nil {
		return ErrHostBusy
	}

	client, err := c.dial(ctx, req.SendTimeout)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}

	c.status = StatusInactive
	c.reason = ""
	c.progress = SentinelProgress

	c.logger.Info("host started sending image", "ip", c.ip, "skip_crc", req.SkipCRC)

	token := id.NewID()
	c.setToken(token)

	spec := transfer.Spec{
		IP:          c.ip,
		Filename:    req.Filename,
		Patches:     req.Patches,
		Settings:    req.Settings,
		Target:      c.target,
		Version:     c.version,
		SendTimeout: req.SendTimeout,
		SkipCRC:     req.SkipCRC,
		SkipNowLoad: req.SkipNowLoad,
		ParentToken: token,
	}

	workerCtx := c.rootCtx
	if workerCtx == nil {
		workerCtx = ctx
	}

	handle := transfer.Start(workerCtx, spec, client, c.tokenValid, c.logger)
	c.handle = handle
	c.status = StatusTransferring

	for {
		select {
		case msg, ok := <-handle.Messages():
			if !ok {
				return nil
			}
			c.absorbLocked(msg)
			return nil
		default:
			time.Sleep(sendPollInterval)
		}
	}
}

// Tick drains all currently-available messages from the active transfer
// without blocking. On a terminal message it joins the worker, clears the
// handle, and promotes the message into sticky status.
func (c *Controller) Tick() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handle == nil {
		return
	}

	for {
		select {
		case msg, ok := <-c.handle.Messages():
			if !ok {
				return
			}
			c.absorbLocked(msg)
			if c.handle == nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Controller) absorbLocked(msg transfer.Message) {
	switch msg.Kind {
	case transfer.KindProgress:
		c.progress = Progress{Sent: msg.Sent, Total: msg.Total}
	case transfer.KindSuccess:
		c.status = StatusCompleted
		c.reason = ""
		c.logger.Info("host succeeded in sending image", "ip", c.ip)
		c.finishLocked()
	case transfer.KindFailure:
		c.status = StatusFailed
		c.reason = msg.Reason
		c.logger.Info("host failed to send image", "ip", c.ip, "reason", msg.Reason)
		c.finishLocked()
	}
}

func (c *Controller) finishLocked() {
	if c.handle != nil {
		c.handle.Terminate()
		c.handle = nil
	}
}

func (c *Controller) terminateLocked(reason string) {
	if c.handle != nil {
		c.handle.Terminate()
		c.handle = nil
		c.status = StatusFailed
		c.reason = reason
		c.progress = SentinelProgress
	}
}

// Reboot requests a board reboot. It refuses (returns false) while a
// transfer is in flight, and converts any transport error to false rather
// than propagating it.
func (c *Controller) Reboot(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle != nil {
		return false
	}
	client, err := c.dial(ctx, defaultOperationTimeout)
	if err != nil {
		return false
	}
	defer client.Close() //nolint:errcheck
	opCtx, cancel := context.WithTimeout(ctx, defaultOperationTimeout)
	defer cancel()
	return client.Reboot(opCtx) == nil
}

// Wipe requests the board clear its currently loaded game. It refuses while
// a transfer is in flight.
func (c *Controller) Wipe(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle != nil {
		return false
	}
	client, err := c.dial(ctx, defaultOperationTimeout)
	if err != nil {
		return false
	}
	defer client.Close() //nolint:errcheck
	opCtx, cancel := context.WithTimeout(ctx, defaultOperationTimeout)
	defer cancel()
	return client.WipeCurrentGame(opCtx) == nil
}

// Info fetches firmware and memory details. It returns nil while a transfer
// is in flight or on any transport error.
func (c *Controller) Info(ctx context.Context) *netdimm.Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle != nil {
		return nil
	}
	client, err := c.dial(ctx, defaultOperationTimeout)
	if err != nil {
		return nil
	}
	defer client.Close() //nolint:errcheck
	opCtx, cancel := context.WithTimeout(ctx, defaultOperationTimeout)
	defer cancel()
	info, err := client.Info(opCtx)
	if err != nil {
		return nil
	}
	return &info
}

// CRC computes the checksum a send of this exact payload would produce,
// running the same patch-then-settings pipeline the Transfer Worker uses
// but performing no network I/O.
func (c *Controller) CRC(filename string, patches []string, settings map[patch.SettingsKind][]byte) (uint32, error) {
	window, closer, err := transfer.OpenWindow(filename)
	if err != nil {
		return 0, err
	}
	defer closer.Close() //nolint:errcheck

	window, err = transfer.ApplyPipeline(window, patches, settings, c.target)
	if err != nil {
		return 0, err
	}

	data, err := patch.ReadAll(window)
	if err != nil {
		return 0, err
	}
	return netdimm.CRC(data), nil
}

// Alive reports the debounced liveness value most recently published by the
// Prober, or forced by SetAlive.
func (c *Controller) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alive
}

// SetAlive forces the cached liveness value. Setting false is the "force
// offline" operation: it terminates any active transfer, requests a Prober
// counter reset, and caches false regardless of what the Prober later
// reports (the next confirmed probe cycle will overwrite it again).
func (c *Controller) SetAlive(alive bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !alive {
		c.terminateLocked("terminated")
		c.prober.Reset()
	}
	c.alive = alive
}

// IsTransferring reports whether a transfer is currently in flight. It
// satisfies probe.Callbacks.IsTransferring, suppressing the time-hack tick
// during a send.
func (c *Controller) IsTransferring() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle != nil
}

// Status reports the sticky terminal status if one is latched, otherwise
// TRANSFERRING while a worker exists, otherwise INACTIVE.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle != nil {
		return StatusTransferring
	}
	return c.status
}

// FailureReason returns the reason string latched by the most recent
// FAILED status, or "" if the current status is not FAILED.
func (c *Controller) FailureReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusFailed {
		return ""
	}
	return c.reason
}

// Progress returns the last observed (sent, total) pair, failing with
// ErrNoActiveTransfer while the sentinel is in place.
func (c *Controller) Progress() (Progress, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.progress == SentinelProgress {
		return Progress{}, ErrNoActiveTransfer
	}
	return c.progress, nil
}

func (c *Controller) onAliveChange(ctx context.Context, alive bool) {
	c.mu.Lock()
	c.alive = alive
	c.mu.Unlock()
}

func (c *Controller) timeHack(ctx context.Context) error {
	client, err := c.dial(ctx, defaultOperationTimeout)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer client.Close() //nolint:errcheck
	opCtx, cancel := context.WithTimeout(ctx, defaultOperationTimeout)
	defer cancel()
	const timeHackMinutes = 10
	return client.SetTimeLimit(opCtx, timeHackMinutes)
}

func (c *Controller) setToken(token string) {
	c.tokenMu.Lock()
	c.token = token
	c.tokenMu.Unlock()
}

func (c *Controller) tokenValid(token string) bool {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	return c.token == token
}

// SPDX-License-Identifier: BSD-3-Clause

package cabinet

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/netdimm-fleet/cabinetd/pkg/fsm"
	"github.com/netdimm-fleet/cabinetd/pkg/host"
	"github.com/netdimm-fleet/cabinetd/pkg/netdimm"
	"github.com/netdimm-fleet/cabinetd/pkg/outlet"
	"github.com/netdimm-fleet/cabinetd/pkg/patch"
)

// Region is the territory a cabinet's image is built for.
type Region int

const (
	RegionUnknown Region = iota
	RegionJapan
	RegionUSA
	RegionExport
	RegionKorea
	RegionAustralia
)

func (r Region) String() string {
	switch r {
	case RegionJapan:
		return "JAPAN"
	case RegionUSA:
		return "USA"
	case RegionExport:
		return "EXPORT"
	case RegionKorea:
		return "KOREA"
	case RegionAustralia:
		return "AUSTRALIA"
	default:
		return "UNKNOWN"
	}
}

const outletOperationTimeout = 5 * time.Second

// Config is a Cabinet's persisted, mutable record: identity, per-filename
// asset maps, and the behavioral flags that drive its control automaton.
type Config struct {
	IP           string
	Description  string
	Region       Region
	Target       netdimm.Target
	Version      netdimm.Version
	Enabled      bool
	Controllable bool
	TimeHack     bool
	SkipCRC      bool
	SkipNowLoad  bool
	PowerCycle   bool
	SendTimeout  time.Duration

	// SelectedFilename is the currently desired image, or "" for none. If
	// set, it must be a key of Patches.
	SelectedFilename string
	// Patches maps a filename to the ordered list of patch file paths
	// applied to it.
	Patches map[string][]string
	// Settings maps a filename to an optional EEPROM blob.
	Settings map[string][]byte
	// SRAMs maps a filename to an optional SRAM blob.
	SRAMs map[string][]byte

	// Outlet is the resolved driver for this cabinet's power receptacle.
	// Nil is treated as outlet.None().
	Outlet outlet.Driver

	// Broadcast, if set, is wired into the control automaton's broadcast
	// callback so a Fleet Manager can publish transitions without the
	// Cabinet knowing anything about the event bus.
	Broadcast fsm.BroadcastCallback
}

func (cfg *Config) validate() error {
	if cfg.IP == "" {
		return fmt.Errorf("%w: ip cannot be empty", ErrInvalidConfig)
	}
	if cfg.SelectedFilename != "" {
		if _, ok := cfg.Patches[cfg.SelectedFilename]; !ok {
			return fmt.Errorf("%w: selected_filename %q is not a key of patches", ErrInvalidConfig, cfg.SelectedFilename)
		}
	}
	return nil
}

// Cabinet is one physical arcade unit: its configuration, its Host
// Controller, its Outlet Driver, and the control automaton coordinating
// them.
type Cabinet struct {
	mu      sync.Mutex
	cfg     Config
	host    *host.Controller
	outlet  outlet.Driver
	machine *fsm.Machine
	logger  *slog.Logger

	lastSentFilename     string
	lastObservedFilename string

	// powerState mirrors the last outlet command issued. It is only
	// authoritative when an outlet is configured; the none driver accepts
	// writes without doing anything.
	powerState outlet.State
}

const maxCascade = 7

// New constructs a Cabinet from cfg, wiring its state machine to h. The
// Cabinet does not start h's Prober or its own machine; call Start for
// that.
func New(cfg Config, h *host.Controller, logger *slog.Logger) (*Cabinet, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if h == nil {
		return nil, fmt.Errorf("%w: host controller cannot be nil", ErrInvalidConfig)
	}
	if logger == nil {
		logger = slog.Default()
	}
	drv := cfg.Outlet
	if drv == nil {
		drv = outlet.None()
	}

	c := &Cabinet{
		cfg:                  cfg,
		host:                 h,
		outlet:               drv,
		logger:               logger,
		lastObservedFilename: cfg.SelectedFilename,
	}

	machine, err := fsm.NewCabinetStateMachine(fsm.CabinetMachineOptions{
		Name: cfg.IP,

		IsCabinetAlive:     c.guardAlive,
		HasGameAssigned:    c.guardHasGame,
		IsEnabled:          c.guardEnabled,
		SendCompleted:      c.guardSendCompleted,
		SendFailed:         c.guardSendFailed,
		RunningGameMatches: c.guardGameMatches,
		ShouldPowerCycle:   c.guardShouldPowerCycle,

		OnEnterWaitForPowerOn:     c.actionEnterWaitForPowerOn,
		OnEnterWaitForPowerOff:    c.actionEnterWaitForPowerOff,
		OnEnterSendCurrentGame:    c.actionEnterSendCurrentGame,
		OnEnterWaitForCurrentGame: c.actionEnterWaitForCurrentGame,
		OnEnterCheckCurrentGame:   c.actionEnterCheckCurrentGame,
		OnEnterDisconnect:         c.actionEnterDisconnect,
		OnRestorePower:            c.actionRestorePower,
		OnForceTerminate:          c.actionForceTerminate,

		BroadcastCallback: cfg.Broadcast,
	})
	if err != nil {
		return nil, err
	}
	c.machine = machine

	return c, nil
}

// Start starts the Host Controller's Prober and the state machine.
func (c *Cabinet) Start(ctx context.Context) error {
	if err := c.host.Start(ctx); err != nil {
		return err
	}
	return c.machine.Start(ctx)
}

// Stop stops the state machine and the Host Controller.
func (c *Cabinet) Stop(ctx context.Context) error {
	_ = c.machine.Stop(ctx)
	return c.host.Stop(ctx)
}

// IP returns the cabinet's identity.
func (c *Cabinet) IP() string {
	return c.cfg.IP
}

// State returns the current control automaton state.
func (c *Cabinet) State() string {
	return c.machine.CurrentState()
}

// Host returns the underlying Host Controller, for callers (the HTTP
// façade) that need to read status, progress, or DIMM info directly.
func (c *Cabinet) Host() *host.Controller {
	return c.host
}

// Snapshot returns a copy of the cabinet's current configuration.
func (c *Cabinet) Snapshot() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// SetEnabled toggles whether the cabinet's state machine reacts to ticks.
// A disabled cabinet's Prober keeps running.
func (c *Cabinet) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.Enabled = enabled
}

// SetSelectedFilename changes the desired image. filename must be "" (no
// game) or a key of the cabinet's patches map.
func (c *Cabinet) SetSelectedFilename(filename string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if filename != "" {
		if _, ok := c.cfg.Patches[filename]; !ok {
			return fmt.Errorf("%w: %q is not a key of patches", ErrInvalidConfig, filename)
		}
	}
	c.cfg.SelectedFilename = filename
	return nil
}

// SetPower drives the outlet to the requested state. If the cabinet is not
// Controllable, admin must be true (an explicit admin override), matching
// the tie-break rule that an admin power command supersedes the
// controllable gate.
func (c *Cabinet) SetPower(ctx context.Context, state outlet.State, admin bool) error {
	c.mu.Lock()
	controllable := c.cfg.Controllable
	c.mu.Unlock()
	if !controllable && !admin {
		return fmt.Errorf("%w: cabinet is not controllable", ErrInvalidConfig)
	}
	opCtx, cancel := context.WithTimeout(ctx, outletOperationTimeout)
	defer cancel()
	if err := c.outlet.WriteState(opCtx, state); err != nil {
		return err
	}
	c.mu.Lock()
	c.powerState = state
	c.mu.Unlock()
	return nil
}

// PowerState reports the last outlet state this cabinet commanded, or
// StateUnknown if no command has been issued yet. Callers wanting the
// outlet's observed state should use OutletState, which performs real
// transport I/O.
func (c *Cabinet) PowerState() outlet.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.powerState
}

// OutletState reads the outlet's observed power state. The result is only
// authoritative when an outlet is configured; the none driver always
// reports unknown.
func (c *Cabinet) OutletState(ctx context.Context) outlet.State {
	opCtx, cancel := context.WithTimeout(ctx, outletOperationTimeout)
	defer cancel()
	return c.outlet.ReadState(opCtx)
}

// Tick drives the control automaton forward by at most maxCascade internal
// steps, so a whole chain of pass-through states (e.g. deciding to send
// and actually invoking the send) resolves within a single heartbeat
// rather than spreading over several ticks.
func (c *Cabinet) Tick(ctx context.Context) {
	c.host.Tick()

	c.mu.Lock()
	enabled := c.cfg.Enabled
	c.mu.Unlock()
	if !enabled {
		return
	}

	for i := 0; i < maxCascade; i++ {
		if !c.step(ctx) {
			return
		}
	}
}

func (c *Cabinet) step(ctx context.Context) bool {
	state := c.machine.CurrentState()
	alive := c.host.Alive()

	if !alive && state != fsm.CabinetStateStartup && state != fsm.CabinetStateWaitForCabinetDisconnect {
		return c.fire(ctx, fsm.CabinetTriggerCabinetDead)
	}

	switch state {
	case fsm.CabinetStateStartup:
		return c.fire(ctx, fsm.CabinetTriggerTick)

	case fsm.CabinetStateWaitForPowerOn:
		if c.guardHasGame(ctx) {
			return c.fire(ctx, fsm.CabinetTriggerGameAssigned)
		}
		return c.fire(ctx, fsm.CabinetTriggerNoGameAssigned)

	case fsm.CabinetStateWaitForPowerOff:
		if c.guardShouldPowerCycle(ctx) {
			return c.fire(ctx, fsm.CabinetTriggerPowerCycle)
		}
		if c.guardHasGame(ctx) && !c.guardGameMatches(ctx) {
			return c.fire(ctx, fsm.CabinetTriggerGameAssigned)
		}
		return false

	case fsm.CabinetStateSendCurrentGame:
		if !c.doSend(ctx) {
			return false
		}
		return c.fire(ctx, fsm.CabinetTriggerSendAccepted)

	case fsm.CabinetStateWaitForCurrentGame:
		switch c.host.Status() {
		case host.StatusCompleted:
			return c.fire(ctx, fsm.CabinetTriggerSendComplete)
		case host.StatusFailed:
			return c.fire(ctx, fsm.CabinetTriggerSendFailed)
		default:
			return false
		}

	case fsm.CabinetStateCheckCurrentGame:
		if c.guardGameMatches(ctx) {
			return c.fire(ctx, fsm.CabinetTriggerGameMatches)
		}
		return c.fire(ctx, fsm.CabinetTriggerGameDiffers)

	case fsm.CabinetStateWaitForCabinetDisconnect:
		if !alive {
			return c.fire(ctx, fsm.CabinetTriggerCabinetOff)
		}
		return false
	}

	return false
}

func (c *Cabinet) fire(ctx context.Context, trigger string) bool {
	if err := c.machine.Fire(ctx, trigger); err != nil {
		c.logger.Debug("cabinet transition did not fire", "ip", c.cfg.IP, "trigger", trigger, "error", err)
		return false
	}
	return true
}

func (c *Cabinet) doSend(ctx context.Context) bool {
	c.mu.Lock()
	filename := c.cfg.SelectedFilename
	patches := append([]string(nil), c.cfg.Patches[filename]...)
	settings := make(map[patch.SettingsKind][]byte, 2)
	// Settings and SRAM blobs only mean anything to the NAOMI settings
	// patcher; other targets get none regardless of what the record says.
	if c.cfg.Target == netdimm.TargetNaomi {
		if b, ok := c.cfg.Settings[filename]; ok {
			settings[patch.SettingsEEPROM] = b
		}
		if b, ok := c.cfg.SRAMs[filename]; ok {
			settings[patch.SettingsSRAM] = b
		}
	}
	req := host.SendRequest{
		Filename:    filename,
		Patches:     patches,
		Settings:    settings,
		SendTimeout: c.cfg.SendTimeout,
		SkipCRC:     c.cfg.SkipCRC,
		SkipNowLoad: c.cfg.SkipNowLoad,
	}
	c.mu.Unlock()

	if err := c.host.Send(ctx, req); err != nil {
		c.logger.Error("cabinet failed to start send", "ip", c.cfg.IP, "error", err)
		return false
	}

	c.mu.Lock()
	c.lastSentFilename = filename
	c.mu.Unlock()
	return true
}

func (c *Cabinet) guardAlive(ctx context.Context) bool {
	return c.host.Alive()
}

func (c *Cabinet) guardEnabled(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.Enabled
}

func (c *Cabinet) guardHasGame(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.SelectedFilename != ""
}

func (c *Cabinet) guardSendCompleted(ctx context.Context) bool {
	return c.host.Status() == host.StatusCompleted
}

func (c *Cabinet) guardSendFailed(ctx context.Context) bool {
	return c.host.Status() == host.StatusFailed
}

func (c *Cabinet) guardGameMatches(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSentFilename == c.cfg.SelectedFilename
}

func (c *Cabinet) guardShouldPowerCycle(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.PowerCycle && c.cfg.SelectedFilename != c.lastObservedFilename
}

func (c *Cabinet) actionEnterWaitForPowerOn(from, to, trigger string) error {
	c.mu.Lock()
	ip := c.cfg.IP
	c.mu.Unlock()
	c.logger.Info(fmt.Sprintf("Cabinet %s waiting for power on.", ip))
	return nil
}

func (c *Cabinet) actionEnterWaitForPowerOff(from, to, trigger string) error {
	c.mu.Lock()
	ip := c.cfg.IP
	c.mu.Unlock()
	c.logger.Info(fmt.Sprintf("Cabinet %s has no associated game, waiting for power off.", ip))
	return nil
}

func (c *Cabinet) actionEnterSendCurrentGame(from, to, trigger string) error {
	c.mu.Lock()
	ip := c.cfg.IP
	filename := c.cfg.SelectedFilename
	c.lastObservedFilename = filename
	c.mu.Unlock()
	c.logger.Info(fmt.Sprintf("Cabinet %s sending game %s.", ip, filename))
	return nil
}

func (c *Cabinet) actionEnterWaitForCurrentGame(from, to, trigger string) error {
	c.logger.Debug("cabinet waiting for current game", "ip", c.cfg.IP)
	return nil
}

func (c *Cabinet) actionEnterCheckCurrentGame(from, to, trigger string) error {
	c.logger.Debug("cabinet checking current game", "ip", c.cfg.IP)
	return nil
}

func (c *Cabinet) actionEnterDisconnect(from, to, trigger string) error {
	c.mu.Lock()
	ip := c.cfg.IP
	c.lastObservedFilename = c.cfg.SelectedFilename
	c.mu.Unlock()

	c.logger.Info("cabinet power cycling for game change", "ip", ip)

	ctx, cancel := context.WithTimeout(context.Background(), outletOperationTimeout)
	defer cancel()
	if err := c.outlet.WriteState(ctx, outlet.StateOff); err != nil {
		c.logger.Warn("failed to drive outlet off for power cycle", "ip", ip, "error", err)
	} else {
		c.mu.Lock()
		c.powerState = outlet.StateOff
		c.mu.Unlock()
	}

	// Power-cycling implicitly cancels any in-flight transfer. The prober
	// keeps running with zeroed counters: the machine holds in this state
	// until its real debounced signal confirms the cabinet went down, and
	// the reset keeps successes recorded before the outlet cut from
	// counting toward the post-cycle re-confirmation.
	c.host.TerminateTransfer("power cycled")
	c.host.ResetProber()
	return nil
}

// actionRestorePower fires once liveness has debounced to false inside
// WAIT_FOR_CABINET_DISCONNECT: the outlet-off is confirmed to have taken
// effect, so drive the outlet back on and re-arm for the boot.
func (c *Cabinet) actionRestorePower(from, to, trigger string) error {
	c.mu.Lock()
	ip := c.cfg.IP
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), outletOperationTimeout)
	defer cancel()
	if err := c.outlet.WriteState(ctx, outlet.StateOn); err != nil {
		c.logger.Warn("failed to drive outlet on after power cycle", "ip", ip, "error", err)
	} else {
		c.mu.Lock()
		c.powerState = outlet.StateOn
		c.mu.Unlock()
	}

	return c.actionEnterWaitForPowerOn(from, to, trigger)
}

func (c *Cabinet) actionForceTerminate(from, to, trigger string) error {
	c.logger.Info("cabinet lost liveness, terminating any in-flight transfer", "ip", c.cfg.IP, "from", from)
	c.host.TerminateTransfer("cabinet went offline")
	return nil
}

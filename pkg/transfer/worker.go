// SPDX-License-Identifier: BSD-3-Clause

package transfer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/netdimm-fleet/cabinetd/pkg/netdimm"
	"github.com/netdimm-fleet/cabinetd/pkg/patch"
)

// Kind discriminates the tagged messages a Worker publishes.
type Kind int

const (
	KindProgress Kind = iota
	KindSuccess
	KindFailure
)

// Message is one entry on a Handle's channel: a progress update, or
// exactly one terminal Success/Failure.
type Message struct {
	Kind   Kind
	Sent   int64
	Total  int64
	Reason string
}

// Spec describes a single transfer: the image and patches to apply, any
// settings blobs to splice in, and the identity token the worker uses to
// detect that its parent has moved on.
type Spec struct {
	IP          string
	Filename    string
	Patches     []string
	Settings    map[patch.SettingsKind][]byte
	Target      netdimm.Target
	Version     netdimm.Version
	SendTimeout time.Duration
	SkipCRC     bool
	SkipNowLoad bool
	ParentToken string
}

func (s Spec) validate() error {
	if s.IP == "" {
		return fmt.Errorf("%w: ip cannot be empty", ErrInvalidSpec)
	}
	if s.Filename == "" {
		return fmt.Errorf("%w: filename cannot be empty", ErrInvalidSpec)
	}
	return nil
}

// Handle is the caller's view of a running Worker.
type Handle struct {
	messages chan Message
	cancel   context.CancelFunc
	done     chan struct{}
}

// Messages returns the channel a Worker publishes progress and terminal
// outcomes to. It is closed after the terminal message.
func (h *Handle) Messages() <-chan Message {
	return h.messages
}

// Terminate cancels the worker's context and blocks until its goroutine
// has exited. Any partial progress is discarded by the caller; the
// terminate is honored promptly regardless of what the worker was doing,
// since every netdimm I/O call in this package is context-aware.
func (h *Handle) Terminate() {
	h.cancel()
	<-h.done
}

// Start spawns a Worker on its own goroutine and returns immediately.
// tokenValid is consulted before every progress publication and report
// whether spec.ParentToken still names the transfer the controller
// currently cares about; once it returns false the worker exits without
// publishing a terminal message (the controller has already moved on).
func Start(ctx context.Context, spec Spec, client netdimm.Client, tokenValid func(token string) bool, logger *slog.Logger) *Handle {
	if logger == nil {
		logger = slog.Default()
	}

	workerCtx, cancel := context.WithCancel(ctx)
	messages := make(chan Message, 8)
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer close(messages)
		defer client.Close() //nolint:errcheck
		run(workerCtx, spec, client, tokenValid, messages, logger)
	}()

	return &Handle{messages: messages, cancel: cancel, done: done}
}

func run(ctx context.Context, spec Spec, client netdimm.Client, tokenValid func(string) bool, messages chan<- Message, logger *slog.Logger) {
	if err := spec.validate(); err != nil {
		publishFailure(ctx, messages, err.Error())
		return
	}

	window, closer, err := OpenWindow(spec.Filename)
	if err != nil {
		publishFailure(ctx, messages, err.Error())
		return
	}
	defer closer.Close() //nolint:errcheck

	window, err = ApplyPipeline(window, spec.Patches, spec.Settings, spec.Target)
	if err != nil {
		publishFailure(ctx, messages, err.Error())
		return
	}

	total := window.Len()
	reader := &windowReader{window: window}

	logger.InfoContext(ctx, "starting transfer", "ip", spec.IP, "filename", spec.Filename, "skip_crc", spec.SkipCRC)

	progressFn := func(sent, total int64) bool {
		if !tokenValid(spec.ParentToken) {
			return false
		}
		select {
		case messages <- Message{Kind: KindProgress, Sent: sent, Total: total}:
		case <-ctx.Done():
			return false
		}
		return tokenValid(spec.ParentToken)
	}

	sendCtx := ctx
	if spec.SendTimeout > 0 {
		var sendCancel context.CancelFunc
		sendCtx, sendCancel = context.WithTimeout(ctx, spec.SendTimeout)
		defer sendCancel()
	}

	if err := client.Send(sendCtx, reader, total, progressFn, spec.SkipCRC, spec.SkipNowLoad); err != nil {
		if !tokenValid(spec.ParentToken) {
			return
		}
		publishFailure(ctx, messages, err.Error())
		return
	}

	if !tokenValid(spec.ParentToken) {
		return
	}

	select {
	case messages <- Message{Kind: KindSuccess}:
	case <-ctx.Done():
	}
}

// OpenWindow opens filename read-only and returns it as a patch.Window along
// with its backing closer. Callers that only need the fully-resolved bytes
// (pkg/host.Controller.CRC) should read the window and close it immediately;
// a Worker streaming a send instead keeps it open until the send completes.
func OpenWindow(filename string) (patch.Window, io.Closer, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrImageOpen, err)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close() //nolint:errcheck
		return nil, nil, fmt.Errorf("%w: %w", ErrImageOpen, err)
	}
	return &fileWindow{file: f, size: stat.Size()}, f, nil
}

// ApplyPipeline runs the patch-then-settings pipeline shared by Worker.run
// and pkg/host.Controller.CRC: patch directives are applied in file order,
// files in list order, then any settings blobs are spliced in fixed
// EEPROM-then-SRAM order. See DESIGN.md for why patch order is preserved
// ahead of settings splicing.
func ApplyPipeline(window patch.Window, patches []string, settings map[patch.SettingsKind][]byte, target netdimm.Target) (patch.Window, error) {
	var directives []patch.Directive
	for _, path := range patches {
		ds, err := readPatchFile(path)
		if err != nil {
			return nil, err
		}
		directives = append(directives, ds...)
	}
	if len(directives) > 0 {
		var err error
		window, err = patch.Apply(window, directives)
		if err != nil {
			return nil, err
		}
	}

	for _, kind := range []patch.SettingsKind{patch.SettingsEEPROM, patch.SettingsSRAM} {
		blob, ok := settings[kind]
		if !ok {
			continue
		}
		var err error
		window, err = patch.ApplySettings(window, target, kind, blob)
		if err != nil {
			return nil, err
		}
	}

	return window, nil
}

func readPatchFile(path string) ([]patch.Directive, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrPatchOpen, path, err)
	}
	defer f.Close() //nolint:errcheck

	ds, err := patch.ParseDirectives(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ds, nil
}

func publishFailure(ctx context.Context, messages chan<- Message, reason string) {
	select {
	case messages <- Message{Kind: KindFailure, Reason: reason}:
	case <-ctx.Done():
	}
}

// fileWindow adapts an already-open, read-only *os.File to patch.Window.
type fileWindow struct {
	file *os.File
	size int64
}

func (w *fileWindow) ReadAt(p []byte, off int64) (int, error) { return w.file.ReadAt(p, off) }
func (w *fileWindow) Len() int64                              { return w.size }

// windowReader adapts a patch.Window (random access) to a sequential
// io.Reader, so netdimm.Client.Send can stream it without the caller
// materializing the whole image in memory.
type windowReader struct {
	window patch.Window
	offset int64
}

func (r *windowReader) Read(p []byte) (int, error) {
	if r.offset >= r.window.Len() {
		return 0, io.EOF
	}
	n, err := r.window.ReadAt(p, r.offset)
	r.offset += int64(n)
	return n, err
}

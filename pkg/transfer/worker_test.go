// SPDX-License-Identifier: BSD-3-Clause

package transfer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/netdimm-fleet/cabinetd/pkg/netdimm"
)

type fakeClient struct {
	sendErr    error
	sendDelay  time.Duration
	progressed []int64
	received   []byte
}

func (f *fakeClient) Send(ctx context.Context, data io.Reader, total int64, progress netdimm.ProgressFunc, skipCRC, skipNowLoad bool) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	buf := make([]byte, 4)
	var sent int64
	for {
		n, err := data.Read(buf)
		if n > 0 {
			f.received = append(f.received, buf[:n]...)
			sent += int64(n)
			if f.sendDelay > 0 {
				select {
				case <-time.After(f.sendDelay):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			f.progressed = append(f.progressed, sent)
			if !progress(sent, total) {
				return nil
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (f *fakeClient) Reboot(ctx context.Context) error          { return nil }
func (f *fakeClient) WipeCurrentGame(ctx context.Context) error { return nil }
func (f *fakeClient) Info(ctx context.Context) (netdimm.Info, error) {
	return netdimm.Info{}, nil
}
func (f *fakeClient) SetTimeLimit(ctx context.Context, minutes int) error { return nil }
func (f *fakeClient) Close() error                                       { return nil }

func writeTempImage(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "game.bin")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write temp image: %v", err)
	}
	return path
}

func TestWorkerSuccessPublishesExactlyOneTerminalMessage(t *testing.T) {
	path := writeTempImage(t, bytes128())
	client := &fakeClient{}
	spec := Spec{IP: "10.0.0.1", Filename: path, ParentToken: "tok"}

	handle := Start(context.Background(), spec, client, func(string) bool { return true }, slog.Default())

	var terminals int
	var sawProgress bool
	for msg := range handle.Messages() {
		switch msg.Kind {
		case KindProgress:
			sawProgress = true
			if msg.Total != int64(len(bytes128())) {
				t.Errorf("progress total = %d, want %d", msg.Total, len(bytes128()))
			}
		case KindSuccess:
			terminals++
		case KindFailure:
			terminals++
			t.Errorf("unexpected failure: %s", msg.Reason)
		}
	}
	if terminals != 1 {
		t.Errorf("got %d terminal messages, want exactly 1", terminals)
	}
	if !sawProgress {
		t.Error("expected at least one progress message")
	}
}

func TestWorkerProgressMonotonicWithConstantTotal(t *testing.T) {
	path := writeTempImage(t, bytes128())
	client := &fakeClient{}
	spec := Spec{IP: "10.0.0.1", Filename: path, ParentToken: "tok"}

	handle := Start(context.Background(), spec, client, func(string) bool { return true }, slog.Default())

	var lastSent int64
	var total int64
	for msg := range handle.Messages() {
		if msg.Kind != KindProgress {
			continue
		}
		if msg.Sent < lastSent {
			t.Fatalf("progress regressed: %d < %d", msg.Sent, lastSent)
		}
		lastSent = msg.Sent
		if total == 0 {
			total = msg.Total
		} else if msg.Total != total {
			t.Fatalf("progress total changed: %d != %d", msg.Total, total)
		}
	}
}

func TestWorkerFailureOnSendError(t *testing.T) {
	path := writeTempImage(t, bytes128())
	client := &fakeClient{sendErr: errors.New("board unreachable")}
	spec := Spec{IP: "10.0.0.1", Filename: path, ParentToken: "tok"}

	handle := Start(context.Background(), spec, client, func(string) bool { return true }, slog.Default())

	var gotFailure bool
	for msg := range handle.Messages() {
		if msg.Kind == KindFailure {
			gotFailure = true
		}
		if msg.Kind == KindSuccess {
			t.Error("unexpected success after send error")
		}
	}
	if !gotFailure {
		t.Error("expected a failure message")
	}
}

func TestWorkerInvalidSpecFailsFast(t *testing.T) {
	client := &fakeClient{}
	spec := Spec{IP: "10.0.0.1", Filename: ""}

	handle := Start(context.Background(), spec, client, func(string) bool { return true }, slog.Default())

	msg, ok := <-handle.Messages()
	if !ok || msg.Kind != KindFailure {
		t.Fatalf("got %+v, ok=%v, want a failure message", msg, ok)
	}
}

func TestWorkerStopsPublishingWhenTokenInvalidated(t *testing.T) {
	path := writeTempImage(t, make([]byte, 4096))
	client := &fakeClient{sendDelay: time.Millisecond}
	spec := Spec{IP: "10.0.0.1", Filename: path, ParentToken: "tok"}

	var mu sync.Mutex
	valid := true
	tokenValid := func(string) bool {
		mu.Lock()
		defer mu.Unlock()
		return valid
	}
	handle := Start(context.Background(), spec, client, tokenValid, slog.Default())

	// Invalidate the token shortly after starting; the worker must never
	// publish a terminal message once its caller has moved on.
	time.AfterFunc(2*time.Millisecond, func() {
		mu.Lock()
		valid = false
		mu.Unlock()
	})

	for msg := range handle.Messages() {
		if msg.Kind == KindSuccess || msg.Kind == KindFailure {
			t.Error("worker published a terminal message after its token was invalidated")
		}
	}
}

func TestWorkerTerminateStopsPromptly(t *testing.T) {
	path := writeTempImage(t, make([]byte, 1<<20))
	client := &fakeClient{sendDelay: 5 * time.Millisecond}
	spec := Spec{IP: "10.0.0.1", Filename: path, ParentToken: "tok"}

	handle := Start(context.Background(), spec, client, func(string) bool { return true }, slog.Default())
	go func() {
		for range handle.Messages() {
		}
	}()

	done := make(chan struct{})
	go func() {
		handle.Terminate()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Terminate did not return promptly")
	}
}

func bytes128() []byte {
	b := make([]byte, 128)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}

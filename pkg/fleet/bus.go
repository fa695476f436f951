// SPDX-License-Identifier: BSD-3-Clause

package fleet

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/netdimm-fleet/cabinetd/pkg/log"
)

const (
	busStartupTimeout  = 5 * time.Second
	busShutdownTimeout  = 2 * time.Second
)

// bus is an embedded, in-process-only NATS server used to broadcast cabinet
// state transitions and transfer progress to any in-process subscriber (the
// HTTP façade's event-stream handlers, primarily). It never listens on a
// network port; every connection goes through InProcessConn.
type bus struct {
	server *server.Server
	conn   *nats.Conn
	logger *slog.Logger
}

func newBus(name string, logger *slog.Logger) (*bus, error) {
	opts := &server.Options{
		ServerName: name,
		DontListen: true,
		NoSigs:     true,
		NoLog:      true,
	}
	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create embedded nats server: %w", err)
	}
	ns.SetLoggerV2(log.NewNATSLogger(logger), false, false, false)

	return &bus{server: ns, logger: logger}, nil
}

func (b *bus) start() error {
	b.server.Start()
	if !b.server.ReadyForConnections(busStartupTimeout) {
		b.server.Shutdown()
		return ErrBusNotReady
	}

	nc, err := nats.Connect("", nats.InProcessServer(b))
	if err != nil {
		b.server.Shutdown()
		return fmt.Errorf("connect in-process nats client: %w", err)
	}
	b.conn = nc
	return nil
}

// InProcessConn implements nats.InProcessConnProvider so the bus can supply
// its own client connection via nats.InProcessServer, and so other
// supervised services can obtain a connection to the same embedded server.
func (b *bus) InProcessConn() (net.Conn, error) {
	return b.server.InProcessConn()
}

func (b *bus) stop(ctx context.Context) {
	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
	}
	if b.server == nil {
		return
	}
	b.server.LameDuckShutdown()
	done := make(chan struct{})
	go func() {
		defer close(done)
		b.server.Shutdown()
	}()
	shutdownCtx, cancel := context.WithTimeout(ctx, busShutdownTimeout)
	defer cancel()
	select {
	case <-done:
	case <-shutdownCtx.Done():
	}
}

// publish broadcasts a JSON-encoded payload on subject. A nil conn (bus not
// started, or already stopped) is a silent no-op: broadcasting is a
// best-effort courtesy to in-process subscribers, never load-bearing for
// cabinet control.
func (b *bus) publish(subject string, payload []byte) {
	if b.conn == nil {
		return
	}
	if err := b.conn.Publish(subject, payload); err != nil {
		b.logger.Warn("failed to publish fleet event", "subject", subject, "error", err)
	}
}

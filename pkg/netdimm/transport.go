// SPDX-License-Identifier: BSD-3-Clause

package netdimm

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"time"
)

// TCPClient is a connection-oriented Client backed by a plain TCP socket.
// It implements just enough framing to exercise the Client contract; the
// board's actual command set is an opaque capability per this project's
// scope and is not reproduced here.
type TCPClient struct {
	addr    string
	timeout time.Duration
	conn    net.Conn
}

// Dial opens a TCP connection to a NetDIMM board at addr (host:port),
// bounded by the given connection timeout.
func Dial(ctx context.Context, addr string, timeout time.Duration) (*TCPClient, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrTransport, addr, err)
	}
	return &TCPClient{addr: addr, timeout: timeout, conn: conn}, nil
}

func (c *TCPClient) deadline(ctx context.Context) time.Time {
	if dl, ok := ctx.Deadline(); ok {
		return dl
	}
	if c.timeout > 0 {
		return time.Now().Add(c.timeout)
	}
	return time.Time{}
}

// Send streams data to the board in fixed-size chunks, invoking progress
// after every chunk write is acknowledged by the connection.
func (c *TCPClient) Send(ctx context.Context, data io.Reader, total int64, progress ProgressFunc, disableCRCCheck, disableNowLoading bool) error {
	if c.conn == nil {
		return ErrClosed
	}
	if dl := c.deadline(ctx); !dl.IsZero() {
		_ = c.conn.SetWriteDeadline(dl)
	}

	// A forced terminate cancels ctx; setting an already-expired deadline
	// on the connection is what unblocks a Write stuck on a wedged board.
	stopWatch := make(chan struct{})
	defer close(stopWatch)
	go func() {
		select {
		case <-ctx.Done():
			_ = c.conn.SetDeadline(time.Now())
		case <-stopWatch:
		}
	}()

	const chunkSize = 64 * 1024
	buf := make([]byte, chunkSize)
	reader := bufio.NewReaderSize(data, chunkSize)

	var sent int64
	for {
		n, err := reader.Read(buf)
		if n > 0 {
			if _, werr := c.conn.Write(buf[:n]); werr != nil {
				return fmt.Errorf("%w: write: %w", ErrTransport, werr)
			}
			sent += int64(n)
			if progress != nil && !progress(sent, total) {
				return fmt.Errorf("%w: send aborted by caller", ErrTransport)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: read: %w", ErrTransport, err)
		}
	}

	if !disableCRCCheck {
		// A real client would request the board's computed CRC here and
		// compare it against the locally computed value. This transport
		// does not perform that check.
		_ = disableCRCCheck
	}
	_ = disableNowLoading

	return nil
}

func (c *TCPClient) Reboot(ctx context.Context) error {
	return c.command(ctx, "reboot")
}

func (c *TCPClient) WipeCurrentGame(ctx context.Context) error {
	return c.command(ctx, "wipe")
}

func (c *TCPClient) Info(ctx context.Context) (Info, error) {
	if c.conn == nil {
		return Info{}, ErrClosed
	}
	if dl := c.deadline(ctx); !dl.IsZero() {
		_ = c.conn.SetDeadline(dl)
	}
	return Info{}, fmt.Errorf("%w: info not implemented over this transport", ErrProtocol)
}

func (c *TCPClient) SetTimeLimit(ctx context.Context, minutes int) error {
	return c.command(ctx, fmt.Sprintf("time_limit:%d", minutes))
}

func (c *TCPClient) command(ctx context.Context, cmd string) error {
	if c.conn == nil {
		return ErrClosed
	}
	if dl := c.deadline(ctx); !dl.IsZero() {
		_ = c.conn.SetDeadline(dl)
	}
	if _, err := io.WriteString(c.conn, cmd); err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return nil
}

// Close releases the underlying connection.
func (c *TCPClient) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// SPDX-License-Identifier: BSD-3-Clause

package outlet

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const httpTimeout = 5 * time.Second

// NP02BConfig identifies a single outlet on a Synaccess NP-02B PDU, which
// is controlled over HTTP with basic authentication rather than SNMP.
type NP02BConfig struct {
	Host     string
	Outlet   int
	Username string
	Password string
}

type np02bDriver struct {
	cfg    NP02BConfig
	client *http.Client
}

// NewNP02B builds the Synaccess NP-02B variant.
func NewNP02B(cfg NP02BConfig) (Driver, error) {
	if cfg.Outlet < 1 || cfg.Outlet > 2 {
		return nil, fmt.Errorf("%w: outlet %d, want 1-2", ErrOutletRange, cfg.Outlet)
	}

	return &np02bDriver{
		cfg:    cfg,
		client: &http.Client{Timeout: httpTimeout},
	}, nil
}

// status.xml reports the state of both outlets as a comma-separated list
// of 0/1 values, e.g. "1,0" meaning outlet 1 on, outlet 2 off.
func (d *np02bDriver) ReadState(ctx context.Context) State {
	req, err := d.request(ctx, "status.xml")
	if err != nil {
		return StateUnknown
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return StateUnknown
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil || resp.StatusCode != http.StatusOK {
		return StateUnknown
	}

	values := strings.Split(strings.TrimSpace(string(body)), ",")
	if d.cfg.Outlet > len(values) {
		return StateUnknown
	}

	switch strings.TrimSpace(values[d.cfg.Outlet-1]) {
	case "1":
		return StateOn
	case "0":
		return StateOff
	default:
		return StateUnknown
	}
}

// WriteState issues "cmd.cgi?rb=<outlet>&cmd=<1|0>", the NP-02B's outlet
// control command, and is a no-op if the outlet already reports the
// requested state.
func (d *np02bDriver) WriteState(ctx context.Context, state State) error {
	if state == StateUnknown {
		return fmt.Errorf("%w: cannot write unknown state", ErrInvalidConfig)
	}
	if d.ReadState(ctx) == state {
		return nil
	}

	cmdValue := "0"
	if state == StateOn {
		cmdValue = "1"
	}

	req, err := d.request(ctx, fmt.Sprintf("cmd.cgi?rb=%d&cmd=%s", d.cfg.Outlet, cmdValue))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: unexpected status %s", ErrTransport, resp.Status)
	}
	return nil
}

func (d *np02bDriver) request(ctx context.Context, path string) (*http.Request, error) {
	url := "http://" + d.cfg.Host + "/" + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(d.cfg.Username, d.cfg.Password)
	return req, nil
}

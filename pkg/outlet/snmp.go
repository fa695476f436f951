// SPDX-License-Identifier: BSD-3-Clause

package outlet

import (
	"context"
	"fmt"
	"time"

	"github.com/gosnmp/gosnmp"
)

const snmpTimeout = 5 * time.Second

// SNMPConfig describes a generic SNMP v1/v2c outlet: a single integer OID
// is read to determine power state and written to change it, with
// separate on/off values for each direction (some PDUs use different
// encodings for query vs update).
type SNMPConfig struct {
	Host            string
	QueryOID        string
	QueryOnValue    int
	QueryOffValue   int
	UpdateOID       string
	UpdateOnValue   int
	UpdateOffValue  int
	ReadCommunity   string
	WriteCommunity  string
}

type snmpDriver struct {
	cfg SNMPConfig
}

// NewSNMP builds the generic SNMP outlet variant.
func NewSNMP(cfg SNMPConfig) Driver {
	return &snmpDriver{cfg: cfg}
}

func (d *snmpDriver) client(community string) *gosnmp.GoSNMP {
	return &gosnmp.GoSNMP{
		Target:    d.cfg.Host,
		Port:      161,
		Community: community,
		Version:   gosnmp.Version2c,
		Timeout:   snmpTimeout,
		Retries:   1,
	}
}

func (d *snmpDriver) ReadState(ctx context.Context) State {
	client := d.client(d.cfg.ReadCommunity)
	if err := client.Connect(); err != nil {
		return StateUnknown
	}
	defer client.Conn.Close() //nolint:errcheck

	result, err := client.Get([]string{d.cfg.QueryOID})
	if err != nil || len(result.Variables) == 0 {
		return StateUnknown
	}

	value := gosnmp.ToBigInt(result.Variables[0].Value).Int64()
	switch int(value) {
	case d.cfg.QueryOnValue:
		return StateOn
	case d.cfg.QueryOffValue:
		return StateOff
	default:
		return StateUnknown
	}
}

func (d *snmpDriver) WriteState(ctx context.Context, state State) error {
	if state == StateUnknown {
		return fmt.Errorf("%w: cannot write unknown state", ErrInvalidConfig)
	}
	if d.ReadState(ctx) == state {
		return nil
	}

	value := d.cfg.UpdateOffValue
	if state == StateOn {
		value = d.cfg.UpdateOnValue
	}

	client := d.client(d.cfg.WriteCommunity)
	if err := client.Connect(); err != nil {
		return fmt.Errorf("%w: connect: %w", ErrTransport, err)
	}
	defer client.Conn.Close() //nolint:errcheck

	_, err := client.Set([]gosnmp.SnmpPDU{
		{Name: d.cfg.UpdateOID, Type: gosnmp.Integer, Value: value},
	})
	if err != nil {
		return fmt.Errorf("%w: set %s: %w", ErrTransport, d.cfg.UpdateOID, err)
	}
	return nil
}

// ap7900BaseOID is the APC AP7900 outlet-control table; the outlet index
// (1-8) is appended to derive both the query and update OID, and the PDU
// reports the same integer encoding (1=on, 2=off) for both directions.
const ap7900BaseOID = "1.3.6.1.4.1.318.1.1.12.3.3.1.1.4."

// AP7900Config identifies a single outlet on an APC AP7900 power
// distribution unit.
type AP7900Config struct {
	Host           string
	Outlet         int
	ReadCommunity  string
	WriteCommunity string
}

// NewAP7900 builds the AP7900 variant: a thin wrapper deriving both OIDs
// from the outlet index, matching the vendor's switched-outlet MIB.
func NewAP7900(cfg AP7900Config) (Driver, error) {
	if cfg.Outlet < 1 || cfg.Outlet > 8 {
		return nil, fmt.Errorf("%w: outlet %d, want 1-8", ErrOutletRange, cfg.Outlet)
	}

	oid := fmt.Sprintf("%s%d", ap7900BaseOID, cfg.Outlet)
	return NewSNMP(SNMPConfig{
		Host:           cfg.Host,
		QueryOID:       oid,
		QueryOnValue:   1,
		QueryOffValue:  2,
		UpdateOID:      oid,
		UpdateOnValue:  1,
		UpdateOffValue: 2,
		ReadCommunity:  cfg.ReadCommunity,
		WriteCommunity: cfg.WriteCommunity,
	}), nil
}

// np02BaseOID is the Synaccess NP-02 outlet status/control OID; unlike the
// AP7900, a single community serves both read and write.
const np02BaseOID = "1.3.6.1.4.1.21728.2.1.1."

// NP02Config identifies a single outlet on a Synaccess NP-02 PDU, which
// exposes a single read/write SNMP community rather than separate ones.
type NP02Config struct {
	Host      string
	Outlet    int
	Community string
}

// NewNP02 builds the Synaccess NP-02 variant.
func NewNP02(cfg NP02Config) (Driver, error) {
	if cfg.Outlet < 1 || cfg.Outlet > 2 {
		return nil, fmt.Errorf("%w: outlet %d, want 1-2", ErrOutletRange, cfg.Outlet)
	}

	oid := fmt.Sprintf("%s%d", np02BaseOID, cfg.Outlet)
	return NewSNMP(SNMPConfig{
		Host:           cfg.Host,
		QueryOID:       oid,
		QueryOnValue:   1,
		QueryOffValue:  0,
		UpdateOID:      oid,
		UpdateOnValue:  1,
		UpdateOffValue: 0,
		ReadCommunity:  cfg.Community,
		WriteCommunity: cfg.Community,
	}), nil
}

// SPDX-License-Identifier: BSD-3-Clause

package config

import (
	"github.com/netdimm-fleet/cabinetd/pkg/outlet"
)

// DecodeOutlet builds an outlet.Driver from rec. Validation is per-variant
// and all-or-nothing: if any field required by the selected type is
// missing or fails the variant constructor's own validation, the whole
// outlet configuration becomes outlet.None() rather than a partially
// applied one. A malformed PDU entry never half-configures a cabinet's
// power control.
func DecodeOutlet(rec *OutletRecord) outlet.Driver {
	if rec == nil {
		return outlet.None()
	}

	switch rec.Type {
	case "snmp":
		if rec.Host == "" || rec.QueryOID == "" || rec.UpdateOID == "" ||
			rec.ReadCommunity == "" || rec.WriteCommunity == "" {
			return outlet.None()
		}
		return outlet.NewSNMP(outlet.SNMPConfig{
			Host:           rec.Host,
			QueryOID:       rec.QueryOID,
			QueryOnValue:   rec.QueryOnValue,
			QueryOffValue:  rec.QueryOffValue,
			UpdateOID:      rec.UpdateOID,
			UpdateOnValue:  rec.UpdateOnValue,
			UpdateOffValue: rec.UpdateOffValue,
			ReadCommunity:  rec.ReadCommunity,
			WriteCommunity: rec.WriteCommunity,
		})

	case "ap7900":
		if rec.Host == "" || rec.ReadCommunity == "" || rec.WriteCommunity == "" {
			return outlet.None()
		}
		drv, err := outlet.NewAP7900(outlet.AP7900Config{
			Host:           rec.Host,
			Outlet:         rec.Outlet,
			ReadCommunity:  rec.ReadCommunity,
			WriteCommunity: rec.WriteCommunity,
		})
		if err != nil {
			return outlet.None()
		}
		return drv

	case "np-02":
		if rec.Host == "" || rec.Community == "" {
			return outlet.None()
		}
		drv, err := outlet.NewNP02(outlet.NP02Config{
			Host:      rec.Host,
			Outlet:    rec.Outlet,
			Community: rec.Community,
		})
		if err != nil {
			return outlet.None()
		}
		return drv

	case "np-02b":
		if rec.Host == "" || rec.Username == "" || rec.Password == "" {
			return outlet.None()
		}
		drv, err := outlet.NewNP02B(outlet.NP02BConfig{
			Host:     rec.Host,
			Outlet:   rec.Outlet,
			Username: rec.Username,
			Password: rec.Password,
		})
		if err != nil {
			return outlet.None()
		}
		return drv

	default:
		return outlet.None()
	}
}

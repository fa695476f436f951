// SPDX-License-Identifier: BSD-3-Clause

// Package outlet implements the capability boundary for a single
// controllable power outlet: read the observed power state and write a
// desired one. Five variants share this interface — none (no-op),
// snmp (generic SNMP v1/v2c query+update OIDs), ap7900 (APC AP7900 PDU,
// OIDs derived from outlet index), np-02 (Synaccess NP-02 over SNMP) and
// np-02b (Synaccess NP-02B over HTTP) — selected at configuration time by
// a tag, matching the per-vendor outlet drivers a cabinet's power_cycle
// behavior depends on.
//
// Each SNMP request times out after 5s and is retried once, and each HTTP
// request times out after 5s. A write first reads the current state, so a
// single operation can take longer than 5s. Read failures degrade to
// StateUnknown and write failures are returned as errors.
package outlet

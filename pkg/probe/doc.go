// SPDX-License-Identifier: BSD-3-Clause

// Package probe implements the debounced liveness prober a Host Controller
// owns for its whole lifetime: a background goroutine that issues ICMP
// echo at a fixed cadence, counts consecutive successes and failures, and
// only flips its published Alive() value after DebounceCount consecutive
// agreeing probes. Probe cadence is ~1s while the current state is still
// unconfirmed and relaxes to ~2s once confirmed.
//
// When configured with a time-hack callback, the prober also issues a
// best-effort "extend play-time watchdog" request every 5s while the
// target is alive, suppressed whenever IsTransferring reports true.
package probe

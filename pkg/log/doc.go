// SPDX-License-Identifier: BSD-3-Clause

// Package log provides the structured logging setup shared by cabinetd's
// components: a dual-output slog.Logger that writes human-readable console
// lines via zerolog and, in parallel, forwards structured records to
// OpenTelemetry. Adapters let third-party subsystems (NATS, oversight) log
// through the same handler instead of their own stdout writers.
//
//	logger := log.NewDefaultLogger()
//	logger.Info("cabinet online", "ip", cab.IP(), "state", cab.State())
//
// NewNATSLogger and NewOversightLogger wrap a *slog.Logger to satisfy the
// logging interfaces those libraries expect, so a single logger instance
// backs every subsystem started by cmd/cabinetd.
package log

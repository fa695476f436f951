// SPDX-License-Identifier: BSD-3-Clause

// Package id provides UUID generation for ephemeral identifiers (one per
// transfer attempt) and persistent identifiers that survive process
// restarts (stored as a plain UUID string in a file, written atomically
// via pkg/file).
//
//	token := id.NewID()
//
//	fleetID, err := id.GetOrCreatePersistentID("fleet.uuid", "/var/lib/cabinetd")
//	if err != nil {
//		return err
//	}
package id

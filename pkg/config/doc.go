// SPDX-License-Identifier: BSD-3-Clause

// Package config loads and persists the fleet's YAML configuration and
// per-cabinet records, converting between the on-disk representation and
// pkg/cabinet.Config. Persistence goes through pkg/file's atomic helpers so
// a crash mid-write never leaves a corrupt document in place.
package config

// SPDX-License-Identifier: BSD-3-Clause

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/netdimm-fleet/cabinetd/pkg/file"
)

const configFileMode = 0o600

// LoadFleetConfig reads and validates the top-level fleet configuration
// document at path. A missing rom_directory or settings_directory is a
// fatal configuration error; unrecognized keys are ignored.
func LoadFleetConfig(path string) (*FleetConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrConfig, path, err)
	}

	var fc FleetConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %w", ErrConfig, path, err)
	}

	if len(fc.ROMDirectory) == 0 {
		return nil, fmt.Errorf("%w: rom_directory is required", ErrConfig)
	}
	if fc.SettingsDirectory == "" {
		return nil, fmt.Errorf("%w: settings_directory is required", ErrConfig)
	}

	return &fc, nil
}

// LoadCabinets reads the per-cabinet record file at path. A missing file is
// treated as an empty fleet rather than an error, so a fresh deployment can
// start with no persisted cabinets.
func LoadCabinets(path string) ([]CabinetRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: read %s: %w", ErrConfig, path, err)
	}

	var cf CabinetFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %w", ErrConfig, path, err)
	}
	return cf.Cabinets, nil
}

// SaveCabinets atomically rewrites the per-cabinet record file at path with
// records, replacing whatever was there before.
func SaveCabinets(path string, records []CabinetRecord) error {
	data, err := yaml.Marshal(CabinetFile{Cabinets: records})
	if err != nil {
		return fmt.Errorf("%w: marshal: %w", ErrConfig, err)
	}
	if err := file.AtomicReplaceFile(path, data, configFileMode); err != nil {
		return fmt.Errorf("%w: write %s: %w", ErrConfig, path, err)
	}
	return nil
}

// SPDX-License-Identifier: BSD-3-Clause

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/netdimm-fleet/cabinetd/pkg/cabinet"
	"github.com/netdimm-fleet/cabinetd/pkg/netdimm"
)

// ToCabinetConfig resolves rec into a cabinet.Config, loading any
// referenced settings/SRAM blobs from settingsDir. A blob path is resolved
// relative to settingsDir unless it is already absolute.
func ToCabinetConfig(rec CabinetRecord, settingsDir string) (cabinet.Config, error) {
	if rec.IP == "" {
		return cabinet.Config{}, fmt.Errorf("%w: ip cannot be empty", ErrConfig)
	}

	settings, err := loadBlobs(rec.Settings, settingsDir)
	if err != nil {
		return cabinet.Config{}, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	srams, err := loadBlobs(rec.SRAMs, settingsDir)
	if err != nil {
		return cabinet.Config{}, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	return cabinet.Config{
		IP:           rec.IP,
		Description:  rec.Description,
		Region:       parseRegion(rec.Region),
		Target:       parseTarget(rec.Target),
		Version:      parseVersion(rec.Version),
		Enabled:      rec.Enabled,
		Controllable: rec.Controllable,
		TimeHack:     rec.TimeHack,
		SkipCRC:      rec.SkipCRC,
		SkipNowLoad:  rec.SkipNowLoad,
		PowerCycle:   rec.PowerCycle,
		SendTimeout:  time.Duration(rec.SendTimeout) * time.Second,

		SelectedFilename: rec.SelectedFilename,
		Patches:          rec.Patches,
		Settings:         settings,
		SRAMs:            srams,

		Outlet: DecodeOutlet(rec.Outlet),
	}, nil
}

func loadBlobs(paths map[string]string, baseDir string) (map[string][]byte, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	out := make(map[string][]byte, len(paths))
	for filename, path := range paths {
		if path == "" {
			continue
		}
		resolved := path
		if !filepath.IsAbs(resolved) {
			resolved = filepath.Join(baseDir, resolved)
		}
		blob, err := os.ReadFile(resolved)
		if err != nil {
			return nil, fmt.Errorf("read blob %q for %q: %w", resolved, filename, err)
		}
		out[filename] = blob
	}
	return out, nil
}

func parseRegion(s string) cabinet.Region {
	switch strings.ToUpper(s) {
	case "JAPAN":
		return cabinet.RegionJapan
	case "USA":
		return cabinet.RegionUSA
	case "EXPORT":
		return cabinet.RegionExport
	case "KOREA":
		return cabinet.RegionKorea
	case "AUSTRALIA":
		return cabinet.RegionAustralia
	default:
		return cabinet.RegionUnknown
	}
}

func parseTarget(s string) netdimm.Target {
	switch strings.ToUpper(s) {
	case "NAOMI":
		return netdimm.TargetNaomi
	default:
		return netdimm.TargetUnknown
	}
}

func parseVersion(s string) netdimm.Version {
	switch s {
	case "1.07":
		return netdimm.Version1_07
	case "2.03":
		return netdimm.Version2_03
	case "3.01":
		return netdimm.Version3_01
	case "4.01":
		return netdimm.Version4_01
	default:
		return netdimm.VersionUnknown
	}
}

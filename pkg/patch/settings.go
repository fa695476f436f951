// SPDX-License-Identifier: BSD-3-Clause

package patch

import (
	"fmt"

	"github.com/netdimm-fleet/cabinetd/pkg/netdimm"
)

// SettingsKind distinguishes the two settings blob kinds a cabinet can
// pre-seed into a NAOMI image.
type SettingsKind int

const (
	SettingsEEPROM SettingsKind = iota
	SettingsSRAM
)

// These constants are the offset convention the NAOMI settings patcher
// splices its trojan loader payload at: one slot per settings kind near the
// end of a fixed-size region counted from the start of the image. A real NAOMI trojan
// loader additionally rewrites the image's entrypoint to run the loader
// before handing control back to the game; that rewriting happens
// upstream of this package, which only manages the settings payload
// region a loader already present in the image reads from.
const (
	naomiTrojanRegionSize   = 128 * 1024
	naomiEEPROMSlotOffset   = naomiTrojanRegionSize - 8*1024
	naomiSRAMSlotOffset     = naomiTrojanRegionSize - 16*1024
)

// ApplySettings splices a settings blob into a NAOMI image window at its
// trojan-reserved slot. Non-NAOMI targets are a no-op: the cabinet state
// machine forces settings/SRAM assignments to nil for those targets, and
// a blob that slips through anyway is ignored here too.
func ApplySettings(w Window, target netdimm.Target, kind SettingsKind, blob []byte) (Window, error) {
	if target != netdimm.TargetNaomi {
		return w, nil
	}

	var offset int64
	switch kind {
	case SettingsEEPROM:
		offset = naomiEEPROMSlotOffset
	case SettingsSRAM:
		offset = naomiSRAMSlotOffset
	default:
		return nil, fmt.Errorf("%w: unknown settings kind %d", ErrInvalidDirective, kind)
	}

	return Apply(w, []Directive{{Offset: offset, Bytes: blob}})
}

// SPDX-License-Identifier: BSD-3-Clause

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/netdimm-fleet/cabinetd/pkg/cabinet"
	"github.com/netdimm-fleet/cabinetd/pkg/netdimm"
	"github.com/netdimm-fleet/cabinetd/pkg/outlet"
	"gopkg.in/yaml.v3"
)

func TestStringListUnmarshalScalar(t *testing.T) {
	var fc FleetConfig
	doc := "rom_directory: /roms\nsettings_directory: /settings\n"
	if err := yaml.Unmarshal([]byte(doc), &fc); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(fc.ROMDirectory) != 1 || fc.ROMDirectory[0] != "/roms" {
		t.Errorf("ROMDirectory = %v, want [/roms]", fc.ROMDirectory)
	}
}

func TestStringListUnmarshalSequence(t *testing.T) {
	var fc FleetConfig
	doc := "rom_directory:\n  - /roms1\n  - /roms2\nsettings_directory: /settings\n"
	if err := yaml.Unmarshal([]byte(doc), &fc); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	want := []string{"/roms1", "/roms2"}
	if len(fc.ROMDirectory) != len(want) {
		t.Fatalf("ROMDirectory = %v, want %v", fc.ROMDirectory, want)
	}
	for i := range want {
		if fc.ROMDirectory[i] != want[i] {
			t.Errorf("ROMDirectory[%d] = %q, want %q", i, fc.ROMDirectory[i], want[i])
		}
	}
}

func TestLoadFleetConfigRequiresDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleet.yaml")
	if err := os.WriteFile(path, []byte("cabinet_config: /tmp/cabinets.yaml\n"), 0o600); err != nil {
		t.Fatalf("write fleet config: %v", err)
	}
	if _, err := LoadFleetConfig(path); !errors.Is(err, ErrConfig) {
		t.Errorf("LoadFleetConfig with no rom/settings directory: error = %v, want ErrConfig", err)
	}
}

func TestLoadFleetConfigMissingFile(t *testing.T) {
	if _, err := LoadFleetConfig(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, ErrConfig) {
		t.Errorf("LoadFleetConfig missing file: error = %v, want ErrConfig", err)
	}
}

func TestLoadCabinetsMissingFileIsEmptyNotError(t *testing.T) {
	recs, err := LoadCabinets(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadCabinets: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("got %d records, want 0", len(recs))
	}
}

func TestSaveAndLoadCabinetsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cabinets.yaml")
	records := []CabinetRecord{
		{IP: "10.0.0.1", Description: "cab one", Enabled: true},
		{IP: "10.0.0.2", Description: "cab two", Controllable: true},
	}
	if err := SaveCabinets(path, records); err != nil {
		t.Fatalf("SaveCabinets: %v", err)
	}
	got, err := LoadCabinets(path)
	if err != nil {
		t.Fatalf("LoadCabinets: %v", err)
	}
	if len(got) != len(records) {
		t.Fatalf("got %d records, want %d", len(got), len(records))
	}
	for i := range records {
		if got[i].IP != records[i].IP || got[i].Description != records[i].Description {
			t.Errorf("record %d = %+v, want %+v", i, got[i], records[i])
		}
	}
}

func TestSaveCabinetsOverwritesWholeDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cabinets.yaml")
	if err := SaveCabinets(path, []CabinetRecord{{IP: "10.0.0.1"}, {IP: "10.0.0.2"}}); err != nil {
		t.Fatalf("first SaveCabinets: %v", err)
	}
	if err := SaveCabinets(path, []CabinetRecord{{IP: "10.0.0.3"}}); err != nil {
		t.Fatalf("second SaveCabinets: %v", err)
	}
	got, err := LoadCabinets(path)
	if err != nil {
		t.Fatalf("LoadCabinets: %v", err)
	}
	if len(got) != 1 || got[0].IP != "10.0.0.3" {
		t.Errorf("got %v, want exactly one record for 10.0.0.3", got)
	}
}

func TestDecodeOutletNilIsNone(t *testing.T) {
	drv := DecodeOutlet(nil)
	if drv.ReadState(nil) != outlet.StateUnknown { //nolint:staticcheck
		t.Error("DecodeOutlet(nil) should read StateUnknown")
	}
}

func TestDecodeOutletMissingFieldFallsBackToNone(t *testing.T) {
	rec := &OutletRecord{Type: "snmp", Host: "1.2.3.4"} // missing OIDs and communities
	drv := DecodeOutlet(rec)
	if drv.ReadState(nil) != outlet.StateUnknown { //nolint:staticcheck
		t.Error("partially configured snmp outlet should fall back to None, not a half-applied driver")
	}
}

func TestDecodeOutletValidSNMP(t *testing.T) {
	rec := &OutletRecord{
		Type:           "snmp",
		Host:           "1.2.3.4",
		QueryOID:       ".1.1",
		UpdateOID:      ".1.1",
		ReadCommunity:  "public",
		WriteCommunity: "private",
	}
	drv := DecodeOutlet(rec)
	if drv == nil {
		t.Fatal("DecodeOutlet returned nil driver")
	}
}

func TestDecodeOutletInvalidOutletIndexFallsBackToNone(t *testing.T) {
	rec := &OutletRecord{Type: "ap7900", Host: "1.2.3.4", Outlet: 99, ReadCommunity: "a", WriteCommunity: "b"}
	drv := DecodeOutlet(rec)
	if drv.ReadState(nil) != outlet.StateUnknown { //nolint:staticcheck
		t.Error("out-of-range outlet index should fall back to None")
	}
}

func TestDecodeOutletUnknownTypeIsNone(t *testing.T) {
	rec := &OutletRecord{Type: "not-a-real-pdu"}
	drv := DecodeOutlet(rec)
	if drv.ReadState(nil) != outlet.StateUnknown { //nolint:staticcheck
		t.Error("unknown outlet type should fall back to None")
	}
}

func TestToCabinetConfigRequiresIP(t *testing.T) {
	if _, err := ToCabinetConfig(CabinetRecord{}, t.TempDir()); !errors.Is(err, ErrConfig) {
		t.Errorf("ToCabinetConfig with empty IP: error = %v, want ErrConfig", err)
	}
}

func TestToCabinetConfigLoadsBlobsRelativeToSettingsDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "eeprom.bin"), []byte{1, 2, 3}, 0o600); err != nil {
		t.Fatalf("seed blob: %v", err)
	}

	rec := CabinetRecord{
		IP:       "10.0.0.5",
		Region:   "JAPAN",
		Target:   "NAOMI",
		Version:  "4.01",
		Settings: map[string]string{"eeprom": "eeprom.bin"},
	}
	cfg, err := ToCabinetConfig(rec, dir)
	if err != nil {
		t.Fatalf("ToCabinetConfig: %v", err)
	}
	if cfg.Region != cabinet.RegionJapan {
		t.Errorf("Region = %v, want RegionJapan", cfg.Region)
	}
	if cfg.Target != netdimm.TargetNaomi {
		t.Errorf("Target = %v, want TargetNaomi", cfg.Target)
	}
	blob, ok := cfg.Settings["eeprom"]
	if !ok {
		t.Fatal("expected eeprom blob to be loaded")
	}
	if len(blob) != 3 {
		t.Errorf("blob length = %d, want 3", len(blob))
	}
}

func TestToCabinetConfigUnknownEnumsFallBackSafely(t *testing.T) {
	rec := CabinetRecord{IP: "10.0.0.6", Region: "MARS", Target: "SEGA-SATURN", Version: "9.99"}
	cfg, err := ToCabinetConfig(rec, t.TempDir())
	if err != nil {
		t.Fatalf("ToCabinetConfig: %v", err)
	}
	if cfg.Target != netdimm.TargetUnknown {
		t.Errorf("Target = %v, want TargetUnknown", cfg.Target)
	}
	if cfg.Version != netdimm.VersionUnknown {
		t.Errorf("Version = %v, want VersionUnknown", cfg.Version)
	}
}

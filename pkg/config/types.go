// SPDX-License-Identifier: BSD-3-Clause

package config

// StringList decodes a YAML scalar or sequence into a slice of strings, so
// config keys like rom_directory can be written either as a single path or
// a list of paths.
type StringList []string

// UnmarshalYAML accepts either a plain scalar string or a sequence of
// strings.
func (s *StringList) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var multi []string
	if err := unmarshal(&multi); err == nil {
		*s = multi
		return nil
	}

	var single string
	if err := unmarshal(&single); err != nil {
		return err
	}
	*s = []string{single}
	return nil
}

// FleetConfig is the top-level YAML document: directories the fleet scans
// for assets, the path to the per-cabinet record file, and the checksum
// cache keyed by asset path.
type FleetConfig struct {
	CabinetConfigPath string            `yaml:"cabinet_config"`
	ROMDirectory      StringList        `yaml:"rom_directory"`
	PatchDirectory    StringList        `yaml:"patch_directory"`
	SRAMDirectory     StringList        `yaml:"sram_directory"`
	SettingsDirectory string            `yaml:"settings_directory"`
	Filenames         map[string]string `yaml:"filenames"`
}

// OutletRecord is the tagged-variant persisted form of an outlet
// configuration. Type selects which of the remaining fields apply; fields
// irrelevant to the selected type are ignored rather than rejected.
type OutletRecord struct {
	Type string `yaml:"type" json:"type"`

	Host string `yaml:"host,omitempty" json:"host,omitempty"`

	// snmp (generic)
	QueryOID       string `yaml:"query_oid,omitempty" json:"query_oid,omitempty"`
	QueryOnValue   int    `yaml:"query_on_value,omitempty" json:"query_on_value,omitempty"`
	QueryOffValue  int    `yaml:"query_off_value,omitempty" json:"query_off_value,omitempty"`
	UpdateOID      string `yaml:"update_oid,omitempty" json:"update_oid,omitempty"`
	UpdateOnValue  int    `yaml:"update_on_value,omitempty" json:"update_on_value,omitempty"`
	UpdateOffValue int    `yaml:"update_off_value,omitempty" json:"update_off_value,omitempty"`
	ReadCommunity  string `yaml:"read_community,omitempty" json:"read_community,omitempty"`
	WriteCommunity string `yaml:"write_community,omitempty" json:"write_community,omitempty"`

	// ap7900, np-02, np-02b
	Outlet int `yaml:"outlet,omitempty" json:"outlet,omitempty"`
	// np-02
	Community string `yaml:"community,omitempty" json:"community,omitempty"`
	// np-02b
	Username string `yaml:"username,omitempty" json:"username,omitempty"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`
}

// CabinetRecord is a single cabinet's persisted record: identity, control
// flags, per-filename asset maps, and the outlet variant powering it. The
// same shape doubles as the HTTP create/update request body, hence the
// twin tag sets.
type CabinetRecord struct {
	IP           string `yaml:"ip" json:"ip"`
	Description  string `yaml:"description,omitempty" json:"description,omitempty"`
	Region       string `yaml:"region,omitempty" json:"region,omitempty"`
	Target       string `yaml:"target,omitempty" json:"target,omitempty"`
	Version      string `yaml:"version,omitempty" json:"version,omitempty"`
	Enabled      bool   `yaml:"enabled" json:"enabled"`
	Controllable bool   `yaml:"controllable" json:"controllable"`
	TimeHack     bool   `yaml:"time_hack" json:"time_hack"`
	SkipCRC      bool   `yaml:"skip_crc" json:"skip_crc"`
	SkipNowLoad  bool   `yaml:"skip_now_load" json:"skip_now_load"`
	PowerCycle   bool   `yaml:"power_cycle" json:"power_cycle"`
	SendTimeout  int    `yaml:"send_timeout,omitempty" json:"send_timeout,omitempty"`

	SelectedFilename string              `yaml:"selected_filename,omitempty" json:"selected_filename,omitempty"`
	Patches          map[string][]string `yaml:"patches,omitempty" json:"patches,omitempty"`
	// Settings and SRAMs are stored as paths to blob files rather than
	// inline bytes; ToCabinetConfig resolves them relative to the fleet's
	// settings directory.
	Settings map[string]string `yaml:"settings,omitempty" json:"settings,omitempty"`
	SRAMs    map[string]string `yaml:"srams,omitempty" json:"srams,omitempty"`

	Outlet *OutletRecord `yaml:"outlet,omitempty" json:"outlet,omitempty"`
}

// CabinetFile is the document LoadCabinets/SaveCabinets round-trip: a
// top-level list under "cabinets", matching the list-of-records shape the
// HTTP façade's list endpoint mirrors directly.
type CabinetFile struct {
	Cabinets []CabinetRecord `yaml:"cabinets"`
}

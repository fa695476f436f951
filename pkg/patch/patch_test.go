// SPDX-License-Identifier: BSD-3-Clause

package patch

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/netdimm-fleet/cabinetd/pkg/netdimm"
)

func TestParseDirectives(t *testing.T) {
	input := "  \n1a3f:deadbeef\n\n0:00ff\n"
	directives, err := ParseDirectives(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseDirectives: %v", err)
	}
	want := []Directive{
		{Offset: 0x1a3f, Bytes: []byte{0xde, 0xad, 0xbe, 0xef}},
		{Offset: 0, Bytes: []byte{0x00, 0xff}},
	}
	if len(directives) != len(want) {
		t.Fatalf("got %d directives, want %d", len(directives), len(want))
	}
	for i := range want {
		if directives[i].Offset != want[i].Offset || !bytes.Equal(directives[i].Bytes, want[i].Bytes) {
			t.Errorf("directive %d = %+v, want %+v", i, directives[i], want[i])
		}
	}
}

func TestParseDirectivesInvalid(t *testing.T) {
	cases := []string{
		"nothexvalue:deadbeef",
		"1a3f:nothex",
		"missing-colon",
	}
	for _, c := range cases {
		if _, err := ParseDirectives(strings.NewReader(c)); !errors.Is(err, ErrInvalidDirective) {
			t.Errorf("ParseDirectives(%q) error = %v, want ErrInvalidDirective", c, err)
		}
	}
}

func TestApplyOverlay(t *testing.T) {
	base := NewSliceWindow([]byte{1, 2, 3, 4, 5, 6, 7, 8})
	w, err := Apply(base, []Directive{{Offset: 2, Bytes: []byte{0xaa, 0xbb}}})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	out, err := ReadAll(w)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	want := []byte{1, 2, 0xaa, 0xbb, 5, 6, 7, 8}
	if !bytes.Equal(out, want) {
		t.Errorf("overlay = %x, want %x", out, want)
	}
}

func TestApplyExtendsLength(t *testing.T) {
	base := NewSliceWindow([]byte{1, 2})
	w, err := Apply(base, []Directive{{Offset: 4, Bytes: []byte{0xff, 0xff}}})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if w.Len() != 6 {
		t.Fatalf("Len() = %d, want 6", w.Len())
	}
	out, err := ReadAll(w)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	want := []byte{1, 2, 0, 0, 0xff, 0xff}
	if !bytes.Equal(out, want) {
		t.Errorf("extended overlay = %x, want %x", out, want)
	}
}

func TestApplyLaterDirectiveWins(t *testing.T) {
	base := NewSliceWindow([]byte{0, 0, 0, 0})
	w, err := Apply(base, []Directive{
		{Offset: 0, Bytes: []byte{1, 1, 1, 1}},
		{Offset: 1, Bytes: []byte{2, 2}},
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	out, err := ReadAll(w)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	want := []byte{1, 2, 2, 1}
	if !bytes.Equal(out, want) {
		t.Errorf("overlay = %x, want %x", out, want)
	}
}

func TestApplyNegativeOffset(t *testing.T) {
	base := NewSliceWindow([]byte{1, 2, 3})
	if _, err := Apply(base, []Directive{{Offset: -1, Bytes: []byte{1}}}); !errors.Is(err, ErrOffsetOutOfRange) {
		t.Errorf("Apply negative offset error = %v, want ErrOffsetOutOfRange", err)
	}
}

func TestApplySettingsNonNaomiNoop(t *testing.T) {
	base := NewSliceWindow([]byte{1, 2, 3})
	w, err := ApplySettings(base, netdimm.TargetUnknown, SettingsEEPROM, []byte{0xff})
	if err != nil {
		t.Fatalf("ApplySettings: %v", err)
	}
	if w.Len() != base.Len() {
		t.Errorf("non-naomi ApplySettings changed window length: got %d, want %d", w.Len(), base.Len())
	}
}

func TestApplySettingsNaomiSplicesAtSlot(t *testing.T) {
	base := NewSliceWindow(make([]byte, 4))
	blob := []byte{0xde, 0xad}
	w, err := ApplySettings(base, netdimm.TargetNaomi, SettingsEEPROM, blob)
	if err != nil {
		t.Fatalf("ApplySettings: %v", err)
	}
	got := make([]byte, 2)
	if _, err := w.ReadAt(got, naomiEEPROMSlotOffset); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if !bytes.Equal(got, blob) {
		t.Errorf("settings blob = %x, want %x", got, blob)
	}
}

func TestApplySettingsEEPROMAndSRAMDistinctSlots(t *testing.T) {
	if naomiEEPROMSlotOffset == naomiSRAMSlotOffset {
		t.Fatal("EEPROM and SRAM slots must not overlap")
	}
}

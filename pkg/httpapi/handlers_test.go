// SPDX-License-Identifier: BSD-3-Clause

package httpapi

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/netdimm-fleet/cabinetd/pkg/assets"
	"github.com/netdimm-fleet/cabinetd/pkg/config"
	"github.com/netdimm-fleet/cabinetd/pkg/fleet"
)

func newTestServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()
	manager, err := fleet.New("httpapi-test", slog.Default())
	if err != nil {
		t.Fatalf("fleet.New: %v", err)
	}

	index := assets.NewMemIndex()
	index.Put(assets.KindROM, assets.Entry{Name: "game.bin", Path: "/roms/game.bin", Checksum: "cafe"})

	s, err := New(Config{
		Manager:           manager,
		Index:             index,
		SettingsDirectory: t.TempDir(),
		CabinetConfigPath: filepath.Join(t.TempDir(), "cabinets.yaml"),
		Logger:            slog.Default(),
	})
	if err != nil {
		t.Fatalf("httpapi.New: %v", err)
	}
	return s, s.router()
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("%s %s: response is not JSON: %v (%s)", method, path, err, rec.Body.String())
	}
	return rec, payload
}

func TestCabinetCRUDLifecycle(t *testing.T) {
	_, handler := newTestServer(t)

	rec, payload := doJSON(t, handler, http.MethodPost, "/cabinets", config.CabinetRecord{
		IP:          "192.0.2.20",
		Description: "corner cab",
		Enabled:     true,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d, body = %v", rec.Code, payload)
	}
	if payload["error"] != false {
		t.Fatalf("create: error = %v, want false", payload["error"])
	}
	t.Cleanup(func() {
		doJSON(t, handler, http.MethodDelete, "/cabinets/192.0.2.20", nil)
	})

	rec, payload = doJSON(t, handler, http.MethodGet, "/cabinets/192.0.2.20", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: status = %d", rec.Code)
	}
	if payload["description"] != "corner cab" {
		t.Errorf("get: description = %v, want \"corner cab\"", payload["description"])
	}
	if _, ok := payload["state"]; !ok {
		t.Error("get: runtime state missing from a registered cabinet's view")
	}

	rec, payload = doJSON(t, handler, http.MethodGet, "/cabinets", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: status = %d", rec.Code)
	}
	if cabs, ok := payload["cabinets"].([]any); !ok || len(cabs) != 1 {
		t.Errorf("list: cabinets = %v, want one entry", payload["cabinets"])
	}

	rec, _ = doJSON(t, handler, http.MethodDelete, "/cabinets/192.0.2.20", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: status = %d", rec.Code)
	}
	rec, payload = doJSON(t, handler, http.MethodGet, "/cabinets/192.0.2.20", nil)
	if rec.Code != http.StatusNotFound || payload["error"] != true {
		t.Errorf("get after delete: status = %d, error = %v; want 404 with error envelope", rec.Code, payload["error"])
	}
}

func TestCreateDuplicateCabinetConflicts(t *testing.T) {
	_, handler := newTestServer(t)

	rec, _ := doJSON(t, handler, http.MethodPost, "/cabinets", config.CabinetRecord{IP: "192.0.2.21"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d", rec.Code)
	}
	t.Cleanup(func() {
		doJSON(t, handler, http.MethodDelete, "/cabinets/192.0.2.21", nil)
	})

	rec, payload := doJSON(t, handler, http.MethodPost, "/cabinets", config.CabinetRecord{IP: "192.0.2.21"})
	if rec.Code != http.StatusConflict || payload["error"] != true {
		t.Errorf("duplicate create: status = %d, error = %v; want 409 with error envelope", rec.Code, payload["error"])
	}
}

func TestSelectGameUnknownCabinet(t *testing.T) {
	_, handler := newTestServer(t)

	rec, payload := doJSON(t, handler, http.MethodPost, "/cabinets/192.0.2.66/select",
		map[string]any{"filename": "game.bin"})
	if rec.Code != http.StatusNotFound || payload["error"] != true {
		t.Errorf("select on unknown cabinet: status = %d, error = %v; want 404 with error envelope", rec.Code, payload["error"])
	}
}

func TestSelectGameRejectsUnknownFilename(t *testing.T) {
	_, handler := newTestServer(t)

	rec, _ := doJSON(t, handler, http.MethodPost, "/cabinets", config.CabinetRecord{
		IP:      "192.0.2.22",
		Patches: map[string][]string{"known.bin": nil},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d", rec.Code)
	}
	t.Cleanup(func() {
		doJSON(t, handler, http.MethodDelete, "/cabinets/192.0.2.22", nil)
	})

	rec, payload := doJSON(t, handler, http.MethodPost, "/cabinets/192.0.2.22/select",
		map[string]any{"filename": "unknown.bin"})
	if rec.Code != http.StatusBadRequest || payload["error"] != true {
		t.Errorf("select unknown filename: status = %d, error = %v; want 400 with error envelope", rec.Code, payload["error"])
	}

	rec, _ = doJSON(t, handler, http.MethodPost, "/cabinets/192.0.2.22/select",
		map[string]any{"filename": "known.bin"})
	if rec.Code != http.StatusOK {
		t.Errorf("select known filename: status = %d, want 200", rec.Code)
	}
}

func TestSetPowerRespectsControllableGate(t *testing.T) {
	_, handler := newTestServer(t)

	rec, _ := doJSON(t, handler, http.MethodPost, "/cabinets", config.CabinetRecord{IP: "192.0.2.23"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d", rec.Code)
	}
	t.Cleanup(func() {
		doJSON(t, handler, http.MethodDelete, "/cabinets/192.0.2.23", nil)
	})

	rec, payload := doJSON(t, handler, http.MethodPost, "/cabinets/192.0.2.23/power",
		map[string]any{"state": "OFF"})
	if rec.Code != http.StatusForbidden || payload["error"] != true {
		t.Errorf("power without admin on uncontrollable cabinet: status = %d, error = %v; want 403", rec.Code, payload["error"])
	}

	// The admin override supersedes the controllable gate.
	rec, _ = doJSON(t, handler, http.MethodPost, "/cabinets/192.0.2.23/power",
		map[string]any{"state": "OFF", "admin": true})
	if rec.Code != http.StatusOK {
		t.Errorf("admin power override: status = %d, want 200", rec.Code)
	}
}

func TestUploadAssetRoundTrip(t *testing.T) {
	_, handler := newTestServer(t)

	rec, payload := doJSON(t, handler, http.MethodPost, "/assets/patches",
		map[string]any{"name": "fix.patch", "data": []byte("0:ff\n")})
	if rec.Code != http.StatusCreated || payload["error"] != false {
		t.Fatalf("upload: status = %d, body = %v", rec.Code, payload)
	}
	if payload["checksum"] == "" {
		t.Error("upload: checksum missing from response")
	}

	rec, payload = doJSON(t, handler, http.MethodGet, "/assets/patches", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list after upload: status = %d", rec.Code)
	}
	found := false
	for _, a := range payload["assets"].([]any) {
		if a.(map[string]any)["name"] == "fix.patch" {
			found = true
		}
	}
	if !found {
		t.Errorf("uploaded patch missing from listing: %v", payload["assets"])
	}

	rec, _ = doJSON(t, handler, http.MethodPost, "/assets/patches/recalculate", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("recalculate: status = %d, want 200", rec.Code)
	}
}

func TestApplicableAssetsForROM(t *testing.T) {
	_, handler := newTestServer(t)

	rec, _ := doJSON(t, handler, http.MethodPost, "/cabinets", config.CabinetRecord{
		IP:       "192.0.2.24",
		Patches:  map[string][]string{"game.bin": {"region.patch"}},
		Settings: map[string]string{"game.bin": ""},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d", rec.Code)
	}
	t.Cleanup(func() {
		doJSON(t, handler, http.MethodDelete, "/cabinets/192.0.2.24", nil)
	})

	rec, payload := doJSON(t, handler, http.MethodGet, "/cabinets/192.0.2.24/assets?filename=game.bin", nil)
	if rec.Code != http.StatusOK || payload["error"] != false {
		t.Fatalf("applicable assets: status = %d, body = %v", rec.Code, payload)
	}
	patches, ok := payload["patches"].([]any)
	if !ok || len(patches) != 1 || patches[0] != "region.patch" {
		t.Errorf("patches = %v, want [region.patch]", payload["patches"])
	}

	rec, _ = doJSON(t, handler, http.MethodGet, "/cabinets/192.0.2.24/assets", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing filename: status = %d, want 400", rec.Code)
	}
}

func TestListAssetsEnvelope(t *testing.T) {
	_, handler := newTestServer(t)

	rec, payload := doJSON(t, handler, http.MethodGet, "/assets/roms", nil)
	if rec.Code != http.StatusOK || payload["error"] != false {
		t.Fatalf("list roms: status = %d, error = %v", rec.Code, payload["error"])
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", got)
	}
	roms, ok := payload["assets"].([]any)
	if !ok || len(roms) != 1 {
		t.Fatalf("assets = %v, want one rom entry", payload["assets"])
	}

	rec, payload = doJSON(t, handler, http.MethodGet, "/assets/bogus", nil)
	if rec.Code != http.StatusNotFound || payload["error"] != true {
		t.Errorf("unknown asset kind: status = %d, error = %v; want 404 with error envelope", rec.Code, payload["error"])
	}
}

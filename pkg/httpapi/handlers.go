// SPDX-License-Identifier: BSD-3-Clause

package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/netdimm-fleet/cabinetd/pkg/assets"
	"github.com/netdimm-fleet/cabinetd/pkg/config"
	"github.com/netdimm-fleet/cabinetd/pkg/fleet"
	"github.com/netdimm-fleet/cabinetd/pkg/outlet"
)

// writeJSON writes payload as the response body, merging in the
// {error, message?} envelope every response carries. A nil err marks the
// response as successful.
func writeJSON(w http.ResponseWriter, status int, payload map[string]any, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if payload == nil {
		payload = map[string]any{}
	}
	if err != nil {
		payload["error"] = true
		payload["message"] = err.Error()
	} else {
		payload["error"] = false
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, nil, err)
}

// cabinetView renders a persisted record and its live runtime state (when
// the cabinet is registered with the Manager) as a single JSON-friendly
// map.
func (s *Server) cabinetView(rec config.CabinetRecord) map[string]any {
	view := map[string]any{
		"ip":                rec.IP,
		"description":       rec.Description,
		"region":            rec.Region,
		"target":            rec.Target,
		"version":           rec.Version,
		"enabled":           rec.Enabled,
		"controllable":      rec.Controllable,
		"time_hack":         rec.TimeHack,
		"skip_crc":          rec.SkipCRC,
		"skip_now_load":     rec.SkipNowLoad,
		"power_cycle":       rec.PowerCycle,
		"send_timeout":      rec.SendTimeout,
		"selected_filename": rec.SelectedFilename,
		"patches":           rec.Patches,
	}

	cab, ok := s.cfg.Manager.Get(rec.IP)
	if !ok {
		return view
	}
	h := cab.Host()
	view["state"] = cab.State()
	view["alive"] = h.Alive()
	view["status"] = h.Status().String()
	view["power_state"] = cab.PowerState().String()
	if prog, err := h.Progress(); err == nil {
		view["progress"] = map[string]any{"sent": prog.Sent, "total": prog.Total}
	}
	return view
}

func (s *Server) handleListCabinets(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	views := make([]map[string]any, 0, len(s.records))
	for _, rec := range s.records {
		views = append(views, s.cabinetView(rec))
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"cabinets": views}, nil)
}

func (s *Server) handleGetCabinet(w http.ResponseWriter, r *http.Request) {
	ip := r.PathValue("ip")
	s.mu.Lock()
	rec, ok := s.records[ip]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("%s: %w", ip, config.ErrNotFound))
		return
	}
	writeJSON(w, http.StatusOK, s.cabinetView(rec), nil)
}

func (s *Server) handleCreateCabinet(w http.ResponseWriter, r *http.Request) {
	var rec config.CabinetRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	}
	if rec.IP == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: ip is required", ErrBadRequest))
		return
	}

	s.mu.Lock()
	if _, exists := s.records[rec.IP]; exists {
		s.mu.Unlock()
		writeError(w, http.StatusConflict, fmt.Errorf("%s: %w", rec.IP, fleet.ErrCabinetExists))
		return
	}
	s.records[rec.IP] = rec
	persistErr := s.persistLocked()
	s.mu.Unlock()
	if persistErr != nil {
		writeError(w, http.StatusInternalServerError, persistErr)
		return
	}

	cfg, err := config.ToCabinetConfig(rec, s.cfg.SettingsDirectory)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.cfg.Manager.AddCabinet(r.Context(), cfg); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusCreated, s.cabinetView(rec), nil)
}

func (s *Server) handleUpdateCabinet(w http.ResponseWriter, r *http.Request) {
	ip := r.PathValue("ip")
	s.mu.Lock()
	_, ok := s.records[ip]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("%s: %w", ip, config.ErrNotFound))
		return
	}

	var rec config.CabinetRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	}
	rec.IP = ip

	s.mu.Lock()
	s.records[ip] = rec
	persistErr := s.persistLocked()
	s.mu.Unlock()
	if persistErr != nil {
		writeError(w, http.StatusInternalServerError, persistErr)
		return
	}

	// Re-register with the Manager: remove and re-add rather than mutate
	// in place, since outlet/target/version changes require a fresh Host
	// Controller wired to the new configuration.
	_ = s.cfg.Manager.RemoveCabinet(r.Context(), ip)
	cfg, err := config.ToCabinetConfig(rec, s.cfg.SettingsDirectory)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.cfg.Manager.AddCabinet(r.Context(), cfg); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, s.cabinetView(rec), nil)
}

func (s *Server) handleDeleteCabinet(w http.ResponseWriter, r *http.Request) {
	ip := r.PathValue("ip")
	s.mu.Lock()
	if _, ok := s.records[ip]; !ok {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, fmt.Errorf("%s: %w", ip, config.ErrNotFound))
		return
	}
	delete(s.records, ip)
	persistErr := s.persistLocked()
	s.mu.Unlock()
	if persistErr != nil {
		writeError(w, http.StatusInternalServerError, persistErr)
		return
	}

	if err := s.cfg.Manager.RemoveCabinet(r.Context(), ip); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, nil, nil)
}

func (s *Server) handleSelectGame(w http.ResponseWriter, r *http.Request) {
	ip := r.PathValue("ip")
	var body struct {
		Filename string `json:"filename"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	}

	cab, ok := s.cfg.Manager.Get(ip)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("%s: %w", ip, fleet.ErrCabinetNotFound))
		return
	}
	if err := cab.SetSelectedFilename(body.Filename); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	s.mu.Lock()
	if rec, ok := s.records[ip]; ok {
		rec.SelectedFilename = body.Filename
		s.records[ip] = rec
		_ = s.persistLocked()
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, nil, nil)
}

func (s *Server) handleSetPower(w http.ResponseWriter, r *http.Request) {
	ip := r.PathValue("ip")
	var body struct {
		State string `json:"state"`
		Admin bool   `json:"admin"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	}

	cab, ok := s.cfg.Manager.Get(ip)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("%s: %w", ip, fleet.ErrCabinetNotFound))
		return
	}

	var state outlet.State
	switch body.State {
	case "ON":
		state = outlet.StateOn
	case "OFF":
		state = outlet.StateOff
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: state must be ON or OFF", ErrBadRequest))
		return
	}

	if err := cab.SetPower(r.Context(), state, body.Admin); err != nil {
		writeError(w, http.StatusForbidden, err)
		return
	}
	writeJSON(w, http.StatusOK, nil, nil)
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	ip := r.PathValue("ip")
	cab, ok := s.cfg.Manager.Get(ip)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("%s: %w", ip, fleet.ErrCabinetNotFound))
		return
	}

	info := cab.Host().Info(r.Context())
	if info == nil {
		writeJSON(w, http.StatusOK, map[string]any{"info": nil}, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"info": map[string]any{
		"firmware_version":     info.FirmwareVersion,
		"memory_size":          info.MemorySize,
		"available_game_memory": info.AvailableGameMemory,
	}}, nil)
}

func (s *Server) handleListAssets(w http.ResponseWriter, r *http.Request) {
	kind, ok := parseKind(r.PathValue("kind"))
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("%w: unknown asset kind", ErrBadRequest))
		return
	}

	entries, err := s.cfg.Index.List(r.Context(), kind)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]any{"name": e.Name, "path": e.Path, "checksum": e.Checksum})
	}
	writeJSON(w, http.StatusOK, map[string]any{"assets": out}, nil)
}

// handleUploadAsset accepts {"name": ..., "data": <base64>} and stores it
// through the index's write side, if it has one.
func (s *Server) handleUploadAsset(w http.ResponseWriter, r *http.Request) {
	kind, ok := parseKind(r.PathValue("kind"))
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("%w: unknown asset kind", ErrBadRequest))
		return
	}
	writer, ok := s.cfg.Index.(assets.Writer)
	if !ok {
		writeError(w, http.StatusNotImplemented, fmt.Errorf("%w: asset index does not accept uploads", ErrBadRequest))
		return
	}

	var body struct {
		Name string `json:"name"`
		Data []byte `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	}
	if body.Name == "" || len(body.Data) == 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: name and data are required", ErrBadRequest))
		return
	}

	entry, err := writer.Write(r.Context(), kind, body.Name, body.Data)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"name": entry.Name, "path": entry.Path, "checksum": entry.Checksum,
	}, nil)
}

// handleRecalculateAssets re-derives the checksum of every indexed file of
// the given kind.
func (s *Server) handleRecalculateAssets(w http.ResponseWriter, r *http.Request) {
	kind, ok := parseKind(r.PathValue("kind"))
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("%w: unknown asset kind", ErrBadRequest))
		return
	}
	recalc, ok := s.cfg.Index.(assets.Recalculator)
	if !ok {
		writeError(w, http.StatusNotImplemented, fmt.Errorf("%w: asset index cannot recalculate checksums", ErrBadRequest))
		return
	}

	entries, err := recalc.Recalculate(r.Context(), kind)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]any{"name": e.Name, "path": e.Path, "checksum": e.Checksum})
	}
	writeJSON(w, http.StatusOK, map[string]any{"assets": out}, nil)
}

// handleApplicableAssets reports the patches and settings/SRAM blobs a
// cabinet's record associates with a chosen ROM, named by the "filename"
// query parameter.
func (s *Server) handleApplicableAssets(w http.ResponseWriter, r *http.Request) {
	ip := r.PathValue("ip")
	filename := r.URL.Query().Get("filename")
	if filename == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: filename query parameter is required", ErrBadRequest))
		return
	}

	s.mu.Lock()
	rec, ok := s.records[ip]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("%s: %w", ip, config.ErrNotFound))
		return
	}

	patches := rec.Patches[filename]
	if patches == nil {
		patches = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"filename": filename,
		"patches":  patches,
		"settings": rec.Settings[filename],
		"sram":     rec.SRAMs[filename],
	}, nil)
}

func parseKind(s string) (assets.Kind, bool) {
	switch s {
	case "roms":
		return assets.KindROM, true
	case "patches":
		return assets.KindPatch, true
	case "srams":
		return assets.KindSRAM, true
	case "settings":
		return assets.KindSettings, true
	default:
		return 0, false
	}
}

// persistLocked rewrites the cabinet record file. Callers must hold s.mu.
func (s *Server) persistLocked() error {
	recs := make([]config.CabinetRecord, 0, len(s.records))
	for _, rec := range s.records {
		recs = append(recs, rec)
	}
	return config.SaveCabinets(s.cfg.CabinetConfigPath, recs)
}

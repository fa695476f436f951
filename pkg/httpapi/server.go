// SPDX-License-Identifier: BSD-3-Clause

package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/netdimm-fleet/cabinetd/pkg/assets"
	"github.com/netdimm-fleet/cabinetd/pkg/config"
	"github.com/netdimm-fleet/cabinetd/pkg/fleet"
	"github.com/netdimm-fleet/cabinetd/pkg/log"
)

const (
	readTimeout     = 10 * time.Second
	writeTimeout    = 10 * time.Second
	idleTimeout     = 60 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Config constructs a Server.
type Config struct {
	Addr string

	Manager *fleet.Manager
	Index   assets.Index

	// SettingsDirectory resolves relative settings/SRAM blob paths in
	// persisted cabinet records.
	SettingsDirectory string
	// CabinetConfigPath is where the cabinet record set is persisted.
	CabinetConfigPath string

	AllowedOrigins []string
	Logger         *slog.Logger
}

// Server is the HTTP/JSON control plane. It holds the authoritative
// per-cabinet record set (the Fleet Manager only holds runtime Cabinets,
// which cannot be introspected back into a persistable record) and
// mediates every mutation through the Manager.
type Server struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	records map[string]config.CabinetRecord

	server   *http.Server
	listener net.Listener
}

// New constructs a Server, loading the persisted cabinet record set from
// cfg.CabinetConfigPath (a missing file is an empty fleet).
func New(cfg Config) (*Server, error) {
	if cfg.Manager == nil {
		return nil, fmt.Errorf("%w: manager cannot be nil", ErrBadRequest)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.GetGlobalLogger()
	}
	if cfg.Index == nil {
		cfg.Index = assets.NewMemIndex()
	}

	recs, err := config.LoadCabinets(cfg.CabinetConfigPath)
	if err != nil {
		return nil, err
	}
	records := make(map[string]config.CabinetRecord, len(recs))
	for _, r := range recs {
		records[r.IP] = r
	}

	return &Server{
		cfg:     cfg,
		logger:  logger,
		records: records,
	}, nil
}

// Name identifies this Server as a supervised process.
func (s *Server) Name() string {
	return "httpapi"
}

// Run starts the HTTP server and blocks until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	addr := s.cfg.Addr
	if addr == "" {
		addr = ":8080"
	}

	lc := &net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrListen, err)
	}
	s.listener = ln

	handler := s.router()
	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	handler = corsMiddleware.Handler(handler)
	handler = otelhttp.NewHandler(handler, "httpapi")

	s.server = &http.Server{
		Handler:      handler,
		BaseContext:  func(net.Listener) context.Context { return ctx },
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
		ErrorLog:     log.NewStdLoggerAt(s.logger, slog.LevelWarn),
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.InfoContext(ctx, "starting http control plane", "addr", addr)
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /cabinets", s.handleListCabinets)
	mux.HandleFunc("POST /cabinets", s.handleCreateCabinet)
	mux.HandleFunc("GET /cabinets/{ip}", s.handleGetCabinet)
	mux.HandleFunc("PUT /cabinets/{ip}", s.handleUpdateCabinet)
	mux.HandleFunc("DELETE /cabinets/{ip}", s.handleDeleteCabinet)

	mux.HandleFunc("POST /cabinets/{ip}/select", s.handleSelectGame)
	mux.HandleFunc("POST /cabinets/{ip}/power", s.handleSetPower)
	mux.HandleFunc("GET /cabinets/{ip}/info", s.handleInfo)
	mux.HandleFunc("GET /cabinets/{ip}/assets", s.handleApplicableAssets)

	mux.HandleFunc("GET /assets/{kind}", s.handleListAssets)
	mux.HandleFunc("POST /assets/{kind}", s.handleUploadAsset)
	mux.HandleFunc("POST /assets/{kind}/recalculate", s.handleRecalculateAssets)

	return mux
}

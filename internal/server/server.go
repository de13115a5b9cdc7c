// Package server assembles the map services and serves the HTTP API.
package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/paulmach/orb"
	"github.com/rs/zerolog"

	"github.com/joeblew999/plat-map/internal/api"
	"github.com/joeblew999/plat-map/internal/click"
	"github.com/joeblew999/plat-map/internal/db"
	"github.com/joeblew999/plat-map/internal/layers"
	"github.com/joeblew999/plat-map/internal/logging"
	"github.com/joeblew999/plat-map/internal/mapview"
	"github.com/joeblew999/plat-map/internal/metrics"
	"github.com/joeblew999/plat-map/internal/service"
	"github.com/joeblew999/plat-map/internal/source"
	"github.com/joeblew999/plat-map/internal/surface"
	"github.com/joeblew999/plat-map/internal/templates"
)

// Config holds the server configuration.
type Config struct {
	Host       string
	Port       string
	ConfigPath string // layers YAML
	DataDir    string // DuckDB database for duckdb: layer URLs
	WebDir     string // Path to web/ directory for static files and fragment overrides
	LogLevel   string
	DeepLink   string // JSON page state, e.g. {"lat":53.39,"lng":-2.12}

	// RoutesOnly registers the API without starting the map view or
	// opening data sources. Used to export the OpenAPI document.
	RoutesOnly bool

	// Source overrides the feature source. Used by tests.
	Source source.Source
	// LogOutput defaults to stdout.
	LogOutput io.Writer
}

// Server is the plat-map HTTP server.
type Server struct {
	config   Config
	logger   zerolog.Logger
	mux      *http.ServeMux
	humaAPI  huma.API
	db       *sql.DB
	metrics  *metrics.Metrics
	services *api.Services
	view     *mapview.View
}

// New loads the layer config, starts the map view and registers the routes.
func New(ctx context.Context, cfg Config) (*Server, error) {
	logger := logging.New(cfg.LogLevel)
	if cfg.LogOutput != nil {
		logger = logging.NewWithWriter(cfg.LogOutput, cfg.LogLevel)
	}

	renderer := templates.Default()
	if cfg.WebDir != "" {
		fragmentsDir := filepath.Join(cfg.WebDir, "templates", "fragments")
		if r, err := templates.New(fragmentsDir); err == nil {
			renderer = r
			logger.Info().Str("dir", fragmentsDir).Msg("loaded fragment templates")
		} else {
			logger.Warn().Err(err).Str("dir", fragmentsDir).Msg("using embedded fragment templates")
		}
	}

	layerSvc := service.NewLayerService(renderer)
	if err := layerSvc.LoadFile(cfg.ConfigPath); err != nil {
		return nil, err
	}
	mapCfg := layerSvc.Map()

	s := &Server{
		config:  cfg,
		logger:  logger,
		mux:     http.NewServeMux(),
		metrics: metrics.New(),
	}

	src := cfg.Source
	if src == nil && cfg.RoutesOnly {
		src = source.NewMux(source.NewHTTPSource(mapCfg.FetchTimeout))
	}
	if src == nil {
		mux := source.NewMux(source.NewHTTPSource(mapCfg.FetchTimeout))
		if usesScheme(layerSvc.List(), source.DuckDBScheme) {
			conn, err := db.Open(db.Config{DataDir: cfg.DataDir, DBName: "platmap"})
			if err != nil {
				return nil, err
			}
			s.db = conn
			mux.Handle(source.DuckDBScheme, source.NewDuckDBSource(conn, mapCfg.FetchTimeout))
		}
		src = mux
	}

	mem := surface.NewMemoryFromConfig(mapCfg)
	registry := layers.NewRegistry()
	s.services = &api.Services{
		Layers:  layerSvc,
		Surface: mem,
		Sync:    layers.NewSynchronizer(logger, registry, src, mem, layers.WithMetrics(s.metrics)),
		Aggregator: click.New(logger, mem, registry,
			click.WithMinZoom(mapCfg.MapClickMinZoom),
			click.WithDeepLinkZoom(mapCfg.DeepLinkZoom),
			click.WithMetrics(s.metrics),
		),
		Renderer: renderer,
	}

	deps := mapview.Deps{
		Logger:     logger,
		Layers:     layerSvc,
		Surface:    mem,
		Sync:       s.services.Sync,
		Aggregator: s.services.Aggregator,
	}
	if cfg.DeepLink != "" {
		if p, ok := mapview.ParseDeepLink(cfg.DeepLink); ok {
			deps.DeepLink = &p
		} else {
			logger.Warn().Str("deepLink", cfg.DeepLink).Msg("ignoring invalid deep link")
		}
	}
	if !cfg.RoutesOnly {
		view, err := mapview.Start(ctx, deps)
		if err != nil {
			s.closeDB()
			return nil, err
		}
		s.view = view
	}

	humaConfig := huma.DefaultConfig("plat-map API", api.Version)
	humaConfig.Info.Description = "Viewport-driven map layer synchronization and click aggregation."
	humaConfig.Servers = []*huma.Server{
		{URL: fmt.Sprintf("http://%s:%s", cfg.Host, cfg.Port), Description: "Local server"},
	}
	// Disable $schema property in responses (cleaner JSON)
	humaConfig.CreateHooks = []func(huma.Config) huma.Config{}
	humaConfig.Transformers = append(humaConfig.Transformers, api.LinkTransformer())
	s.humaAPI = humago.New(s.mux, humaConfig)

	if err := s.routes(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func usesScheme(configs []service.LayerConfig, scheme string) bool {
	for _, c := range configs {
		if u, err := url.Parse(c.URL); err == nil && strings.EqualFold(u.Scheme, scheme) {
			return true
		}
	}
	return false
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// OpenAPI returns the generated OpenAPI document.
func (s *Server) OpenAPI() *huma.OpenAPI {
	return s.humaAPI.OpenAPI()
}

// Services returns the running map services.
func (s *Server) Services() *api.Services {
	return s.services
}

// OpenPopup opens the popup for latlng the way a deep link does and returns it.
func (s *Server) OpenPopup(latlng orb.Point) (surface.Popup, bool) {
	return s.services.Aggregator.DeepLink(latlng)
}

// Close stops the map view and closes server resources.
func (s *Server) Close() error {
	if s.view != nil {
		s.view.Close()
	}
	s.logger.Info().Msg("server closed")
	return s.closeDB()
}

func (s *Server) closeDB() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Server) routes() error {
	// Huma REST + Datastar SSE routes
	if err := api.RegisterRoutes(s.humaAPI, s.services); err != nil {
		return err
	}

	s.mux.Handle("/metrics", s.metrics.Handler())

	if s.config.WebDir != "" {
		staticDir := filepath.Join(s.config.WebDir, "static")
		s.mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir(staticDir))))
		s.mux.HandleFunc("/viewer", s.handleViewer)
	}

	s.mux.HandleFunc("/", s.handleRoot)
	return nil
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"service":    "plat-map",
		"status":     "running",
		"generation": s.services.Sync.Generation(),
	})
}

func (s *Server) handleViewer(w http.ResponseWriter, r *http.Request) {
	templatePath := filepath.Join(s.config.WebDir, "templates", "viewer.html")
	http.ServeFile(w, r, templatePath)
}

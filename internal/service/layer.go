package service

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultMapClickMinZoom = 16
	DefaultDeepLinkZoom    = 18
	DefaultFetchTimeout    = 10 * time.Second
	DefaultWidth           = 1024
	DefaultHeight          = 768
)

// ContentResolver turns a popup template name into a content function.
type ContentResolver interface {
	Content(name string) (ContentFunc, error)
}

// LayerService holds the map configuration loaded at startup.
type LayerService struct {
	mu      sync.RWMutex
	cfg     Config
	byKey   map[string]LayerConfig
	content ContentResolver
}

// NewLayerService creates a layer service. content may be nil, in which case
// layers bind no popup content.
func NewLayerService(content ContentResolver) *LayerService {
	return &LayerService{
		byKey:   make(map[string]LayerConfig),
		content: content,
	}
}

// LoadFile reads and applies a YAML config file.
func (s *LayerService) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	return s.Load(data)
}

// Load parses a YAML config, applies defaults, resolves content and style
// functions and validates layer keys.
func (s *LayerService) Load(data []byte) error {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	return s.Apply(cfg)
}

// Apply installs an already decoded config.
func (s *LayerService) Apply(cfg Config) error {
	applyMapDefaults(&cfg.Map)

	byKey := make(map[string]LayerConfig, len(cfg.Dynamic)+len(cfg.Static))
	for _, list := range [][]LayerConfig{cfg.Dynamic, cfg.Static} {
		for i := range list {
			l := &list[i]
			if l.Key == "" {
				l.Key = generateKey(l.URL)
			}
			if l.Key == "" {
				return errors.New("layer without key or url")
			}
			if strings.TrimSpace(l.URL) == "" {
				return fmt.Errorf("layer %q has no url", l.Key)
			}
			if _, exists := byKey[l.Key]; exists {
				return fmt.Errorf("layer with key %q already exists", l.Key)
			}
			if err := s.bind(l); err != nil {
				return err
			}
			byKey[l.Key] = *l
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	s.byKey = byKey
	return nil
}

func (s *LayerService) bind(l *LayerConfig) error {
	if l.StyleFn == nil {
		l.StyleFn = l.ResolveStyle
	}
	if l.ContentFn != nil || l.Popup == "" || s.content == nil {
		return nil
	}
	fn, err := s.content.Content(l.Popup)
	if err != nil {
		return fmt.Errorf("layer %q: %w", l.Key, err)
	}
	l.ContentFn = fn
	return nil
}

func applyMapDefaults(m *MapConfig) {
	if m.MapClickMinZoom == 0 {
		m.MapClickMinZoom = DefaultMapClickMinZoom
	}
	if m.DeepLinkZoom == 0 {
		m.DeepLinkZoom = DefaultDeepLinkZoom
	}
	if m.FetchTimeout <= 0 {
		m.FetchTimeout = DefaultFetchTimeout
	}
	if m.Width <= 0 {
		m.Width = DefaultWidth
	}
	if m.Height <= 0 {
		m.Height = DefaultHeight
	}
	if m.StartingZoom == 0 {
		m.StartingZoom = 12
	}
}

// Map returns the map-wide settings.
func (s *LayerService) Map() MapConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Map
}

// Dynamic returns the dynamic layers in configuration order.
func (s *LayerService) Dynamic() []LayerConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]LayerConfig(nil), s.cfg.Dynamic...)
}

// Static returns the static layers in configuration order.
func (s *LayerService) Static() []LayerConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]LayerConfig(nil), s.cfg.Static...)
}

// List returns every layer, dynamic first, in configuration order.
func (s *LayerService) List() []LayerConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]LayerConfig, 0, len(s.cfg.Dynamic)+len(s.cfg.Static))
	result = append(result, s.cfg.Dynamic...)
	return append(result, s.cfg.Static...)
}

// Get returns a layer by key.
func (s *LayerService) Get(key string) (LayerConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	layer, ok := s.byKey[key]
	return layer, ok
}

// generateKey derives a layer key from the last path segment of its URL.
func generateKey(url string) string {
	url = strings.TrimSuffix(strings.SplitN(url, "?", 2)[0], "/")
	if i := strings.LastIndex(url, "/"); i >= 0 {
		url = url[i+1:]
	}
	url = strings.TrimSuffix(url, ".geojson")
	url = strings.TrimSuffix(url, ".json")

	var result strings.Builder
	for _, r := range strings.ToLower(url) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			result.WriteRune(r)
		}
	}
	return result.String()
}

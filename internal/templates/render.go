// Package templates renders popup content and Datastar SSE fragments from
// HTML templates.
package templates

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"path/filepath"
	"slices"

	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-map/internal/service"
)

//go:embed fragments/*.html
var defaultFragments embed.FS

// Renderer manages HTML fragment templates. Templates are parsed once and
// never change afterwards.
type Renderer struct {
	templates *template.Template
}

// Default returns a renderer over the built-in fragments.
func Default() *Renderer {
	tmpl := template.Must(parse(defaultFragments, "fragments/*.html"))
	return &Renderer{templates: tmpl}
}

// New creates a renderer from the built-in fragments, overridden and extended
// by the *.html files in fragmentsDir. An empty fragmentsDir uses the built-in
// fragments only.
func New(fragmentsDir string) (*Renderer, error) {
	tmpl, err := load(fragmentsDir)
	if err != nil {
		return nil, err
	}
	return &Renderer{templates: tmpl}, nil
}

func parse(fsys fs.FS, pattern string) (*template.Template, error) {
	return template.New("").ParseFS(fsys, pattern)
}

func load(fragmentsDir string) (*template.Template, error) {
	tmpl, err := parse(defaultFragments, "fragments/*.html")
	if err != nil {
		return nil, err
	}
	if fragmentsDir == "" {
		return tmpl, nil
	}
	matches, err := filepath.Glob(filepath.Join(fragmentsDir, "*.html"))
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return tmpl, nil
	}
	return tmpl.ParseFiles(matches...)
}

// Render renders a named template to a string.
func (r *Renderer) Render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := r.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Has reports whether a template with the given name is defined.
func (r *Renderer) Has(name string) bool {
	return r.templates.Lookup(name) != nil
}

// PopupData is passed to popup content templates.
type PopupData struct {
	ID         any
	Geometry   string
	Properties map[string]any
	Keys       []string // property names, sorted
}

// NewPopupData builds the template data for a feature.
func NewPopupData(f *geojson.Feature) PopupData {
	d := PopupData{ID: f.ID, Properties: f.Properties}
	if f.Geometry != nil {
		d.Geometry = f.Geometry.GeoJSONType()
	}
	for k := range f.Properties {
		d.Keys = append(d.Keys, k)
	}
	slices.Sort(d.Keys)
	return d
}

// Content resolves a popup template name into a content function. A feature
// whose template fails to render gets no popup content.
func (r *Renderer) Content(name string) (service.ContentFunc, error) {
	if !r.Has(name) {
		return nil, fmt.Errorf("popup template %q not found", name)
	}
	return func(f *geojson.Feature) string {
		if f == nil {
			return ""
		}
		s, err := r.Render(name, NewPopupData(f))
		if err != nil {
			return ""
		}
		return s
	}, nil
}

// MapPopup is the data of the map-popup SSE fragment.
type MapPopup struct {
	Lat     float64
	Lng     float64
	Content template.HTML
}

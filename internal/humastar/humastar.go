// Package humastar streams Datastar SSE responses from Huma handlers and
// reads the signals Datastar actions post back.
//
//	func (h *EventHandler) ClickAction(ctx context.Context, input *humastar.SignalsInput) (*huma.StreamResponse, error) {
//	    signals, err := input.MustParse()
//	    ...
//	    return h.Stream(func(sse humastar.SSE) {
//	        sse.Replace(h.RenderFragment("map-popup", data), "#map-popup")
//	    }), nil
//	}
package humastar

import (
	"encoding/json"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/starfederation/datastar-go/datastar"

	"github.com/joeblew999/plat-map/internal/templates"
)

// Handler is embedded by Huma handlers that answer with Datastar SSE.
type Handler struct {
	Renderer *templates.Renderer
}

// Stream wraps fn in a Huma streaming response.
func (h *Handler) Stream(fn func(sse SSE)) *huma.StreamResponse {
	return &huma.StreamResponse{
		Body: func(humaCtx huma.Context) {
			fn(NewSSE(humaCtx))
		},
	}
}

// RenderFragment renders a named fragment. A fragment that fails to render
// yields "".
func (h *Handler) RenderFragment(name string, data any) string {
	s, err := h.Renderer.Render(name, data)
	if err != nil {
		return ""
	}
	return s
}

// SSE is a Datastar event generator bound to one Huma stream.
type SSE struct {
	*datastar.ServerSentEventGenerator
}

// NewSSE starts a Datastar SSE response on a humago streaming context.
func NewSSE(ctx huma.Context) SSE {
	r, w := humago.Unwrap(ctx)
	return SSE{datastar.NewSSE(w, r)}
}

// Replace swaps the element matched by selector for html.
func (s SSE) Replace(html, selector string) {
	s.PatchElements(html,
		datastar.WithSelector(selector),
		datastar.WithModeOuter(),
		datastar.WithViewTransitions(),
	)
}

// Signals patches the given signals in the browser.
func (s SSE) Signals(signals map[string]any) {
	s.MarshalAndPatchSignals(signals)
}

// Signals is the flat JSON object a Datastar action posts.
type Signals map[string]any

// ParseSignals decodes an action body.
func ParseSignals(body []byte) (Signals, error) {
	var signals Signals
	if err := json.Unmarshal(body, &signals); err != nil {
		return nil, err
	}
	return signals, nil
}

// Int returns a numeric signal truncated to int, or 0.
func (s Signals) Int(key string) int {
	if f, ok := s[key].(float64); ok {
		return int(f)
	}
	return 0
}

// Float returns a numeric signal, or 0.
func (s Signals) Float(key string) float64 {
	f, _ := s[key].(float64)
	return f
}

// Has reports whether key was sent, even with a zero value.
func (s Signals) Has(key string) bool {
	_, ok := s[key]
	return ok
}

// EmptyInput is the input of handlers that take no parameters.
type EmptyInput struct{}

// SignalsInput receives the raw body of a Datastar action.
type SignalsInput struct {
	RawBody []byte
}

// MustParse decodes the signals, mapping a malformed body to a 400.
func (i *SignalsInput) MustParse() (Signals, error) {
	signals, err := ParseSignals(i.RawBody)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid signals: " + err.Error())
	}
	return signals, nil
}

package backends

import (
	"context"
	"errors"
	"fmt"

	"bookreader/params"
)

var (
	// ErrInvalidModel is returned when a model name is not offered by the backend.
	ErrInvalidModel = errors.New("invalid model")
	// ErrInvalidDimensions is returned when width/height violate the backend's legality rule.
	ErrInvalidDimensions = errors.New("invalid image dimensions")
)

// Parameter names shared by the backends. The dialog relies on the first three.
const (
	ParamModel     = "model_name"
	ParamWidth     = "width"
	ParamHeight    = "height"
	ParamSteps     = "steps"
	ParamSampler   = "sampler"
	ParamScheduler = "scheduler"
	ParamQuality   = "quality"
	ParamStyle     = "style"
)

// Display labels shared by the backends.
const (
	LabelModel  = "Model"
	LabelWidth  = "Illustration Width"
	LabelHeight = "Illustration Height"
	LabelSteps  = "Steps"
)

// Request is one generation attempt. It is never mutated after dispatch.
type Request struct {
	Model          string
	PositivePrompt string
	NegativePrompt string
	Width          int
	Height         int
	// Extra holds the remaining parameter values keyed by parameter name.
	Extra map[string]any
}

// Backend is the interface that all image-generation providers implement.
type Backend interface {
	// Name returns the display name of the provider.
	Name() string
	// GenerationParams returns the parameter schema. It is stable for the
	// lifetime of the backend, so callers may cache UI derived from it.
	GenerationParams() params.Set
	// ListModels returns the model names GenerateImage accepts.
	ListModels(ctx context.Context) ([]string, error)
	// GenerateImage validates req and returns the generated image as base64.
	GenerateImage(ctx context.Context, req Request) (string, error)
	// SupportsNegativePrompt reports whether NegativePrompt is honoured.
	SupportsNegativePrompt() bool
}

// Factory constructs a backend the first time it is selected.
type Factory struct {
	Name string
	New  func(ctx context.Context) (Backend, error)
}

// TransportError reports a failed network call or a non-success response.
type TransportError struct {
	Backend    string
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.Body != "":
		return fmt.Sprintf("%s: API returned status %d, body: %s", e.Backend, e.StatusCode, e.Body)
	case e.Err != nil && e.StatusCode != 0:
		return fmt.Sprintf("%s: API returned status %d: %v", e.Backend, e.StatusCode, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: failed to call external API: %v", e.Backend, e.Err)
	default:
		return fmt.Sprintf("%s: API returned status %d", e.Backend, e.StatusCode)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// RequestFromValues assembles a Request from the current parameter values of
// a dialog, keyed by parameter name. Model, width and height must be present.
func RequestFromValues(values map[string]any, positive, negative string) (Request, error) {
	req := Request{
		PositivePrompt: positive,
		NegativePrompt: negative,
		Extra:          make(map[string]any, len(values)),
	}
	for _, name := range []string{ParamModel, ParamWidth, ParamHeight} {
		if _, ok := values[name]; !ok {
			return Request{}, fmt.Errorf("%w: %s", params.ErrMissingParameter, name)
		}
	}
	req.Model = fmt.Sprint(values[ParamModel])

	var err error
	if req.Width, err = params.ToInt(values[ParamWidth]); err != nil {
		return Request{}, fmt.Errorf("%w: width: %v", ErrInvalidDimensions, err)
	}
	if req.Height, err = params.ToInt(values[ParamHeight]); err != nil {
		return Request{}, fmt.Errorf("%w: height: %v", ErrInvalidDimensions, err)
	}

	for name, v := range values {
		switch name {
		case ParamModel, ParamWidth, ParamHeight:
		default:
			req.Extra[name] = v
		}
	}
	return req, nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func extraString(extra map[string]any, name string) (string, bool) {
	v, ok := extra[name]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

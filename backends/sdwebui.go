package backends

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"bookreader/params"
)

// SDWebUIName is the display name of the local Stable-Diffusion-WebUI backend.
const SDWebUIName = "Stable Diffusion WebUI"

const (
	sdMinDimension     = 256
	sdMaxDimension     = 2048
	sdDefaultDimension = 1024
	sdDefaultSteps     = 30
	sdDefaultScheduler = "Karras"

	sdKeyModels     = "sd-models"
	sdKeySamplers   = "samplers"
	sdKeySchedulers = "schedulers"
)

// SDWebUIBackend talks to the HTTP API of a local Stable-Diffusion-WebUI instance.
type SDWebUIBackend struct {
	client *resty.Client
	lists  *cache.Cache
	group  singleflight.Group
	params params.Set
	log    zerolog.Logger
}

// NewSDWebUIBackend connects to baseURL (e.g. http://127.0.0.1:7860/sdapi/v1)
// and enumerates models, samplers and schedulers to build the parameter schema.
// Enumerations are memoized for cacheTTL.
func NewSDWebUIBackend(ctx context.Context, baseURL string, client *http.Client, cacheTTL time.Duration, log zerolog.Logger) (*SDWebUIBackend, error) {
	if client == nil {
		client = &http.Client{}
	}
	if cacheTTL <= 0 {
		cacheTTL = cache.NoExpiration
	}
	b := &SDWebUIBackend{
		client: resty.NewWithClient(client).SetBaseURL(strings.TrimSuffix(baseURL, "/")),
		lists:  cache.New(cacheTTL, 2*cacheTTL),
		log:    log.With().Str("component", "sdwebui").Logger(),
	}

	models, err := b.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	samplers, err := b.Samplers(ctx)
	if err != nil {
		return nil, err
	}
	schedulers, err := b.Schedulers(ctx)
	if err != nil {
		return nil, err
	}

	b.params, err = params.NewSet(
		params.Entry{Name: ParamModel, Schema: params.Choice(LabelModel, models...)},
		params.Entry{Name: ParamWidth, Schema: params.MustBoundedInteger(LabelWidth, sdMinDimension, sdMaxDimension, sdDefaultDimension)},
		params.Entry{Name: ParamHeight, Schema: params.MustBoundedInteger(LabelHeight, sdMinDimension, sdMaxDimension, sdDefaultDimension)},
		params.Entry{Name: ParamSteps, Schema: params.MustBoundedInteger(LabelSteps, 1, 100, sdDefaultSteps)},
		params.Entry{Name: ParamSampler, Schema: params.Choice("Sampler", samplers...)},
		params.Entry{Name: ParamScheduler, Schema: params.Choice("Scheduler", schedulers...)},
	)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Name returns the display name of the backend.
func (b *SDWebUIBackend) Name() string { return SDWebUIName }

// SupportsNegativePrompt returns true; txt2img accepts a negative prompt.
func (b *SDWebUIBackend) SupportsNegativePrompt() bool { return true }

// GenerationParams returns the parameter schema built at construction.
func (b *SDWebUIBackend) GenerationParams() params.Set { return b.params }

// ListModels returns the checkpoint names known to the WebUI.
func (b *SDWebUIBackend) ListModels(ctx context.Context) ([]string, error) {
	return fetchNames(ctx, b, sdKeyModels, func(m struct {
		ModelName string `json:"model_name"`
	}) string {
		return m.ModelName
	})
}

// Samplers returns the sampler names known to the WebUI.
func (b *SDWebUIBackend) Samplers(ctx context.Context) ([]string, error) {
	return fetchNames(ctx, b, sdKeySamplers, func(s struct {
		Name string `json:"name"`
	}) string {
		return s.Name
	})
}

// Schedulers returns the scheduler labels known to the WebUI.
func (b *SDWebUIBackend) Schedulers(ctx context.Context) ([]string, error) {
	return fetchNames(ctx, b, sdKeySchedulers, func(s struct {
		Label string `json:"label"`
	}) string {
		return s.Label
	})
}

// fetchNames GETs {base}/{path}, maps each array element to a name and memoizes the result.
func fetchNames[T any](ctx context.Context, b *SDWebUIBackend, path string, name func(T) string) ([]string, error) {
	if v, ok := b.lists.Get(path); ok {
		return v.([]string), nil
	}
	v, err, _ := b.group.Do(path, func() (any, error) {
		var items []T
		if err := doJSON(ctx, b.client, "sdwebui", http.MethodGet, "/"+path, nil, &items); err != nil {
			return nil, err
		}
		names := make([]string, 0, len(items))
		for _, it := range items {
			names = append(names, name(it))
		}
		b.lists.SetDefault(path, names)
		b.log.Debug().Str("list", path).Int("count", len(names)).Msg("enumerated")
		return names, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

// validDimensions checks width and height independently against their ranges.
func (b *SDWebUIBackend) validDimensions(width, height int) bool {
	ws, okW := b.params.Get(ParamWidth)
	hs, okH := b.params.Get(ParamHeight)
	return okW && okH && ws.Contains(width) && hs.Contains(height)
}

type sdOverrideSettings struct {
	SDModelCheckpoint string `json:"sd_model_checkpoint"`
}

type sdTxt2ImgPayload struct {
	Prompt           string             `json:"prompt"`
	NegativePrompt   string             `json:"negative_prompt,omitempty"`
	Width            int                `json:"width"`
	Height           int                `json:"height"`
	Steps            int                `json:"steps,omitempty"`
	SamplerName      string             `json:"sampler_name,omitempty"`
	Scheduler        string             `json:"scheduler,omitempty"`
	OverrideSettings sdOverrideSettings `json:"override_settings"`
}

type sdTxt2ImgResponse struct {
	Images []string `json:"images"`
}

// GenerateImage sends a txt2img request and returns the first image as base64.
// Steps, sampler and scheduler are only forwarded when they are legal values.
func (b *SDWebUIBackend) GenerateImage(ctx context.Context, req Request) (img string, err error) {
	ctx, span := tracer.Start(ctx, "sdwebui.GenerateImage", trace.WithAttributes(
		attribute.String("model", req.Model),
		attribute.Int("width", req.Width),
		attribute.Int("height", req.Height),
	))
	defer func() { endSpan(span, err) }()

	models, err := b.ListModels(ctx)
	if err != nil {
		return "", err
	}
	if !containsString(models, req.Model) {
		return "", fmt.Errorf("sdwebui: %w: %s", ErrInvalidModel, req.Model)
	}
	if !b.validDimensions(req.Width, req.Height) {
		return "", fmt.Errorf("sdwebui: %w: width=%d; height=%d", ErrInvalidDimensions, req.Width, req.Height)
	}

	payload := sdTxt2ImgPayload{
		Prompt:           req.PositivePrompt,
		NegativePrompt:   req.NegativePrompt,
		Width:            req.Width,
		Height:           req.Height,
		OverrideSettings: sdOverrideSettings{SDModelCheckpoint: req.Model},
	}

	steps := sdDefaultSteps
	if v, ok := req.Extra[ParamSteps]; ok {
		if n, err := params.ToInt(v); err == nil {
			steps = n
		}
	}
	if s, ok := b.params.Get(ParamSteps); ok && s.Contains(steps) {
		payload.Steps = steps
	}

	if sampler, ok := extraString(req.Extra, ParamSampler); ok {
		samplers, err := b.Samplers(ctx)
		if err != nil {
			return "", err
		}
		if containsString(samplers, sampler) {
			payload.SamplerName = sampler
		}
	}

	scheduler, ok := extraString(req.Extra, ParamScheduler)
	if !ok {
		scheduler = sdDefaultScheduler
	}
	schedulers, err := b.Schedulers(ctx)
	if err != nil {
		return "", err
	}
	if containsString(schedulers, scheduler) {
		payload.Scheduler = scheduler
	}

	b.log.Debug().
		Str("model", req.Model).
		Int("width", payload.Width).
		Int("height", payload.Height).
		Int("steps", payload.Steps).
		Str("sampler", payload.SamplerName).
		Str("scheduler", payload.Scheduler).
		Bool("negative_prompt", payload.NegativePrompt != "").
		Msg("calling txt2img")

	var resp sdTxt2ImgResponse
	if err := doJSON(ctx, b.client, "sdwebui", http.MethodPost, "/txt2img", payload, &resp); err != nil {
		return "", err
	}
	if len(resp.Images) == 0 {
		return "", &TransportError{Backend: "sdwebui", StatusCode: http.StatusOK, Err: fmt.Errorf("no images returned in response")}
	}
	return resp.Images[0], nil
}

var _ Backend = (*SDWebUIBackend)(nil)

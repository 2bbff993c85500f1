package backends

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"bookreader/params"
)

// OpenAIName is the display name of the hosted backend.
const OpenAIName = "OpenAI"

// openAIModel is one entry of the fixed model catalog.
type openAIModel struct {
	Name            string
	Dimensions      []int
	MaxPromptLength int
	// SquareOnly models require width == height.
	SquareOnly bool
}

var openAIModels = []openAIModel{
	{Name: openai.CreateImageModelDallE2, Dimensions: []int{256, 512, 1024}, MaxPromptLength: 1000, SquareOnly: true},
	{Name: openai.CreateImageModelDallE3, Dimensions: []int{1024, 1792}, MaxPromptLength: 4000},
}

var (
	openAIQualityOptions = []string{openai.CreateImageQualityStandard, openai.CreateImageQualityHD}
	openAIStyleOptions   = []string{openai.CreateImageStyleVivid, openai.CreateImageStyleNatural}
)

// OpenAIBackend generates images through the hosted OpenAI images endpoint.
type OpenAIBackend struct {
	client *openai.Client
	params params.Set
	log    zerolog.Logger
}

// NewOpenAIBackend creates the hosted backend. baseURL and httpClient are optional.
func NewOpenAIBackend(apiKey, baseURL string, httpClient *http.Client, log zerolog.Logger) (*OpenAIBackend, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: API key is required")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}

	modelNames := make([]string, 0, len(openAIModels))
	var dims []string
	seen := make(map[int]bool)
	for _, m := range openAIModels {
		modelNames = append(modelNames, m.Name)
		for _, d := range m.Dimensions {
			if !seen[d] {
				seen[d] = true
				dims = append(dims, strconv.Itoa(d))
			}
		}
	}

	set, err := params.NewSet(
		params.Entry{Name: ParamModel, Schema: params.Choice(LabelModel, modelNames...)},
		params.Entry{Name: ParamWidth, Schema: params.Choice(LabelWidth, dims...)},
		params.Entry{Name: ParamHeight, Schema: params.Choice(LabelHeight, dims...)},
		params.Entry{Name: ParamQuality, Schema: params.Choice("Quality", openAIQualityOptions...)},
		params.Entry{Name: ParamStyle, Schema: params.Choice("Style", openAIStyleOptions...)},
	)
	if err != nil {
		return nil, err
	}

	return &OpenAIBackend{
		client: openai.NewClientWithConfig(cfg),
		params: set,
		log:    log.With().Str("component", "openai").Logger(),
	}, nil
}

// Name returns the display name of the backend.
func (b *OpenAIBackend) Name() string { return OpenAIName }

// SupportsNegativePrompt returns false; the images endpoint has no negative prompt.
func (b *OpenAIBackend) SupportsNegativePrompt() bool { return false }

// GenerationParams returns the fixed parameter schema.
func (b *OpenAIBackend) GenerationParams() params.Set { return b.params }

// ListModels returns the catalog model names.
func (b *OpenAIBackend) ListModels(context.Context) ([]string, error) {
	names := make([]string, 0, len(openAIModels))
	for _, m := range openAIModels {
		names = append(names, m.Name)
	}
	return names, nil
}

func lookupOpenAIModel(name string) (openAIModel, bool) {
	for _, m := range openAIModels {
		if m.Name == name {
			return m, true
		}
	}
	return openAIModel{}, false
}

// validDimensions applies the catalog rule for model m. Square-only models
// need width == height from the allowed set. Other models take any allowed
// pair except the largest dimension on both sides.
func (m openAIModel) validDimensions(width, height int) bool {
	allowed := func(v int) bool {
		for _, d := range m.Dimensions {
			if d == v {
				return true
			}
		}
		return false
	}
	if m.SquareOnly {
		return width == height && allowed(width)
	}
	if !allowed(width) || !allowed(height) {
		return false
	}
	largest := 0
	for _, d := range m.Dimensions {
		largest = max(largest, d)
	}
	return !(width == largest && height == largest)
}

// GenerateImage validates the request against the model catalog, truncates the
// prompt to the model's limit and returns the base64 image.
func (b *OpenAIBackend) GenerateImage(ctx context.Context, req Request) (img string, err error) {
	ctx, span := tracer.Start(ctx, "openai.GenerateImage", trace.WithAttributes(
		attribute.String("model", req.Model),
		attribute.Int("width", req.Width),
		attribute.Int("height", req.Height),
	))
	defer func() { endSpan(span, err) }()

	model, ok := lookupOpenAIModel(req.Model)
	if !ok {
		return "", fmt.Errorf("openai: %w: %s", ErrInvalidModel, req.Model)
	}
	if !model.validDimensions(req.Width, req.Height) {
		return "", fmt.Errorf("openai: %w: width=%d; height=%d", ErrInvalidDimensions, req.Width, req.Height)
	}

	imageReq := openai.ImageRequest{
		Prompt:         TruncatePrompt(req.PositivePrompt, model.MaxPromptLength),
		Model:          model.Name,
		N:              1,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
		Size:           fmt.Sprintf("%dx%d", req.Width, req.Height),
	}
	if q, ok := extraString(req.Extra, ParamQuality); ok && containsString(openAIQualityOptions, q) {
		imageReq.Quality = q
	}
	if s, ok := extraString(req.Extra, ParamStyle); ok && containsString(openAIStyleOptions, s) {
		imageReq.Style = s
	}

	b.log.Debug().
		Str("model", imageReq.Model).
		Str("size", imageReq.Size).
		Str("quality", imageReq.Quality).
		Str("style", imageReq.Style).
		Int("prompt_length", len([]rune(imageReq.Prompt))).
		Msg("calling images endpoint")

	resp, err := b.client.CreateImage(ctx, imageReq)
	if err != nil {
		return "", openAITransportError(err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return "", &TransportError{Backend: "openai", StatusCode: http.StatusOK, Err: fmt.Errorf("no image data returned in response")}
	}
	if revised := resp.Data[0].RevisedPrompt; revised != "" {
		b.log.Info().Str("revised_prompt", revised).Msg("prompt revised by provider")
	}
	return resp.Data[0].B64JSON, nil
}

func openAITransportError(err error) error {
	te := &TransportError{Backend: "openai", Err: err}
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		te.StatusCode = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		te.StatusCode = reqErr.HTTPStatusCode
	}
	return te
}

var _ Backend = (*OpenAIBackend)(nil)

package backends

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"bookreader/params"
)

// CloudflareName is the display name of the Cloudflare Workers AI backend.
const CloudflareName = "Cloudflare Workers AI"

const cloudflareAPIURLFormat = "https://api.cloudflare.com/client/v4/accounts/%s/ai/run/%s"

const (
	cloudflareMinDimension = 256
	cloudflareMaxDimension = 2048
	cloudflareMaxSteps     = 20
)

var cloudflareModels = []string{
	"@cf/stabilityai/stable-diffusion-xl-base-1.0",
	"@cf/bytedance/stable-diffusion-xl-lightning",
}

// CloudflareBackend implements Backend on top of Cloudflare Workers AI.
type CloudflareBackend struct {
	Client    *http.Client
	AccountID string
	APIToken  string
	// URLFormat receives the account id and the model name.
	URLFormat string

	params params.Set
	log    zerolog.Logger
}

// NewCloudflareBackend creates a Cloudflare client. Both credentials are required.
func NewCloudflareBackend(accountID, apiToken string, client *http.Client, log zerolog.Logger) (*CloudflareBackend, error) {
	if accountID == "" || apiToken == "" {
		return nil, fmt.Errorf("cloudflare: account id and API token are required")
	}
	if client == nil {
		client = &http.Client{}
	}
	set, err := params.NewSet(
		params.Entry{Name: ParamModel, Schema: params.Choice(LabelModel, cloudflareModels...)},
		params.Entry{Name: ParamWidth, Schema: params.MustBoundedInteger(LabelWidth, cloudflareMinDimension, cloudflareMaxDimension, 1024)},
		params.Entry{Name: ParamHeight, Schema: params.MustBoundedInteger(LabelHeight, cloudflareMinDimension, cloudflareMaxDimension, 1024)},
		params.Entry{Name: ParamSteps, Schema: params.MustBoundedInteger(LabelSteps, 1, cloudflareMaxSteps, cloudflareMaxSteps)},
	)
	if err != nil {
		return nil, err
	}
	return &CloudflareBackend{
		Client:    client,
		AccountID: accountID,
		APIToken:  apiToken,
		URLFormat: cloudflareAPIURLFormat,
		params:    set,
		log:       log.With().Str("component", "cloudflare").Logger(),
	}, nil
}

// Name returns the display name of the backend.
func (p *CloudflareBackend) Name() string { return CloudflareName }

// SupportsNegativePrompt returns true; the SDXL models accept negative_prompt.
func (p *CloudflareBackend) SupportsNegativePrompt() bool { return true }

// GenerationParams returns the fixed parameter schema.
func (p *CloudflareBackend) GenerationParams() params.Set { return p.params }

// ListModels returns the catalog model names.
func (p *CloudflareBackend) ListModels(context.Context) ([]string, error) {
	return append([]string(nil), cloudflareModels...), nil
}

// cloudflareAPIPayload matches the structure for the Cloudflare API.
type cloudflareAPIPayload struct {
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	NumSteps       int    `json:"num_steps,omitempty"`
}

// cloudflareImageResponse matches the JSON response with base64 image data.
type cloudflareImageResponse struct {
	Result struct {
		Image string `json:"image"`
	} `json:"result"`
	Success bool `json:"success"`
	Errors  []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// GenerateImage sends a request to the Cloudflare API. A raw PNG response is
// base64-encoded so every backend returns the same representation.
func (p *CloudflareBackend) GenerateImage(ctx context.Context, req Request) (img string, err error) {
	ctx, span := tracer.Start(ctx, "cloudflare.GenerateImage", trace.WithAttributes(
		attribute.String("model", req.Model),
		attribute.Int("width", req.Width),
		attribute.Int("height", req.Height),
	))
	defer func() { endSpan(span, err) }()

	if !containsString(cloudflareModels, req.Model) {
		return "", fmt.Errorf("cloudflare: %w: %s", ErrInvalidModel, req.Model)
	}
	ws, _ := p.params.Get(ParamWidth)
	hs, _ := p.params.Get(ParamHeight)
	if !ws.Contains(req.Width) || !hs.Contains(req.Height) {
		return "", fmt.Errorf("cloudflare: %w: width=%d; height=%d", ErrInvalidDimensions, req.Width, req.Height)
	}

	payload := cloudflareAPIPayload{
		Prompt:         req.PositivePrompt,
		NegativePrompt: req.NegativePrompt,
		Width:          req.Width,
		Height:         req.Height,
	}
	if v, ok := req.Extra[ParamSteps]; ok {
		if n, err := params.ToInt(v); err == nil {
			if s, _ := p.params.Get(ParamSteps); s.Contains(n) {
				payload.NumSteps = n
			}
		}
	}

	p.log.Debug().
		Str("model", req.Model).
		Int("width", payload.Width).
		Int("height", payload.Height).
		Int("num_steps", payload.NumSteps).
		Msg("calling provider")

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("cloudflare: failed to marshal payload: %w", err)
	}

	apiURL := fmt.Sprintf(p.URLFormat, p.AccountID, req.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(payloadBytes))
	if err != nil {
		return "", fmt.Errorf("cloudflare: failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.APIToken)

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return "", &TransportError{Backend: "cloudflare", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", statusError("cloudflare", resp)
	}

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "image/") {
		imageData, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", &TransportError{Backend: "cloudflare", StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read image response body: %w", err)}
		}
		return base64.StdEncoding.EncodeToString(imageData), nil
	}

	var imageResp cloudflareImageResponse
	if err := json.NewDecoder(resp.Body).Decode(&imageResp); err != nil {
		return "", &TransportError{Backend: "cloudflare", StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode json response body: %w", err)}
	}
	if !imageResp.Success || len(imageResp.Errors) > 0 {
		if len(imageResp.Errors) > 0 {
			return "", &TransportError{Backend: "cloudflare", StatusCode: resp.StatusCode, Err: fmt.Errorf("API error: %s", imageResp.Errors[0].Message)}
		}
		return "", &TransportError{Backend: "cloudflare", StatusCode: resp.StatusCode, Err: fmt.Errorf("API reported failure but returned no error details")}
	}
	if imageResp.Result.Image == "" {
		return "", &TransportError{Backend: "cloudflare", StatusCode: resp.StatusCode, Err: fmt.Errorf("no image returned in response")}
	}
	return imageResp.Result.Image, nil
}

var _ Backend = (*CloudflareBackend)(nil)

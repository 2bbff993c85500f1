package backends

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCloudflareBackend(t *testing.T, handler http.HandlerFunc) *CloudflareBackend {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	b, err := NewCloudflareBackend("acc", "tok", srv.Client(), zerolog.Nop())
	require.NoError(t, err)
	b.URLFormat = srv.URL + "/accounts/%s/ai/run/%s"
	return b
}

func TestCloudflare_RawPNGResponse(t *testing.T) {
	var got cloudflareAPIPayload
	var path string
	b := newTestCloudflareBackend(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png-bytes"))
	})

	img, err := b.GenerateImage(context.Background(), Request{
		Model:          cloudflareModels[0],
		PositivePrompt: "a castle",
		NegativePrompt: "fog",
		Width:          768,
		Height:         1024,
		Extra:          map[string]any{ParamSteps: 12},
	})
	require.NoError(t, err)
	assert.Equal(t, "cG5nLWJ5dGVz", img)
	assert.Equal(t, "/accounts/acc/ai/run/@cf/stabilityai/stable-diffusion-xl-base-1.0", path)
	assert.Equal(t, cloudflareAPIPayload{Prompt: "a castle", NegativePrompt: "fog", Width: 768, Height: 1024, NumSteps: 12}, got)
}

func TestCloudflare_JSONResponse(t *testing.T) {
	b := newTestCloudflareBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"result": map[string]any{"image": "aW1n"}, "success": true})
	})
	img, err := b.GenerateImage(context.Background(), Request{Model: cloudflareModels[1], Width: 1024, Height: 1024})
	require.NoError(t, err)
	assert.Equal(t, "aW1n", img)
}

func TestCloudflare_Errors(t *testing.T) {
	b := newTestCloudflareBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"success": false, "errors": []map[string]any{{"code": 5006, "message": "bad input"}}})
	})
	ctx := context.Background()

	_, err := b.GenerateImage(ctx, Request{Model: "@cf/unknown", Width: 1024, Height: 1024})
	assert.ErrorIs(t, err, ErrInvalidModel)

	_, err = b.GenerateImage(ctx, Request{Model: cloudflareModels[0], Width: 4096, Height: 1024})
	assert.ErrorIs(t, err, ErrInvalidDimensions)

	_, err = b.GenerateImage(ctx, Request{Model: cloudflareModels[0], Width: 1024, Height: 1024})
	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Contains(t, te.Error(), "bad input")
}

func TestNewCloudflareBackend_RequiresCredentials(t *testing.T) {
	_, err := NewCloudflareBackend("acc", "", nil, zerolog.Nop())
	assert.Error(t, err)
}

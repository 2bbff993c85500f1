package backends

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookreader/params"
)

func newTestSDBackend(t *testing.T) (*SDWebUIBackend, *fakeWebUI) {
	t.Helper()
	fake, srv := newFakeWebUI(t)
	b, err := NewSDWebUIBackend(context.Background(), srv.URL+"/sdapi/v1/", srv.Client(), time.Minute, zerolog.Nop())
	require.NoError(t, err)
	return b, fake
}

func TestSDWebUI_GenerationParams(t *testing.T) {
	b, _ := newTestSDBackend(t)

	set := b.GenerationParams()
	var names []string
	for _, e := range set.Entries() {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{ParamModel, ParamWidth, ParamHeight, ParamSteps, ParamSampler, ParamScheduler}, names)

	model, _ := set.Get(ParamModel)
	assert.Equal(t, params.ChoiceList, model.Kind)
	assert.Equal(t, []string{"sd15", "sdxl"}, model.Options)

	width, _ := set.Get(ParamWidth)
	assert.Equal(t, 256, width.Min)
	assert.Equal(t, 2048, width.Max)
	assert.Equal(t, 1024, width.Initial)

	scheduler, _ := set.Get(ParamScheduler)
	assert.Equal(t, []string{"Karras", "Uniform"}, scheduler.Options)
	assert.True(t, b.SupportsNegativePrompt())
}

func TestSDWebUI_EnumerationIsMemoized(t *testing.T) {
	b, fake := newTestSDBackend(t)
	calls := fake.listCalls.Load()

	_, err := b.ListModels(context.Background())
	require.NoError(t, err)
	_, err = b.Samplers(context.Background())
	require.NoError(t, err)

	assert.Equal(t, calls, fake.listCalls.Load())
}

func TestSDWebUI_GenerateImage(t *testing.T) {
	b, fake := newTestSDBackend(t)
	ctx := context.Background()

	t.Run("unknown model", func(t *testing.T) {
		_, err := b.GenerateImage(ctx, Request{Model: "sd3", Width: 1024, Height: 1024})
		assert.ErrorIs(t, err, ErrInvalidModel)
	})

	t.Run("width just below range", func(t *testing.T) {
		_, err := b.GenerateImage(ctx, Request{Model: "sd15", Width: 255, Height: 1024})
		assert.ErrorIs(t, err, ErrInvalidDimensions)
	})

	t.Run("height above range", func(t *testing.T) {
		_, err := b.GenerateImage(ctx, Request{Model: "sd15", Width: 1024, Height: 2049})
		assert.ErrorIs(t, err, ErrInvalidDimensions)
	})

	t.Run("valid request builds the txt2img payload", func(t *testing.T) {
		img, err := b.GenerateImage(ctx, Request{
			Model:          "sdxl",
			PositivePrompt: "a castle at dusk",
			NegativePrompt: "blurry",
			Width:          1024,
			Height:         1024,
			Extra: map[string]any{
				ParamSteps:     40,
				ParamSampler:   "Euler a",
				ParamScheduler: "Uniform",
			},
		})
		require.NoError(t, err)
		assert.Equal(t, "aW1hZ2U=", img)

		body := fake.body()
		assert.Equal(t, "a castle at dusk", body["prompt"])
		assert.Equal(t, "blurry", body["negative_prompt"])
		assert.EqualValues(t, 1024, body["width"])
		assert.EqualValues(t, 40, body["steps"])
		assert.Equal(t, "Euler a", body["sampler_name"])
		assert.Equal(t, "Uniform", body["scheduler"])
		assert.Equal(t, map[string]any{"sd_model_checkpoint": "sdxl"}, body["override_settings"])
	})

	t.Run("non-square images and illegal extras", func(t *testing.T) {
		_, err := b.GenerateImage(ctx, Request{
			Model:  "sd15",
			Width:  512,
			Height: 2048,
			Extra: map[string]any{
				ParamSteps:   500,
				ParamSampler: "Nope",
			},
		})
		require.NoError(t, err)

		body := fake.body()
		assert.NotContains(t, body, "negative_prompt")
		assert.NotContains(t, body, "steps")
		assert.NotContains(t, body, "sampler_name")
		assert.Equal(t, "Karras", body["scheduler"])
	})

	t.Run("transport failure", func(t *testing.T) {
		fake.mu.Lock()
		fake.txt2imgErr = http.StatusInternalServerError
		fake.mu.Unlock()
		defer func() {
			fake.mu.Lock()
			fake.txt2imgErr = 0
			fake.mu.Unlock()
		}()

		_, err := b.GenerateImage(ctx, Request{Model: "sd15", Width: 1024, Height: 1024})
		var te *TransportError
		require.True(t, errors.As(err, &te))
		assert.Equal(t, http.StatusInternalServerError, te.StatusCode)
		assert.Contains(t, te.Body, "boom")
	})

	t.Run("empty image list", func(t *testing.T) {
		fake.mu.Lock()
		fake.images = nil
		fake.mu.Unlock()

		_, err := b.GenerateImage(ctx, Request{Model: "sd15", Width: 1024, Height: 1024})
		var te *TransportError
		assert.True(t, errors.As(err, &te))
	})
}

func TestSDWebUI_ConstructionFailsWhenUnreachable(t *testing.T) {
	_, srv := newFakeWebUI(t)
	url := srv.URL
	srv.Close()

	_, err := NewSDWebUIBackend(context.Background(), url+"/sdapi/v1", nil, time.Minute, zerolog.Nop())
	var te *TransportError
	assert.True(t, errors.As(err, &te))
}

func TestDoJSON(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /echo", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		writeJSON(w, body)
	})
	mux.HandleFunc("GET /huge-error", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, strings.Repeat("x", 4*maxErrorBody), http.StatusBadGateway)
	})
	mux.HandleFunc("GET /garbage", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := resty.NewWithClient(srv.Client()).SetBaseURL(srv.URL)
	ctx := context.Background()

	t.Run("round trip", func(t *testing.T) {
		var out map[string]any
		require.NoError(t, doJSON(ctx, client, "test", http.MethodPost, "/echo", map[string]any{"prompt": "owl"}, &out))
		assert.Equal(t, "owl", out["prompt"])
	})

	t.Run("error body is bounded", func(t *testing.T) {
		var out map[string]any
		err := doJSON(ctx, client, "test", http.MethodGet, "/huge-error", nil, &out)
		var te *TransportError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, http.StatusBadGateway, te.StatusCode)
		assert.Len(t, te.Body, maxErrorBody)
	})

	t.Run("undecodable body keeps the status", func(t *testing.T) {
		var out map[string]any
		err := doJSON(ctx, client, "test", http.MethodGet, "/garbage", nil, &out)
		var te *TransportError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, http.StatusOK, te.StatusCode)
		assert.Empty(t, te.Body)
	})
}

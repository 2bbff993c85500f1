package backends

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
)

// fakeWebUI serves the subset of the Stable-Diffusion-WebUI API used by the backend.
type fakeWebUI struct {
	mu         sync.Mutex
	lastBody   map[string]any
	listCalls  atomic.Int32
	txt2imgErr int
	images     []string
}

func newFakeWebUI(t *testing.T) (*fakeWebUI, *httptest.Server) {
	t.Helper()
	f := &fakeWebUI{images: []string{"aW1hZ2U="}}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /sdapi/v1/sd-models", func(w http.ResponseWriter, r *http.Request) {
		f.listCalls.Add(1)
		writeJSON(w, []map[string]any{
			{"title": "sd15.safetensors [abc]", "model_name": "sd15"},
			{"title": "sdxl.safetensors [def]", "model_name": "sdxl"},
		})
	})
	mux.HandleFunc("GET /sdapi/v1/samplers", func(w http.ResponseWriter, r *http.Request) {
		f.listCalls.Add(1)
		writeJSON(w, []map[string]any{{"name": "Euler a"}, {"name": "DPM++ 2M"}})
	})
	mux.HandleFunc("GET /sdapi/v1/schedulers", func(w http.ResponseWriter, r *http.Request) {
		f.listCalls.Add(1)
		writeJSON(w, []map[string]any{{"name": "karras", "label": "Karras"}, {"name": "uniform", "label": "Uniform"}})
	})
	mux.HandleFunc("POST /sdapi/v1/txt2img", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.lastBody = body
		status := f.txt2imgErr
		images := f.images
		f.mu.Unlock()
		if status != 0 {
			http.Error(w, "boom", status)
			return
		}
		writeJSON(w, map[string]any{"images": images, "info": "{}"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeWebUI) body() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastBody
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

package backends

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"bookreader/config"
)

// Registry returns the backend factories offered to the dialog, in display
// order. The local WebUI is always offered; hosted providers only when their
// credentials are configured. Constructing a backend may hit the network.
func Registry(cfg *config.Config, log zerolog.Logger) []Factory {
	client := &http.Client{Timeout: cfg.Generation.HTTPTimeout}

	factories := []Factory{{
		Name: SDWebUIName,
		New: func(ctx context.Context) (Backend, error) {
			return NewSDWebUIBackend(ctx, cfg.SDWebUI.BaseURL(), client, cfg.Generation.EnumerationCacheTTL, log)
		},
	}}

	if cfg.HasOpenAI() {
		factories = append(factories, Factory{
			Name: OpenAIName,
			New: func(context.Context) (Backend, error) {
				return NewOpenAIBackend(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, client, log)
			},
		})
	}

	if cfg.HasCloudflare() {
		factories = append(factories, Factory{
			Name: CloudflareName,
			New: func(context.Context) (Backend, error) {
				return NewCloudflareBackend(cfg.Cloudflare.AccountID, cfg.Cloudflare.APIToken, client, log)
			},
		})
	}

	return factories
}

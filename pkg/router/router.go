package router

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3/option"

	"github.com/pario-ai/sendchat/pkg/config"
	"github.com/pario-ai/sendchat/pkg/models"
	"github.com/pario-ai/sendchat/pkg/provider"
	"github.com/pario-ai/sendchat/pkg/provider/anthropic"
	"github.com/pario-ai/sendchat/pkg/provider/openai"
)

// Route represents a resolved provider and the model name sent to it.
type Route struct {
	Provider config.ProviderConfig
	Model    string
}

// Router resolves requested model names to providers and forwards
// completions to the matching client. It implements provider.Provider.
type Router struct {
	cfg     *config.Config
	clients map[string]provider.Provider
}

// New creates a Router from the given configuration and a client per
// provider name.
func New(cfg *config.Config, clients map[string]provider.Provider) *Router {
	return &Router{cfg: cfg, clients: clients}
}

// FromConfig creates a Router with an SDK client for every configured provider.
func FromConfig(cfg *config.Config) *Router {
	clients := make(map[string]provider.Provider, len(cfg.Providers))
	for _, p := range cfg.Providers {
		clients[p.Name] = newClient(p)
	}
	return New(cfg, clients)
}

func newClient(p config.ProviderConfig) provider.Provider {
	if p.Type == config.ProviderAnthropic {
		return anthropic.New(p.Name, p.URL, p.APIKey, nil)
	}
	opts := []option.RequestOption{option.WithAPIKey(p.APIKey)}
	if p.URL != "" {
		opts = append(opts, option.WithBaseURL(p.URL))
	}
	return openai.New(p.Name, opts...)
}

// Resolve returns the route for the requested model.
// Exact route matches win over prefix matches ("claude-*"). Without a match
// the first provider is used with the original model name.
func (r *Router) Resolve(requestedModel string) (Route, error) {
	if len(r.cfg.Providers) == 0 {
		return Route{}, fmt.Errorf("no providers configured")
	}

	providerIndex := make(map[string]config.ProviderConfig, len(r.cfg.Providers))
	for _, p := range r.cfg.Providers {
		providerIndex[p.Name] = p
	}

	route, ok := r.match(requestedModel)
	if !ok {
		return Route{Provider: r.cfg.Providers[0], Model: requestedModel}, nil
	}

	p, ok := providerIndex[route.Provider]
	if !ok {
		return Route{}, fmt.Errorf("route %q: unknown provider %q", route.Model, route.Provider)
	}
	model := route.Target
	if model == "" {
		model = requestedModel
	}
	return Route{Provider: p, Model: model}, nil
}

func (r *Router) match(model string) (config.RouteConfig, bool) {
	for _, route := range r.cfg.Router.Routes {
		if route.Model == model {
			return route, true
		}
	}
	for _, route := range r.cfg.Router.Routes {
		prefix, ok := strings.CutSuffix(route.Model, "*")
		if ok && strings.HasPrefix(model, prefix) {
			return route, true
		}
	}
	return config.RouteConfig{}, false
}

// Complete resolves req.Model and forwards the request to that provider's
// client, rewriting the model name when the route has a target.
func (r *Router) Complete(ctx context.Context, req *models.CompletionRequest) (*models.CompletionResponse, error) {
	route, err := r.Resolve(req.Model)
	if err != nil {
		return nil, err
	}
	client, ok := r.clients[route.Provider.Name]
	if !ok {
		return nil, fmt.Errorf("provider %q: no client", route.Provider.Name)
	}

	upstream := *req
	upstream.Model = route.Model
	return client.Complete(ctx, &upstream)
}

// Chain returns the models to try in order: primary followed by fallbacks.
// Duplicates are kept.
func Chain(primary string, fallbacks []string) []string {
	chain := make([]string, 0, len(fallbacks)+1)
	chain = append(chain, primary)
	return append(chain, fallbacks...)
}

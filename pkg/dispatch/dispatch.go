// Package dispatch sends chat completion requests through an optional
// response cache, retries transient failures with backoff, and walks a model
// fallback chain for the simple text-in, text-out call.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/pario-ai/sendchat/pkg/cache"
	"github.com/pario-ai/sendchat/pkg/logger"
	"github.com/pario-ai/sendchat/pkg/models"
	"github.com/pario-ai/sendchat/pkg/provider"
	"github.com/pario-ai/sendchat/pkg/retry"
	"github.com/pario-ai/sendchat/pkg/router"
)

// Notifier receives human-readable diagnostics: retry notices and fallback
// progress.
type Notifier func(msg string)

// Result is the outcome of a dispatched request.
type Result struct {
	// Key is the request's cache key. It is set for streaming requests too.
	Key      string
	Response *models.CompletionResponse
	// Cached is true when Response was served from the cache.
	Cached bool
}

// Dispatcher sends requests to a provider.
type Dispatcher struct {
	provider provider.Provider
	cache    cache.Cache
	policy   retry.Policy
	notify   Notifier
	logger   *slog.Logger
	group    singleflight.Group
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithCache enables response caching for non-streaming requests.
func WithCache(c cache.Cache) Option {
	return func(d *Dispatcher) {
		d.cache = c
	}
}

// WithRetryPolicy replaces retry.DefaultPolicy. The policy's Notify is
// ignored; notices go to the dispatcher's Notifier.
func WithRetryPolicy(p retry.Policy) Option {
	return func(d *Dispatcher) {
		d.policy = p
	}
}

// WithNotifier sets where diagnostics go. By default they are logged at Warn.
func WithNotifier(n Notifier) Option {
	return func(d *Dispatcher) {
		d.notify = n
	}
}

// WithLogger sets the logger. Defaults to logger.Nop().
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = l
	}
}

// New creates a Dispatcher that calls p. Caching is off unless WithCache is
// given.
func New(p provider.Provider, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		provider: p,
		policy:   retry.DefaultPolicy(),
		logger:   logger.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.notify == nil {
		log := d.logger
		d.notify = func(msg string) { log.Warn(msg) }
	}
	d.policy.Notify = d.notify
	return d
}

// Send performs a single completion. Non-streaming requests are served from
// the cache when possible, and a miss is stored before returning. Streaming
// requests never touch the cache. Errors are returned unretried.
func (d *Dispatcher) Send(ctx context.Context, req *models.CompletionRequest) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	key, err := cache.Key(req)
	if err != nil {
		return nil, err
	}

	log := d.logger.With("request_id", uuid.NewString(), "model", req.Model, "key", key)

	if req.Stream || d.cache == nil {
		log.Debug("sending uncached", "stream", req.Stream)
		resp, err := d.provider.Complete(ctx, req)
		if err != nil {
			return nil, err
		}
		return &Result{Key: key, Response: resp}, nil
	}

	return d.sendShared(ctx, log, key, req)
}

// sendShared collapses concurrent misses for key into one provider call.
// Each caller waits on its own context. A caller that joined a flight which
// failed on another caller's context starts a new flight.
func (d *Dispatcher) sendShared(ctx context.Context, log *slog.Logger, key string, req *models.CompletionRequest) (*Result, error) {
	for {
		ran := false
		ch := d.group.DoChan(key, func() (any, error) {
			ran = true
			return d.sendCached(ctx, log, key, req)
		})

		var r singleflight.Result
		select {
		case <-ctx.Done():
			return nil, context.Cause(ctx)
		case r = <-ch:
		}

		if r.Err != nil {
			if !ran && ctx.Err() == nil && isContextErr(r.Err) {
				log.Debug("shared flight cancelled, retrying")
				continue
			}
			return nil, r.Err
		}
		res := *r.Val.(*Result)
		if r.Shared {
			log.Debug("shared in-flight result")
		}
		return &res, nil
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (d *Dispatcher) sendCached(ctx context.Context, log *slog.Logger, key string, req *models.CompletionRequest) (*Result, error) {
	resp, ok, err := d.cache.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("cache get: %w", err)
	}
	if ok {
		log.Debug("cache hit")
		return &Result{Key: key, Response: resp, Cached: true}, nil
	}

	log.Debug("cache miss")
	resp, err = d.provider.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := d.cache.Put(ctx, key, resp); err != nil {
		return nil, fmt.Errorf("cache put: %w", err)
	}
	log.Debug("cache stored")
	return &Result{Key: key, Response: resp}, nil
}

// SendWithRetries calls Send, retrying transient provider failures on the
// dispatcher's backoff schedule. Each retry emits a notice. When the time
// budget runs out the last error is returned.
func (d *Dispatcher) SendWithRetries(ctx context.Context, req *models.CompletionRequest) (*Result, error) {
	return retry.Do(ctx, d.policy, provider.IsRetryable, func() (*Result, error) {
		return d.Send(ctx, req)
	})
}

// SimpleSend sends messages to model, then to each fallback in order, and
// returns the first choice's text from the first model that answers.
// A bad-request rejection or a malformed response moves on to the next
// model. When every model fails that way SimpleSend returns ok == false and
// a nil error. Any other failure is returned as is.
func (d *Dispatcher) SimpleSend(ctx context.Context, model string, messages []models.Message, fallbacks []string) (string, bool, error) {
	chain := router.Chain(model, fallbacks)
	for i, m := range chain {
		req := &models.CompletionRequest{Model: m, Messages: messages}

		content, err := d.complete(ctx, req)
		if err == nil {
			return content, true, nil
		}
		if !provider.IsRecoverable(err) {
			return "", false, err
		}

		d.notify(fmt.Sprintf("Error with model %s: %v", m, err))
		if i+1 < len(chain) {
			d.notify(fmt.Sprintf("Retrying with next model: %s", chain[i+1]))
			continue
		}
		d.notify("All models failed. Returning no result.")
	}
	return "", false, nil
}

func (d *Dispatcher) complete(ctx context.Context, req *models.CompletionRequest) (string, error) {
	res, err := d.SendWithRetries(ctx, req)
	if err != nil {
		return "", err
	}
	return Content(res.Response)
}

// Content returns the text of the first choice. A response without choices
// or without a message is a provider.KindMalformedResponse error.
func Content(resp *models.CompletionResponse) (string, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return "", &provider.Error{
			Kind: provider.KindMalformedResponse,
			Err:  fmt.Errorf("no choices: %w", provider.ErrMalformedResponse),
		}
	}
	msg := resp.Choices[0].Message
	if msg == nil {
		return "", &provider.Error{
			Kind: provider.KindMalformedResponse,
			Err:  fmt.Errorf("first choice has no message: %w", provider.ErrMalformedResponse),
		}
	}
	return msg.Content, nil
}

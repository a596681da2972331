// Package openai adapts the OpenAI chat completion streaming API onto the
// raw event stream the run loop consumes.
package openai

import (
	"context"
	"io"
	"net/http"

	"github.com/pkg/errors"
	go_openai "github.com/sashabaranov/go-openai"

	"github.com/go-go-golems/stromboli/pkg/inference/engine"
)

// Engine streams chat completions for one OpenAI model. The model id on the
// paired ModelSpec should match the one given here; per-model headers reach
// the API through the request options.
type Engine struct {
	model      string
	apiKey     string
	baseURL    string
	orgID      string
	httpClient *http.Client
}

type Option func(*Engine)

func WithBaseURL(url string) Option {
	return func(e *Engine) { e.baseURL = url }
}

func WithOrgID(orgID string) Option {
	return func(e *Engine) { e.orgID = orgID }
}

func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) { e.httpClient = c }
}

func NewEngine(apiKey, model string, opts ...Option) *Engine {
	e := &Engine{model: model, apiKey: apiKey}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var _ engine.Engine = (*Engine)(nil)

// headerTransport injects per-run headers; the client library has no
// per-request header support.
type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

func (e *Engine) client(headers map[string]string) *go_openai.Client {
	cfg := go_openai.DefaultConfig(e.apiKey)
	if e.baseURL != "" {
		cfg.BaseURL = e.baseURL
	}
	if e.orgID != "" {
		cfg.OrgID = e.orgID
	}
	httpClient := e.httpClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if len(headers) > 0 {
		wrapped := *httpClient
		wrapped.Transport = &headerTransport{base: httpClient.Transport, headers: headers}
		httpClient = &wrapped
	}
	cfg.HTTPClient = httpClient
	return go_openai.NewClientWithConfig(cfg)
}

// Stream issues the chat completion request and translates the provider
// chunks into raw events on the returned channel.
func (e *Engine) Stream(ctx context.Context, req *engine.Request) (<-chan engine.RawEvent, error) {
	oreq, err := makeRequest(e.model, req)
	if err != nil {
		return nil, err
	}

	stream, err := e.client(req.Headers).CreateChatCompletionStream(ctx, oreq)
	if err != nil {
		return nil, errors.Wrap(err, "openai: create chat completion stream")
	}

	out := make(chan engine.RawEvent)
	go func() {
		defer close(out)
		defer stream.Close()

		tr := newTranslator(e.model, req.RawPassthrough)
		for {
			chunk, rerr := stream.Recv()
			if errors.Is(rerr, io.EOF) {
				break
			}
			if rerr != nil {
				emit(ctx, out, engine.RawEvent{Kind: engine.RawKindError, Err: rerr})
				return
			}
			for _, ev := range tr.feed(&chunk) {
				if !emit(ctx, out, ev) {
					return
				}
			}
		}
		for _, ev := range tr.finish() {
			if !emit(ctx, out, ev) {
				return
			}
		}
	}()
	return out, nil
}

func emit(ctx context.Context, out chan<- engine.RawEvent, ev engine.RawEvent) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

package tracker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"golang.org/x/time/rate"
)

// Transport delivers a hit to the collector. Implementations make a
// single attempt.
type Transport interface {
	Send(ctx context.Context, hit Hit) error
}

// HTTPTransport sends hits as GET requests to the configured endpoint.
type HTTPTransport struct {
	Client        *http.Client
	endpoint      string
	fireAndForget bool
	limiter       *rate.Limiter
	log           *slog.Logger
}

func NewHTTPTransport(cfg Config) *HTTPTransport {
	t := &HTTPTransport{
		Client:        &http.Client{Timeout: cfg.RequestTimeout},
		endpoint:      cfg.EndpointURL(),
		fireAndForget: cfg.FireAndForget,
		log:           loggerOrDiscard(cfg.Logger).With(slog.String("component", "HTTPTransport")),
	}
	if cfg.MaxHitsPerSecond > 0 {
		burst := int(cfg.MaxHitsPerSecond)
		if burst < 1 {
			burst = 1
		}
		t.limiter = rate.NewLimiter(rate.Limit(cfg.MaxHitsPerSecond), burst)
	}
	return t
}

// URL is the full request URL for hit.
func (t *HTTPTransport) URL(hit Hit) string {
	return t.endpoint + "?" + hit.Params.QueryString()
}

func (t *HTTPTransport) Send(ctx context.Context, hit Hit) error {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return &TransportError{URL: t.endpoint, Err: err}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.URL(hit), nil)
	if err != nil {
		return &TransportError{URL: t.endpoint, Err: err}
	}
	if hit.UserAgent != "" {
		req.Header.Set("User-Agent", hit.UserAgent)
	}
	if hit.ForwardedFor != "" {
		req.Header.Set("X-Forwarded-For", hit.ForwardedFor)
	}

	if t.fireAndForget {
		// Detach from the caller's cancellation; the client timeout still applies.
		req = req.WithContext(context.WithoutCancel(ctx))
		go func() {
			if err := t.do(req); err != nil {
				t.log.Warn("Fire-and-forget hit failed", slog.Any("error", err), slog.String("type", hit.Type.String()))
			}
		}()
		return nil
	}
	return t.do(req)
}

func (t *HTTPTransport) do(req *http.Request) error {
	resp, err := t.Client.Do(req)
	if err != nil {
		return &TransportError{URL: t.endpoint, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &TransportError{
			URL:        t.endpoint,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %s", resp.Status),
		}
	}
	t.log.Debug("Hit delivered", slog.Int("status", resp.StatusCode))
	return nil
}

// Package upstream implements the two upstream-client wire variants (OpenAI
// Chat Completions, Anthropic Messages) behind one interface, with the
// key-rotation-aware retry loop described for the upstream client component:
// an attempt fails over to the next key only on 401/403/429 or an
// "insufficient_quota" detail, and only before the first streamed byte has
// been forwarded.
package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/vandamme/llm-gateway/internal/config"
	"github.com/vandamme/llm-gateway/internal/gwerrors"
)

// NextKeyFunc returns the next candidate key not already in exclude, or an
// error (typically *keyrotator.ErrExhausted) when none remain.
type NextKeyFunc func(exclude map[string]bool) (string, error)

// TokenSource supplies OAuth bearer tokens for providers configured with
// AuthOAuth. The actual authorization flow is an external collaborator; this
// interface is the only seam the upstream client needs.
type TokenSource interface {
	Token(ctx context.Context, provider string) (accessToken, accountID string, err error)
}

// StaticTokenSource returns a fixed token/account pair per provider,
// standing in for the real authorization-code/PKCE flow, which is an
// external collaborator outside the gateway core.
type StaticTokenSource struct {
	Tokens map[string]struct{ AccessToken, AccountID string }
}

func (s StaticTokenSource) Token(_ context.Context, provider string) (string, string, error) {
	t, ok := s.Tokens[provider]
	if !ok {
		return "", "", fmt.Errorf("no static oauth token configured for provider %q", provider)
	}
	return t.AccessToken, t.AccountID, nil
}

// Client is the uniform interface both upstream wire variants implement.
type Client interface {
	// Unary performs one non-streaming call, rotating through keys on
	// auth/rate-limit failures up to len(keys) attempts.
	Unary(ctx context.Context, body []byte, requestID string, apiKey string, nextKey NextKeyFunc) (respBody []byte, status int, err error)

	// Stream performs one streaming call. Key rotation is only possible
	// before the first byte of the upstream body has been read by the
	// caller; ReadCloser is returned already connected to a 2xx response.
	Stream(ctx context.Context, body []byte, requestID string, apiKey string, nextKey NextKeyFunc) (io.ReadCloser, error)
}

// HTTPClient is the shared resty-backed implementation for both wire
// formats; the format only changes the endpoint path and the auth header.
type HTTPClient struct {
	provider    config.ProviderConfig
	rest        *resty.Client
	restStream  *resty.Client
	tokenSource TokenSource
	log         *zap.SugaredLogger
}

func NewHTTPClient(provider config.ProviderConfig, tokenSource TokenSource, log *zap.SugaredLogger) *HTTPClient {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &HTTPClient{
		provider:    provider,
		rest:        resty.New().SetTimeout(provider.Timeout),
		restStream:  resty.New().SetDoNotParseResponse(true),
		tokenSource: tokenSource,
		log:         log,
	}
}

func (c *HTTPClient) endpoint() string {
	switch c.provider.APIFormat {
	case config.FormatAnthropic:
		return c.provider.BaseURL + "/v1/messages"
	default:
		return c.provider.BaseURL + "/chat/completions"
	}
}

func (c *HTTPClient) applyAuth(ctx context.Context, req *resty.Request, apiKey string) error {
	for k, v := range c.provider.CustomHeaders {
		req.SetHeader(k, v)
	}

	switch {
	case c.provider.UsesOAuth():
		if c.tokenSource == nil {
			return fmt.Errorf("provider %q: oauth configured but no token source wired", c.provider.Name)
		}
		token, accountID, err := c.tokenSource.Token(ctx, c.provider.Name)
		if err != nil {
			return fmt.Errorf("fetch oauth token: %w", err)
		}
		req.SetHeader("Authorization", "Bearer "+token)
		if accountID != "" {
			req.SetHeader("X-Account-Id", accountID)
		}
	case c.provider.APIFormat == config.FormatAnthropic:
		req.SetHeader("x-api-key", apiKey)
		req.SetHeader("anthropic-version", "2023-06-01")
	default:
		req.SetHeader("Authorization", "Bearer "+apiKey)
	}

	if c.provider.APIFormat == config.FormatAnthropic && !c.provider.UsesOAuth() {
		req.SetHeader("anthropic-version", "2023-06-01")
	}
	req.SetHeader("Content-Type", "application/json")
	return nil
}

// Unary tries the initial key, then each key nextKey yields, until a call
// succeeds or nextKey reports none remain (len(keys) attempts in all with
// the key rotator), failing over only on auth/rate-limit style errors.
func (c *HTTPClient) Unary(ctx context.Context, body []byte, requestID, apiKey string, nextKey NextKeyFunc) ([]byte, int, error) {
	excluded := make(map[string]bool)
	currentKey := apiKey

	for {
		req := c.rest.R().
			SetContext(ctx).
			SetBody(body).
			SetHeader("X-Request-Id", requestID)
		if err := c.applyAuth(ctx, req, currentKey); err != nil {
			return nil, 0, gwerrors.New(gwerrors.Unexpected, "build upstream request", err)
		}

		resp, err := req.Post(c.endpoint())
		if err != nil {
			return nil, 0, gwerrors.New(gwerrors.Timeout, "upstream request failed", err)
		}

		status := resp.StatusCode()
		respBody := resp.Body()

		if status >= 200 && status < 300 {
			c.log.Infow("unary request succeeded", "provider", c.provider.Name, "request_id", requestID, "status", status)
			return respBody, status, nil
		}

		if !c.provider.UsesPassthrough() && !c.provider.UsesOAuth() && gwerrors.IsKeyFailure(status, string(respBody)) && nextKey != nil {
			excluded[currentKey] = true
			next, kerr := nextKey(excluded)
			if kerr == nil {
				c.log.Warnw("rotating api key after failed attempt", "provider", c.provider.Name, "request_id", requestID, "status", status)
				currentKey = next
				continue
			}
			c.log.Errorw("all api keys exhausted", "provider", c.provider.Name, "request_id", requestID, "status", status)
			return respBody, http.StatusTooManyRequests, gwerrors.Wrap(gwerrors.KeyExhaustion, http.StatusTooManyRequests, "all API keys exhausted", kerr)
		}

		kind := gwerrors.UpstreamError
		if status == 429 {
			kind = gwerrors.RateLimit
		} else if status == 401 || status == 403 {
			kind = gwerrors.Auth
		}
		c.log.Warnw("upstream returned non-2xx", "provider", c.provider.Name, "request_id", requestID, "status", status, "kind", kind)
		return respBody, status, gwerrors.Wrap(kind, status, "upstream returned non-2xx", fmt.Errorf("%s", strings.TrimSpace(string(respBody))))
	}
}

// Stream opens a streaming connection, rotating keys before any byte of the
// body is returned to the caller. Once a 2xx ReadCloser is handed back, no
// further rotation is attempted for this request.
func (c *HTTPClient) Stream(ctx context.Context, body []byte, requestID, apiKey string, nextKey NextKeyFunc) (io.ReadCloser, error) {
	excluded := make(map[string]bool)
	currentKey := apiKey

	for {
		req := c.restStream.R().
			SetContext(ctx).
			SetBody(body).
			SetHeader("X-Request-Id", requestID)
		if err := c.applyAuth(ctx, req, currentKey); err != nil {
			return nil, gwerrors.New(gwerrors.Unexpected, "build upstream request", err)
		}

		resp, err := req.Post(c.endpoint())
		if err != nil {
			return nil, gwerrors.New(gwerrors.Timeout, "upstream stream request failed", err)
		}

		status := resp.StatusCode()
		if status >= 200 && status < 300 {
			c.log.Infow("stream opened", "provider", c.provider.Name, "request_id", requestID, "status", status)
			return resp.RawBody(), nil
		}

		errBody, _ := io.ReadAll(resp.RawBody())
		resp.RawBody().Close()

		if !c.provider.UsesPassthrough() && !c.provider.UsesOAuth() && gwerrors.IsKeyFailure(status, string(errBody)) && nextKey != nil {
			excluded[currentKey] = true
			next, kerr := nextKey(excluded)
			if kerr == nil {
				c.log.Warnw("rotating api key before stream opened", "provider", c.provider.Name, "request_id", requestID, "status", status)
				currentKey = next
				continue
			}
			c.log.Errorw("all api keys exhausted", "provider", c.provider.Name, "request_id", requestID, "status", status)
			return nil, gwerrors.Wrap(gwerrors.KeyExhaustion, http.StatusTooManyRequests, "all API keys exhausted", kerr)
		}

		kind := gwerrors.UpstreamError
		if status == 429 {
			kind = gwerrors.RateLimit
		} else if status == 401 || status == 403 {
			kind = gwerrors.Auth
		}
		c.log.Warnw("upstream stream returned non-2xx", "provider", c.provider.Name, "request_id", requestID, "status", status, "kind", kind)
		return nil, gwerrors.Wrap(kind, status, "upstream stream returned non-2xx", fmt.Errorf("%s", strings.TrimSpace(string(errBody))))
	}
}

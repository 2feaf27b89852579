package upstream

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vandamme/llm-gateway/internal/config"
	"github.com/vandamme/llm-gateway/internal/gwerrors"
)

func newTestProvider(baseURL string, format config.APIFormat) config.ProviderConfig {
	return config.ProviderConfig{
		Name:      "testprov",
		BaseURL:   baseURL,
		APIFormat: format,
		AuthMode:  config.AuthAPIKey,
		APIKeys:   []string{"key-a", "key-b"},
	}
}

func TestHTTPClient_Unary_SucceedsOnFirstKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key-a", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(newTestProvider(srv.URL, config.FormatOpenAI), nil, nil)
	body, status, err := c.Unary(context.Background(), []byte(`{}`), "req-1", "key-a", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"ok":true}`, string(body))
}

func TestHTTPClient_Unary_RotatesKeyOn401ThenSucceeds(t *testing.T) {
	var seenKeys []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenKeys = append(seenKeys, r.Header.Get("Authorization"))
		if len(seenKeys) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"bad key"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(newTestProvider(srv.URL, config.FormatOpenAI), nil, nil)
	next := func(exclude map[string]bool) (string, error) {
		assert.True(t, exclude["key-a"])
		return "key-b", nil
	}

	body, status, err := c.Unary(context.Background(), []byte(`{}`), "req-1", "key-a", next)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"ok":true}`, string(body))
	assert.Equal(t, []string{"Bearer key-a", "Bearer key-b"}, seenKeys)
}

func TestHTTPClient_Unary_KeyExhaustionWrapsRotatorError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(newTestProvider(srv.URL, config.FormatOpenAI), nil, nil)
	next := func(exclude map[string]bool) (string, error) {
		return "", gwerrors.New(gwerrors.KeyExhaustion, "exhausted", nil)
	}

	_, status, err := c.Unary(context.Background(), []byte(`{}`), "req-1", "key-a", next)
	assert.Equal(t, http.StatusTooManyRequests, status)
	gwErr, ok := gwerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, gwerrors.KeyExhaustion, gwErr.Kind)
}

func TestHTTPClient_Unary_NonKeyFailureDoesNotRotate(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"bad request"}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(newTestProvider(srv.URL, config.FormatOpenAI), nil, nil)
	next := func(exclude map[string]bool) (string, error) {
		t.Fatal("nextKey should not be called for a non-key-failure status")
		return "", nil
	}

	_, status, err := c.Unary(context.Background(), []byte(`{}`), "req-1", "key-a", next)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, 1, calls)
	gwErr, ok := gwerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, gwerrors.UpstreamError, gwErr.Kind)
}

func TestHTTPClient_Unary_PassthroughNeverRotates(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"bad key"}`))
	}))
	defer srv.Close()

	provider := newTestProvider(srv.URL, config.FormatOpenAI)
	provider.AuthMode = config.AuthPassthrough
	c := NewHTTPClient(provider, nil, nil)
	next := func(exclude map[string]bool) (string, error) {
		t.Fatal("nextKey should not be called for a passthrough provider")
		return "", nil
	}

	_, status, err := c.Unary(context.Background(), []byte(`{}`), "req-1", "client-key", next)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, 1, calls)
	require.Error(t, err)
}

func TestHTTPClient_Unary_AnthropicFormatSetsHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key-a", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))
		assert.Equal(t, "/v1/messages", r.URL.Path)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(newTestProvider(srv.URL, config.FormatAnthropic), nil, nil)
	_, status, err := c.Unary(context.Background(), []byte(`{}`), "req-1", "key-a", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
}

func TestHTTPClient_Unary_CustomHeadersApplied(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "v1", r.Header.Get("X-Custom"))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	provider := newTestProvider(srv.URL, config.FormatOpenAI)
	provider.CustomHeaders = map[string]string{"X-Custom": "v1"}
	c := NewHTTPClient(provider, nil, nil)
	_, _, err := c.Unary(context.Background(), []byte(`{}`), "req-1", "key-a", nil)
	require.NoError(t, err)
}

func TestHTTPClient_Stream_ReturnsBodyOnSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("data: hello\n\n"))
	}))
	defer srv.Close()

	c := NewHTTPClient(newTestProvider(srv.URL, config.FormatOpenAI), nil, nil)
	rc, err := c.Stream(context.Background(), []byte(`{}`), "req-1", "key-a", nil)
	require.NoError(t, err)
	defer rc.Close()

	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "data: hello\n\n", string(b))
}

func TestHTTPClient_Stream_RotatesKeyBeforeFirstByte(t *testing.T) {
	attempt := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempt++
		if attempt == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"bad key"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("data: ok\n\n"))
	}))
	defer srv.Close()

	c := NewHTTPClient(newTestProvider(srv.URL, config.FormatOpenAI), nil, nil)
	next := func(exclude map[string]bool) (string, error) { return "key-b", nil }

	rc, err := c.Stream(context.Background(), []byte(`{}`), "req-1", "key-a", next)
	require.NoError(t, err)
	defer rc.Close()
	assert.Equal(t, 2, attempt)
}

func TestHTTPClient_Stream_OAuthUsesTokenSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer access-123", r.Header.Get("Authorization"))
		assert.Equal(t, "acct-1", r.Header.Get("X-Account-Id"))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("data: ok\n\n"))
	}))
	defer srv.Close()

	provider := newTestProvider(srv.URL, config.FormatOpenAI)
	provider.AuthMode = config.AuthOAuth
	provider.APIKeys = nil
	tokenSource := StaticTokenSource{Tokens: map[string]struct{ AccessToken, AccountID string }{
		"testprov": {AccessToken: "access-123", AccountID: "acct-1"},
	}}
	c := NewHTTPClient(provider, tokenSource, nil)

	rc, err := c.Stream(context.Background(), []byte(`{}`), "req-1", "", nil)
	require.NoError(t, err)
	rc.Close()
}

func TestHTTPClient_Stream_MissingOAuthTokenSourceErrors(t *testing.T) {
	provider := newTestProvider("http://example.invalid", config.FormatOpenAI)
	provider.AuthMode = config.AuthOAuth
	provider.APIKeys = nil
	c := NewHTTPClient(provider, nil, nil)

	_, err := c.Stream(context.Background(), []byte(`{}`), "req-1", "", nil)
	require.Error(t, err)
}

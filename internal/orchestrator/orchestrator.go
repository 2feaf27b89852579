// Package orchestrator ties the alias resolver, provider registry, key
// rotator, upstream clients, and format translators into the per-request
// flow described for the request orchestrator: resolve, build the upstream
// request, dispatch unary or streaming, translate the response, and
// finalize metrics exactly once regardless of how the request ends.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vandamme/llm-gateway/internal/alias"
	"github.com/vandamme/llm-gateway/internal/config"
	"github.com/vandamme/llm-gateway/internal/gwerrors"
	"github.com/vandamme/llm-gateway/internal/keyrotator"
	"github.com/vandamme/llm-gateway/internal/metrics"
	"github.com/vandamme/llm-gateway/internal/registry"
	"github.com/vandamme/llm-gateway/internal/streaming"
	"github.com/vandamme/llm-gateway/internal/translate"
	"github.com/vandamme/llm-gateway/internal/upstream"
)

// Orchestrator is built once at startup from the bottom-up dependency chain
// (config -> registry -> rotator -> clients -> alias table -> resolver) and
// handles every request thereafter; it holds no per-request state itself.
type Orchestrator struct {
	cfg      *config.Config
	registry *registry.Registry
	resolver *alias.Chain
	aliases  alias.Table
	rotator  *keyrotator.Rotator
	clients  map[string]upstream.Client
	sink     metrics.Sink
	log      *zap.SugaredLogger
}

func New(cfg *config.Config, reg *registry.Registry, resolver *alias.Chain, aliases alias.Table, rotator *keyrotator.Rotator, clients map[string]upstream.Client, sink metrics.Sink, log *zap.SugaredLogger) *Orchestrator {
	if sink == nil {
		sink = metrics.NoopSink{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Orchestrator{cfg: cfg, registry: reg, resolver: resolver, aliases: aliases, rotator: rotator, clients: clients, sink: sink, log: log}
}

func (o *Orchestrator) resolveModel(clientModel, scopeProvider string) (config.ProviderConfig, string, error) {
	result := o.resolver.Resolve(alias.Context{
		Model:           clientModel,
		Provider:        scopeProvider,
		DefaultProvider: o.cfg.DefaultProvider,
		Aliases:         o.aliases,
	})
	provider, err := o.registry.Get(result.Provider)
	if err != nil {
		return config.ProviderConfig{}, "", gwerrors.New(gwerrors.Validation, fmt.Sprintf("unknown provider %q for model %q", result.Provider, clientModel), err)
	}
	return provider, result.ResolvedModel, nil
}

func (o *Orchestrator) nextKeyFunc(provider config.ProviderConfig) upstream.NextKeyFunc {
	return func(exclude map[string]bool) (string, error) {
		return o.rotator.Next(provider.Name, provider.APIKeys, exclude)
	}
}

func (o *Orchestrator) initialKey(provider config.ProviderConfig, clientAPIKey string) (string, error) {
	switch {
	case provider.UsesPassthrough():
		if clientAPIKey == "" {
			return "", gwerrors.New(gwerrors.Auth, "provider requires passthrough but no client API key was supplied", nil)
		}
		return clientAPIKey, nil
	case provider.UsesOAuth():
		return "", nil
	default:
		return o.rotator.Next(provider.Name, provider.APIKeys, nil)
	}
}

func (o *Orchestrator) client(provider config.ProviderConfig) (upstream.Client, error) {
	c, ok := o.clients[provider.Name]
	if !ok {
		return nil, gwerrors.New(gwerrors.Unexpected, fmt.Sprintf("no upstream client wired for provider %q", provider.Name), nil)
	}
	return c, nil
}

// HandleAnthropicMessages serves POST /v1/messages: the client speaks
// Anthropic Messages; the resolved provider may speak either format.
func (o *Orchestrator) HandleAnthropicMessages(ctx context.Context, w http.ResponseWriter, req translate.AnthropicRequest, clientAPIKey string, disconnected func() bool) {
	rc := &RequestContext{RequestID: uuid.New().String(), ClientModel: req.Model, ClientFormat: config.FormatAnthropic, IsStreaming: req.Stream, StartTime: time.Now(), ClientAPIKey: clientAPIKey}
	m := &RequestMetrics{RequestID: rc.RequestID, IsStreaming: rc.IsStreaming, StartTime: rc.StartTime}
	o.sink.RequestStarted()
	defer o.sink.RequestFinished()

	provider, model, err := o.resolveModel(req.Model, "")
	if err != nil {
		o.log.Warnw("model resolution failed", "request_id", rc.RequestID, "model", req.Model, "error", err)
		o.writeJSONError(w, err, m)
		return
	}
	rc.Provider = provider
	rc.ResolvedModel = model
	m.Provider = provider.Name
	m.ResolvedModel = model
	req.Model = model
	o.log.Infow("resolved anthropic request", "request_id", rc.RequestID, "provider", provider.Name, "model", model, "streaming", rc.IsStreaming)

	client, err := o.client(provider)
	if err != nil {
		o.log.Errorw("no upstream client wired", "request_id", rc.RequestID, "provider", provider.Name, "error", err)
		o.writeJSONError(w, err, m)
		return
	}
	key, err := o.initialKey(provider, clientAPIKey)
	if err != nil {
		o.log.Warnw("key selection failed", "request_id", rc.RequestID, "provider", provider.Name, "error", err)
		o.writeJSONError(w, err, m)
		return
	}

	var body []byte

	switch provider.APIFormat {
	case config.FormatAnthropic:
		tools := req.Tools
		if provider.ToolNameSanitize {
			tools, rc.ToolNameByWireName = sanitizeToolNames(tools)
		}
		req.Tools = tools
		body, err = json.Marshal(req)
	default:
		openaiReq, terr := translate.AnthropicRequestToOpenAI(req)
		if terr != nil {
			err = terr
			break
		}
		if provider.ToolNameSanitize {
			openaiReq.Tools, rc.ToolNameByWireName = sanitizeOpenAITools(openaiReq.Tools)
		}
		body, err = json.Marshal(openaiReq)
	}
	if err != nil {
		o.writeJSONError(w, err, m)
		return
	}

	if req.Stream {
		o.streamToAnthropicClient(ctx, w, client, rc, body, key, disconnected, m)
		return
	}
	o.unaryToAnthropicClient(ctx, w, client, rc, body, key, m)
}

// HandleOpenAIChatCompletions serves POST /v1/chat/completions, symmetric
// to HandleAnthropicMessages with client and provider formats swapped.
func (o *Orchestrator) HandleOpenAIChatCompletions(ctx context.Context, w http.ResponseWriter, req translate.OpenAIRequest, clientAPIKey string, disconnected func() bool) {
	rc := &RequestContext{RequestID: uuid.New().String(), ClientModel: req.Model, ClientFormat: config.FormatOpenAI, IsStreaming: req.Stream, StartTime: time.Now(), ClientAPIKey: clientAPIKey}
	m := &RequestMetrics{RequestID: rc.RequestID, IsStreaming: rc.IsStreaming, StartTime: rc.StartTime}
	o.sink.RequestStarted()
	defer o.sink.RequestFinished()

	provider, model, err := o.resolveModel(req.Model, "")
	if err != nil {
		o.log.Warnw("model resolution failed", "request_id", rc.RequestID, "model", req.Model, "error", err)
		o.writeJSONError(w, err, m)
		return
	}
	rc.Provider = provider
	rc.ResolvedModel = model
	m.Provider = provider.Name
	m.ResolvedModel = model
	req.Model = model
	o.log.Infow("resolved openai request", "request_id", rc.RequestID, "provider", provider.Name, "model", model, "streaming", rc.IsStreaming)

	client, err := o.client(provider)
	if err != nil {
		o.log.Errorw("no upstream client wired", "request_id", rc.RequestID, "provider", provider.Name, "error", err)
		o.writeJSONError(w, err, m)
		return
	}
	key, err := o.initialKey(provider, clientAPIKey)
	if err != nil {
		o.log.Warnw("key selection failed", "request_id", rc.RequestID, "provider", provider.Name, "error", err)
		o.writeJSONError(w, err, m)
		return
	}

	var body []byte

	switch provider.APIFormat {
	case config.FormatOpenAI:
		tools := req.Tools
		if provider.ToolNameSanitize {
			tools, rc.ToolNameByWireName = sanitizeOpenAITools(tools)
		}
		req.Tools = tools
		body, err = json.Marshal(req)
	default:
		anthropicReq, terr := translate.OpenAIRequestToAnthropic(req)
		if terr != nil {
			err = terr
			break
		}
		if provider.ToolNameSanitize {
			anthropicReq.Tools, rc.ToolNameByWireName = sanitizeToolNames(anthropicReq.Tools)
		}
		body, err = json.Marshal(anthropicReq)
	}
	if err != nil {
		o.writeJSONError(w, err, m)
		return
	}

	if req.Stream {
		o.streamToOpenAIClient(ctx, w, client, rc, body, key, disconnected, m)
		return
	}
	o.unaryToOpenAIClient(ctx, w, client, rc, body, key, m)
}

// HandleCountTokens serves POST /v1/messages/count_tokens with a
// character-based fallback estimate (~4 chars/token, minimum 1); using the
// upstream provider's own counting endpoint is left as a provider-specific
// extension since none of the configured wire formats expose one uniformly.
func (o *Orchestrator) HandleCountTokens(req translate.AnthropicRequest) int {
	chars := len(req.System)
	for _, msg := range req.Messages {
		for _, block := range msg.Content {
			chars += len(block.Text)
			chars += len(block.Input)
		}
	}
	tokens := chars / 4
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}

func (o *Orchestrator) unaryToAnthropicClient(ctx context.Context, w http.ResponseWriter, client upstream.Client, rc *RequestContext, body []byte, key string, m *RequestMetrics) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.RequestTimeout)
	defer cancel()

	respBody, status, err := client.Unary(ctx, body, rc.RequestID, key, o.nextKeyFunc(rc.Provider))
	if err != nil {
		o.log.Warnw("unary upstream call failed", "request_id", rc.RequestID, "provider", rc.Provider.Name, "model", rc.ResolvedModel, "error", err)
		o.writeJSONError(w, err, m)
		return
	}

	var out translate.AnthropicResponse
	switch rc.Provider.APIFormat {
	case config.FormatAnthropic:
		if jsonErr := json.Unmarshal(respBody, &out); jsonErr != nil {
			o.writeJSONError(w, gwerrors.New(gwerrors.UpstreamError, "malformed upstream response", jsonErr), m)
			return
		}
		restoreToolNames(out, rc.ToolNameByWireName)
	default:
		var openaiResp translate.OpenAIResponse
		if jsonErr := json.Unmarshal(respBody, &openaiResp); jsonErr != nil {
			o.writeJSONError(w, gwerrors.New(gwerrors.UpstreamError, "malformed upstream response", jsonErr), m)
			return
		}
		out = translate.OpenAIResponseToAnthropic(openaiResp, rc.ToolNameByWireName)
	}

	m.InputTokens = out.Usage.InputTokens
	m.OutputTokens = out.Usage.OutputTokens
	m.CacheReadTokens = out.Usage.CacheReadInputTokens
	m.CacheCreationTokens = out.Usage.CacheCreationInputTokens
	m.finalize("", "")
	o.recordSuccess(m)
	o.log.Infow("request succeeded", "request_id", rc.RequestID, "provider", rc.Provider.Name, "model", rc.ResolvedModel, "input_tokens", m.InputTokens, "output_tokens", m.OutputTokens)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(out)
}

func (o *Orchestrator) unaryToOpenAIClient(ctx context.Context, w http.ResponseWriter, client upstream.Client, rc *RequestContext, body []byte, key string, m *RequestMetrics) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.RequestTimeout)
	defer cancel()

	respBody, status, err := client.Unary(ctx, body, rc.RequestID, key, o.nextKeyFunc(rc.Provider))
	if err != nil {
		o.log.Warnw("unary upstream call failed", "request_id", rc.RequestID, "provider", rc.Provider.Name, "model", rc.ResolvedModel, "error", err)
		o.writeJSONError(w, err, m)
		return
	}

	var out translate.OpenAIResponse
	switch rc.Provider.APIFormat {
	case config.FormatOpenAI:
		if jsonErr := json.Unmarshal(respBody, &out); jsonErr != nil {
			o.writeJSONError(w, gwerrors.New(gwerrors.UpstreamError, "malformed upstream response", jsonErr), m)
			return
		}
		restoreOpenAIToolNames(out, rc.ToolNameByWireName)
	default:
		var anthropicResp translate.AnthropicResponse
		if jsonErr := json.Unmarshal(respBody, &anthropicResp); jsonErr != nil {
			o.writeJSONError(w, gwerrors.New(gwerrors.UpstreamError, "malformed upstream response", jsonErr), m)
			return
		}
		restoreToolNames(anthropicResp, rc.ToolNameByWireName)
		m.CacheReadTokens = anthropicResp.Usage.CacheReadInputTokens
		m.CacheCreationTokens = anthropicResp.Usage.CacheCreationInputTokens
		out = translate.AnthropicResponseToOpenAI(anthropicResp)
	}

	m.InputTokens = out.Usage.PromptTokens
	m.OutputTokens = out.Usage.CompletionTokens
	if len(out.Choices) > 0 {
		m.ToolCallCount = len(out.Choices[0].Message.ToolCalls)
	}
	m.finalize("", "")
	o.recordSuccess(m)
	o.log.Infow("request succeeded", "request_id", rc.RequestID, "provider", rc.Provider.Name, "model", rc.ResolvedModel, "input_tokens", m.InputTokens, "output_tokens", m.OutputTokens)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(out)
}

func (o *Orchestrator) streamToAnthropicClient(ctx context.Context, w http.ResponseWriter, client upstream.Client, rc *RequestContext, body []byte, key string, disconnected func() bool, m *RequestMetrics) {
	streamCtx, cancel := o.connectTimeoutContext(ctx, rc.Provider)
	upstreamBody, err := client.Stream(streamCtx, body, rc.RequestID, key, o.nextKeyFunc(rc.Provider))
	if err != nil {
		cancel()
		o.log.Warnw("stream open failed", "request_id", rc.RequestID, "provider", rc.Provider.Name, "model", rc.ResolvedModel, "error", err)
		o.writeJSONError(w, err, m)
		return
	}
	defer upstreamBody.Close()
	defer cancel()

	o.writeSSEHeaders(w)
	cancelUpstream := streaming.CancelFunc(cancel)

	switch rc.Provider.APIFormat {
	case config.FormatAnthropic:
		err = streaming.RawRelay(upstreamBody, w, disconnected, cancelUpstream)
	default:
		err = streaming.OpenAIToAnthropic(upstreamBody, w, rc.RequestID, rc.ResolvedModel, rc.ToolNameByWireName, disconnected, cancelUpstream)
	}
	o.finalizeStream(rc, m, err)
}

func (o *Orchestrator) streamToOpenAIClient(ctx context.Context, w http.ResponseWriter, client upstream.Client, rc *RequestContext, body []byte, key string, disconnected func() bool, m *RequestMetrics) {
	streamCtx, cancel := o.connectTimeoutContext(ctx, rc.Provider)
	upstreamBody, err := client.Stream(streamCtx, body, rc.RequestID, key, o.nextKeyFunc(rc.Provider))
	if err != nil {
		cancel()
		o.log.Warnw("stream open failed", "request_id", rc.RequestID, "provider", rc.Provider.Name, "model", rc.ResolvedModel, "error", err)
		o.writeJSONError(w, err, m)
		return
	}
	defer upstreamBody.Close()
	defer cancel()

	o.writeSSEHeaders(w)
	cancelUpstream := streaming.CancelFunc(cancel)

	switch rc.Provider.APIFormat {
	case config.FormatOpenAI:
		err = streaming.RawRelay(upstreamBody, w, disconnected, cancelUpstream)
	default:
		err = streaming.AnthropicToOpenAI(upstreamBody, w, rc.RequestID, rc.ResolvedModel, disconnected, cancelUpstream)
	}
	o.finalizeStream(rc, m, err)
}

func (o *Orchestrator) connectTimeoutContext(ctx context.Context, provider config.ProviderConfig) (context.Context, context.CancelFunc) {
	if o.cfg.StreamingReadTimeout > 0 {
		return context.WithTimeout(ctx, o.cfg.StreamingReadTimeout)
	}
	return context.WithCancel(ctx)
}

func (o *Orchestrator) writeSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
}

func (o *Orchestrator) finalizeStream(rc *RequestContext, m *RequestMetrics, streamErr error) {
	errType := ""
	errMsg := ""
	if streamErr != nil {
		if gwErr, ok := gwerrors.As(streamErr); ok {
			errType = string(gwErr.Kind)
			errMsg = gwErr.Message
		} else {
			errType = string(gwerrors.Unexpected)
			errMsg = streamErr.Error()
		}
	}
	m.finalize(errType, errMsg)
	if errType == "" {
		o.recordSuccess(m)
		o.log.Infow("stream completed", "request_id", rc.RequestID, "provider", rc.Provider.Name, "model", rc.ResolvedModel)
	} else {
		o.recordFailure(m)
		o.log.Warnw("stream terminated with error", "request_id", rc.RequestID, "provider", rc.Provider.Name, "model", rc.ResolvedModel, "error_type", errType, "error", errMsg)
	}
}

func (o *Orchestrator) recordSuccess(m *RequestMetrics) {
	o.sink.RecordRequest(metrics.RequestOutcome{
		Provider: m.Provider, Model: m.ResolvedModel, Status: "success",
		IsStreaming: m.IsStreaming, DurationSeconds: m.EndTime.Sub(m.StartTime).Seconds(),
		InputTokens: m.InputTokens, OutputTokens: m.OutputTokens, ToolCallCount: m.ToolCallCount,
		CacheReadTokens: m.CacheReadTokens, CacheCreationTokens: m.CacheCreationTokens,
	})
}

func (o *Orchestrator) recordFailure(m *RequestMetrics) {
	o.sink.RecordRequest(metrics.RequestOutcome{
		Provider: m.Provider, Model: m.ResolvedModel, Status: "error",
		IsStreaming: m.IsStreaming, DurationSeconds: m.EndTime.Sub(m.StartTime).Seconds(),
		InputTokens: m.InputTokens, OutputTokens: m.OutputTokens, ToolCallCount: m.ToolCallCount,
		CacheReadTokens: m.CacheReadTokens, CacheCreationTokens: m.CacheCreationTokens,
		ErrorType: m.ErrorType,
	})
}

// writeJSONError writes the error envelope with the status carried by the
// *gwerrors.Error in err's chain: VALIDATION -> 400, KEY_EXHAUSTION -> 429
// "all API keys exhausted", TIMEOUT -> 504, an upstream non-2xx -> the
// upstream status. An error with no *gwerrors.Error in its chain is
// reported as UNEXPECTED -> 500.
func (o *Orchestrator) writeJSONError(w http.ResponseWriter, err error, m *RequestMetrics) {
	gwErr, ok := gwerrors.As(err)
	if !ok {
		gwErr = gwerrors.New(gwerrors.Unexpected, err.Error(), err)
	}
	m.finalize(string(gwErr.Kind), gwErr.Message)
	o.recordFailure(m)
	o.log.Warnw("request failed", "request_id", m.RequestID, "provider", m.Provider, "model", m.ResolvedModel, "error_type", gwErr.Kind, "error", gwErr.Message)

	status := gwErr.Status
	message := gwErr.Message

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"type": "error",
		"error": map[string]string{
			"type":    string(gwErr.Kind),
			"message": message,
		},
	})
}

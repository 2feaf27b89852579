package orchestrator

import (
	"time"

	"github.com/vandamme/llm-gateway/internal/config"
)

// RequestContext is owned exclusively by the orchestrator for the life of
// one request: created on ingress, torn down on the terminal event.
type RequestContext struct {
	RequestID         string
	ClientModel       string
	ClientFormat      config.APIFormat
	Provider          config.ProviderConfig
	ResolvedModel     string
	IsStreaming       bool
	StartTime         time.Time
	ClientAPIKey      string
	ToolNameByWireName map[string]string
}

// RequestMetrics mirrors the data model's RequestMetrics entity. EndTime is
// set exactly once, by finalize.
type RequestMetrics struct {
	RequestID          string
	Provider           string
	ResolvedModel       string
	IsStreaming         bool
	StartTime           time.Time
	EndTime             time.Time
	InputTokens         int
	OutputTokens        int
	CacheReadTokens     int
	CacheCreationTokens int
	ToolCallCount       int
	Error               string
	ErrorType           string
}

func (m *RequestMetrics) finalize(errType, errMsg string) {
	if !m.EndTime.IsZero() {
		return
	}
	m.EndTime = time.Now()
	m.ErrorType = errType
	m.Error = errMsg
}

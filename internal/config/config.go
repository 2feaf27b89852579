// Package config loads gateway configuration from environment variables with
// an optional TOML overlay, and builds the immutable ProviderConfig set and
// alias table the rest of the core depends on.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// AuthMode selects how a provider's credential is attached to upstream calls.
type AuthMode string

const (
	AuthAPIKey      AuthMode = "api_key"
	AuthPassthrough AuthMode = "passthrough"
	AuthOAuth       AuthMode = "oauth"
)

// APIFormat is the wire protocol a provider speaks.
type APIFormat string

const (
	FormatOpenAI    APIFormat = "openai"
	FormatAnthropic APIFormat = "anthropic"
)

const (
	passthroughSentinel = "!PASSTHRU"
	oauthSentinel       = "!OAUTH"
)

// ProviderConfig is the immutable, per-provider configuration the registry
// hands out to clients and the alias resolver. Built once at startup.
type ProviderConfig struct {
	Name             string
	BaseURL          string
	APIFormat        APIFormat
	AuthMode         AuthMode
	APIKeys          []string // ordered, >=1 unless Passthrough/OAuth
	CustomHeaders    map[string]string
	Timeout          time.Duration
	ToolNameSanitize bool
}

// UsesPassthrough reports whether the client-supplied key should be forwarded
// verbatim instead of rotated.
func (p ProviderConfig) UsesPassthrough() bool { return p.AuthMode == AuthPassthrough }

// UsesOAuth reports whether credentials come from an external token source.
func (p ProviderConfig) UsesOAuth() bool { return p.AuthMode == AuthOAuth }

// Alias maps a short name, scoped to a provider, to a target model reference
// (a bare model name or a "provider:model" pair).
type Alias struct {
	Provider string
	Name     string // lowercased
	Target   string
}

// Config is the fully resolved, immutable gateway configuration.
type Config struct {
	ProxyAPIKey     string
	DefaultProvider string
	Providers       map[string]ProviderConfig
	Aliases         []Alias

	RequestTimeout          time.Duration
	StreamingConnectTimeout time.Duration
	StreamingReadTimeout    time.Duration // zero means unlimited
	MaxRetries              int
}

// Load reads the environment and an optional TOML file (configPath, may be
// empty) and assembles the Config. Environment variables always take
// precedence over the TOML file, matching the original provider config
// loader's precedence rule.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")
	v.AutomaticEnv()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config %s: %w", configPath, err)
			}
		}
	}

	cfg := &Config{
		ProxyAPIKey:             firstNonEmpty(os.Getenv("PROXY_API_KEY"), v.GetString("proxy_api_key")),
		DefaultProvider:         firstNonEmpty(os.Getenv("VDM_DEFAULT_PROVIDER"), v.GetString("default_provider")),
		Providers:               make(map[string]ProviderConfig),
		RequestTimeout:          durationSecondsEnv("REQUEST_TIMEOUT", v, "request_timeout", 90),
		StreamingConnectTimeout: durationSecondsEnv("STREAMING_CONNECT_TIMEOUT_SECONDS", v, "streaming_connect_timeout_seconds", 10),
		MaxRetries:              intEnv("MAX_RETRIES", v, "max_retries", 2),
	}

	if d, ok := optionalDurationSecondsEnv("STREAMING_READ_TIMEOUT_SECONDS", v, "streaming_read_timeout_seconds"); ok {
		cfg.StreamingReadTimeout = d
	}

	names := scanProviderNames(v)
	for _, name := range names {
		pcfg, err := loadProvider(v, name)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", name, err)
		}
		cfg.Providers[name] = pcfg
		cfg.Aliases = append(cfg.Aliases, providerAliases(v, name)...)
	}

	return cfg, nil
}

// scanProviderNames discovers configured providers by scanning
// "<PROVIDER>_API_KEY" environment variables and the equivalent TOML table,
// mirroring ProviderConfigLoader.scan_providers.
func scanProviderNames(v *viper.Viper) []string {
	seen := make(map[string]bool)
	var names []string

	for _, e := range os.Environ() {
		k := e[:strings.IndexByte(e, '=')]
		if !strings.HasSuffix(k, "_API_KEY") {
			continue
		}
		name := strings.ToLower(strings.TrimSuffix(k, "_API_KEY"))
		if name == "" || name == "proxy" {
			continue
		}
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}

	if providers, ok := v.AllSettings()["providers"].(map[string]interface{}); ok {
		for name := range providers {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}

	return names
}

func loadProvider(v *viper.Viper, name string) (ProviderConfig, error) {
	upper := strings.ToUpper(name)
	tomlKey := "providers." + name

	rawKey := firstNonEmpty(os.Getenv(upper+"_API_KEY"), v.GetString(tomlKey+".api_key"))
	if rawKey == "" {
		return ProviderConfig{}, fmt.Errorf("no API key configured")
	}

	pcfg := ProviderConfig{
		Name:          name,
		CustomHeaders: customHeaders(v, upper, name),
	}

	switch rawKey {
	case passthroughSentinel:
		pcfg.AuthMode = AuthPassthrough
	case oauthSentinel:
		pcfg.AuthMode = AuthOAuth
	default:
		pcfg.AuthMode = AuthAPIKey
		pcfg.APIKeys = strings.Fields(rawKey)
		for _, k := range pcfg.APIKeys {
			if k == passthroughSentinel || k == oauthSentinel {
				return ProviderConfig{}, fmt.Errorf("sentinel %q cannot be mixed with real API keys", k)
			}
		}
		if len(pcfg.APIKeys) == 0 {
			return ProviderConfig{}, fmt.Errorf("no API key configured")
		}
	}

	baseURL := firstNonEmpty(os.Getenv(upper+"_BASE_URL"), v.GetString(tomlKey+".base_url"))
	if baseURL == "" {
		return ProviderConfig{}, fmt.Errorf("no base_url configured")
	}
	pcfg.BaseURL = strings.TrimRight(baseURL, "/")

	format := strings.ToLower(firstNonEmpty(os.Getenv(upper+"_API_FORMAT"), v.GetString(tomlKey+".api_format"), "openai"))
	switch APIFormat(format) {
	case FormatOpenAI, FormatAnthropic:
		pcfg.APIFormat = APIFormat(format)
	default:
		return ProviderConfig{}, fmt.Errorf("invalid api_format %q", format)
	}

	pcfg.Timeout = time.Duration(intEnvScoped(upper+"_REQUEST_TIMEOUT", v, tomlKey+".timeout", 90)) * time.Second
	pcfg.ToolNameSanitize = v.GetBool(tomlKey + ".tool_name_sanitize")

	return pcfg, nil
}

// customHeaders extracts "<PROVIDER>_CUSTOM_HEADER_<NAME>" environment
// variables, turning underscores in NAME into hyphens.
func customHeaders(v *viper.Viper, upperProvider, name string) map[string]string {
	headers := make(map[string]string)
	prefix := upperProvider + "_CUSTOM_HEADER_"
	for _, e := range os.Environ() {
		eq := strings.IndexByte(e, '=')
		k, val := e[:eq], e[eq+1:]
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		headerName := strings.ReplaceAll(strings.TrimPrefix(k, prefix), "_", "-")
		headers[headerName] = val
	}
	if raw, ok := v.Get("providers." + name + ".custom_headers").(map[string]interface{}); ok {
		for k, val := range raw {
			if _, exists := headers[k]; !exists {
				headers[k] = fmt.Sprint(val)
			}
		}
	}
	return headers
}

// providerAliases extracts "<PROVIDER>_ALIAS_<NAME>" environment variables.
func providerAliases(v *viper.Viper, name string) []Alias {
	var aliases []Alias
	prefix := strings.ToUpper(name) + "_ALIAS_"
	for _, e := range os.Environ() {
		eq := strings.IndexByte(e, '=')
		k, val := e[:eq], e[eq+1:]
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		aliasName := strings.ToLower(strings.TrimPrefix(k, prefix))
		aliases = append(aliases, Alias{Provider: name, Name: aliasName, Target: val})
	}
	if raw, ok := v.Get("providers." + name + ".aliases").(map[string]interface{}); ok {
		for k, val := range raw {
			aliases = append(aliases, Alias{Provider: name, Name: strings.ToLower(k), Target: fmt.Sprint(val)})
		}
	}
	return aliases
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func intEnv(envKey string, v *viper.Viper, tomlKey string, def int) int {
	return intEnvScoped(envKey, v, tomlKey, def)
}

func intEnvScoped(envKey string, v *viper.Viper, tomlKey string, def int) int {
	if raw := os.Getenv(envKey); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			return n
		}
	}
	if v.IsSet(tomlKey) {
		return v.GetInt(tomlKey)
	}
	return def
}

func durationSecondsEnv(envKey string, v *viper.Viper, tomlKey string, defSeconds int) time.Duration {
	return time.Duration(intEnvScoped(envKey, v, tomlKey, defSeconds)) * time.Second
}

// optionalDurationSecondsEnv returns ok=false when neither the env var nor
// the TOML key is set, signalling "unlimited" per the streaming read timeout
// rule.
func optionalDurationSecondsEnv(envKey string, v *viper.Viper, tomlKey string) (time.Duration, bool) {
	if raw := os.Getenv(envKey); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			return time.Duration(n) * time.Second, true
		}
	}
	if v.IsSet(tomlKey) {
		return time.Duration(v.GetInt(tomlKey)) * time.Second, true
	}
	return 0, false
}

// Command server runs the gateway: a format-translating proxy that fronts
// Anthropic Messages and OpenAI Chat Completions clients and routes each
// request to a configured upstream provider, rotating API keys on
// auth/rate-limit failure.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vandamme/llm-gateway/internal/alias"
	"github.com/vandamme/llm-gateway/internal/config"
	"github.com/vandamme/llm-gateway/internal/keyrotator"
	"github.com/vandamme/llm-gateway/internal/logger"
	"github.com/vandamme/llm-gateway/internal/metrics"
	"github.com/vandamme/llm-gateway/internal/orchestrator"
	"github.com/vandamme/llm-gateway/internal/registry"
	"github.com/vandamme/llm-gateway/internal/server"
	"github.com/vandamme/llm-gateway/internal/upstream"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	configPath := flag.String("config", "config.toml", "Path to an optional TOML config file; environment variables always win")
	addr := flag.String("addr", "", "Listen address, host:port (overrides ADDR/HOST/PORT env vars)")
	debugLog := flag.Bool("debug", false, "Enable development-mode (human-readable, colored) logging")
	metricsEnabled := flag.Bool("metrics", true, "Expose Prometheus metrics instead of a no-op sink")
	flag.Parse()

	printBanner()

	if err := logger.Init(*debugLog); err != nil {
		log.Printf("failed to init logger, using silent: %v", err)
		logger.InitSilent()
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if len(cfg.Providers) == 0 {
		log.Fatalf("no providers configured: set at least one <PROVIDER>_API_KEY")
	}

	reg := registry.New(cfg.Providers)
	rotator := keyrotator.New()

	// OAuth is represented by the TokenSource seam only; the real
	// authorization-code/PKCE flow is an external collaborator, so no
	// provider is wired with a token here until one exists.
	tokenSource := upstream.StaticTokenSource{Tokens: make(map[string]struct{ AccessToken, AccountID string })}
	clients := make(map[string]upstream.Client, len(cfg.Providers))
	for name, p := range cfg.Providers {
		clients[name] = upstream.NewHTTPClient(p, tokenSource, logger.Sugar)
	}

	aliasTable := buildAliasTable(cfg.Aliases)
	resolver := alias.NewChain()

	var sink metrics.Sink = metrics.NoopSink{}
	if *metricsEnabled {
		sink = metrics.NewPrometheusSink()
	}

	orch := orchestrator.New(cfg, reg, resolver, aliasTable, rotator, clients, sink, logger.Sugar)
	handler := server.New(orch, reg, aliasTable, cfg.ProxyAPIKey, logger.Logger)

	listenAddr := resolveAddr(*addr)
	httpServer := &http.Server{
		Addr:         listenAddr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming responses run indefinitely
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Sugar.Infof("gateway listening on %s (providers: %v)", listenAddr, reg.Names())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Fatalf("server forced to shutdown: %v", err)
	}
	logger.Logger.Info("server exited")
}

// buildAliasTable turns the flat alias list config.Load produces into the
// provider-then-name nested form the resolver chain consumes.
func buildAliasTable(aliases []config.Alias) alias.Table {
	table := make(alias.Table)
	for _, a := range aliases {
		if table[a.Provider] == nil {
			table[a.Provider] = make(map[string]string)
		}
		table[a.Provider][a.Name] = a.Target
	}
	return table
}

func resolveAddr(flagAddr string) string {
	if flagAddr != "" {
		return flagAddr
	}
	if full := os.Getenv("ADDR"); full != "" {
		return full
	}
	host := firstNonEmpty(os.Getenv("HOST"), "0.0.0.0")
	port := firstNonEmpty(os.Getenv("PORT"), "8080")
	return host + ":" + port
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func printBanner() {
	fmt.Println("llm-gateway v" + version + " (" + commit + ")")
}

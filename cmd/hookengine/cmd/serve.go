package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	stdhttp "net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/trace"

	inhttp "github.com/scmhooks/hookengine/internal/adapter/inbound/http"
	"github.com/scmhooks/hookengine/internal/adapter/outbound/acl"
	"github.com/scmhooks/hookengine/internal/adapter/outbound/memory"
	"github.com/scmhooks/hookengine/internal/adapter/outbound/sqlite"
	"github.com/scmhooks/hookengine/internal/config"
	"github.com/scmhooks/hookengine/internal/domain/adminauth"
	"github.com/scmhooks/hookengine/internal/domain/hook"
	"github.com/scmhooks/hookengine/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP driver",
	Long: `serve loads the configuration, wires the rule store, the verdict
cache, the access-control probe, and the Hook Manager, then starts the
reference HTTP driver until interrupted.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger := newLogger(cfg)
	if used := config.ConfigFileUsed(); used != "" {
		logger.Info("loaded config", "file", used)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := setupTelemetry(ctx, logger)
	if err != nil {
		return fmt.Errorf("serve: telemetry: %w", err)
	}
	defer shutdownTracing(context.Background())

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := service.NewMetrics(reg)

	contentStore := memory.NewFileContentStore()
	changesetStore := memory.NewChangesetStore()

	var ruleStore hook.RuleConfigStore
	var bindingStore hook.BookmarkBindingStore
	var storePing inhttp.StorePingChecker
	if cfg.Store.Driver == "sqlite" {
		sqliteStore, err := sqlite.Open(cfg.Store.Path, contentStore)
		if err != nil {
			return fmt.Errorf("serve: open sqlite store: %w", err)
		}
		defer sqliteStore.Close()
		ruleStore, bindingStore, storePing = sqliteStore, sqliteStore, sqliteStore
	}

	cache := service.NewVerdictCache(
		service.WithMaxEntries(cfg.Cache.MaxEntries),
		service.WithMaxWeight(int(cfg.Cache.MaxWeightBytes)),
		service.WithHitMissRecorder(metrics.CacheHitsTotal.Inc, metrics.CacheMissesTotal.Inc),
	)
	service.CacheGaugeFuncs(reg, cache)

	var aclChecker hook.AclChecker
	var aclLastRefresh func() time.Time
	var aclStaleAfter time.Duration
	if cfg.ACL.Enabled {
		interval, err := time.ParseDuration(cfg.ACL.RefreshInterval)
		if err != nil {
			return fmt.Errorf("serve: acl.refresh_interval: %w", err)
		}
		probe := acl.NewProbe(ctx, emptyMembershipSource{}, interval, acl.WithProbeLogger(logger))
		defer probe.Close()
		aclChecker = probe
		aclLastRefresh = probe.LastRefresh
		aclStaleAfter = 3 * interval
	}

	manager := service.NewHookManager(changesetStore, contentStore, aclChecker, cache,
		service.WithMetrics(metrics), service.WithLogger(logger))

	if err := loadConfiguredRules(ctx, manager, ruleStore, cfg, contentStore); err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	adminChecker := adminauth.NewChecker(cfg.AdminAuth.TokenHash)
	handler := inhttp.NewHandler(manager, changesetStore, contentStore, contentStore, adminChecker,
		inhttp.WithRuleStore(ruleStore), inhttp.WithBindingStore(bindingStore), inhttp.WithHandlerLogger(logger))

	healthOpts := []inhttp.HealthCheckerOption{
		inhttp.WithCacheOccupancy(cache, cfg.Cache.MaxEntries),
		inhttp.WithVersion(Version),
	}
	if storePing != nil {
		healthOpts = append(healthOpts, inhttp.WithStorePing(storePing))
	}
	if aclLastRefresh != nil {
		healthOpts = append(healthOpts, inhttp.WithACLFreshness(aclLastRefresh, aclStaleAfter))
	}
	health := inhttp.NewHealthChecker(healthOpts...)

	mux := handler.Routes(health, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	server := &stdhttp.Server{Addr: cfg.Server.HTTPAddr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server", "addr", cfg.Server.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// loadConfiguredRules builds every config.RuleConfig into a live hook.Rule,
// registers it with manager, persists it (if a durable store is configured),
// and applies the configured bookmark bindings.
func loadConfiguredRules(ctx context.Context, manager *service.HookManager, ruleStore hook.RuleConfigStore, cfg *config.Config, contentStore hook.FileContentStore) error {
	for _, rc := range cfg.Rules {
		kind, hookCfg := ruleConfigToHook(rc)
		rule, err := service.LoadRule(rc.Name, kind, hookCfg, contentStore)
		if err != nil {
			return fmt.Errorf("rule %q: %w", rc.Name, err)
		}
		if ruleStore != nil {
			if err := ruleStore.PutRule(ctx, rule); err != nil {
				return fmt.Errorf("rule %q: persist: %w", rc.Name, err)
			}
		}
		switch kind {
		case hook.ChangesetKind:
			err = manager.RegisterChangesetRule(rule)
		case hook.FileKind:
			err = manager.RegisterFileRule(rule)
		}
		if err != nil {
			return fmt.Errorf("rule %q: register: %w", rc.Name, err)
		}
	}

	for _, bc := range cfg.Bindings {
		bookmark := hook.Bookmark(bc.Bookmark)
		manager.BindBookmark(bookmark, bc.ChangesetRules, hook.ChangesetKind)
		manager.BindBookmark(bookmark, bc.FileRules, hook.FileKind)
	}
	return nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// setupTelemetry wires OpenTelemetry tracing and metrics to the stdout
// exporter packages, matching the pattern internal/service/tracing.go's spans
// expect to be consumed by. Metrics are read via the SDK's push reader on an
// interval; both exporters write to stderr, which keeps the reference driver
// dependency-free of any real collector.
func setupTelemetry(ctx context.Context, logger *slog.Logger) (func(context.Context) error, error) {
	traceExporter, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr))
	if err != nil {
		return nil, fmt.Errorf("trace exporter: %w", err)
	}
	tp := trace.NewTracerProvider(trace.WithBatcher(traceExporter))
	otel.SetTracerProvider(tp)

	metricExporter, err := stdoutmetric.New(stdoutmetric.WithWriter(os.Stderr))
	if err != nil {
		return nil, fmt.Errorf("metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(time.Minute))))
	otel.SetMeterProvider(mp)

	logger.Debug("telemetry configured", "trace_exporter", "stdout", "metric_exporter", "stdout")

	return func(shutdownCtx context.Context) error {
		err1 := tp.Shutdown(shutdownCtx)
		err2 := mp.Shutdown(shutdownCtx)
		return errors.Join(err1, err2)
	}, nil
}

// emptyMembershipSource is the default access-control membership source when
// no real identity-directory integration is configured: every identity is a
// non-member, matching the conservative default of never auto-bypassing
// reviewer rules.
type emptyMembershipSource struct{}

func (emptyMembershipSource) Members(ctx context.Context) (map[string]bool, error) {
	return map[string]bool{}, nil
}

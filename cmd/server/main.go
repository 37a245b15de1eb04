// Lifeline screens user messages for self-harm or suicidal intent and
// escalates positive results to human responders.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	otelpyroscope "github.com/grafana/otel-profiling-go"
	"github.com/joho/godotenv"
	"github.com/linnemanlabs/go-core/cfg"
	"github.com/linnemanlabs/go-core/health"
	"github.com/linnemanlabs/go-core/httpmw"
	"github.com/linnemanlabs/go-core/httpserver"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/metrics"
	"github.com/linnemanlabs/go-core/opshttp"
	"github.com/linnemanlabs/go-core/otelx"
	"github.com/linnemanlabs/go-core/prof"
	v "github.com/linnemanlabs/go-core/version"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"github.com/linnemanlabs/lifeline/internal/authmw"
	lc "github.com/linnemanlabs/lifeline/internal/cfg"
	"github.com/linnemanlabs/lifeline/internal/crisis"
	"github.com/linnemanlabs/lifeline/internal/crisisapi"
	"github.com/linnemanlabs/lifeline/internal/embedcache"
	"github.com/linnemanlabs/lifeline/internal/embedcache/filestore"
	"github.com/linnemanlabs/lifeline/internal/embedcache/memstore"
	"github.com/linnemanlabs/lifeline/internal/embedcache/pgstore"
	"github.com/linnemanlabs/lifeline/internal/embedding"
	"github.com/linnemanlabs/lifeline/internal/notify"
	"github.com/linnemanlabs/lifeline/internal/notify/slack"
	"github.com/linnemanlabs/lifeline/internal/notify/telegram"
	"github.com/linnemanlabs/lifeline/internal/notify/twilio"
	"github.com/linnemanlabs/lifeline/internal/postgres"
	"github.com/linnemanlabs/lifeline/internal/tools"
)

const appName = "lifeline"
const component = "server"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal error:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	v.AppName = appName
	v.Component = component
	vi := v.Get()

	// each package registers its own flags and options struct
	var (
		appCfg    lc.Config
		httpCfg   httpserver.Config
		httpmwCfg httpmw.Config
		logCfg    log.Config
		opsCfg    opshttp.Config
		profCfg   prof.Config
		traceCfg  otelx.Config
	)

	appCfg.RegisterFlags(flag.CommandLine)
	httpCfg.RegisterFlags(flag.CommandLine)
	httpmwCfg.RegisterFlags(flag.CommandLine)
	logCfg.RegisterFlags(flag.CommandLine)
	opsCfg.RegisterFlags(flag.CommandLine)
	profCfg.RegisterFlags(flag.CommandLine)
	traceCfg.RegisterFlags(flag.CommandLine)
	var showVersion bool
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	var envFile string
	flag.StringVar(&envFile, "env-file", ".env", "dotenv file loaded into the environment before LIFELINE_* variables are read (missing file is ignored)")

	flag.Parse()
	if showVersion {
		fmt.Printf(
			"%s (%s) %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Component, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		return nil
	}

	if err := loadEnvFile(envFile); err != nil {
		return err
	}

	// Fill in config values from environment variables with prefix LIFELINE_,
	// these do not override cmdline flags
	cfg.FillFromEnv(flag.CommandLine, "LIFELINE_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := errors.Join(
		appCfg.Validate(),
		httpCfg.Validate(),
		httpmwCfg.Validate(),
		logCfg.Validate(),
		opsCfg.Validate(),
		profCfg.Validate(),
		traceCfg.Validate(),
	); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	if appCfg.APIPort == opsCfg.Port {
		return fmt.Errorf("http and admin ports must differ (both %d)", appCfg.APIPort)
	}

	lg, err := log.New(logCfg.ToOptions(v.AppName))
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = lg.Sync() }()

	L := lg.With("component", vi.Component)
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"go_version", vi.GoVersion,
		"http_port", appCfg.APIPort,
		"admin_port", opsCfg.Port,
		"embedding_provider", appCfg.EmbeddingProvider,
		"semantic_threshold", appCfg.SemanticThreshold,
		"chunk_window", appCfg.ChunkWindow,
		"chunk_step", appCfg.ChunkStep,
		"enable_tracing", traceCfg.EnableTracing,
		"enable_pyroscope", profCfg.EnablePyroscope,
		"trusted_proxy_hops", httpmwCfg.TrustedProxyHops,
	)

	profOpts := profCfg.ToOptions()
	profOpts.AppName = v.AppName
	profOpts.Tags = map[string]string{
		"app":       v.AppName,
		"component": v.Component,
		"version":   vi.Version,
		"commit":    vi.Commit,
		"build_id":  vi.BuildId,
	}
	stopProf, profErr := prof.Start(ctx, profOpts)
	if profErr != nil {
		L.Error(ctx, profErr, "pyroscope start failed", "pyro_server", profCfg.PyroServer)
	}
	if stopProf != nil {
		defer stopProf()
	}

	traceOpts := traceCfg.ToOptions()
	traceOpts.Service = v.AppName
	traceOpts.Component = v.Component
	traceOpts.Version = v.Version

	shutdownOtelx, err := otelx.Init(ctx, traceOpts)
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	if shutdownOtelx != nil {
		defer func() { _ = shutdownOtelx(context.Background()) }()
	}

	// tag spans with profile ids so pyroscope can link samples to traces
	if profErr == nil && profCfg.EnablePyroscope {
		otel.SetTracerProvider(otelpyroscope.NewTracerProvider(otel.GetTracerProvider()))
	}

	var m = metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, component, &vi)
	m.SetProfilingActive(profErr == nil && profCfg.EnablePyroscope)

	crisisMetrics := crisis.NewMetrics(m.Registry())
	notifyMetrics := notify.NewMetrics(m.Registry())

	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lifeline_db_query_duration_seconds",
		Help:    "Duration of individual database queries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"caller", "outcome"})
	m.Registry().MustRegister(dbQueryDuration)

	postgres.SetQueryObserver(postgres.QueryObserverFunc(
		func(_ context.Context, caller, outcome string, dur time.Duration) {
			dbQueryDuration.WithLabelValues(caller, outcome).Observe(dur.Seconds())
		},
	))

	// Embedding provider; nil means lexical-only detection.
	embedder, err := embedding.New(ctx, embedding.Config{
		Kind:           appCfg.EmbeddingProvider,
		OllamaEndpoint: appCfg.OllamaEndpoint,
		OllamaModel:    appCfg.OllamaModel,
		GenAIAPIKey:    appCfg.GenAIAPIKey,
		GenAIModel:     appCfg.GenAIModel,
	})
	if err != nil {
		L.Error(ctx, err, "embedding provider unavailable, semantic detection disabled")
		embedder = nil
	}
	if embedder != nil {
		L.Info(ctx, "initialized embedding provider", "provider", embedder.Name())
	}

	// Embedding cache backend: postgres, then file, then memory.
	var cacheBackend embedcache.Backend
	switch {
	case appCfg.DatabaseURL != "":
		pool, err := postgres.NewPool(ctx, appCfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("postgres pool: %w", err)
		}
		defer pool.Close()
		pgStore, err := pgstore.New(ctx, pool, pgstore.DefaultKey)
		if err != nil {
			return fmt.Errorf("pgstore init: %w", err)
		}
		cacheBackend = pgStore
		L.Info(ctx, "using postgres embedding cache")
	case appCfg.CachePath != "":
		cacheBackend = filestore.New(appCfg.CachePath)
		L.Info(ctx, "using file embedding cache", "path", appCfg.CachePath)
	default:
		cacheBackend = memstore.New()
		L.Info(ctx, "using in-memory embedding cache (no cache path configured)")
	}

	detector := crisis.NewDetector(embedder, L.With("subsystem", "detector"), crisis.Options{
		Threshold:    appCfg.SemanticThreshold,
		Window:       appCfg.ChunkWindow,
		Step:         appCfg.ChunkStep,
		EmbedTimeout: appCfg.EmbedTimeout,
		Cache:        embedcache.New(cacheBackend, L.With("subsystem", "embedcache")),
		Hooks:        crisisMetrics.Hooks(),
	})
	defer detector.Close()

	// Alert channels in priority order: SMS, Telegram, then Slack when configured.
	notifyLog := L.With("subsystem", "notify")
	sms := twilio.New(twilio.Config{
		AccountSID:          appCfg.TwilioAccountSID,
		AuthToken:           appCfg.TwilioAuthToken,
		MessagingServiceSID: appCfg.TwilioMessagingServiceSID,
		From:                appCfg.TwilioFromNumber,
		CountryCode:         appCfg.DefaultCountryCode,
		Timeout:             appCfg.AlertTimeout,
	}, notifyLog)
	tg := telegram.New(telegram.Config{
		Token:   appCfg.TelegramBotToken,
		ChatID:  appCfg.TelegramChatID,
		Timeout: appCfg.AlertTimeout,
	}, notifyLog)

	channels := []notify.Channel{
		{Name: "sms", Provider: sms, Format: notify.SMSFormatter(appCfg.HelplineNumber), Enabled: sms.Configured() && appCfg.HelplineNumber != ""},
		{Name: "telegram", Provider: tg, Format: notify.RichFormatter(), Enabled: tg.Configured()},
	}
	if appCfg.SlackWebhookURL != "" {
		channels = append(channels, notify.Channel{
			Name: "slack", Provider: slack.New(appCfg.SlackWebhookURL, notifyLog), Format: notify.RichFormatter(), Enabled: true,
		})
	}
	dispatcher := notify.NewDispatcher(notifyLog, notifyMetrics.Hooks(), channels...)
	if enabled := dispatcher.Enabled(); len(enabled) == 0 {
		L.Warn(ctx, "no alert channels configured, crisis alerts will only be logged")
	} else {
		L.Info(ctx, "alert channels enabled", "channels", enabled)
	}

	svc := crisis.NewService(detector, dispatcher, L.With("subsystem", "screening"), crisisMetrics.Hooks())

	registry := tools.NewRegistry()
	crisisTool := tools.NewCrisisAlert(svc)
	registry.Register(crisisTool)
	L.Info(ctx, "registered tool", "name", crisisTool.Name())

	// setup toggle for server shutdown. this is used to fail readiness checks
	// during shutdown to drain connections from load balancer before killing the process.
	var shutdownGate health.ShutdownGate

	readiness := health.All(
		shutdownGate.Probe(),
	)
	liveness := health.Fixed(true, "")

	opsOpts := opsCfg.ToOptions()
	opsOpts.Metrics = m.Handler()
	opsOpts.Health = liveness
	opsOpts.Readiness = readiness
	opsOpts.UseRecoverMW = true
	opsOpts.OnPanic = m.IncHttpPanic

	opsHTTPStop, err := opshttp.Start(ctx, L, opsOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		return err
	}
	defer func() {
		err := opsHTTPStop(context.Background())
		if err != nil {
			L.Error(ctx, err, "failed to stop ops http listener")
		}
	}()

	r := chi.NewRouter()
	r.Use(middleware.Compress(5, "application/json"))
	r.Use(httpmw.AnnotateHTTPRoute)
	r.Use(httpmw.AccessLog())
	r.Use(httpmw.MaxBody(1024 * 64))

	r.Get("/-/healthy", health.HealthzHandler(liveness))
	r.Get("/-/ready", health.ReadyzHandler(readiness))

	crisisapi.New(L, svc, detector, registry).RegisterRoutes(r, authmw.BearerToken(appCfg.APIToken))

	// middleware stack for main listener, outermost sees the raw request first
	var h http.Handler = r
	h = httpmw.WithLogger(L)(h)
	h = httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id")(h)
	h = otelhttp.NewHandler(h, "http.server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/-/healthy" && r.URL.Path != "/-/ready"
		}),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		otelhttp.WithPublicEndpointFn(func(_ *http.Request) bool { return true }),
	)
	h = m.Middleware(h)
	h = httpmw.ClientIPWithOptions(httpmw.ClientIPOptions{
		TrustedHops: httpmwCfg.TrustedProxyHops,
	})(h)
	h = httpmw.RequestID("X-Request-Id")(h)
	h = httpmw.Recover(L, nil)(h)
	h = httpmw.SecurityHeaders(h)

	apiOpts, err := httpCfg.ToOptions()
	if err != nil {
		L.Error(ctx, err, "invalid http config")
		return err
	}

	apiHTTPStop, err := httpserver.Start(ctx, fmt.Sprintf(":%d", appCfg.APIPort), h, L, apiOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start api http listener")
		return err
	}
	defer func() {
		err := apiHTTPStop(context.Background())
		if err != nil {
			L.Error(ctx, err, "failed to stop api http listener")
		}
	}()

	if err := notifySystemd(); err != nil {
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	<-ctx.Done()

	L.Info(context.Background(), "shutdown signal received")

	shutdownGate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed")

	drainDuration := time.Duration(appCfg.DrainSeconds) * time.Second
	L.Info(context.Background(), "sleeping for drain period", "drain_seconds", appCfg.DrainSeconds)
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(drainDuration):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	// Shutdown components with per-component budget sliced from total.
	type stopFn struct {
		name string
		fn   func(context.Context) error
	}
	stopFns := []stopFn{
		{"api http server", apiHTTPStop},
		{"pending escalations", waitFn(svc.Wait)},
		{"detector", waitFn(detector.Close)},
		{"ops http server", opsHTTPStop},
		{"otel", shutdownOtelx},
	}

	budget := time.Duration(appCfg.ShutdownBudgetSeconds) * time.Second
	perComponent := budget / time.Duration(len(stopFns))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()

	for _, s := range stopFns {
		if s.fn == nil {
			continue
		}
		cctx, ccancel := context.WithTimeout(shutdownCtx, perComponent)
		if err := s.fn(cctx); err != nil {
			L.Error(context.Background(), err, s.name+" shutdown")
		}
		ccancel()
	}

	if stopProf != nil {
		stopProf()
	}

	L.Info(context.Background(), "shutdown complete")
	return nil
}

// waitFn adapts a blocking call to a context-bounded stop function.
func waitFn(wait func()) func(context.Context) error {
	return func(ctx context.Context) error {
		done := make(chan struct{})
		go func() {
			wait()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// loadEnvFile loads path into the process environment without overriding
// variables that are already set. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func notifySystemd() error {
	// systemd will set NOTIFY_SOCKET to a unix socket path if we were started under systemd with type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr) //nolint:gosec,noctx // G704: addr is from NOTIFY_SOCKET set by systemd not user input
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	defer func() { _ = conn.Close() }()
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	return nil
}

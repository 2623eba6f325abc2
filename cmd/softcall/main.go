// Команда softcall запускает клиент вызовов: слушает push канал сервера,
// ведет сессии и предоставляет HTTP API управления и метрики.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/arzzra/softcall/pkg/auth"
	"github.com/arzzra/softcall/pkg/call"
	"github.com/arzzra/softcall/pkg/control"
	"github.com/arzzra/softcall/pkg/license"
	"github.com/arzzra/softcall/pkg/nullmedia"
	"github.com/arzzra/softcall/pkg/push"
	"github.com/arzzra/softcall/pkg/transport/rest"
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	if err := LoadEnv(); err != nil {
		log.Fatal().Err(err).Msg("failed to load env file")
	}
	cfg, err := LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	level, _ := zerolog.ParseLevel(cfg.LogLevel)
	log = log.Level(level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("softcall stopped")
	}
	log.Info().Msg("softcall exited")
}

func run(ctx context.Context, cfg *Config, log zerolog.Logger) error {
	httpClient := &http.Client{Timeout: cfg.RequestTimeout}
	tokens := newTokenSource(cfg, httpClient, log)

	transportCfg := rest.DefaultConfig()
	transportCfg.BaseURL = cfg.LocusURL
	transportCfg.Tokens = tokens
	transportCfg.HTTPClient = httpClient
	transportCfg.Logger = log
	transport, err := rest.New(transportCfg)
	if err != nil {
		return err
	}

	checker, err := newChecker(cfg, httpClient, tokens, log)
	if err != nil {
		return err
	}
	go checker.Start()
	defer checker.Stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := call.NewMetrics(reg, "softcall")
	registry := call.NewRegistry(metrics)

	sessionConfig := func() *call.Config {
		sc := call.DefaultConfig()
		sc.Transport = transport
		sc.Media = nullmedia.New(log)
		sc.Entitlement = checker
		sc.Device = call.DeviceURL(cfg.DeviceURL)
		sc.ToneInterval = cfg.ToneInterval
		sc.Logger = log
		sc.Metrics = metrics
		sc.Callbacks = call.SessionCallbacks{
			OnStateChanged: func(from, to call.CallState, reason call.DisconnectReason) {
				log.Info().Str("from", from.String()).Str("to", to.String()).Str("reason", string(reason)).Msg("call state changed")
			},
			OnRemoteMediaChanged: func(change call.RemoteMediaChange) {
				log.Info().Str("change", change.String()).Msg("remote media changed")
			},
		}
		return sc
	}

	listenerCfg := push.DefaultConfig()
	listenerCfg.URL = cfg.PushURL
	listenerCfg.Tokens = tokens
	listenerCfg.Sessions = registry
	listenerCfg.Logger = log
	listenerCfg.OnIncoming = func(snapshot *call.SessionSnapshot) {
		session, err := call.NewIncomingSession(sessionConfig(), snapshot)
		if err != nil {
			log.Error().Err(err).Msg("failed to create incoming session")
			return
		}
		registry.Add(session)
		log.Info().Str("call_id", session.ID()).Str("from", snapshot.From).Msg("incoming call registered")
	}
	listener, err := push.NewListener(listenerCfg)
	if err != nil {
		return err
	}

	api := control.NewHandler(registry, func() (*call.CallSession, error) {
		return call.NewSession(sessionConfig())
	}, cfg.ActionTimeout, log)

	r := chi.NewRouter()
	r.Mount("/", api.NewRouter())
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("control api started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	go func() {
		if err := listener.Run(ctx); err != nil && ctx.Err() == nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	log.Info().Msg("shutting down")
	hangupAll(registry, log)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// hangupAll завершает вызовы перед остановкой и ждет закрытия сессий.
func hangupAll(registry *call.Registry, log zerolog.Logger) {
	sessions := registry.Sessions()
	for _, s := range sessions {
		s.Hangup(func(err error) {
			if err == nil {
				return
			}
			// вызов еще не начат: освобождаем сессию без отбоя
			s.Close(func(err error) {
				if err != nil {
					log.Warn().Err(err).Str("call_id", s.ID()).Msg("hangup on shutdown failed")
				}
			})
		})
	}
	deadline := time.After(5 * time.Second)
	for _, s := range sessions {
		select {
		case <-s.Done():
		case <-deadline:
			log.Warn().Int("active", registry.Len()).Msg("calls still active on shutdown")
			return
		}
	}
}

func newTokenSource(cfg *Config, client *http.Client, log zerolog.Logger) auth.TokenSource {
	if cfg.AccessToken != "" {
		return auth.StaticSource(cfg.AccessToken)
	}
	return auth.NewCoalescingSource(&auth.RefreshFetcher{
		Client:       client,
		TokenURL:     cfg.TokenURL,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RefreshToken: cfg.RefreshToken,
	}, auth.WithLogger(log))
}

func newChecker(cfg *Config, client *http.Client, tokens auth.TokenSource, log zerolog.Logger) (*license.Checker, error) {
	var activator license.Activator = license.ActivatorFunc(func(context.Context, string) (bool, error) {
		return false, nil
	})
	if cfg.LicenseURL != "" {
		activator = &license.HTTPActivator{BaseURL: cfg.LicenseURL, Client: client, Tokens: tokens}
	}
	lc := license.DefaultConfig()
	lc.TTL = cfg.EntitlementTTL
	lc.Logger = log
	return license.NewChecker(activator, lc)
}

package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"
	"google.golang.org/grpc"

	grpcapi "scam-call-guard/internal/api/grpc"
	"scam-call-guard/internal/app"
	"scam-call-guard/internal/config"
	"scam-call-guard/internal/events"
	apihttp "scam-call-guard/internal/http"
	"scam-call-guard/internal/notify"
	"scam-call-guard/internal/observability"
	"scam-call-guard/internal/observability/logging"
	"scam-call-guard/internal/observability/metrics"
	"scam-call-guard/internal/schema"
	"scam-call-guard/internal/service/assessment"
	"scam-call-guard/internal/service/call"
	"scam-call-guard/internal/service/capture"
	"scam-call-guard/internal/service/realtime"
	"scam-call-guard/internal/service/session"
	"scam-call-guard/internal/store"
)

func main() {
	cfg := config.Load()
	application := app.New(cfg)
	logger := logging.WithComponent("main")

	if os.Getenv("SKIP_CONFIG_VALIDATION") != "1" {
		if err := cfg.Validate(); err != nil {
			logger.Warn().Err(err).Msg("Configuration errors")
		}
	}

	mode, err := capture.ParseMode(cfg.Audio.Source)
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid audio source")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Kafka publisher with separate topics for assessments and call lifecycle events
	publisher := events.New(&events.Config{
		Enabled:         cfg.Kafka.Enabled,
		Brokers:         cfg.Kafka.Brokers,
		TopicAssessment: cfg.Kafka.TopicAssessment,
		TopicCall:       cfg.Kafka.TopicCall,
		Principal:       cfg.Kafka.Principal,
	})
	defer publisher.Close()

	var fbApp *firebase.App
	if cfg.Notify.Enabled || cfg.Store.Backend == "firestore" {
		fbApp, err = newFirebaseApp(ctx, cfg.Notify)
		if err != nil {
			logger.Error().Err(err).Msg("Firebase unavailable")
		}
	}

	callStore := openStore(ctx, cfg, fbApp)
	notifier := newNotifier(ctx, cfg, fbApp)

	dialer := realtime.NewDialer(realtime.Config{
		URL:            cfg.Realtime.URL,
		APIKey:         cfg.Realtime.APIKey,
		MaxRetries:     cfg.Realtime.MaxRetries,
		RetryBaseDelay: cfg.Realtime.RetryBaseDelay,
		RetryMaxDelay:  cfg.Realtime.RetryMaxDelay,
		ConnectTimeout: cfg.Realtime.ConnectTimeout,
		PingInterval:   cfg.Realtime.PingInterval,
		PongTimeout:    cfg.Realtime.PongTimeout,
		WriteTimeout:   cfg.Realtime.SendTimeout,
		CloseTimeout:   2 * time.Second,
		OutboundBuffer: 16,
		MaxMessageSize: 16 * 1024 * 1024,
	})

	opener := capture.NewOpener(capture.Config{
		SampleRate:      cfg.Audio.SampleRate,
		Channels:        cfg.Audio.Channels,
		FrameSamples:    cfg.Audio.FrameSamples,
		Command:         cfg.Audio.Command,
		FIFOPath:        cfg.Audio.FIFOPath,
		ProcessGrace:    cfg.Audio.ProcessGrace,
		ProcessKillWait: cfg.Audio.ProcessKillWait,
	})

	sessionCfg := session.DefaultConfig()
	sessionCfg.Mode = mode
	sessionCfg.OwnerID = cfg.Service.OwnerID
	sessionCfg.QueueSize = cfg.Audio.QueueSize
	sessionCfg.GetTimeout = cfg.Audio.ReadTimeout
	sessionCfg.SendTimeout = cfg.Realtime.SendTimeout
	sessionCfg.ConfigureTimeout = cfg.Realtime.SendTimeout
	sessionCfg.NotifyTimeout = cfg.Notify.Timeout
	sessionCfg.Thresholds = assessment.Thresholds{
		SafeMin:     1,
		SafeMax:     cfg.Assessment.SafeMax,
		PossibleMin: cfg.Assessment.PossibleMin,
		PossibleMax: cfg.Assessment.PossibleMax,
		DefiniteMin: cfg.Assessment.DefiniteMin,
		DefiniteMax: 10,
		Notify:      cfg.Assessment.Notify,
	}

	deps := session.Deps{
		Connect:   session.Dial(dialer),
		Capture:   opener,
		Notifier:  notifier,
		Publisher: publisher,
	}
	if callStore != nil {
		deps.Store = callStore
	}

	manager := call.NewManager(ctx, call.Config{
		Instructions:   cfg.Realtime.Instructions,
		DefaultToken:   cfg.Notify.DefaultToken,
		DrainTimeout:   cfg.Service.DrainTimeout,
		PublishTimeout: 5 * time.Second,
	}, func(info session.Info) call.Runner {
		return session.New(sessionCfg, deps, info)
	}, publisher)

	// Observability server (metrics + probes)
	obsServer := observability.NewServer(":"+cfg.Observability.MetricsPort, application.Ready)
	obsServer.Start()

	// gRPC health for the realtime session
	lis, err := net.Listen("tcp", ":"+cfg.Service.GRPCPort)
	if err != nil {
		logger.Fatal().Err(err).Str("port", cfg.Service.GRPCPort).Msg("Failed to listen")
	}
	grpcServer := grpc.NewServer(
		grpc.UnaryInterceptor(observability.UnaryServerInterceptor(metrics.DefaultMetrics)),
		grpc.StreamInterceptor(observability.StreamServerInterceptor(metrics.DefaultMetrics)),
	)
	healthServer := grpcapi.Register(grpcServer)
	go grpcapi.NewReporter(healthServer, manager, 2*time.Second).Run(ctx)

	go func() {
		logger.Info().Str("port", cfg.Service.GRPCPort).Msg("gRPC health server started")
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error().Err(err).Msg("gRPC serve failed")
		}
	}()

	// HTTP control surface
	httpServer := &http.Server{
		Addr:              ":" + cfg.Service.HTTPPort,
		Handler:           apihttp.NewRouter(application, manager, schema.New()),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info().Str("port", cfg.Service.HTTPPort).Msg("Control surface started")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Control surface failed")
		}
	}()

	if err := application.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Application start failed")
	}

	<-ctx.Done()
	logger.Info().Msg("Shutdown signal received")

	application.Shutdown()
	healthServer.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Control surface shutdown error")
	}
	manager.Shutdown()
	grpcServer.GracefulStop()
	if err := obsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Observability server shutdown error")
	}
	if callStore != nil {
		if err := callStore.Close(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("Store close error")
		}
	}
}

func newFirebaseApp(ctx context.Context, cfg config.NotifyConfig) (*firebase.App, error) {
	var fbCfg *firebase.Config
	if cfg.ProjectID != "" {
		fbCfg = &firebase.Config{ProjectID: cfg.ProjectID}
	}
	if cfg.CredentialsFile != "" {
		if _, err := os.Stat(cfg.CredentialsFile); err == nil {
			return firebase.NewApp(ctx, fbCfg, option.WithCredentialsFile(cfg.CredentialsFile))
		}
	}
	return firebase.NewApp(ctx, fbCfg)
}

// openStore returns nil when persistence is disabled or unavailable.
func openStore(ctx context.Context, cfg *config.Configuration, fbApp *firebase.App) store.Store {
	logger := logging.WithComponent("main")
	policy := store.RetryPolicy{
		Attempts:         cfg.Store.Attempts,
		BaseDelay:        cfg.Store.RetryBaseDelay,
		OperationTimeout: cfg.Store.OperationTimeout,
	}

	switch cfg.Store.Backend {
	case "mongo":
		s, err := store.NewMongoStore(ctx, store.MongoConfig{
			URI:            cfg.Store.MongoURI,
			Database:       cfg.Store.MongoDatabase,
			Collection:     cfg.Store.MongoCollection,
			ConnectTimeout: cfg.Store.OperationTimeout,
			Retry:          policy,
		})
		if err != nil {
			logger.Error().Err(err).Msg("MongoDB unavailable, assessments will not be persisted")
			return nil
		}
		return s
	case "firestore":
		if fbApp == nil {
			logger.Error().Msg("Firestore selected without a Firebase app, assessments will not be persisted")
			return nil
		}
		client, err := fbApp.Firestore(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("Firestore unavailable, assessments will not be persisted")
			return nil
		}
		s, err := store.OpenFirestoreStore(ctx, client, cfg.Store.FirestoreCollection, policy)
		if err != nil {
			logger.Error().Err(err).Msg("Firestore unreachable, assessments will not be persisted")
			return nil
		}
		return s
	default:
		logger.Info().Str("backend", cfg.Store.Backend).Msg("Persistence disabled")
		return nil
	}
}

func newNotifier(ctx context.Context, cfg *config.Configuration, fbApp *firebase.App) notify.Notifier {
	if !cfg.Notify.Enabled || fbApp == nil {
		return notify.NewLogNotifier()
	}
	n, err := notify.NewFCMNotifier(ctx, fbApp, cfg.Notify.Timeout)
	if err != nil {
		logger := logging.WithComponent("main")
		logger.Error().Err(err).Msg("FCM unavailable, logging alerts instead")
		return notify.NewLogNotifier()
	}
	return n
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/callscribe/callscribe/config"
	"github.com/callscribe/callscribe/internal/api/handlers"
	"github.com/callscribe/callscribe/internal/api/middleware"
	"github.com/callscribe/callscribe/internal/api/routes"
	"github.com/callscribe/callscribe/internal/cache"
	"github.com/callscribe/callscribe/internal/logger"
	"github.com/callscribe/callscribe/internal/providers/stt"
	"github.com/callscribe/callscribe/internal/providers/triage"
	"github.com/callscribe/callscribe/internal/repositories/memory"
	mongorepo "github.com/callscribe/callscribe/internal/repositories/mongo"
	pgrepo "github.com/callscribe/callscribe/internal/repositories/postgres"
	"github.com/callscribe/callscribe/internal/services"
	"github.com/callscribe/callscribe/internal/session"
	"github.com/callscribe/callscribe/internal/transcode"
	"github.com/callscribe/callscribe/internal/translate"
	"github.com/callscribe/callscribe/internal/transport"
	"github.com/callscribe/callscribe/internal/workers"
)

func main() {
	_ = godotenv.Load()
	log := logger.New()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Every backing service degrades rather than blocking startup: the live
	// engine keeps working, persistence and dispatch shrink accordingly.
	var callRepo mongorepo.CallRepository
	if err := config.InitMongo(); err != nil {
		log.WithError(err).Warn("MongoDB unavailable; calls are in-memory only")
		callRepo = memory.NewCallRepo()
	} else {
		if err := config.EnsureMongoIndexes(); err != nil {
			log.WithError(err).Warn("MongoDB index setup failed")
		}
		callRepo = mongorepo.NewCallRepo(config.MongoDatabase())
		log.Info("MongoDB connected")
	}

	postgresUp := true
	if err := config.InitPostgres(); err != nil {
		log.WithError(err).Warn("PostgreSQL unavailable; dispatch endpoints disabled")
		postgresUp = false
	} else {
		log.Info("PostgreSQL connected")
	}

	// Redis is optional: without it the node still serves calls, but
	// cross-node mirroring and the relay stream are off.
	if err := config.InitRedis(); err != nil {
		log.WithError(err).Warn("Redis unavailable; running single-node")
		config.RedisClient = nil
	} else {
		log.Info("Redis connected")
	}

	hub := transport.NewHub(config.RedisClient, log)
	if config.RedisClient != nil {
		go transport.NewBridge(config.RedisClient, hub, log).Run(ctx)
	}

	var snaps cache.Cache
	if config.RedisClient != nil {
		snaps = cache.NewRedisCache(config.RedisClient)
	}

	callSvc := services.NewCallService(callRepo, snaps, hub, log)

	var dispatchHandler *handlers.DispatchHandler
	if postgresUp {
		fleetRepo := pgrepo.NewFleetRepo(config.PostgresDB)
		dispatchHandler = handlers.NewDispatchHandler(services.NewDispatchService(fleetRepo, callSvc, log))
	}

	var analyzer session.Analyzer
	if project := os.Getenv("GOOGLE_CLOUD_PROJECT"); project != "" {
		location := os.Getenv("GOOGLE_CLOUD_LOCATION")
		if location == "" {
			location = "us-central1"
		}
		gemini, err := triage.NewVertexGemini(ctx, project, location, os.Getenv("TRIAGE_MODEL"))
		if err != nil {
			log.WithError(err).Warn("triage provider unavailable; calls get fallback analysis")
		} else {
			analyzer = gemini
			defer gemini.Close()
		}
	} else {
		log.Warn("GOOGLE_CLOUD_PROJECT not set; calls get fallback analysis")
	}

	var speech stt.Provider
	if gs, err := stt.NewGoogleSpeech(ctx); err != nil {
		log.WithError(err).Warn("server-side recognition unavailable")
	} else {
		speech = gs
		defer gs.Close()
	}

	manager := session.NewManager(session.Config{
		Bus:      hub,
		Calls:    callSvc,
		Analyzer: analyzer,
		Events:   hub,
		Speech:   speech,
		Language: config.SpeechLanguage(),
		Logger:   log,
		Throttle: config.PartialThrottle(),
	})

	transcoder := transcode.NewPipeline(log)

	if config.RedisClient != nil {
		pool := &workers.RelayWorkerPool{
			Redis:      config.RedisClient,
			Transcoder: transcoder,
			NumWorkers: config.RelayWorkers(),
			Commits:    manager,
			Logger:     log,
		}
		pool.STT = speech
		if err := pool.Start(ctx); err != nil {
			log.WithError(err).Fatal("relay worker pool failed to start")
		}
	}

	tokens := stt.NewTokenClient(os.Getenv("SCRIBE_TOKEN_ENDPOINT"), os.Getenv("ELEVENLABS_API_KEY"))
	translator := translate.NewClient(os.Getenv("TRANSLATE_ENDPOINT"), os.Getenv("TRANSLATE_API_KEY"), log)

	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(log))

	routes.RegisterRoutes(r, routes.Deps{
		Call:     handlers.NewCallHandler(callSvc, translator),
		Dispatch: dispatchHandler,
		Token:    handlers.NewTokenHandler(tokens),
		Twilio:   handlers.NewTwilioHandler(callSvc, hub, log),
		WS:       handlers.NewWSHandler(hub, manager, config.RedisClient, transcoder, translator, log),
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	log.WithField("port", port).Info("server listening")
	if err := r.Run(":" + port); err != nil {
		log.WithError(err).Fatal("server exited")
	}
}

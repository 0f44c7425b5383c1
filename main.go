package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"proctor-go/internal/config"
	"proctor-go/internal/database"
	"proctor-go/internal/emitter"
	"proctor-go/internal/evidence"
	logger "proctor-go/internal/logging"
	"proctor-go/internal/models"
	"proctor-go/internal/perception"
	"proctor-go/internal/proctor"
	"proctor-go/internal/repository"
	"proctor-go/internal/router"
	"proctor-go/internal/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	projectRoot := os.Getenv("PROCTOR_ROOT")
	if projectRoot == "" {
		projectRoot = "."
	}

	cfg, err := config.Init(projectRoot)
	if err != nil {
		logger.NewConsole().Fatal("Failed to load configuration", zap.Error(err))
	}

	// Initialize Logger
	log, err := logger.Init(projectRoot, cfg.Logging)
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer log.Sync()
	config.Watch(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	catalog := models.DefaultObjectCatalog()
	if cfg.Objects.CatalogFile != "" {
		catalog, err = models.LoadObjectCatalog(resolve(projectRoot, cfg.Objects.CatalogFile))
		if err != nil {
			log.Fatal("Failed to load forbidden-object catalog", zap.Error(err))
		}
	}
	names := catalog.Names()
	log.Info("Forbidden-object catalog loaded", zap.Int("objects", len(names)))

	evConf := cfg.Evidence
	evConf.Directory = resolve(projectRoot, evConf.Directory)
	evidenceStore, err := evidence.NewManager(evConf, log.Named("evidence"))
	if err != nil {
		log.Fatal("Failed to initialize evidence store", zap.Error(err))
	}

	var provider perception.Provider = perception.Null{}
	if cfg.Perception.Command != "" {
		worker, err := perception.StartWorker(ctx, cfg.Perception, log.Named("perception"))
		if err != nil {
			log.Fatal("Failed to start perception worker", zap.Error(err))
		}
		defer worker.Close()
		provider = worker
	} else {
		log.Warn("No perception worker configured, frames will carry no detections")
	}

	db, err := database.Init(cfg.Database, log)
	if err != nil {
		log.Fatal("Failed to initialize database", zap.Error(err))
	}
	repo := repository.NewProctorRepository(db)

	sinks := proctor.MultiSink{repo, services.NewAlertService(log.Named("alerts"))}
	var mqttEmitter *emitter.MQTTEmitter
	if cfg.MQTT.Broker != "" {
		mqttEmitter = emitter.NewMQTTEmitter(cfg.MQTT, log)
		if err := mqttEmitter.Connect(ctx); err != nil {
			log.Error("MQTT unavailable, events will be retried on reconnect", zap.Error(err))
		}
		defer mqttEmitter.Disconnect()
		sinks = append(sinks, mqttEmitter)
	}

	params := func() proctor.Params {
		return proctor.ParamsFrom(config.Current(), names)
	}
	service := proctor.NewService(proctor.NewStore(), provider, evidenceStore, sinks, repo, params, log.Named("proctor"))

	if cfg.Heartbeat.Enabled {
		services.NewScheduler(log, service, cfg.Heartbeat.Interval, cfg.Heartbeat.Retention).Start(ctx)
	}

	gin.SetMode(gin.ReleaseMode)
	r := router.Setup(log, cfg, router.Deps{Service: service, Timeline: repo, MQTT: mqttEmitter})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("Server listening on http://localhost" + srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to run server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", zap.Error(err))
	}
}

func resolve(root, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}

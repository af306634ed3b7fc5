package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"guardian-monitor/internal/audit"
	"guardian-monitor/internal/channel"
	"guardian-monitor/internal/clock"
	"guardian-monitor/internal/config"
	"guardian-monitor/internal/httpapi"
	"guardian-monitor/internal/ingest"
	"guardian-monitor/internal/logger"
	"guardian-monitor/internal/service"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid config: %v", err))
	}

	// 2. Initialize logging
	log, err := logger.New(cfg.Log.Level, cfg.Log.Format, "guardian-monitor")
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	// 3. Audit sinks: Postgres for the durable trail, Redis for live
	// streams and the snapshot cache. Both optional.
	recorders := audit.Multi{}
	var history httpapi.History
	if db, derr := openPostgres(cfg); derr != nil {
		log.Warn("audit database unavailable, continuing without durable audit", zap.Error(derr))
	} else {
		defer db.Close()
		pg := audit.NewPostgresRecorder(db, log)
		recorders = append(recorders, pg)
		history = pg
	}

	var cache *audit.StateCache
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Warn("redis unavailable, continuing without streams and snapshot cache", zap.Error(err))
	} else {
		defer redisClient.Close()
		recorders = append(recorders,
			audit.NewStreamRecorder(redisClient, cfg.Redis.TransitionStream, cfg.Redis.AlertStream, log))
		cache = audit.NewStateCache(redisClient, cfg.Redis.SnapshotPrefix, cfg.Redis.SnapshotTTL, log)
	}

	var recorder audit.Recorder = recorders
	if len(recorders) == 0 {
		log.Warn("no audit sink configured, alert history will be lost")
		recorder = audit.Nop{}
	}

	// 4. Notification channels
	channels := channel.Registry{}
	if cfg.Escalation.SMSGatewayURL != "" {
		channels["sms"] = channel.NewSMS(cfg.Escalation.SMSGatewayURL, cfg.Escalation.SMSToken, log)
	}
	if cfg.Escalation.WebhookURL != "" || rosterUsesChannel(cfg, "webhook") {
		channels["webhook"] = channel.NewWebhook(cfg.Escalation.WebhookURL, cfg.Escalation.WebhookToken, log)
	}

	// 5. Vehicle bus: telemetry in, cabin alarm out
	var mqttClient *ingest.MQTTClient
	if cfg.MQTT.Enabled {
		mqttClient, err = ingest.NewMQTTClient(ingest.MQTTConfig{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
		}, log)
		if err != nil {
			log.Fatal("Failed to connect to vehicle bus", zap.Error(err))
		}
		defer mqttClient.Disconnect()
		channels["local"] = channel.NewLocalAlarm(mqttClient, cfg.MQTT.AlarmTopic, log)
	}

	// 6. Monitor service
	hub := httpapi.NewHub()
	monitor := service.NewMonitor(cfg, service.Deps{
		Channels: channels,
		Recorder: recorder,
		Cache:    cache,
		Sink:     hub,
		Clock:    clock.New(),
		Logger:   log,
	})
	defer monitor.Close()

	if mqttClient != nil {
		bus := ingest.NewVehicleBus(mqttClient, cfg.MQTT.VehicleTopic, monitor.SetVehicleFlags, log)
		if err := bus.Start(); err != nil {
			log.Fatal("Failed to start vehicle telemetry ingest", zap.Error(err))
		}
	}

	// 7. HTTP surface
	server := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: httpapi.NewServer(monitor, history, hub, log).Handler(),
	}
	serverErrChan := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.String("addr", cfg.HTTP.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- err
		}
	}()

	// 8. Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-serverErrChan:
		log.Fatal("HTTP server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP shutdown error", zap.Error(err))
	}

	log.Info("Guardian monitor stopped")
}

func openPostgres(cfg *config.Config) (*sql.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Database.Host, cfg.Database.Port, cfg.Database.User,
		cfg.Database.Password, cfg.Database.Database, cfg.Database.SSLMode)
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	return db, nil
}

func rosterUsesChannel(cfg *config.Config, name string) bool {
	for _, tier := range cfg.Escalation.Tiers {
		for _, contact := range tier.Contacts {
			if contact.Channel == name {
				return true
			}
		}
	}
	return false
}

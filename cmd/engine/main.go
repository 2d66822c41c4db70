package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/pion/mdns/v2"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"homehub/auth"
	"homehub/internal/automation"
	"homehub/internal/config"
	"homehub/internal/db"
	"homehub/internal/metrics"
	"homehub/internal/mqtt"
	"homehub/internal/realtime"
	"homehub/internal/redis"
	"homehub/internal/scheduler"
	"homehub/internal/services"
	"homehub/internal/store"
	"homehub/internal/taskqueue"
	"homehub/internal/telemetry"
	"homehub/internal/tsdb"
	"homehub/internal/utils"
	"homehub/internal/web"
	"homehub/internal/web/api"
)

func main() {
	if err := run(); err != nil {
		logrus.WithError(err).Fatal("homehub stopped")
	}
}

func run() error {
	cfg, err := config.LoadConfig(os.Args[1:])
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := utils.InitLogging(cfg.App.LogLevel, cfg.App.LogFormat)
	log := utils.Component(logger, "main").WithField("station_id", cfg.App.StationID)

	metrics.Init(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbConn, err := db.NewDB(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer dbConn.Close()
	if cfg.Database.ApplySchema {
		if err := dbConn.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}

	cacheClient := goredis.NewClient(&goredis.Options{Addr: cfg.Redis.Addr})
	defer cacheClient.Close()
	states := store.New(dbConn, store.NewRedisCache(cacheClient, cfg.Redis.StateTTL), utils.Component(logger, "store"))

	var sinks []telemetry.Sink
	var history api.HistoryReader
	if cfg.Redis.StreamMaxLen > 0 {
		streamClient := redis.NewRedisClient(cfg.Redis.Addr)
		defer streamClient.Close()
		recorder := redis.NewStreamRecorder(streamClient, cfg.Redis.StreamMaxLen)
		sinks = append(sinks, recorder)
		history = recorder
	}
	if cfg.Influx.Enabled() {
		influx, err := tsdb.Connect(ctx, cfg.Influx, utils.Component(logger, "tsdb"))
		if err != nil {
			return fmt.Errorf("connect influxdb: %w", err)
		}
		defer influx.Close()
		sinks = append(sinks, influx)
	}

	mqttClient := mqtt.NewClient(mqtt.Options{
		Broker:               cfg.MQTT.Broker,
		ClientID:             cfg.MQTT.ClientID,
		Username:             cfg.MQTT.Username,
		Password:             cfg.MQTT.Password,
		ReconnectDelay:       cfg.MQTT.ReconnectDelay,
		MaxReconnectInterval: cfg.MQTT.MaxReconnect,
		ConnectTimeout:       cfg.MQTT.ConnectTimeout,
	}, utils.Component(logger, "mqtt"))
	connectCtx, cancelConnect := context.WithTimeout(ctx, cfg.MQTT.ConnectTimeout)
	if err := mqttClient.Connect(connectCtx); err != nil {
		// paho keeps retrying in the background; commands fail fast meanwhile.
		log.WithError(err).Warn("mqtt broker not reachable yet")
	}
	cancelConnect()
	defer mqttClient.Close()

	publisher := services.NewCommandPublisher(mqttClient, utils.Component(logger, "commands"))
	commands := services.NewCommandService(dbConn, publisher)
	engine := automation.NewEngine(dbConn, states, publisher, utils.Component(logger, "automation"))

	var dispatcher telemetry.Dispatcher
	switch cfg.Automation.Dispatcher {
	case config.DispatcherQueue:
		queueClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.Redis.Addr})
		defer queueClient.Close()
		dispatcher = taskqueue.NewDispatcher(queueClient, utils.Component(logger, "taskqueue"))

		worker := taskqueue.NewWorker(cfg.Redis.Addr, cfg.Automation.QueueConcurrency, engine, utils.Component(logger, "taskqueue"))
		if err := worker.Start(); err != nil {
			return err
		}
		defer worker.Shutdown()
	default:
		async := automation.NewAsyncDispatcher(engine, utils.Component(logger, "automation"))
		defer async.Wait()
		dispatcher = async
	}

	hub := realtime.NewHub(utils.Component(logger, "realtime"))
	defer hub.Close()
	authModule := auth.NewAuthModule(cfg.JWT.Secret)

	sched := scheduler.NewScheduler(utils.Component(logger, "scheduler"))
	if err := sched.Every("realtime-sweep", cfg.Realtime.SweepInterval, func() { hub.Sweep() }); err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	router := telemetry.NewRouter(telemetry.Options{
		StationID: cfg.App.StationID,
		Workers:   cfg.Telemetry.Workers,
		Buffer:    cfg.Telemetry.Buffer,
	}, states, dispatcher, hub, utils.Component(logger, "telemetry"), sinks...)
	if err := router.Start(ctx, mqttClient); err != nil {
		return fmt.Errorf("start telemetry router: %w", err)
	}
	defer router.Stop()

	webServer := web.NewWebServer(fmt.Sprintf(":%d", cfg.App.Port), web.Dependencies{
		Auth: authModule,
		Devices: api.DeviceDependencies{
			Commands:  commands,
			States:    states,
			Directory: dbConn,
			History:   history,
		},
		Automations:  dbConn,
		Realtime:     realtime.NewHandler(hub, authModule, cfg.Realtime.SendBuffer, cfg.Realtime.MaxMessageSize, utils.Component(logger, "realtime")),
		RealtimePath: cfg.Realtime.Path,
		Health: map[string]api.HealthCheck{
			"database": dbConn.Ping,
			"cache":    func(ctx context.Context) error { return cacheClient.Ping(ctx).Err() },
			"mqtt": func(context.Context) error {
				if state := mqttClient.State(); state != mqtt.Connected {
					return fmt.Errorf("mqtt %s", state)
				}
				return nil
			},
		},
	}, utils.Component(logger, "http"))

	serverErr := make(chan error, 1)
	go func() { serverErr <- webServer.Start() }()

	if cfg.MDNS.LocalName != "" {
		go startMDNSServer(cfg.MDNS.LocalName, utils.Component(logger, "mdns"))
	}

	log.Info("homehub started")
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			log.WithError(err).Error("http server failed")
		}
	}

	log.Info("shutting down")
	if err := webServer.Shutdown(context.Background()); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	return nil
}

func startMDNSServer(localName string, log *logrus.Entry) {
	addr4, err := net.ResolveUDPAddr("udp4", mdns.DefaultAddressIPv4)
	if err != nil {
		log.WithError(err).Warn("failed to resolve mDNS IPv4 address")
		return
	}
	addr6, err := net.ResolveUDPAddr("udp6", mdns.DefaultAddressIPv6)
	if err != nil {
		log.WithError(err).Warn("failed to resolve mDNS IPv6 address")
		return
	}

	l4, err := net.ListenUDP("udp4", addr4)
	if err != nil {
		log.WithError(err).Warn("failed to listen on mDNS IPv4")
		return
	}
	l6, err := net.ListenUDP("udp6", addr6)
	if err != nil {
		log.WithError(err).Warn("failed to listen on mDNS IPv6")
		_ = l4.Close()
		return
	}

	_, err = mdns.Server(ipv4.NewPacketConn(l4), ipv6.NewPacketConn(l6), &mdns.Config{
		LocalNames: []string{localName},
	})
	if err != nil {
		log.WithError(err).Warn("failed to start mDNS server")
		return
	}
	log.WithField("name", localName).Info("mDNS responder started")
}

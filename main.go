package main

import (
	"errors"
	"flag"
	"fmt"
	"msgserver/config"
	"msgserver/db"
	"msgserver/logging"
	"msgserver/server"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", config.DefaultConfigPath, "path to the TOML config file")
	addr := flag.String("a", "", "listen address, overrides the config file")
	port := flag.Int("p", 0, "listen port, overrides the config file")
	dbPath := flag.String("db", "", "database path, overrides the config file")
	debug := flag.Bool("debug", false, "debug logging with the console encoder")
	flag.Parse()

	cfg, configWarning := config.Load(*configPath)
	if cfg == nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", configWarning)
		os.Exit(1)
	}

	// Флаги командной строки имеют приоритет над файлом и окружением
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "a":
			cfg.Server.ListenAddress = *addr
		case "p":
			cfg.Server.ListenPort = *port
		case "db":
			cfg.Database.Path = *dbPath
		}
	})
	if *debug {
		cfg.Log.Level = "debug"
		cfg.Log.Development = true
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	log := logger.Sugar()

	if configWarning != nil {
		log.Warnf("Using built-in defaults: %v", configWarning)
	}

	if err := run(cfg, log); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func run(cfg *config.Config, log *zap.SugaredLogger) error {
	path, err := cfg.DatabasePath()
	if err != nil {
		return err
	}

	database, err := db.Open(cfg.Database.Driver, path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()
	log.Infof("Using %s database %s", cfg.Database.Driver, path)

	srv := server.New(database, &server.ServerConfig{
		ListenAddr:    cfg.ListenAddr(),
		AcceptTimeout: cfg.AcceptTimeout(),
		WriteTimeout:  cfg.WriteTimeout(),
	}, log)

	if cfg.Server.MetricsAddress != "" {
		httpSrv := &http.Server{
			Addr:              cfg.Server.MetricsAddress,
			Handler:           srv.HTTPHandler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Infof("Metrics listening on %s", cfg.Server.MetricsAddress)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("Metrics server error: %v", err)
			}
		}()
		defer httpSrv.Close()
	}

	if socketPath := cfg.Server.ControlSocket; socketPath != "" {
		os.Remove(socketPath)
		listener, err := net.Listen("unix", socketPath)
		if err != nil {
			log.Warnf("Failed to create control socket: %v", err)
		} else {
			defer os.Remove(socketPath)
			go srv.ServeControl(listener)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Infof("Received signal %v, shutting down...", sig)
		srv.Stop()
	}()

	err = srv.Start()
	srv.Stop()
	return err
}

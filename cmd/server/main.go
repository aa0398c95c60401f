package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aeolun/fraudengine/pkg/database"
	"github.com/aeolun/fraudengine/pkg/fraud"
	"github.com/aeolun/fraudengine/pkg/protocol"
	"github.com/aeolun/fraudengine/pkg/server"
)

func main() {
	configPath := flag.String("config", server.DefaultConfigPath, "Path to config file")
	port := flag.Int("port", 0, "Listen port (overrides config)")
	noDatabase := flag.Bool("no-db", false, "Run without persistence (disables the velocity rule)")
	debug := flag.Bool("debug", false, "Write debug.log")
	flag.Parse()

	if err := server.InitLogging(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logging: %v\n", err)
		os.Exit(1)
	}

	config, err := server.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *debug || config.Server.DebugLog {
		server.EnableDebugLogging()
	}

	serverConfig := config.ToServerConfig()
	if *port != 0 {
		serverConfig.Port = *port
	}

	var (
		db       *database.DB
		history  fraud.History
		recorder server.Recorder
	)
	if !*noDatabase {
		dsn, err := config.GetDatabaseDSN()
		if err != nil {
			log.Fatalf("Invalid database config: %v", err)
		}
		db, err = database.Open(config.Database.Driver, dsn)
		if err != nil {
			log.Fatalf("Failed to open database: %v", err)
		}
		defer db.Close()
		history, recorder = db, db
		log.Printf("Database: %s", config.Database.Driver)

		if config.Database.VelocityCache {
			memDB, err := database.NewMemDB(context.Background(), db, config.CacheRetention(), time.Minute)
			if err != nil {
				log.Fatalf("Failed to load velocity cache: %v", err)
			}
			defer memDB.Close()
			history, recorder = memDB, memDB
		}
	}

	rules, err := config.BuildRules(history)
	if err != nil {
		log.Fatalf("Failed to load rules: %v", err)
	}
	engine := fraud.NewEngine(log.Default(), rules...)
	log.Printf("Rules: %v", engine.Rules())

	registry := protocol.DefaultRegistry()
	transformer := server.NewTransformer(engine, recorder, registry)
	srv := server.NewServer(serverConfig, protocol.NewCodec(registry), transformer)
	engine.SetMetrics(srv.Metrics())

	if err := srv.Start(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Printf("Received %v, shutting down", sig)

	if err := srv.Stop(); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
}

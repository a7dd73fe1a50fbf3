package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	config, err := LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	ingester, err := NewIngester(config)
	if err != nil {
		log.Fatalf("❌ Failed to create ingester: %v", err)
	}

	healthServer := NewHealthServer(ingester, config.Service.HealthPort)
	go func() {
		if err := healthServer.Start(); err != nil {
			log.Printf("❌ Health server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- ingester.Start()
	}()

	select {
	case <-sigChan:
		log.Println("\n📨 Received shutdown signal")
		ingester.Stop()
		log.Println("✅ Graceful shutdown complete")
	case err := <-errChan:
		if err != nil {
			log.Fatalf("❌ Ingester error: %v", err)
		}
	}
}

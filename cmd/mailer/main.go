package main

import (
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/converse/chat-app/internal/config"
	"github.com/converse/chat-app/internal/mailer"
	"github.com/converse/chat-app/internal/messaging"
	"github.com/converse/chat-app/internal/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.URL = cfg.NATSURL
	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	sender := mailer.NewSMTPSender(mailer.SMTPConfig{
		Addr:     cfg.SMTPAddr,
		From:     cfg.SMTPFrom,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
	})

	consumer := mailer.NewConsumer(natsClient, sender)
	if err := consumer.Start(); err != nil {
		log.Fatalf("failed to start mail consumer: %v", err)
	}

	log.Printf("Converse mailer starting")
	log.Printf("  nats_url:  %s", natsConfig.URL)
	log.Printf("  smtp_addr: %s", cfg.SMTPAddr)
	log.Printf("  smtp_from: %s", cfg.SMTPFrom)

	// Metrics endpoint; the mailer has no other HTTP surface.
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	addr := os.Getenv("MAILER_LISTEN_ADDR")
	if addr == "" {
		addr = ":8081"
	}
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Printf("metrics server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	log.Printf("received signal %v, draining...", sig)
	natsClient.Close()
}

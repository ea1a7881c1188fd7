// Package main implements the card capture daemon entry point.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/card-capture/ccd/internal/api"
	"github.com/card-capture/ccd/internal/audit"
	"github.com/card-capture/ccd/internal/auth"
	"github.com/card-capture/ccd/internal/capture"
	"github.com/card-capture/ccd/internal/config"
	"github.com/card-capture/ccd/internal/fields"
	"github.com/card-capture/ccd/internal/protocol"
	"github.com/card-capture/ccd/internal/telemetry"
	"github.com/card-capture/ccd/internal/transport"
	"github.com/card-capture/ccd/internal/workflow"
)

const Version = "1.0.0"

func main() {
	log.Printf("Starting card capture daemon v%s", Version)

	// Step 1: Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	store := config.NewStore(*cfg)
	log.Println("Configuration loaded successfully")

	// Step 2: Initialize audit logger
	auditLogger, err := audit.NewLogger("logs")
	if err != nil {
		log.Fatalf("Failed to initialize audit logger: %v", err)
	}
	log.Println("Audit logger initialized")

	// Step 3: Initialize capture manager and sources
	captureMgr := capture.NewManager(cfg.Capture.EventBufferSize)
	if cfg.Capture.SerialPort != "" {
		serial := capture.NewSerialSource(cfg.Capture.SerialPort, cfg.Capture.SerialBaud, captureMgr)
		if err := captureMgr.Register(serial); err != nil {
			log.Fatalf("Failed to register serial source: %v", err)
		}
		log.Printf("Serial source registered on %s", cfg.Capture.SerialPort)
	}
	var wedge *capture.KeystrokeSource
	if cfg.Capture.HIDEnabled {
		wedge = capture.NewKeystrokeSource(capture.KeystrokeConfig{
			DeviceKeywords: cfg.Capture.DeviceKeywords,
			DigitLength:    cfg.Capture.DigitLength,
			RequireEnter:   cfg.Capture.RequireEnter,
			BufferTimeout:  cfg.Capture.BufferTimeout(),
		}, captureMgr.Publish)
		log.Println("Keystroke wedge listener initialized")
	}
	log.Println("Capture manager initialized")

	// Step 4: Build protocol adapters
	client := transport.NewClient(nil, cfg.TransportTimeout())
	registry := protocol.NewRegistry(cfg.Service, client, openBrowser)
	log.Printf("Protocol adapters ready: %v", registry.IDs())

	// Step 5: Field registry
	fieldRegistry := fields.NewRegistry(cfg.Fields)
	collector := &fields.Collector{Registry: fieldRegistry}
	log.Println("Field registry seeded")

	// Step 6: Telemetry hub and workflow orchestrator
	hub := telemetry.NewHub(cfg.Capture.EventBufferSize, 15*time.Second, nil)
	orchestrator := workflow.NewOrchestrator(captureMgr.Events(), registry, collector,
		hub, auditLogger, workflow.SettingsFromConfig(cfg))
	hub.SetSnapshotFunc(orchestrator.SnapshotData)
	store.OnChange(func(c config.Config) {
		orchestrator.UpdateSettings(workflow.SettingsFromConfig(&c))
	})
	log.Println("Telemetry hub initialized")

	// Step 7: API server
	var server *api.Server
	if cfg.Auth.Enabled {
		verifier, err := auth.NewVerifier(auth.VerifierConfig{
			Algorithm:    cfg.Auth.Algorithm,
			SecretKey:    cfg.Auth.Secret,
			PublicKeyPEM: cfg.Auth.PublicKeyPEM,
			JWKSURL:      cfg.Auth.JWKSURL,
		})
		if err != nil {
			log.Fatalf("Failed to initialize token verifier: %v", err)
		}
		server = api.NewServerWithAuth(orchestrator, captureMgr, fieldRegistry, store, hub,
			auth.NewMiddlewareWithVerifier(verifier), 30*time.Second, 0, 120*time.Second)
		log.Println("API server created with authentication")
	} else {
		server = api.NewServer(orchestrator, captureMgr, fieldRegistry, store, hub,
			30*time.Second, 0, 120*time.Second)
		log.Println("API server created")
	}
	if wedge != nil {
		server.SetKeyHandler(wedge)
	}

	// Step 8: Start everything
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	captureMgr.Start(ctx)
	go orchestrator.Run(ctx)

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(cfg.Addr); err != nil {
			serverErr <- fmt.Errorf("HTTP server failed: %w", err)
		}
	}()

	log.Printf("Card capture daemon started on %s", cfg.Addr)
	log.Printf("Health endpoint: http://localhost%s/api/v1/health", cfg.Addr)

	// Graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		log.Printf("Received signal %v, initiating graceful shutdown...", sig)
	case err := <-serverErr:
		log.Printf("Server error: %v", err)
	}

	cancel()
	captureMgr.Stop()
	log.Println("Capture sources stopped")

	hub.Stop()
	log.Println("Telemetry hub stopped")

	if err := auditLogger.Close(); err != nil {
		log.Printf("Error closing audit logger: %v", err)
	}
	log.Println("Audit logger closed")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Printf("Error stopping HTTP server: %v", err)
	} else {
		log.Println("HTTP server stopped gracefully")
	}

	log.Println("Card capture daemon shutdown complete")
}

// openBrowser opens the debug submission URL in the operator's browser.
func openBrowser(url string) error {
	switch runtime.GOOS {
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	case "darwin":
		return exec.Command("open", url).Start()
	default:
		return exec.Command("xdg-open", url).Start()
	}
}

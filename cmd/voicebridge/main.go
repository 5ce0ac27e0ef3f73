package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/sebas/voicebridge/internal/banner"
	"github.com/sebas/voicebridge/internal/bridge/app"
	"github.com/sebas/voicebridge/internal/bridge/config"
	"github.com/sebas/voicebridge/internal/logger"
)

func main() {
	cfg := config.Load()

	logger.InitLogger(os.Stdout)
	logger.SetLevel(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	bridge, err := app.New(cfg)
	if err != nil {
		slog.Error("Failed to create voice bridge", "error", err)
		os.Exit(1)
	}

	if err := bridge.Start(); err != nil {
		slog.Error("Failed to start voice bridge", "error", err)
		os.Exit(1)
	}
	printBanner(cfg, bridge.Addr())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	slog.Info("Received signal, shutting down", "signal", sig)

	if err := bridge.Close(); err != nil {
		slog.Error("Shutdown error", "error", err)
		os.Exit(1)
	}
}

func printBanner(cfg *config.Config, addr string) {
	secret := "not set"
	if cfg.SignatureSecret != "" {
		secret = "set"
	}
	directory := cfg.DirectoryPath
	if directory == "" {
		directory = "built-in"
	}

	banner.Print(os.Stdout, "Voice Bridge", []banner.ConfigLine{
		{Label: "HTTP", Value: addr},
		{Label: "Control path", Value: cfg.ControlPath},
		{Label: "gRPC health", Value: cfg.GRPCHealthAddr},
		{Label: "Agent trunk", Value: cfg.AgentTrunk},
		{Label: "PSTN trunk", Value: cfg.PSTNTrunk},
		{Label: "Trusted user", Value: cfg.TrustedUsername},
		{Label: "Country", Value: cfg.CountryCode},
		{Label: "Directory", Value: directory},
		{Label: "Signature", Value: secret},
		{Label: "Keep-alive", Value: cfg.KeepAliveInterval.String()},
		{Label: "Log level", Value: logger.GetLevel()},
		{Label: "Rate limit", Value: fmt.Sprintf("%.0f/s burst %d", cfg.TransferRateLimit, cfg.TransferRateBurst)},
	})
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"migbench/internal/loadgen"
)

func main() {
	// stdout carries telemetry, so logs go to stderr
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	host := envOr("TARGET_HOST", "localhost")
	port := envOr("TARGET_PORT", "5000")
	clientID := envOr("CLIENT_ID", "client_01")
	rateHz := envFloat("RATE_HZ", 1.0)
	payloadBytes := envInt("PAYLOAD_BYTES", 64)
	timeoutMS := envInt("TIMEOUT_MS", 800)

	baseURL := fmt.Sprintf("http://%s:%s", host, port)
	gen := loadgen.New(baseURL, clientID, rateHz, payloadBytes,
		time.Duration(timeoutMS)*time.Millisecond, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("load client starting",
		"client", clientID, "target", baseURL,
		"rate_hz", rateHz, "payload_bytes", payloadBytes)
	if err := gen.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("load client failed", "error", err)
		os.Exit(1)
	}
	logger.Info("load client stopped", "client", clientID)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

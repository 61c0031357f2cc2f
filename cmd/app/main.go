package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"fairbid/internal/app"
	"fairbid/internal/server"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	// 1. System Bootstrapping
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize("configs/config.yaml"); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer bootstrap.Close()

	// 2. Pprof Server (localhost only for security)
	if addr := bootstrap.Config.Server.PprofAddr; addr != "" {
		go func() {
			slog.Info("🕵️ Pprof server started", slog.String("addr", addr))
			if err := http.ListenAndServe(addr, nil); err != nil {
				slog.Error("Pprof server failed", slog.Any("error", err))
			}
		}()
	}

	// 3. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Background loops: lifecycle sweeps and the ledger drain
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		bootstrap.Lifecycle.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		bootstrap.Consumer.Run(ctx)
	}()

	// 5. HTTP + WebSocket server
	srv := server.New(bootstrap.Coordinator, bootstrap.Lifecycle, bootstrap.Cache,
		bootstrap.Storage, bootstrap.Hub, bootstrap.Logger)
	httpServer := &http.Server{
		Addr:    bootstrap.Config.Server.Addr,
		Handler: srv.Router(),
	}
	go func() {
		slog.Info("✅ HTTP server started", slog.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", slog.Any("error", err))
			stop()
		}
	}()

	slog.InfoContext(ctx, "✨ FairBid engine fully operational. Press Ctrl+C to exit.")

	// Wait for shutdown signal
	<-ctx.Done()
	slog.InfoContext(ctx, "👋 Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown failed", slog.Any("error", err))
	}

	// The consumer performs a final drain on cancellation.
	wg.Wait()
}

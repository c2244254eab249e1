package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"wtproto/internal/base"
	"wtproto/internal/config"
	"wtproto/internal/handoff"
	"wtproto/internal/obs/log"
)

const version = "1.0.0"

func main() {
	log.Banner("baseapp", version)

	cfg := config.LoadBase()
	log.Info("base_host=%s base_port=%d", cfg.Host, cfg.Port)

	// Same caveat as cmd/loginapp: this process's Table starts empty and
	// no standalone loginapp can ever populate it, so every ClientAuth
	// fails with an unknown login_key. Use cmd/server to run both apps
	// against one Table, or feed this Table from a real interserver
	// transport.
	pending := handoff.NewTable()

	srv := base.NewServer(cfg, pending)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		log.Fatal("baseapp: serve error: %v", err)
	case sig := <-sigChan:
		log.Warn("baseapp: received signal %v, shutting down", sig)
		srv.Stop()
		time.Sleep(200 * time.Millisecond)
		log.Success("baseapp: stopped")
	}
}

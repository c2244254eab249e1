package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"wtproto/internal/config"
	"wtproto/internal/handoff"
	"wtproto/internal/login"
	"wtproto/internal/obs/log"
)

const version = "1.0.0"

func main() {
	log.Banner("loginapp", version)

	cfg := config.LoadLogin()
	log.Info("login_host=%s login_port=%d base_addr=%s cuckoo_max_nonce=%d", cfg.Host, cfg.Port, cfg.BaseAddr, cfg.CuckooMaxNonce)

	// Run standalone, this process's handoff.Table is never seen by any
	// base app, so ClientAuth can never redeem a login_key it mints: the
	// base app needs the same Table, either in-process (see cmd/server)
	// or fed across a real interserver transport this repository does not
	// implement.
	pending := handoff.NewTable()

	srv, err := login.NewServer(cfg, nil, pending)
	if err != nil {
		log.Fatal("loginapp: %v", err)
	}

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
		log.Fatal("loginapp: serve error: %v", err)
	case sig := <-sigChan:
		log.Warn("loginapp: received signal %v, shutting down", sig)
		srv.Stop()
		time.Sleep(200 * time.Millisecond)
		log.Success("loginapp: stopped")
	}
}

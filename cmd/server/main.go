// Command server runs the login app and base app in one process, sharing
// the in-memory handoff table that a standalone loginapp/baseapp pair
// cannot: see cmd/loginapp and cmd/baseapp for the split-process form and
// its interserver-transport caveat.
package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"wtproto/internal/config"
	"wtproto/internal/obs/log"
	"wtproto/internal/server"
)

const version = "1.0.0"

func main() {
	log.Banner("server", version)

	loginCfg := config.LoadLogin()
	baseCfg := config.LoadBase()
	log.Info("login_host=%s login_port=%d base_addr=%s base_host=%s base_port=%d", loginCfg.Host, loginCfg.Port, loginCfg.BaseAddr, baseCfg.Host, baseCfg.Port)

	srv, err := server.New(loginCfg, baseCfg, nil)
	if err != nil {
		log.Fatal("server: %v", err)
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
		log.Fatal("server: serve error: %v", err)
	case sig := <-sigChan:
		log.Warn("server: received signal %v, shutting down", sig)
		srv.Stop()
		time.Sleep(200 * time.Millisecond)
		log.Success("server: stopped")
	}
}

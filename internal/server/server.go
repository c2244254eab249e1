// Package server composes a login app and a base app into a single
// process sharing one pending-client handoff table, the deployment shape
// that lets a ClientAuth actually redeem a login_key minted moments
// earlier by the login app.
package server

import (
	"crypto/rsa"
	"fmt"

	"wtproto/internal/base"
	"wtproto/internal/config"
	"wtproto/internal/handoff"
	"wtproto/internal/login"
)

// Server runs a login app and a base app side by side against one
// *handoff.Table, so a peer's login_key survives the trip from the login
// socket to the base socket.
type Server struct {
	Login *login.Server
	Base  *base.Server

	pending *handoff.Table
}

// New builds a combined server. rsaPriv may be nil if the login app only
// ever sees SchemeNone login requests.
func New(loginCfg config.Login, baseCfg config.Base, rsaPriv *rsa.PrivateKey) (*Server, error) {
	pending := handoff.NewTable()

	loginSrv, err := login.NewServer(loginCfg, rsaPriv, pending)
	if err != nil {
		return nil, fmt.Errorf("server: login: %w", err)
	}
	baseSrv := base.NewServer(baseCfg, pending)

	return &Server{Login: loginSrv, Base: baseSrv, pending: pending}, nil
}

// Start runs both apps' serve loops concurrently, blocking on whichever
// fails first.
func (s *Server) Start() error {
	errCh := make(chan error, 2)
	go func() { errCh <- s.Login.Start() }()
	go func() { errCh <- s.Base.Start() }()
	return <-errCh
}

// Stop shuts down both apps' sockets.
func (s *Server) Stop() {
	s.Login.Stop()
	s.Base.Stop()
}

package login

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net"
	"net/netip"
	"sync"

	"wtproto/internal/config"
	"wtproto/internal/handoff"
	"wtproto/internal/obs/log"
	"wtproto/pkg/bundle"
	"wtproto/pkg/channel"
	"wtproto/pkg/cuckoo"
	"wtproto/pkg/filter/blowfish"
	rsafilter "wtproto/pkg/filter/rsa"
	"wtproto/pkg/packet"
)

// State is one peer's position in the login handshake state machine.
type State int

const (
	StateNew State = iota
	StateChallengeSent
	StateChallengeOK
	StateSuccessSent
)

// Session is one peer's login progress.
type Session struct {
	Addr     netip.AddrPort
	State    State
	Prefix   string
	MaxNonce uint32
}

// Server is the login app: it terminates the UDP socket, feeds datagrams
// through a channel.Tracker, and drives the per-peer state machine.
type Server struct {
	cfg    config.Login
	tr     *channel.Tracker
	conn   *net.UDPConn
	rsaPriv *rsa.PrivateKey
	rsaReader *rsafilter.Reader
	pending *handoff.Table
	baseAddr netip.AddrPort

	mu       sync.Mutex
	sessions map[netip.AddrPort]*Session
	running  bool
}

// NewServer builds a login app server. priv may be nil if SchemeRSA is
// never exercised (e.g. in tests using SchemeNone).
func NewServer(cfg config.Login, priv *rsa.PrivateKey, pending *handoff.Table) (*Server, error) {
	baseAddr, err := netip.ParseAddrPort(cfg.BaseAddr)
	if err != nil {
		return nil, fmt.Errorf("login: bad base_addr %q: %w", cfg.BaseAddr, err)
	}
	s := &Server{
		cfg:      cfg,
		tr:       channel.NewTracker(),
		rsaPriv:  priv,
		pending:  pending,
		baseAddr: baseAddr,
		sessions: make(map[netip.AddrPort]*Session),
	}
	if priv != nil {
		s.rsaReader = rsafilter.NewReader(priv)
	}
	return s, nil
}

// Pending exposes the handoff table so a caller can confirm it is the same
// table a base.Server redeems ClientAuth against.
func (s *Server) Pending() *handoff.Table { return s.pending }

// Start binds the UDP socket and serves until Stop is called.
func (s *Server) Start() error {
	addr := &net.UDPAddr{IP: net.ParseIP(s.cfg.Host), Port: s.cfg.Port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("login: listen: %w", err)
	}
	s.conn = conn
	s.running = true
	log.Banner("loginapp", "1.0")
	log.Info("loginapp listening on %s:%d", s.cfg.Host, s.cfg.Port)
	return s.listen()
}

// Stop closes the socket, ending Start's serve loop.
func (s *Server) Stop() {
	s.running = false
	if s.conn != nil {
		s.conn.Close()
	}
}

func (s *Server) listen() error {
	buf := make([]byte, packet.MaxSize)
	for s.running {
		n, raddr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if s.running {
				log.Warn("login: read: %v", err)
			}
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		addr := raddr.AddrPort()
		s.handleDatagram(data, addr)
	}
	return nil
}

func (s *Server) handleDatagram(data []byte, addr netip.AddrPort) {
	pkt, err := packet.Decode(data, true)
	if err != nil {
		log.Warn("login: decode from %s: %v", addr, err)
		return
	}
	ch, err := s.tr.Accept(pkt, addr)
	if err != nil {
		log.Warn("login: accept from %s: %v", addr, err)
		return
	}
	for _, b := range ch.PopBundles() {
		if err := s.handleBundle(addr, ch, b); err != nil {
			log.Warn("login: handle bundle from %s: %v", addr, err)
		}
	}
}

func (s *Server) session(addr netip.AddrPort) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[addr]
	if !ok {
		sess = &Session{Addr: addr, State: StateNew}
		s.sessions[addr] = sess
	}
	return sess
}

func (s *Server) handleBundle(addr netip.AddrPort, ch *channel.Channel, b *bundle.Bundle) error {
	sess := s.session(addr)
	out := bundle.New()
	hasReply := false

	r := b.ElementReader(Dispatch)
	for {
		el, ok, err := r.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if err := s.handleElement(sess, el, out); err != nil {
			return err
		}
		if el.IsRequest {
			hasReply = true
		}
	}

	if !hasReply {
		return nil
	}
	wires, err := ch.Prepare(out, false)
	if err != nil {
		return fmt.Errorf("prepare reply: %w", err)
	}
	for _, w := range wires {
		if _, err := s.conn.WriteToUDP(w, net.UDPAddrFromAddrPort(addr)); err != nil {
			return fmt.Errorf("write reply: %w", err)
		}
	}
	return nil
}

func (s *Server) handleElement(sess *Session, el *bundle.NextElement, out *bundle.Bundle) error {
	switch el.ID {
	case ElemPing:
		num, err := DecodePing(el.Body)
		if err != nil {
			return err
		}
		if el.IsRequest {
			out.WriteReply(el.ReplyID, EncodePing(num))
		}
		return nil

	case ElemLoginRequest:
		scheme, rest, err := DecodeLoginRequestScheme(el.Body)
		if err != nil {
			return err
		}
		var plain []byte
		switch scheme {
		case SchemeNone:
			plain = rest
		case SchemeRSA:
			if s.rsaReader == nil {
				return fmt.Errorf("login: RSA scheme requested but no private key configured")
			}
			plain, err = s.rsaReader.Decrypt(rest)
			if err != nil {
				return fmt.Errorf("login: rsa decrypt: %w", err)
			}
		default:
			return fmt.Errorf("login: unknown scheme %d", scheme)
		}
		req, err := DecodeLoginRequestPlain(plain)
		if err != nil {
			return err
		}
		return s.handleLoginRequest(sess, req, el, out)

	case ElemChallengeResponse:
		resp, err := DecodeChallengeResponse(el.Body)
		if err != nil {
			return err
		}
		return s.handleChallengeResponse(sess, resp, el, out)

	default:
		return fmt.Errorf("login: unhandled element id %d", el.ID)
	}
}

func (s *Server) handleLoginRequest(sess *Session, req LoginRequest, el *bundle.NextElement, out *bundle.Bundle) error {
	switch sess.State {
	case StateNew, StateChallengeSent:
		prefix, err := randomPrefix()
		if err != nil {
			return err
		}
		sess.Prefix = prefix
		sess.MaxNonce = s.cfg.CuckooMaxNonce
		sess.State = StateChallengeSent
		if el.IsRequest {
			out.WriteReply(el.ReplyID, EncodeLoginChallenge(LoginChallenge{
				Kind:     LoginChallengeCuckoo,
				Prefix:   prefix,
				MaxNonce: sess.MaxNonce,
			}))
		}
		return nil

	case StateChallengeOK:
		loginKey, err := randomUint32()
		if err != nil {
			return err
		}
		cipher, err := blowfish.NewCipher(req.BlowfishKey)
		if err != nil {
			if el.IsRequest {
				out.WriteReply(el.ReplyID, EncodeLoginError(ErrCodeBadCredentials, err.Error()))
			}
			return nil
		}
		s.pending.Put(loginKey, handoff.PendingClient{
			Addr:     sess.Addr,
			Blowfish: cipher,
			Username: req.Username,
		})
		sess.State = StateSuccessSent
		if el.IsRequest {
			out.WriteReply(el.ReplyID, EncodeLoginSuccess(LoginSuccess{
				Addr:     s.baseAddr,
				LoginKey: loginKey,
			}))
		}
		return nil

	default:
		if el.IsRequest {
			out.WriteReply(el.ReplyID, EncodeLoginError(ErrCodeInternal, "unexpected login request"))
		}
		return nil
	}
}

func (s *Server) handleChallengeResponse(sess *Session, resp ChallengeResponse, el *bundle.NextElement, out *bundle.Bundle) error {
	if sess.State != StateChallengeSent {
		if el.IsRequest {
			out.WriteReply(el.ReplyID, EncodeLoginError(ErrCodeBadChallenge, "no challenge outstanding"))
		}
		return nil
	}
	if resp.Kind != ChallengeResponseCuckoo || !cuckoo.Verify(sess.Prefix, cuckoo.DefaultParams(), resp.Solution) {
		sess.State = StateNew
		if el.IsRequest {
			out.WriteReply(el.ReplyID, EncodeLoginError(ErrCodeBadChallenge, "invalid solution"))
		}
		return nil
	}
	sess.State = StateChallengeOK
	return nil
}

func randomPrefix() (string, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("login: random prefix: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}

func randomUint32() (uint32, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("login: random u32: %w", err)
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

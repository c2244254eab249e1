package base

import (
	"fmt"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	xblowfish "golang.org/x/crypto/blowfish"

	"wtproto/internal/config"
	"wtproto/internal/entity"
	"wtproto/internal/handoff"
	"wtproto/internal/obs/log"
	"wtproto/pkg/bundle"
	"wtproto/pkg/channel"
	"wtproto/pkg/packet"
)

// defaultFrequency is the UpdateFrequencyNotification rate in Hz a freshly
// logged-in peer is told to expect.
const defaultFrequency = 10

// entity ids used by the initial burst; stable choices of this
// implementation, not externally negotiated.
const (
	entityTypeLogin   uint16 = 1
	entityTypeAccount uint16 = 2

	methodRoutingGroup uint8 = EntityMethodFirst     // first registered plain entity method
	methodShowGUI      uint8 = BaseEntityMethodFirst // first registered base method
)

// LoggedClient is a base peer past ClientAuth: its session key is
// installed and it is waiting on the initial CreateBasePlayer burst.
type LoggedClient struct {
	SessionKey    uint32
	LoginSent     bool
	AccountToSend bool
	NextEntityID  uint32
}

// Server is the base app.
type Server struct {
	cfg      config.Base
	tr       *channel.Tracker
	conn     *net.UDPConn
	pending  *handoff.Table
	dispatch *entity.Dispatcher
	start    time.Time

	mu          sync.Mutex
	crypt       map[netip.AddrPort]*xblowfish.Cipher
	logged      map[netip.AddrPort]*LoggedClient
	resources   map[netip.AddrPort]*ResourceAssembler
	sessionKeys uint32

	running bool
}

// NewServer builds a base app server, registering a log-only entity
// dispatch table covering the EntityMethod/BaseEntityMethod/CellEntityMethod
// id ranges.
func NewServer(cfg config.Base, pending *handoff.Table) *Server {
	d := entity.NewDispatcher()
	_ = d.Register(EntityMethodFirst, EntityMethodLast, make([]entity.Descriptor, int(EntityMethodLast)-int(EntityMethodFirst)+1), logOnlyHandler("EntityMethod"))
	_ = d.Register(BaseEntityMethodFirst, BaseEntityMethodLast, make([]entity.Descriptor, int(BaseEntityMethodLast)-int(BaseEntityMethodFirst)+1), logOnlyHandler("BaseEntityMethod"))
	_ = d.Register(CellEntityMethodFirst, CellEntityMethodLast, make([]entity.Descriptor, int(CellEntityMethodLast)-int(CellEntityMethodFirst)+1), logOnlyHandler("CellEntityMethod"))

	return &Server{
		cfg:       cfg,
		tr:        channel.NewTracker(),
		pending:   pending,
		dispatch:  d,
		start:     time.Now(),
		crypt:     make(map[netip.AddrPort]*xblowfish.Cipher),
		logged:    make(map[netip.AddrPort]*LoggedClient),
		resources: make(map[netip.AddrPort]*ResourceAssembler),
	}
}

func (s *Server) resourceAssemblerFor(addr netip.AddrPort) *ResourceAssembler {
	s.mu.Lock()
	defer s.mu.Unlock()
	ra, ok := s.resources[addr]
	if !ok {
		ra = NewResourceAssembler()
		s.resources[addr] = ra
	}
	return ra
}

func logOnlyHandler(kind string) entity.Handler {
	return func(methodIndex int, body []byte) error {
		log.Debug("base: dispatched %s method_index=%d body_len=%d", kind, methodIndex, len(body))
		return nil
	}
}

// Dispatcher exposes the entity dispatch table. NewServer has already bound
// all three method id ranges to log-only handlers, and Dispatcher.Register
// rejects any range that overlaps a bound one, so those handlers cannot be
// replaced through it.
func (s *Server) Dispatcher() *entity.Dispatcher { return s.dispatch }

// Pending exposes the handoff table so a caller can confirm it is the same
// table a login.Server registers ClientAuth records into.
func (s *Server) Pending() *handoff.Table { return s.pending }

func (s *Server) gameTime() uint32 {
	return uint32(time.Since(s.start).Seconds())
}

// Start binds the UDP socket and serves until Stop is called.
func (s *Server) Start() error {
	addr := &net.UDPAddr{IP: net.ParseIP(s.cfg.Host), Port: s.cfg.Port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("base: listen: %w", err)
	}
	s.conn = conn
	s.running = true
	log.Banner("baseapp", "1.0")
	log.Info("baseapp listening on %s:%d", s.cfg.Host, s.cfg.Port)
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
				log.Warn("base: read: %v", err)
			}
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		s.handleDatagram(data, raddr.AddrPort())
	}
	return nil
}

func (s *Server) cipherFor(addr netip.AddrPort) *xblowfish.Cipher {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.crypt[addr]
}

func (s *Server) handleDatagram(data []byte, addr netip.AddrPort) {
	if c := s.cipherFor(addr); c != nil {
		plain, err := decryptWire(data, c)
		if err != nil {
			log.Warn("base: decrypt from %s: %v", addr, err)
			return
		}
		data = plain
	}

	pkt, err := packet.Decode(data, true)
	if err != nil {
		log.Warn("base: decode from %s: %v", addr, err)
		return
	}
	ch, err := s.tr.Accept(pkt, addr)
	if err != nil {
		log.Warn("base: accept from %s: %v", addr, err)
		return
	}
	for _, b := range ch.PopBundles() {
		if err := s.handleBundle(addr, ch, b); err != nil {
			log.Warn("base: handle bundle from %s: %v", addr, err)
		}
	}
}

func (s *Server) newOutBundle() *bundle.Bundle {
	b := bundle.New()
	b.WriteElement(Dispatch[ElemTickSync], EncodeTickSync(uint8(s.gameTime())))
	return b
}

func (s *Server) send(addr netip.AddrPort, ch *channel.Channel, b *bundle.Bundle) error {
	wires, err := ch.Prepare(b, false)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	cipher := s.cipherFor(addr)
	for _, w := range wires {
		if cipher != nil {
			w, err = encryptWire(w, cipher)
			if err != nil {
				return err
			}
		}
		if _, err := s.conn.WriteToUDP(w, net.UDPAddrFromAddrPort(addr)); err != nil {
			return fmt.Errorf("write: %w", err)
		}
	}
	return nil
}

func (s *Server) handleBundle(addr netip.AddrPort, ch *channel.Channel, b *bundle.Bundle) error {
	out := s.newOutBundle()
	sentAny := false

	r := b.ElementReader(Dispatch)
	for {
		el, ok, err := r.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		reply, err := s.handleElement(addr, el)
		if err != nil {
			return err
		}
		if reply != nil {
			for _, body := range reply {
				out.WriteElement(body.desc, body.payload)
			}
			sentAny = true
		}
	}
	if !sentAny {
		return nil
	}
	return s.send(addr, ch, out)
}

type outElement struct {
	desc    bundle.Descriptor
	payload []byte
}

func (s *Server) handleElement(addr netip.AddrPort, el *bundle.NextElement) ([]outElement, error) {
	switch {
	case el.ID == ElemClientAuth:
		return s.handleClientAuth(addr, el)
	case el.ID == ElemClientSessionKey:
		return s.handleClientSessionKey(addr, el)
	case el.ID == ElemResourceHeader:
		h, err := DecodeResourceHeader(el.Body)
		if err != nil {
			return nil, err
		}
		if err := s.resourceAssemblerFor(addr).Header(h); err != nil {
			return nil, err
		}
		return nil, nil
	case el.ID == ElemResourceFragment:
		f, err := DecodeResourceFragment(el.Body)
		if err != nil {
			return nil, err
		}
		if _, done, err := s.resourceAssemblerFor(addr).Fragment(f); err != nil {
			return nil, err
		} else if done {
			log.Info("base: resource %d fully received", f.ID)
		}
		return nil, nil
	case el.ID >= EntityMethodFirst && el.ID <= CellEntityMethodLast:
		return nil, s.dispatch.Dispatch(el.ID, el.Body)
	default:
		return nil, fmt.Errorf("base: unhandled element id %d", el.ID)
	}
}

func (s *Server) handleClientAuth(addr netip.AddrPort, el *bundle.NextElement) ([]outElement, error) {
	auth, err := DecodeClientAuth(el.Body)
	if err != nil {
		return nil, err
	}
	pc, ok := s.pending.Take(auth.LoginKey)
	if !ok || pc.Addr != addr {
		log.Warn("base: ClientAuth from %s rejected (login_key=%d known=%v addr_match=%v)", addr, auth.LoginKey, ok, ok && pc.Addr == addr)
		return nil, nil
	}

	s.mu.Lock()
	s.crypt[addr] = pc.Blowfish
	sessionKey := atomic.AddUint32(&s.sessionKeys, 1)
	s.logged[addr] = &LoggedClient{SessionKey: sessionKey}
	s.mu.Unlock()

	return []outElement{{Dispatch[ElemServerSessionKey], EncodeSessionKey(sessionKey)}}, nil
}

func (s *Server) handleClientSessionKey(addr netip.AddrPort, el *bundle.NextElement) ([]outElement, error) {
	got, err := DecodeSessionKey(el.Body)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	lc, ok := s.logged[addr]
	s.mu.Unlock()
	if !ok || lc.SessionKey != got {
		log.Warn("base: ClientSessionKey mismatch from %s", addr)
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !lc.LoginSent {
		lc.LoginSent = true
		lc.AccountToSend = true
		loginEntity := lc.NextEntityID
		lc.NextEntityID++
		return []outElement{
			{Dispatch[ElemUpdateFrequencyNotification], EncodeUpdateFrequencyNotification(UpdateFrequencyNotification{Frequency: defaultFrequency, GameTime: s.gameTime()})},
			{Dispatch[ElemCreateBasePlayer], EncodeCreateBasePlayer(CreateBasePlayer{EntityID: loginEntity, EntityType: entityTypeLogin})},
			{Dispatch[ElemSelectPlayerEntity], nil},
			{Dispatch[methodRoutingGroup], nil},
			{Dispatch[ElemResetEntities], EncodeResetEntities(false)},
		}, nil
	}

	if lc.AccountToSend {
		lc.AccountToSend = false
		accountEntity := lc.NextEntityID
		lc.NextEntityID++
		return []outElement{
			{Dispatch[ElemCreateBasePlayer], EncodeCreateBasePlayer(CreateBasePlayer{EntityID: accountEntity, EntityType: entityTypeAccount})},
			{Dispatch[ElemSelectPlayerEntity], nil},
			{Dispatch[methodShowGUI], nil},
		}, nil
	}

	return nil, nil
}

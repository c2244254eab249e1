// Package channel implements the reliable/unreliable packet tracker that
// sits between raw decoded packets and bundles: on/off-channel routing,
// ack bookkeeping, reliable reordering, and unreliable fragment
// reassembly.
package channel

import (
	"errors"
	"fmt"
	"net/netip"
	"sync"

	"wtproto/pkg/bundle"
	"wtproto/pkg/packet"
	"wtproto/pkg/seq"
)

// Addr identifies a peer. The prefix/footer layer never inspects it beyond
// using it as a map key.
type Addr = netip.AddrPort

var (
	// ErrOutdatedChannelVersion is returned when an incoming indexed
	// channel's version is below the version already on file.
	ErrOutdatedChannelVersion = errors.New("channel: outdated channel version")
	// ErrCumulativeAckOffChannel is returned when an off-channel packet
	// carries a cumulative ack, which is only meaningful on-channel.
	ErrCumulativeAckOffChannel = errors.New("channel: cumulative ack on off-channel packet")
	// ErrLastReliableSeqMismatch is returned when an unreliable packet's
	// last_reliable_sequence_num does not match the receiver's
	// in_reliable_expected_seq - 1.
	ErrLastReliableSeqMismatch = errors.New("channel: last_reliable_sequence_num mismatch")
)

type channelKey struct {
	addr  Addr
	index uint32
}

// Tracker owns all per-peer channel state for one socket.
type Tracker struct {
	mu sync.Mutex

	prefixOffset       uint32
	lastAcceptedPrefix uint32

	off map[Addr]*Channel
	on  map[channelKey]*Channel
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		off: make(map[Addr]*Channel),
		on:  make(map[channelKey]*Channel),
	}
}

// OffChannel returns the off-channel (unindexed, best-effort) handle for
// addr, creating it on first use.
func (t *Tracker) OffChannel(addr Addr) *Channel {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.offLocked(addr)
}

func (t *Tracker) offLocked(addr Addr) *Channel {
	c, ok := t.off[addr]
	if !ok {
		c = newChannel(t, kindOff, addr, 0)
		t.off[addr] = c
	}
	return c
}

// Channel returns the handle for (addr, index), or the off-channel handle
// when index is nil. It creates the handle on first use.
func (t *Tracker) Channel(addr Addr, index *uint32) *Channel {
	t.mu.Lock()
	defer t.mu.Unlock()
	if index == nil {
		return t.offLocked(addr)
	}
	key := channelKey{addr, *index}
	c, ok := t.on[key]
	if !ok {
		c = newChannel(t, kindOn, addr, *index)
		t.on[key] = c
	}
	return c
}

// ResetPrefixOffset sets the base value the tracker seeds outgoing
// UpdatePrefix calls from.
func (t *Tracker) ResetPrefixOffset(offset uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prefixOffset = offset
}

// TransferPrefixOffsetFromLastReceived aligns the outgoing prefix offset to
// the most recently accepted packet's prefix value, letting a proxy mirror
// its upstream's rolling prefix.
func (t *Tracker) TransferPrefixOffsetFromLastReceived() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prefixOffset = t.lastAcceptedPrefix
}

// LastAcceptedPrefix returns the prefix value recorded from the most
// recently accepted packet.
func (t *Tracker) LastAcceptedPrefix() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastAcceptedPrefix
}

// Accept integrates an already length-framed, decoded packet into the
// tracker and returns the channel it was routed to.
func (t *Tracker) Accept(pkt *packet.Packet, addr Addr) (*Channel, error) {
	for _, raw := range pkt.Config.Piggybacks {
		sub, err := packet.Decode(raw, false)
		if err != nil {
			return nil, fmt.Errorf("channel: piggyback decode: %w", err)
		}
		if len(sub.Config.Piggybacks) > 0 {
			return nil, packet.ErrInvalidPiggyback
		}
		if _, err := t.Accept(sub, addr); err != nil {
			return nil, fmt.Errorf("channel: piggyback accept: %w", err)
		}
	}

	t.mu.Lock()
	t.lastAcceptedPrefix = pkt.Prefix
	t.mu.Unlock()

	var index *uint32
	if pkt.Config.HasIndexedChannel {
		idx := pkt.Config.ChannelIndex
		index = &idx
	}
	c := t.Channel(addr, index)

	if err := c.accept(pkt); err != nil {
		return nil, err
	}
	return c, nil
}

// AcceptOut mirrors Accept for outgoing packets the tracker itself did not
// produce (proxy mode): it only updates ack/sequence bookkeeping, never
// feeding the payload into the reorder or defragment paths.
func (t *Tracker) AcceptOut(pkt *packet.Packet, addr Addr) error {
	var index *uint32
	if pkt.Config.HasIndexedChannel {
		idx := pkt.Config.ChannelIndex
		index = &idx
	}
	c := t.Channel(addr, index)

	c.mu.Lock()
	defer c.mu.Unlock()
	if pkt.Config.Reliable {
		c.outReliable[pkt.Config.SequenceNum] = struct{}{}
	}
	return nil
}

type kind int

const (
	kindOff kind = iota
	kindOn
)

// Channel is a handle to one peer's off-channel or indexed on-channel
// state: sequence allocation, ack bookkeeping, and the inbound bundle
// queue produced by reordering/defragmentation.
type Channel struct {
	mu sync.Mutex

	tracker *Tracker

	kind    kind
	addr    Addr
	index   uint32
	version uint32

	reliableAlloc   *seq.Alloc
	unreliableAlloc *seq.Alloc

	outReliable       map[seq.Seq]struct{}
	pendingSingleAcks []seq.Seq

	inExpected seq.Seq
	seeded     bool
	contiguous []*packet.Packet
	buffered   []*packet.Packet

	inBundles []*bundle.Bundle

	fragments map[seq.Seq]*fragmentSet
}

func newChannel(t *Tracker, k kind, addr Addr, index uint32) *Channel {
	c := &Channel{
		tracker:         t,
		kind:            k,
		addr:            addr,
		index:           index,
		reliableAlloc:   seq.NewAlloc(0),
		unreliableAlloc: seq.NewAlloc(0),
		outReliable:     make(map[seq.Seq]struct{}),
		fragments:       make(map[seq.Seq]*fragmentSet),
	}
	if k == kindOn {
		// ReadConfig rejects a zero channel version as malformed, so a
		// freshly created on-channel handle starts versioned.
		c.version = 1
	}
	return c
}

// IsOn reports whether this is an indexed on-channel handle.
func (c *Channel) IsOn() bool { return c.kind == kindOn }

// IsOff reports whether this is the unindexed off-channel handle.
func (c *Channel) IsOff() bool { return c.kind == kindOff }

// Index returns the channel index. It is only meaningful when IsOn.
func (c *Channel) Index() uint32 { return c.index }

// PopBundles drains and returns every bundle the accept path has finished
// reassembling for this channel, in arrival order.
func (c *Channel) PopBundles() []*bundle.Bundle {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.inBundles
	c.inBundles = nil
	return out
}

// NextBundle pops the single oldest reassembled bundle, or nil if none are
// ready.
func (c *Channel) NextBundle() *bundle.Bundle {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.inBundles) == 0 {
		return nil
	}
	b := c.inBundles[0]
	c.inBundles = c.inBundles[1:]
	return b
}

func (c *Channel) accept(pkt *packet.Packet) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.kind == kindOn && pkt.Config.HasIndexedChannel {
		if pkt.Config.ChannelVersion < c.version {
			return fmt.Errorf("%w: have %d, got %d", ErrOutdatedChannelVersion, c.version, pkt.Config.ChannelVersion)
		}
		c.version = pkt.Config.ChannelVersion
	}

	if pkt.Config.HasCumulativeAck {
		if c.kind == kindOff {
			return ErrCumulativeAckOffChannel
		}
		for s := range c.outReliable {
			if seq.Cmp(s, pkt.Config.CumulativeAck) < 0 {
				delete(c.outReliable, s)
			}
		}
	}

	for _, ack := range pkt.Config.SingleAcks {
		delete(c.outReliable, ack)
	}

	switch {
	case pkt.Config.Reliable:
		c.pendingSingleAcks = append(c.pendingSingleAcks, pkt.Config.SequenceNum)
		if c.kind == kindOn {
			c.insertReliable(pkt)
			c.drainContiguous()
			return nil
		}
		return c.defragment(pkt)
	case pkt.Config.HasLastReliableSeq:
		want := c.inExpected.Sub(1)
		if seq.Cmp(pkt.Config.LastReliableSeq, want) != 0 {
			return fmt.Errorf("%w: want %s, got %s", ErrLastReliableSeqMismatch, want, pkt.Config.LastReliableSeq)
		}
		return c.defragment(pkt)
	default:
		return c.defragment(pkt)
	}
}

package channel

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	"wtproto/pkg/bundle"
	"wtproto/pkg/packet"
	"wtproto/pkg/seq"
)

var testDispatch = bundle.Dispatch{
	1: {ID: 1, Name: "ping", Length: bundle.LengthFixed, FixedBytes: 4},
}

func mustSeq(t *testing.T, v uint32) seq.Seq {
	t.Helper()
	s, err := seq.New(v)
	require.NoError(t, err)
	return s
}

func testAddr() Addr {
	return netip.MustParseAddrPort("10.0.0.1:7777")
}

// buildPacket constructs a decoded packet.Packet carrying a single
// fixed-size "ping" element, as if it had just arrived off the wire.
func buildPacket(t *testing.T, s seq.Seq, reliable bool, frag *[2]seq.Seq) *packet.Packet {
	t.Helper()
	b := bundle.New()
	require.NoError(t, b.WriteElement(testDispatch[1], []byte{1, 2, 3, 4}))

	cfg := packet.Config{
		SequenceNum: s,
		Reliable:    reliable,
	}
	flags := packet.FlagSequenceNumber | packet.FlagChecksum
	if reliable {
		flags |= packet.FlagReliable
	}
	if frag != nil {
		cfg.HasFragments = true
		cfg.FragmentFirst, cfg.FragmentLast = frag[0], frag[1]
		flags |= packet.FlagFragments
	}
	cfg.Flags = flags

	wire, err := packet.WriteConfig(b.Packets[0].Payload, cfg, true)
	require.NoError(t, err)
	require.NoError(t, packet.UpdatePrefix(wire, 0))

	pkt, err := packet.Decode(wire, true)
	require.NoError(t, err)
	return pkt
}

func buildOnChannelPacket(t *testing.T, s seq.Seq, index uint32) *packet.Packet {
	t.Helper()
	b := bundle.New()
	require.NoError(t, b.WriteElement(testDispatch[1], []byte{1, 2, 3, 4}))

	cfg := packet.Config{
		SequenceNum:       s,
		Reliable:          true,
		OnChannel:         true,
		HasIndexedChannel: true,
		ChannelIndex:      index,
		ChannelVersion:    1,
	}
	cfg.Flags = packet.FlagSequenceNumber | packet.FlagChecksum |
		packet.FlagReliable | packet.FlagOnChannel | packet.FlagIndexedChannel

	wire, err := packet.WriteConfig(b.Packets[0].Payload, cfg, true)
	require.NoError(t, err)
	require.NoError(t, packet.UpdatePrefix(wire, 0))

	pkt, err := packet.Decode(wire, true)
	require.NoError(t, err)
	return pkt
}

func elementCount(t *testing.T, b *bundle.Bundle) int {
	t.Helper()
	r := b.ElementReader(testDispatch)
	n := 0
	for {
		_, ok, err := r.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		n++
	}
	return n
}

// Property 4 / Scenario E: defragment order independence.
func TestDefragmentOrderIndependence(t *testing.T) {
	tracker := NewTracker()
	addr := testAddr()

	first, last := mustSeq(t, 100), mustSeq(t, 102)
	order := []uint32{101, 102, 100}

	for _, n := range order {
		pkt := buildPacket(t, mustSeq(t, n), false, &[2]seq.Seq{first, last})
		_, err := tracker.Accept(pkt, addr)
		require.NoError(t, err)
	}

	bundles := tracker.OffChannel(addr).PopBundles()
	require.Len(t, bundles, 1)
	require.Equal(t, 3, elementCount(t, bundles[0]))
}

// Property 5 / Scenario F: on-channel reliable delivery reorders a gap.
func TestOnChannelReliableReordersGap(t *testing.T) {
	tracker := NewTracker()
	addr := testAddr()
	idx := uint32(1)

	for _, n := range []uint32{50, 52, 51} {
		pkt := buildOnChannelPacket(t, mustSeq(t, n), idx)
		_, err := tracker.Accept(pkt, addr)
		require.NoError(t, err)
	}

	ch := tracker.Channel(addr, &idx)
	bundles := ch.PopBundles()
	require.Len(t, bundles, 3)
	for _, b := range bundles {
		require.Equal(t, 1, elementCount(t, b))
	}
}

// Property 6: after Prepare, the cumulative ack equals expected_seq and no
// single ack older than it survives.
func TestPrepareAckMinimality(t *testing.T) {
	tracker := NewTracker()
	addr := testAddr()
	idx := uint32(1)

	for _, n := range []uint32{50, 52, 51} {
		pkt := buildOnChannelPacket(t, mustSeq(t, n), idx)
		_, err := tracker.Accept(pkt, addr)
		require.NoError(t, err)
	}
	ch := tracker.Channel(addr, &idx)

	out := bundle.New()
	require.NoError(t, out.WriteElement(testDispatch[1], []byte{9, 9, 9, 9}))
	wires, err := ch.Prepare(out, true)
	require.NoError(t, err)
	require.Len(t, wires, 1)

	got, _, err := packet.ReadConfig(wires[0], true)
	require.NoError(t, err)
	require.True(t, got.HasCumulativeAck)
	require.Equal(t, mustSeq(t, 53), got.CumulativeAck)
	for _, a := range got.SingleAcks {
		require.False(t, seq.Cmp(a, got.CumulativeAck) < 0)
	}
}

func TestDuplicateReliablePacketIgnored(t *testing.T) {
	tracker := NewTracker()
	addr := testAddr()
	idx := uint32(1)

	pkt := buildOnChannelPacket(t, mustSeq(t, 10), idx)
	_, err := tracker.Accept(pkt, addr)
	require.NoError(t, err)
	ch := tracker.Channel(addr, &idx)
	require.Len(t, ch.PopBundles(), 1)

	dup := buildOnChannelPacket(t, mustSeq(t, 10), idx)
	_, err = tracker.Accept(dup, addr)
	require.NoError(t, err)
	require.Empty(t, ch.PopBundles())
}

func TestFragmentSetDroppedAfterTimeoutIsRebuilt(t *testing.T) {
	tracker := NewTracker()
	addr := testAddr()
	ch := tracker.OffChannel(addr)

	first, last := mustSeq(t, 200), mustSeq(t, 201)
	pkt0 := buildPacket(t, first, false, &[2]seq.Seq{first, last})
	_, err := tracker.Accept(pkt0, addr)
	require.NoError(t, err)
	require.Empty(t, ch.PopBundles())

	ch.mu.Lock()
	ch.fragments[first].lastUpdate = ch.fragments[first].lastUpdate.Add(-2 * fragmentTTL)
	ch.mu.Unlock()

	pkt1 := buildPacket(t, mustSeq(t, 201), false, &[2]seq.Seq{first, last})
	_, err = tracker.Accept(pkt1, addr)
	require.NoError(t, err)
	// The first fragment's slot expired, so only the second fragment is
	// live in the new set; no complete bundle yet.
	require.Empty(t, ch.PopBundles())
}

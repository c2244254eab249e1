package channel

import (
	"wtproto/pkg/bundle"
	"wtproto/pkg/packet"
	"wtproto/pkg/seq"
)

// Prepare stamps channel/ack/sequence config onto every packet of b and
// returns the finalized wire buffers, ready to send. Reliable bundles draw
// sequence numbers from the channel's reliable allocator and are tracked
// in outReliable pending ack; non-reliable bundles draw from the
// unreliable allocator. The prefix is updated on every packet from the
// tracker's current prefix offset.
func (c *Channel) Prepare(b *bundle.Bundle, reliable bool) ([][]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tracker.mu.Lock()
	prefixOffset := c.tracker.prefixOffset
	c.tracker.mu.Unlock()

	n := len(b.Packets)
	alloc := c.unreliableAlloc
	if reliable {
		alloc = c.reliableAlloc
	}
	first := alloc.Alloc(uint32(n))

	acks := c.pendingSingleAcks
	c.pendingSingleAcks = nil

	wires := make([][]byte, n)
	for i, pb := range b.Packets {
		s := first.Add(uint32(i))
		cfg := packet.Config{
			SequenceNum:    s,
			Reliable:       reliable,
			OnChannel:      c.kind == kindOn,
			HasRequests:    pb.HasRequests,
			RequestsOffset: pb.RequestsOffset,
		}
		flags := packet.FlagSequenceNumber | packet.FlagChecksum
		if reliable {
			flags |= packet.FlagReliable
		}
		if cfg.OnChannel {
			flags |= packet.FlagOnChannel
		}
		if cfg.HasRequests {
			flags |= packet.FlagHasRequests
		}

		if n > 1 {
			cfg.HasFragments = true
			cfg.FragmentFirst = first
			cfg.FragmentLast = first.Add(uint32(n - 1))
			flags |= packet.FlagFragments
		}

		if i == 0 && c.kind == kindOff && len(acks) > 0 {
			cfg.SingleAcks = acks
			flags |= packet.FlagSingleAcks
		}

		if c.kind == kindOn {
			cfg.HasIndexedChannel = true
			cfg.ChannelIndex = c.index
			cfg.ChannelVersion = c.version
			flags |= packet.FlagIndexedChannel

			if i == 0 {
				cfg.HasCumulativeAck = true
				cfg.CumulativeAck = c.inExpected
				flags |= packet.FlagCumulativeAck

				cfg.SingleAcks = dropStale(acks, c.inExpected)
				if len(cfg.SingleAcks) > 0 {
					flags |= packet.FlagSingleAcks
				}
			}

			if !reliable {
				cfg.HasLastReliableSeq = true
				cfg.LastReliableSeq = c.inExpected.Sub(1)
				flags |= packet.FlagLastReliableSeq
			}
		}
		cfg.Flags = flags

		if reliable {
			c.outReliable[s] = struct{}{}
		}

		wire, err := packet.WriteConfig(pb.Payload, cfg, true)
		if err != nil {
			return nil, err
		}
		if err := packet.UpdatePrefix(wire, prefixOffset); err != nil {
			return nil, err
		}
		wires[i] = wire
	}

	return wires, nil
}

// dropStale filters out single acks older than the cumulative ack, since
// the cumulative ack already covers them.
func dropStale(acks []seq.Seq, cumulative seq.Seq) []seq.Seq {
	out := acks[:0:0]
	for _, a := range acks {
		if seq.Cmp(a, cumulative) >= 0 {
			out = append(out, a)
		}
	}
	return out
}

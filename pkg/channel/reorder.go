package channel

import (
	"wtproto/pkg/bundle"
	"wtproto/pkg/packet"
	"wtproto/pkg/seq"
)

// insertReliable places an on-channel reliable packet into contiguous (if
// it extends the front) or buffered (sorted, duplicates skipped) storage.
// Caller holds c.mu.
func (c *Channel) insertReliable(pkt *packet.Packet) {
	s := pkt.Config.SequenceNum
	if !c.seeded {
		// The first reliable packet a freshly created channel sees seeds
		// the expected-sequence counter: nothing upstream of it was ever
		// sent, so there is nothing to wait for.
		c.seeded = true
		c.inExpected = s
	}
	switch seq.Cmp(s, c.inExpected) {
	case 0:
		c.contiguous = append(c.contiguous, pkt)
		c.inExpected = c.inExpected.Add(1)
		for {
			i := indexOfSeq(c.buffered, c.inExpected)
			if i < 0 {
				break
			}
			c.contiguous = append(c.contiguous, c.buffered[i])
			c.buffered = append(c.buffered[:i], c.buffered[i+1:]...)
			c.inExpected = c.inExpected.Add(1)
		}
	case -1:
		// Duplicate of an already-consumed sequence number; ignore.
	default:
		c.insertBuffered(pkt)
	}
}

func indexOfSeq(pkts []*packet.Packet, s seq.Seq) int {
	for i, p := range pkts {
		if p.Config.SequenceNum == s {
			return i
		}
	}
	return -1
}

// insertBuffered inserts pkt into c.buffered keeping ascending cyclic order
// and skipping exact duplicates. Caller holds c.mu.
func (c *Channel) insertBuffered(pkt *packet.Packet) {
	s := pkt.Config.SequenceNum
	for _, p := range c.buffered {
		if p.Config.SequenceNum == s {
			return
		}
	}
	i := 0
	for i < len(c.buffered) && seq.Cmp(c.buffered[i].Config.SequenceNum, s) < 0 {
		i++
	}
	c.buffered = append(c.buffered, nil)
	copy(c.buffered[i+1:], c.buffered[i:])
	c.buffered[i] = pkt
}

// drainContiguous pops complete bundles off the front of c.contiguous,
// appending each to c.inBundles. Caller holds c.mu.
func (c *Channel) drainContiguous() {
	for len(c.contiguous) > 0 {
		front := c.contiguous[0]
		if !front.Config.HasFragments {
			c.contiguous = c.contiguous[1:]
			c.inBundles = append(c.inBundles, bundleFromPackets([]*packet.Packet{front}))
			continue
		}

		first, last := front.Config.FragmentFirst, front.Config.FragmentLast
		n := int(seq.Delta(last, first)) + 1
		if len(c.contiguous) < n {
			return
		}

		group := c.contiguous[:n]
		ok := true
		for _, p := range group {
			if !p.Config.HasFragments || p.Config.FragmentFirst != first || p.Config.FragmentLast != last {
				ok = false
				break
			}
		}
		if !ok {
			// Malformed run: discard the front packet and retry.
			c.contiguous = c.contiguous[1:]
			continue
		}

		c.contiguous = c.contiguous[n:]
		c.inBundles = append(c.inBundles, bundleFromPackets(group))
	}
}

// bundleFromPackets wraps decoded packets' payloads into a bundle.Bundle
// readable via bundle.ElementReader.
func bundleFromPackets(pkts []*packet.Packet) *bundle.Bundle {
	pbs := make([]*bundle.PacketBuilder, len(pkts))
	for i, p := range pkts {
		pbs[i] = &bundle.PacketBuilder{
			Payload:        p.Payload,
			HasRequests:    p.Config.HasRequests,
			RequestsOffset: p.Config.RequestsOffset,
		}
	}
	b, err := bundle.WithMultiple(pbs)
	if err != nil {
		// pkts is always non-empty at every call site.
		panic(err)
	}
	return b
}

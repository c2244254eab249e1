package channel

import (
	"time"

	"wtproto/pkg/packet"
	"wtproto/pkg/seq"
)

const fragmentTTL = 10 * time.Second

// fragmentSet accumulates the packets of one unreliable (or reliable
// off-channel) bundle that was split across a sequence_range.
type fragmentSet struct {
	slots      []*packet.Packet
	filled     int
	lastUpdate time.Time
}

// defragment feeds pkt into the off-channel/unreliable reassembly path.
// Packets without a sequence_range complete immediately as single-packet
// bundles. Caller holds c.mu.
func (c *Channel) defragment(pkt *packet.Packet) error {
	if !pkt.Config.HasFragments {
		c.inBundles = append(c.inBundles, bundleFromPackets([]*packet.Packet{pkt}))
		return nil
	}

	first, last := pkt.Config.FragmentFirst, pkt.Config.FragmentLast
	n := int(seq.Delta(last, first)) + 1
	slot := int(seq.Delta(pkt.Config.SequenceNum, first))

	now := time.Now()
	set, ok := c.fragments[first]
	if ok && now.Sub(set.lastUpdate) > fragmentTTL {
		delete(c.fragments, first)
		ok = false
	}
	if !ok {
		set = &fragmentSet{slots: make([]*packet.Packet, n)}
		c.fragments[first] = set
	}

	if slot < 0 || slot >= len(set.slots) {
		return nil // out-of-range slot for a malformed fragment header; drop silently
	}
	if set.slots[slot] == nil {
		set.slots[slot] = pkt
		set.filled++
	}
	set.lastUpdate = now

	if set.filled == n {
		delete(c.fragments, first)
		c.inBundles = append(c.inBundles, bundleFromPackets(set.slots))
	}
	return nil
}

package packet

import (
	"errors"

	"wtproto/pkg/seq"
)

// Errors returned by ReadConfig. They carry no copy of the offending
// packet; a caller that wants to log or store it keeps its own buffer.
var (
	ErrTruncatedFooter   = errors.New("packet: truncated footer")
	ErrChecksumMismatch  = errors.New("packet: checksum mismatch")
	ErrInvalidPiggyback  = errors.New("packet: invalid piggyback")
	ErrMalformedFlags    = errors.New("packet: malformed flags")
	ErrReliableLastSeq   = errors.New("packet: reliable combined with last_reliable_sequence")
	ErrFragmentRangeSign = errors.New("packet: fragment range inverted")
)

// Config holds every footer field a Packet may carry, decoded from (or to
// be encoded into) the packet's wire footer.
type Config struct {
	Flags Flags

	SequenceNum seq.Seq

	HasLastReliableSeq bool
	LastReliableSeq    seq.Seq

	HasFragments bool
	FragmentFirst, FragmentLast seq.Seq

	HasIndexedChannel bool
	ChannelIndex, ChannelVersion uint32

	CreateChannel bool
	OnChannel     bool

	HasCumulativeAck bool
	CumulativeAck    seq.Seq

	SingleAcks []seq.Seq

	HasRequests    bool
	RequestsOffset uint16

	// Piggybacks holds the raw encoded bytes of each piggybacked
	// sub-packet (payload+footer), in original order. Each is decoded
	// recursively by the caller via ReadConfig; this implementation
	// rejects piggybacks that themselves carry piggybacks (one level
	// of nesting only).
	Piggybacks [][]byte

	Reliable bool
}

func (c *Config) Has(bit Flags) bool {
	return c.Flags.Has(bit)
}

// Package packet implements the UDP datagram framing: a fixed flags
// bitset plus a variable footer parsed from the end of the buffer toward
// the start, an optional XOR checksum, optional recursive piggybacks, and
// the rolling 4-byte prefix.
package packet

import (
	"encoding/binary"
	"fmt"

	"wtproto/pkg/seq"
)

// MaxSize is the largest datagram this implementation will build or
// accept, the conventional ~1500 byte Ethernet-friendly budget.
const MaxSize = 1500

// PrefixLen is the size of the optional rolling prefix.
const PrefixLen = 4

// Packet pairs a decoded footer Config with its element-stream payload and
// (when present) the raw rolling prefix value read from the datagram.
type Packet struct {
	Config  Config
	Payload []byte
	Prefix  uint32
}

// Decode parses a full wire datagram into a Packet.
func Decode(buf []byte, hasPrefix bool) (*Packet, error) {
	cfg, payload, err := ReadConfig(buf, hasPrefix)
	if err != nil {
		return nil, err
	}
	p := &Packet{Config: cfg, Payload: payload}
	if hasPrefix {
		if len(buf) < PrefixLen {
			return nil, ErrTruncatedFooter
		}
		p.Prefix = binary.LittleEndian.Uint32(buf[:PrefixLen])
	}
	return p, nil
}

// WriteConfig serializes cfg's footer after payload and returns the full
// wire buffer: [prefix placeholder if hasPrefix][payload][footer]. The
// checksum, if present, is computed last over the whole buffer with the
// checksum field zeroed.
func WriteConfig(payload []byte, cfg Config, hasPrefix bool) ([]byte, error) {
	buf := make([]byte, 0, PrefixLen+len(payload)+64)
	if hasPrefix {
		buf = append(buf, make([]byte, PrefixLen)...)
	}
	buf = append(buf, payload...)

	checksumPos := -1
	if cfg.Has(FlagChecksum) {
		checksumPos = len(buf)
		buf = append(buf, 0, 0, 0, 0)
	}

	if cfg.Has(FlagPiggyback) {
		for _, pb := range cfg.Piggybacks {
			buf = append(buf, pb...)
			buf = appendU32(buf, uint32(len(pb)))
		}
		buf = append(buf, byte(len(cfg.Piggybacks)))
	}

	if cfg.HasRequests {
		buf = appendU16(buf, cfg.RequestsOffset)
	}

	if cfg.Has(FlagSingleAcks) {
		for _, a := range cfg.SingleAcks {
			buf = appendU32(buf, a.Get())
		}
		if len(cfg.SingleAcks) > 255 {
			return nil, fmt.Errorf("packet: too many single acks (%d)", len(cfg.SingleAcks))
		}
		buf = append(buf, byte(len(cfg.SingleAcks)))
	}

	if cfg.HasCumulativeAck {
		buf = appendU32(buf, cfg.CumulativeAck.Get())
	}

	// create_channel is a zero-byte marker; presence is carried by the flag.

	if cfg.HasIndexedChannel {
		buf = appendU32(buf, cfg.ChannelIndex)
		buf = appendU32(buf, cfg.ChannelVersion)
	}

	if cfg.HasFragments {
		buf = appendU32(buf, cfg.FragmentFirst.Get())
		buf = appendU32(buf, cfg.FragmentLast.Get())
	}

	if cfg.HasLastReliableSeq {
		buf = appendU32(buf, cfg.LastReliableSeq.Get())
	}

	if cfg.Has(FlagSequenceNumber) {
		buf = appendU32(buf, cfg.SequenceNum.Get())
	}

	buf = appendU16(buf, uint16(cfg.Flags))

	if checksumPos >= 0 {
		payloadStart := 0
		if hasPrefix {
			payloadStart = PrefixLen
		}
		sum := checksum(buf, payloadStart, checksumPos)
		binary.LittleEndian.PutUint32(buf[checksumPos:], sum)
	}

	return buf, nil
}

// ReadConfig parses buf (a full wire datagram, including its optional
// prefix) into a Config and the remaining element payload slice.
func ReadConfig(buf []byte, hasPrefix bool) (Config, []byte, error) {
	var cfg Config

	payloadStart := 0
	if hasPrefix {
		payloadStart = PrefixLen
	}

	cursor := len(buf)
	if cursor-payloadStart < 2 {
		return cfg, nil, ErrTruncatedFooter
	}

	cursor -= 2
	cfg.Flags = Flags(binary.LittleEndian.Uint16(buf[cursor:]))
	cfg.Reliable = cfg.Flags.Has(FlagReliable)
	cfg.OnChannel = cfg.Flags.Has(FlagOnChannel)
	cfg.CreateChannel = cfg.Flags.Has(FlagCreateChannel)

	readU32 := func() (uint32, error) {
		if cursor-payloadStart < 4 {
			return 0, ErrTruncatedFooter
		}
		cursor -= 4
		return binary.LittleEndian.Uint32(buf[cursor:]), nil
	}
	readSeq := func() (seq.Seq, error) {
		v, err := readU32()
		if err != nil {
			return 0, err
		}
		s, err := seq.New(v)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrMalformedFlags, err)
		}
		return s, nil
	}

	if cfg.Flags.Has(FlagSequenceNumber) {
		s, err := readSeq()
		if err != nil {
			return cfg, nil, err
		}
		cfg.SequenceNum = s
	}

	if cfg.Flags.Has(FlagLastReliableSeq) {
		if cfg.Reliable {
			return cfg, nil, ErrReliableLastSeq
		}
		s, err := readSeq()
		if err != nil {
			return cfg, nil, err
		}
		cfg.HasLastReliableSeq = true
		cfg.LastReliableSeq = s
	}

	if cfg.Flags.Has(FlagFragments) {
		last, err := readSeq()
		if err != nil {
			return cfg, nil, err
		}
		first, err := readSeq()
		if err != nil {
			return cfg, nil, err
		}
		cfg.HasFragments = true
		cfg.FragmentFirst, cfg.FragmentLast = first, last
	}

	if cfg.Flags.Has(FlagIndexedChannel) {
		version, err := readU32()
		if err != nil {
			return cfg, nil, err
		}
		index, err := readU32()
		if err != nil {
			return cfg, nil, err
		}
		if index == 0 || version == 0 {
			return cfg, nil, fmt.Errorf("%w: zero indexed channel index/version", ErrMalformedFlags)
		}
		cfg.HasIndexedChannel = true
		cfg.ChannelIndex, cfg.ChannelVersion = index, version
	}

	if cfg.Flags.Has(FlagCumulativeAck) {
		s, err := readSeq()
		if err != nil {
			return cfg, nil, err
		}
		cfg.HasCumulativeAck = true
		cfg.CumulativeAck = s
	}

	if cfg.Flags.Has(FlagSingleAcks) {
		if cursor-payloadStart < 1 {
			return cfg, nil, ErrTruncatedFooter
		}
		cursor--
		count := int(buf[cursor])
		acks := make([]seq.Seq, count)
		for i := count - 1; i >= 0; i-- {
			v, err := readU32()
			if err != nil {
				return cfg, nil, err
			}
			s, err := seq.New(v)
			if err != nil {
				return cfg, nil, fmt.Errorf("%w: %v", ErrMalformedFlags, err)
			}
			acks[i] = s
		}
		cfg.SingleAcks = acks
	}

	if cfg.Flags.Has(FlagHasRequests) {
		if cursor-payloadStart < 2 {
			return cfg, nil, ErrTruncatedFooter
		}
		cursor -= 2
		cfg.HasRequests = true
		cfg.RequestsOffset = binary.LittleEndian.Uint16(buf[cursor:])
	}

	if cfg.Flags.Has(FlagPiggyback) {
		if cursor-payloadStart < 1 {
			return cfg, nil, ErrTruncatedFooter
		}
		cursor--
		count := int(buf[cursor])
		pbs := make([][]byte, count)
		for i := count - 1; i >= 0; i-- {
			length, err := readU32()
			if err != nil {
				return cfg, nil, fmt.Errorf("%w: %v", ErrInvalidPiggyback, err)
			}
			if cursor-payloadStart < int(length) {
				return cfg, nil, fmt.Errorf("%w: truncated body", ErrInvalidPiggyback)
			}
			cursor -= int(length)
			body := make([]byte, length)
			copy(body, buf[cursor:cursor+int(length)])
			pbs[i] = body
		}
		cfg.Piggybacks = pbs
	}

	if cfg.Flags.Has(FlagChecksum) {
		if cursor-payloadStart < 4 {
			return cfg, nil, ErrTruncatedFooter
		}
		cursor -= 4
		want := binary.LittleEndian.Uint32(buf[cursor:])
		got := checksum(buf, payloadStart, cursor)
		if want != got {
			return cfg, nil, ErrChecksumMismatch
		}
	}

	if cfg.HasFragments {
		if seq.Cmp(cfg.FragmentFirst, cfg.SequenceNum) == 1 || seq.Cmp(cfg.SequenceNum, cfg.FragmentLast) == 1 {
			return cfg, nil, ErrFragmentRangeSign
		}
	}

	payload := buf[payloadStart:cursor]
	return cfg, payload, nil
}

// UpdatePrefix writes buf's leading 4-byte prefix as
// offset ^ W0 ^ W1 ^ W2, where W0..W2 are the three 32-bit words
// immediately following the prefix. buf must be at least PrefixLen+12
// bytes (zero-padded if the payload is shorter).
func UpdatePrefix(buf []byte, prefixOffset uint32) error {
	if len(buf) < PrefixLen+12 {
		return fmt.Errorf("packet: buffer too short to update prefix")
	}
	w0 := binary.LittleEndian.Uint32(buf[PrefixLen:])
	w1 := binary.LittleEndian.Uint32(buf[PrefixLen+4:])
	w2 := binary.LittleEndian.Uint32(buf[PrefixLen+8:])
	binary.LittleEndian.PutUint32(buf, prefixOffset^w0^w1^w2)
	return nil
}

// checksum computes the XOR of all 32-bit words in buf[from:], treating
// the 4 bytes at the absolute position zeroPos as zero (they hold the
// checksum field itself). The optional leading prefix (buf[:from]) is
// excluded, since UpdatePrefix rewrites it after the checksum is fixed.
// Trailing bytes that don't form a full word are XORed as a zero-padded
// partial word.
func checksum(buf []byte, from, zeroPos int) uint32 {
	var sum uint32
	for i := from; i < len(buf); i += 4 {
		var word [4]byte
		copy(word[:], buf[i:])
		for k := range word {
			if p := i + k; p >= zeroPos && p < zeroPos+4 {
				word[k] = 0
			}
		}
		sum ^= binary.LittleEndian.Uint32(word[:])
	}
	return sum
}

func appendU32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func appendU16(buf []byte, v uint16) []byte {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	return append(buf, b[:]...)
}

package packet

import (
	"testing"

	"github.com/stretchr/testify/require"

	"wtproto/pkg/seq"
)

func mustSeq(t *testing.T, v uint32) seq.Seq {
	t.Helper()
	s, err := seq.New(v)
	require.NoError(t, err)
	return s
}

func TestWriteReadConfigRoundTripBasic(t *testing.T) {
	cfg := Config{
		Flags:       FlagSequenceNumber,
		SequenceNum: mustSeq(t, 42),
	}
	payload := []byte("hello element area")

	wire, err := WriteConfig(payload, cfg, false)
	require.NoError(t, err)

	got, gotPayload, err := ReadConfig(wire, false)
	require.NoError(t, err)
	require.Equal(t, payload, gotPayload)
	require.Equal(t, cfg.SequenceNum, got.SequenceNum)
	require.True(t, got.Flags.Has(FlagSequenceNumber))
}

func TestWriteReadConfigFullFooter(t *testing.T) {
	cfg := Config{
		Flags: FlagSequenceNumber | FlagFragments |
			FlagIndexedChannel | FlagCumulativeAck | FlagSingleAcks |
			FlagHasRequests | FlagChecksum | FlagOnChannel,
		SequenceNum:       mustSeq(t, 101),
		HasFragments:      true,
		FragmentFirst:     mustSeq(t, 100),
		FragmentLast:      mustSeq(t, 102),
		HasIndexedChannel: true,
		ChannelIndex:      7,
		ChannelVersion:    1,
		HasCumulativeAck:  true,
		CumulativeAck:     mustSeq(t, 50),
		SingleAcks:        []seq.Seq{mustSeq(t, 10), mustSeq(t, 11), mustSeq(t, 12)},
		HasRequests:       true,
		RequestsOffset:    3,
		OnChannel:         true,
	}
	payload := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}

	wire, err := WriteConfig(payload, cfg, true)
	require.NoError(t, err)

	got, gotPayload, err := ReadConfig(wire, true)
	require.NoError(t, err)
	require.Equal(t, payload, gotPayload)
	require.Equal(t, cfg.SequenceNum, got.SequenceNum)
	require.Equal(t, cfg.FragmentFirst, got.FragmentFirst)
	require.Equal(t, cfg.FragmentLast, got.FragmentLast)
	require.Equal(t, cfg.ChannelIndex, got.ChannelIndex)
	require.Equal(t, cfg.ChannelVersion, got.ChannelVersion)
	require.Equal(t, cfg.CumulativeAck, got.CumulativeAck)
	require.Equal(t, cfg.SingleAcks, got.SingleAcks)
	require.Equal(t, cfg.RequestsOffset, got.RequestsOffset)
	require.True(t, got.OnChannel)
}

func TestChecksumDetectsCorruption(t *testing.T) {
	cfg := Config{Flags: FlagChecksum | FlagSequenceNumber, SequenceNum: mustSeq(t, 5)}
	wire, err := WriteConfig([]byte("payload"), cfg, false)
	require.NoError(t, err)

	wire[0] ^= 0xFF
	_, _, err = ReadConfig(wire, false)
	require.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestChecksumSurvivesPrefixUpdate(t *testing.T) {
	cfg := Config{Flags: FlagChecksum | FlagSequenceNumber, SequenceNum: mustSeq(t, 5)}
	payload := make([]byte, 16)
	wire, err := WriteConfig(payload, cfg, true)
	require.NoError(t, err)

	require.NoError(t, UpdatePrefix(wire, 0xAABBCCDD))

	_, _, err = ReadConfig(wire, true)
	require.NoError(t, err)
}

func TestPiggybackRoundTrip(t *testing.T) {
	innerCfg := Config{Flags: FlagSequenceNumber, SequenceNum: mustSeq(t, 1)}
	inner, err := WriteConfig([]byte("inner"), innerCfg, false)
	require.NoError(t, err)

	outerCfg := Config{
		Flags:      FlagPiggyback | FlagSequenceNumber,
		SequenceNum: mustSeq(t, 2),
		Piggybacks: [][]byte{inner},
	}
	outer, err := WriteConfig([]byte("outer"), outerCfg, false)
	require.NoError(t, err)

	got, payload, err := ReadConfig(outer, false)
	require.NoError(t, err)
	require.Equal(t, []byte("outer"), payload)
	require.Len(t, got.Piggybacks, 1)

	innerGot, innerPayload, err := ReadConfig(got.Piggybacks[0], false)
	require.NoError(t, err)
	require.Equal(t, []byte("inner"), innerPayload)
	require.Equal(t, innerCfg.SequenceNum, innerGot.SequenceNum)
	require.Empty(t, innerGot.Piggybacks)
}

func TestReliableWithLastReliableSeqIsRejected(t *testing.T) {
	cfg := Config{
		Flags:              FlagReliable | FlagLastReliableSeq | FlagSequenceNumber,
		SequenceNum:        mustSeq(t, 1),
		HasLastReliableSeq: true,
		LastReliableSeq:    mustSeq(t, 1),
	}
	wire, err := WriteConfig(nil, cfg, false)
	require.NoError(t, err)

	_, _, err = ReadConfig(wire, false)
	require.ErrorIs(t, err, ErrReliableLastSeq)
}

func TestTruncatedFooterErrors(t *testing.T) {
	_, _, err := ReadConfig([]byte{0x01}, false)
	require.ErrorIs(t, err, ErrTruncatedFooter)
}

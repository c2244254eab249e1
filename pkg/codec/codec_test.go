package codec

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIntegerRoundTrip(t *testing.T) {
	w := NewWriter()
	w.U8(0x42)
	w.U16(1234)
	w.U24(0x123456)
	w.U32(567890)
	w.I32(-12345)
	w.U64(0xDEADBEEFCAFEBABE)
	w.F32(3.5)

	r := NewReader(w.Bytes())

	u8, err := r.U8()
	require.NoError(t, err)
	require.EqualValues(t, 0x42, u8)

	u16, err := r.U16()
	require.NoError(t, err)
	require.EqualValues(t, 1234, u16)

	u24, err := r.U24()
	require.NoError(t, err)
	require.EqualValues(t, 0x123456, u24)

	u32, err := r.U32()
	require.NoError(t, err)
	require.EqualValues(t, 567890, u32)

	i32, err := r.I32()
	require.NoError(t, err)
	require.EqualValues(t, -12345, i32)

	u64, err := r.U64()
	require.NoError(t, err)
	require.EqualValues(t, uint64(0xDEADBEEFCAFEBABE), u64)

	f32, err := r.F32()
	require.NoError(t, err)
	require.EqualValues(t, 3.5, f32)

	require.Zero(t, r.Len())
}

func TestPackedU32(t *testing.T) {
	cases := []uint32{0, 1, 254, 255, 256, 0xFFFFFF}
	for _, v := range cases {
		w := NewWriter()
		w.PackedU32(v)
		r := NewReader(w.Bytes())
		got, err := r.PackedU32()
		require.NoError(t, err)
		require.Equal(t, v, got)
	}

	w := NewWriter()
	w.PackedU32(10)
	require.Len(t, w.Bytes(), 1)

	w2 := NewWriter()
	w2.PackedU32(300)
	require.Len(t, w2.Bytes(), 4)
	require.Equal(t, byte(0xFF), w2.Bytes()[0])
}

func TestPackedStringRoundTrip(t *testing.T) {
	w := NewWriter()
	w.PackedString("hello world")
	r := NewReader(w.Bytes())
	s, err := r.PackedString()
	require.NoError(t, err)
	require.Equal(t, "hello world", s)
}

func TestAddrPortRoundTrip(t *testing.T) {
	ap := netip.MustParseAddrPort("192.168.1.100:7777")
	w := NewWriter()
	w.AddrPort(ap)
	require.Len(t, w.Bytes(), 8)

	r := NewReader(w.Bytes())
	got, err := r.AddrPort()
	require.NoError(t, err)
	require.Equal(t, ap.Addr(), got.Addr())
	require.Equal(t, ap.Port(), got.Port())
}

func TestShortBufferErrors(t *testing.T) {
	r := NewReader([]byte{0x01})
	_, err := r.U32()
	require.Error(t, err)
}

func TestCStringRoundTrip(t *testing.T) {
	w := NewWriter()
	w.CString("abc")
	w.U8(0xFF)
	r := NewReader(w.Bytes())
	s, err := r.CString(0)
	require.NoError(t, err)
	require.Equal(t, "abc", s)
	rest, err := r.U8()
	require.NoError(t, err)
	require.EqualValues(t, 0xFF, rest)
}

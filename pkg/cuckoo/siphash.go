package cuckoo

import (
	"crypto/sha256"
	"encoding/binary"
	"math/bits"
)

// siphash-2-4 canonical initialization constants ("somepseudorandomlygeneratedbytes").
const (
	ivA = 0x736f6d6570736575
	ivB = 0x646f72616e646f6d
	ivC = 0x6c7967656e657261
	ivD = 0x7465646279746573
)

// context holds the keyed SipHash-2-4 state used to derive edge nonces for
// one cuckoo-cycle challenge, keyed from SHA-256(prefix).
type context struct {
	v0, v1, v2, v3 uint64
}

func newContext(prefix string) context {
	sum := sha256.Sum256([]byte(prefix))
	k0 := binary.LittleEndian.Uint64(sum[0:8])
	k1 := binary.LittleEndian.Uint64(sum[8:16])
	return context{
		v0: k0 ^ ivA,
		v1: k1 ^ ivB,
		v2: k0 ^ ivC,
		v3: k1 ^ ivD,
	}
}

func sipRound(v0, v1, v2, v3 *uint64) {
	*v0 += *v1
	*v1 = bits.RotateLeft64(*v1, 13)
	*v1 ^= *v0
	*v0 = bits.RotateLeft64(*v0, 32)
	*v2 += *v3
	*v3 = bits.RotateLeft64(*v3, 16)
	*v3 ^= *v2
	*v0 += *v3
	*v3 = bits.RotateLeft64(*v3, 21)
	*v3 ^= *v0
	*v2 += *v1
	*v1 = bits.RotateLeft64(*v1, 17)
	*v1 ^= *v2
	*v2 = bits.RotateLeft64(*v2, 32)
}

// hash24 is the cuckoo-cycle SipHash-2-4 variant: two compression rounds
// keyed with the nonce folded into v3/v0, then four finalization rounds
// after XORing 0xff into v2. This differs from general-purpose SipHash
// (which absorbs a byte stream and XORs the length into the last byte):
// it is a fixed-width keyed PRF over a single uint64 nonce, so a
// general-purpose SipHash library cannot stand in for it.
func (c context) hash24(nonce uint64) uint64 {
	v0, v1, v2, v3 := c.v0, c.v1, c.v2, c.v3
	v3 ^= nonce
	sipRound(&v0, &v1, &v2, &v3)
	sipRound(&v0, &v1, &v2, &v3)
	v0 ^= nonce
	v2 ^= 0xff
	sipRound(&v0, &v1, &v2, &v3)
	sipRound(&v0, &v1, &v2, &v3)
	sipRound(&v0, &v1, &v2, &v3)
	sipRound(&v0, &v1, &v2, &v3)
	return v0 ^ v1 ^ v2 ^ v3
}

// node derives a half-size-bounded node index for edge number x on side
// uorv (0 or 1).
func (c context) node(x, uorv, nodeMask uint64) uint64 {
	return c.hash24(2*x+uorv) & nodeMask
}

// edge derives cuckoo-table node numbers for nonce n: u0 is offset into
// [1, half], v0 into [half+1, 2*half].
func (c context) edge(n uint32, half, nodeMask uint64) (u0, v0 uint64) {
	u0 = c.node(uint64(n)*2, 0, nodeMask) + 1
	v0 = c.node(uint64(n)*2+1, 1, nodeMask) + 1 + half
	return
}

package base

import (
	"encoding/binary"
	"fmt"

	xblowfish "golang.org/x/crypto/blowfish"

	"wtproto/pkg/filter/blowfish"
	"wtproto/pkg/packet"
)

// encryptWire blowfish-encrypts wire's footer/payload region (everything
// after the 4-byte rolling prefix), leaving the prefix itself in the
// clear since the tracker's rolling-prefix mechanism reads it before any
// decryption can happen. A 2-byte plaintext-length prefix is folded into
// the encrypted region so the receiver can strip the zero padding
// blowfish.Writer.Flush adds for the final partial block.
func encryptWire(wire []byte, cipher *xblowfish.Cipher) ([]byte, error) {
	if len(wire) < packet.PrefixLen {
		return nil, fmt.Errorf("base: wire shorter than prefix")
	}
	body := wire[packet.PrefixLen:]

	var lenPrefix [2]byte
	binary.LittleEndian.PutUint16(lenPrefix[:], uint16(len(body)))

	w := blowfish.NewWriter(cipher)
	w.Write(lenPrefix[:])
	w.Write(body)
	ciphertext := w.Flush()

	out := make([]byte, 0, packet.PrefixLen+len(ciphertext))
	out = append(out, wire[:packet.PrefixLen]...)
	out = append(out, ciphertext...)
	return out, nil
}

// decryptWire undoes encryptWire.
func decryptWire(wire []byte, cipher *xblowfish.Cipher) ([]byte, error) {
	if len(wire) < packet.PrefixLen {
		return nil, fmt.Errorf("base: wire shorter than prefix")
	}
	ciphertext := wire[packet.PrefixLen:]

	r := blowfish.NewReader(cipher)
	plain, err := r.Decrypt(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("base: blowfish decrypt: %w", err)
	}
	if len(plain) < 2 {
		return nil, fmt.Errorf("base: decrypted body too short for length prefix")
	}
	bodyLen := int(binary.LittleEndian.Uint16(plain[:2]))
	if bodyLen+2 > len(plain) {
		return nil, fmt.Errorf("base: decrypted length prefix %d exceeds buffer", bodyLen)
	}
	body := plain[2 : 2+bodyLen]

	out := make([]byte, 0, packet.PrefixLen+len(body))
	out = append(out, wire[:packet.PrefixLen]...)
	out = append(out, body...)
	return out, nil
}

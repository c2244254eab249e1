// Package blowfish implements the CBC-like, plaintext-chained Blowfish
// block filter used both for whole-packet channel encryption and for
// individual element payloads.
package blowfish

import (
	"fmt"

	xblowfish "golang.org/x/crypto/blowfish"
)

// BlockSize is the Blowfish block size in bytes.
const BlockSize = xblowfish.BlockSize

// NewCipher constructs the underlying Blowfish cipher from key.
func NewCipher(key []byte) (*xblowfish.Cipher, error) {
	c, err := xblowfish.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("blowfish: new cipher: %w", err)
	}
	return c, nil
}

// Writer encrypts 8-byte blocks, XORing each plaintext block with the
// previous plaintext block before encryption (the chain block starts at
// zero). The final partial block is zero-padded on Flush.
type Writer struct {
	cipher *xblowfish.Cipher
	chain  [BlockSize]byte
	buf    []byte
	out    []byte
}

// NewWriter returns a Writer over cipher with a fresh (zero) chain block.
func NewWriter(cipher *xblowfish.Cipher) *Writer {
	return &Writer{cipher: cipher}
}

// Write buffers p, encrypting and emitting every full 8-byte block as the
// buffer fills.
func (w *Writer) Write(p []byte) {
	w.buf = append(w.buf, p...)
	for len(w.buf) >= BlockSize {
		w.encryptBlock(w.buf[:BlockSize])
		w.buf = w.buf[BlockSize:]
	}
}

func (w *Writer) encryptBlock(plain []byte) {
	var xored [BlockSize]byte
	for i := 0; i < BlockSize; i++ {
		xored[i] = plain[i] ^ w.chain[i]
	}
	var ct [BlockSize]byte
	w.cipher.Encrypt(ct[:], xored[:])
	w.out = append(w.out, ct[:]...)
	copy(w.chain[:], plain)
}

// Flush zero-pads and encrypts any buffered partial block, then returns
// the full accumulated ciphertext.
func (w *Writer) Flush() []byte {
	if len(w.buf) > 0 {
		padded := make([]byte, BlockSize)
		copy(padded, w.buf)
		w.encryptBlock(padded)
		w.buf = nil
	}
	return w.out
}

// Reader decrypts 8-byte blocks produced by Writer, undoing the
// plaintext-block chaining.
type Reader struct {
	cipher *xblowfish.Cipher
	chain  [BlockSize]byte
}

// NewReader returns a Reader over cipher with a fresh (zero) chain block.
func NewReader(cipher *xblowfish.Cipher) *Reader {
	return &Reader{cipher: cipher}
}

// Decrypt decrypts ciphertext, which must be an exact multiple of
// BlockSize, returning the concatenated plaintext (including any zero
// padding the writer added to its final block).
func (r *Reader) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext)%BlockSize != 0 {
		return nil, fmt.Errorf("blowfish: ciphertext length %d not a multiple of block size %d", len(ciphertext), BlockSize)
	}
	out := make([]byte, 0, len(ciphertext))
	for off := 0; off < len(ciphertext); off += BlockSize {
		block := ciphertext[off : off+BlockSize]
		var decrypted [BlockSize]byte
		r.cipher.Decrypt(decrypted[:], block)
		var plain [BlockSize]byte
		for i := 0; i < BlockSize; i++ {
			plain[i] = decrypted[i] ^ r.chain[i]
		}
		out = append(out, plain[:]...)
		copy(r.chain[:], plain[:])
	}
	return out, nil
}

// Package rsa implements the RSA-OAEP/SHA-1 block filter used to wrap the
// first stage of the login handshake payload. It operates on whole cipher
// blocks sized to the modulus.
package rsa

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"fmt"
)

// oaepReserve is the OAEP/SHA-1 overhead, 2*hLen+2 with hLen=20, i.e. 42
// bytes: the writer's buffering cap is modulus_len - 41 - 1.
const oaepReserve = 41 + 1

// Reader decrypts whole RSA-OAEP/SHA-1 blocks with a private key.
type Reader struct {
	priv      *rsa.PrivateKey
	blockSize int
}

// NewReader returns a Reader sized to priv's modulus.
func NewReader(priv *rsa.PrivateKey) *Reader {
	return &Reader{priv: priv, blockSize: priv.Size()}
}

// BlockSize returns the cipher block size (the key's modulus length).
func (r *Reader) BlockSize() int {
	return r.blockSize
}

// Decrypt decrypts ciphertext, which must be an exact multiple of
// BlockSize, returning the concatenated plaintext of each block.
func (r *Reader) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext)%r.blockSize != 0 {
		return nil, fmt.Errorf("rsa: ciphertext length %d not a multiple of block size %d", len(ciphertext), r.blockSize)
	}
	hash := sha1.New()
	out := make([]byte, 0, len(ciphertext))
	for off := 0; off < len(ciphertext); off += r.blockSize {
		block := ciphertext[off : off+r.blockSize]
		plain, err := rsa.DecryptOAEP(hash, rand.Reader, r.priv, block, nil)
		if err != nil {
			return nil, fmt.Errorf("rsa: decrypt block at %d: %w", off, err)
		}
		out = append(out, plain...)
	}
	return out, nil
}

// Writer buffers plaintext and encrypts it in OAEP-sized chunks against a
// public key.
type Writer struct {
	pub       *rsa.PublicKey
	blockSize int
	maxPlain  int
	buf       []byte
	out       []byte
}

// NewWriter returns a Writer sized to pub's modulus.
func NewWriter(pub *rsa.PublicKey) *Writer {
	size := pub.Size()
	return &Writer{pub: pub, blockSize: size, maxPlain: size - oaepReserve}
}

// Write buffers p, encrypting and emitting full blocks as the buffer fills.
func (w *Writer) Write(p []byte) error {
	w.buf = append(w.buf, p...)
	for len(w.buf) >= w.maxPlain {
		if err := w.encryptBlock(w.buf[:w.maxPlain]); err != nil {
			return err
		}
		w.buf = w.buf[w.maxPlain:]
	}
	return nil
}

func (w *Writer) encryptBlock(plain []byte) error {
	hash := sha1.New()
	ct, err := rsa.EncryptOAEP(hash, rand.Reader, w.pub, plain, nil)
	if err != nil {
		return fmt.Errorf("rsa: encrypt block: %w", err)
	}
	w.out = append(w.out, ct...)
	return nil
}

// Flush encrypts any buffered plaintext and returns the full accumulated
// ciphertext. Flushing an empty buffer is a no-op and produces no new
// block; flushing mid-bundle, before the logical payload is complete, is
// the caller's responsibility to avoid.
func (w *Writer) Flush() ([]byte, error) {
	if len(w.buf) > 0 {
		if err := w.encryptBlock(w.buf); err != nil {
			return nil, err
		}
		w.buf = nil
	}
	return w.out, nil
}

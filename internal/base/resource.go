package base

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"hash/crc32"
	"io"
	"sort"
	"sync"
	"time"
)

// resourceTTL bounds how long a partially-received resource stream is kept
// before being discarded, mirroring the channel tracker's fragment TTL.
const resourceTTL = 30 * time.Second

// maxResourceBytes caps how much decompressed data a single resource may
// expand to, bounding a malicious peer's zlib-bomb payload.
const maxResourceBytes = 16 << 20

type resourceAssembly struct {
	id         uint16
	totalLen   uint32
	crc32      uint32
	fragments  map[uint8][]byte
	lastUpdate time.Time
}

// ResourceAssembler reassembles ResourceHeader/ResourceFragment streams
// into decompressed bytes. One instance is owned per peer; its own mutex
// lets it be fed from whatever goroutine the caller's datagram dispatch
// uses.
type ResourceAssembler struct {
	mu      sync.Mutex
	pending map[uint16]*resourceAssembly
}

func NewResourceAssembler() *ResourceAssembler {
	return &ResourceAssembler{pending: make(map[uint16]*resourceAssembly)}
}

// Header registers an incoming resource's expected size and checksum.
func (a *ResourceAssembler) Header(h ResourceHeader) error {
	totalLen, crc, err := DecodeResourceDescription(h.Description)
	if err != nil {
		return fmt.Errorf("base: resource %d: %w", h.ID, err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending[h.ID] = &resourceAssembly{id: h.ID, totalLen: totalLen, crc32: crc, fragments: make(map[uint8][]byte), lastUpdate: time.Now()}
	return nil
}

// Fragment feeds one fragment. It returns the decompressed value once the
// final fragment completes the stream, or (nil, false) while incomplete.
func (a *ResourceAssembler) Fragment(f ResourceFragment) ([]byte, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	asm, ok := a.pending[f.ID]
	if !ok {
		return nil, false, fmt.Errorf("base: fragment for unknown resource %d", f.ID)
	}
	if time.Since(asm.lastUpdate) > resourceTTL {
		delete(a.pending, f.ID)
		return nil, false, fmt.Errorf("base: resource %d timed out", f.ID)
	}
	asm.lastUpdate = time.Now()
	asm.fragments[f.SequenceNum] = f.Data

	if !f.Last {
		return nil, false, nil
	}

	seqs := make([]uint8, 0, len(asm.fragments))
	for s := range asm.fragments {
		seqs = append(seqs, s)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })

	var compressed bytes.Buffer
	for _, s := range seqs {
		compressed.Write(asm.fragments[s])
	}
	delete(a.pending, f.ID)

	if uint32(compressed.Len()) != asm.totalLen {
		return nil, false, fmt.Errorf("base: resource %d length mismatch: header %d, got %d", f.ID, asm.totalLen, compressed.Len())
	}
	if crc32.ChecksumIEEE(compressed.Bytes()) != asm.crc32 {
		return nil, false, fmt.Errorf("base: resource %d crc mismatch", f.ID)
	}

	decompressed, err := decompress(compressed.Bytes())
	if err != nil {
		return nil, false, fmt.Errorf("base: resource %d inflate: %w", f.ID, err)
	}
	return decompressed, true, nil
}

func decompress(compressed []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	limited := io.LimitReader(zr, maxResourceBytes+1)
	out, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if len(out) > maxResourceBytes {
		return nil, fmt.Errorf("base: resource exceeds %d byte decompressed limit", maxResourceBytes)
	}
	return out, nil
}

// DecodePickledValue attempts to interpret decompressed bytes as a pickled
// Python value. This implementation carries no general pickle decoder, so
// it always falls back to the raw decompressed bytes, which is also the
// right answer for objects no decoder could represent faithfully anyway
// (e.g. a Python deque).
func DecodePickledValue(decompressed []byte) []byte {
	return decompressed
}

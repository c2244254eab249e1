// Package seq implements the 28-bit wrapping sequence numbers used to order
// packets within a channel.
package seq

import "fmt"

const (
	size = 0x1000_0000
	mask = 0x0FFF_FFFF
)

// Seq is a sequence number in [0, 2^28). Arithmetic on it wraps modulo 2^28.
type Seq uint32

// Zero is the canonical initial sequence number.
const Zero Seq = 0

// New validates num and returns it as a Seq, rejecting values ≥ 2^28.
func New(num uint32) (Seq, error) {
	if num > mask {
		return 0, fmt.Errorf("seq: value %d exceeds 28-bit range", num)
	}
	return Seq(num), nil
}

// Get returns the underlying value.
func (s Seq) Get() uint32 {
	return uint32(s)
}

func (s Seq) String() string {
	return fmt.Sprintf("%d", uint32(s))
}

// Add returns s+delta, wrapped modulo 2^28.
func (s Seq) Add(delta uint32) Seq {
	return Seq((uint32(s) + delta) & mask)
}

// Sub returns s-delta, wrapped modulo 2^28.
func (s Seq) Sub(delta uint32) Seq {
	return Seq((uint32(s) - delta) & mask)
}

// Delta returns the wrapped distance (a-b) mod 2^28.
func Delta(a, b Seq) uint32 {
	return (uint32(a) - uint32(b)) & mask
}

// Cmp is the cyclic-distance comparator: not a total order, only valid for
// comparing values that are known to be within a short window of each other.
// Returns -1 if a is Less than b, 0 if Equal, 1 if Greater.
func Cmp(a, b Seq) int {
	if a == b {
		return 0
	}
	if Delta(a, b) > size/2 {
		return -1
	}
	return 1
}

// Alloc allocates contiguous sequence numbers.
type Alloc struct {
	next Seq
}

// NewAlloc creates an allocator starting at next.
func NewAlloc(next Seq) *Alloc {
	return &Alloc{next: next}
}

// Alloc returns the current value then advances by count.
func (a *Alloc) Alloc(count uint32) Seq {
	ret := a.next
	a.next = a.next.Add(count)
	return ret
}

// Peek returns the next value that would be allocated, without advancing.
func (a *Alloc) Peek() Seq {
	return a.next
}

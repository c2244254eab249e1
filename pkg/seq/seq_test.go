package seq

import "testing"

func TestNewRejectsOutOfRange(t *testing.T) {
	if _, err := New(0); err != nil {
		t.Fatalf("New(0) should be valid: %v", err)
	}
	if _, err := New(0x0FFF_FFFF); err != nil {
		t.Fatalf("New(mask) should be valid: %v", err)
	}
	if _, err := New(0x1000_0000); err == nil {
		t.Fatal("New(2^28) should be rejected")
	}
}

func TestWrapAround(t *testing.T) {
	zero := Zero
	if got := zero.Sub(1); got != Seq(0x0FFF_FFFF) {
		t.Errorf("zero-1 = %d, want %d", got, uint32(0x0FFF_FFFF))
	}
}

func TestCmpOrdering(t *testing.T) {
	const half = Seq(0x0800_0000)

	if Cmp(Zero, Zero.Add(1)) != -1 {
		t.Error("0 should be Less than 1")
	}
	if Cmp(Zero, Zero.Sub(1)) != 1 {
		t.Error("0 should be Greater than -1")
	}

	if Cmp(Zero, half.Sub(1)) != -1 {
		t.Error("0 should be Less than half-1")
	}
	if Cmp(Zero, half.Sub(1).Add(1)) != 1 {
		t.Error("0 should be Greater than half (too far)")
	}

	// The limit of less/greater is relative, not absolute.
	if Cmp(Zero.Add(1), half.Sub(1).Add(1)) != -1 {
		t.Error("1 should be Less than half")
	}
	if Cmp(Zero.Add(1), half.Sub(1).Add(2)) != 1 {
		t.Error("1 should be Greater than half+1 (too far)")
	}
}

func TestCmpWrapProperty(t *testing.T) {
	// For any u and any delta in [1, 2^27 - 1], u+delta is Greater and
	// u-delta is Less.
	units := []uint32{0, 1, 0x0FFF_FFFF, 0x0800_0000, 123456}
	deltas := []uint32{1, 2, 0x07FF_FFFF}
	for _, u := range units {
		base := Seq(u)
		for _, d := range deltas {
			if Cmp(base.Add(d), base) != 1 {
				t.Errorf("Seq(%d)+%d should be Greater than Seq(%d)", u, d, u)
			}
			if Cmp(base.Sub(d), base) != -1 {
				t.Errorf("Seq(%d)-%d should be Less than Seq(%d)", u, d, u)
			}
		}
	}
}

func TestAlloc(t *testing.T) {
	a := NewAlloc(Zero)
	if got := a.Alloc(3); got != Zero {
		t.Errorf("first alloc = %d, want 0", got)
	}
	if got := a.Peek(); got != Seq(3) {
		t.Errorf("peek after alloc(3) = %d, want 3", got)
	}
	if got := a.Alloc(1); got != Seq(3) {
		t.Errorf("second alloc = %d, want 3", got)
	}
}

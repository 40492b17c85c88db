package lot

import "testing"

func TestBitmapSetTest(t *testing.T) {
	b := newBitmap(20)

	if b.test(3) {
		t.Fatal("bit 3 should start clear")
	}

	b.set(3)
	if !b.test(3) {
		t.Fatal("bit 3 should be set")
	}
	if b.test(4) {
		t.Fatal("bit 4 should still be clear")
	}
}

func TestBitmapClearAll(t *testing.T) {
	b := newBitmap(20)
	b.set(0)
	b.set(19)
	b.clearAll()

	if b.countSet() != 0 {
		t.Fatalf("expected 0 bits set after clearAll, got %d", b.countSet())
	}
}

func TestBitmapCountSet(t *testing.T) {
	b := newBitmap(16)
	for _, i := range []int{0, 1, 8, 15} {
		b.set(i)
	}
	if got := b.countSet(); got != 4 {
		t.Fatalf("expected 4 bits set, got %d", got)
	}
}

func TestBitmapRanges(t *testing.T) {
	b := newBitmap(10)
	for i := 0; i < 10; i++ {
		b.set(i)
	}
	if !b.allSetInRange(0, 10) {
		t.Fatal("expected all bits set in [0,10)")
	}

	b.clearAll()
	b.set(0)
	b.set(1)
	if b.allSetInRange(0, 5) {
		t.Fatal("expected not all bits set in [0,5)")
	}
	if !b.anyMissingInRange(0, 5) {
		t.Fatal("expected a missing bit in [0,5)")
	}
}

func TestBitmapBytesRoundTrip(t *testing.T) {
	b := newBitmap(16)
	b.set(2)
	b.set(9)

	raw := b.bytes()

	other := newBitmap(16)
	other.loadBytes(raw)

	if !other.test(2) || !other.test(9) {
		t.Fatal("loadBytes did not preserve set bits")
	}
	if other.test(3) {
		t.Fatal("loadBytes introduced an unexpected set bit")
	}
}

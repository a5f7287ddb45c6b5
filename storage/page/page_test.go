package page

import "testing"

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{
		Type:            TypeIndex,
		PageID:          7,
		PrevPageID:      3,
		NextPageID:      InvalidID,
		FreeSpaceOffset: 24,
		FreeSpaceSize:   100,
		SlotCount:       5,
		TupleCount:      4,
	}
	buf := make([]byte, HeaderSize)
	PutHeader(buf, h)
	got := GetHeader(buf)
	if got != h {
		t.Fatalf("header roundtrip mismatch: got %+v, want %+v", got, h)
	}
}

func TestChecksumDetectsCorruption(t *testing.T) {
	buf := New(256, TypeTable, 1)
	SetChecksum(buf)
	if err := VerifyChecksum(buf); err != nil {
		t.Fatalf("valid checksum rejected: %v", err)
	}
	buf[50] ^= 0xFF
	if err := VerifyChecksum(buf); err == nil {
		t.Fatal("expected checksum error after corruption")
	}
}

func TestNewStampsFreeSpace(t *testing.T) {
	buf := New(256, TypeTable, 2)
	h := GetHeader(buf)
	if h.FreeSpaceOffset != HeaderSize {
		t.Errorf("FreeSpaceOffset = %d, want %d", h.FreeSpaceOffset, HeaderSize)
	}
	if int(h.FreeSpaceSize) != UsableSize(256) {
		t.Errorf("FreeSpaceSize = %d, want %d", h.FreeSpaceSize, UsableSize(256))
	}
}

func TestInvalidIDIsNegative(t *testing.T) {
	if InvalidID >= 0 {
		t.Fatal("InvalidID must be negative")
	}
}

package table

import (
	"bytes"
	"testing"

	"github.com/yinglichina8848/sqlcc-sub002/storage/errs"
	"github.com/yinglichina8848/sqlcc-sub002/storage/page"
)

const testPageSize = 256

func newSlottedPage(t *testing.T) *slottedPage {
	t.Helper()
	buf := make([]byte, testPageSize)
	return initSlotted(buf, 1, page.InvalidID, page.InvalidID)
}

func TestInsertAndRecordAt(t *testing.T) {
	sp := newSlottedPage(t)
	idx, err := sp.insert([]byte("hello"))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, ok := sp.recordAt(idx)
	if !ok {
		t.Fatal("expected record present")
	}
	if !bytes.Equal(got, []byte("hello")) {
		t.Errorf("recordAt = %q, want hello", got)
	}
	if sp.header().TupleCount != 1 {
		t.Errorf("TupleCount = %d, want 1", sp.header().TupleCount)
	}
}

func TestDeleteThenInsertReusesSlot(t *testing.T) {
	sp := newSlottedPage(t)
	idx, err := sp.insert([]byte("a"))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	sp.delete(idx)
	if _, ok := sp.recordAt(idx); ok {
		t.Fatal("expected record gone after delete")
	}
	slotCountBefore := sp.header().SlotCount

	idx2, err := sp.insert([]byte("b"))
	if err != nil {
		t.Fatalf("insert after delete: %v", err)
	}
	if idx2 != idx {
		t.Errorf("expected reused slot index %d, got %d", idx, idx2)
	}
	if sp.header().SlotCount != slotCountBefore {
		t.Errorf("SlotCount grew on tombstone reuse: before=%d after=%d", slotCountBefore, sp.header().SlotCount)
	}
	got, ok := sp.recordAt(idx2)
	if !ok || !bytes.Equal(got, []byte("b")) {
		t.Fatalf("recordAt(reused) = %q, ok=%v, want b", got, ok)
	}
}

func TestUpdateInPlaceWhenItFits(t *testing.T) {
	sp := newSlottedPage(t)
	idx, _ := sp.insert([]byte("abcdef"))
	if !sp.fitsInPlace(idx, []byte("xy")) {
		t.Fatal("shorter data should fit in place")
	}
	sp.updateInPlace(idx, []byte("xy"))
	got, _ := sp.recordAt(idx)
	if !bytes.Equal(got, []byte("xy")) {
		t.Errorf("recordAt after update = %q, want xy", got)
	}
}

func TestUpdateDoesNotFitWhenLarger(t *testing.T) {
	sp := newSlottedPage(t)
	idx, _ := sp.insert([]byte("ab"))
	if sp.fitsInPlace(idx, []byte("a much longer replacement value")) {
		t.Fatal("larger data should not fit in place")
	}
}

func TestInsertFailsWhenPageFull(t *testing.T) {
	sp := newSlottedPage(t)
	big := bytes.Repeat([]byte("x"), testPageSize)
	if _, err := sp.insert(big); !errs.Is(err, errs.RecordTooLarge) {
		t.Fatalf("expected RecordTooLarge, got %v", err)
	}
}

func TestLiveSlotsExcludesDeleted(t *testing.T) {
	sp := newSlottedPage(t)
	i1, _ := sp.insert([]byte("one"))
	i2, _ := sp.insert([]byte("two"))
	sp.delete(i1)
	live := sp.liveSlots()
	if len(live) != 1 || live[0] != i2 {
		t.Errorf("liveSlots = %v, want [%d]", live, i2)
	}
}

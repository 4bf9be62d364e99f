package page

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/bits-and-blooms/bitset"

	"github.com/Blackdeer1524/StorageCore/src/pkg/assert"
	"github.com/Blackdeer1524/StorageCore/src/pkg/common"
)

var (
	ErrPageFull      = errors.New("page is full")
	ErrSlotEmpty     = errors.New("slot is empty")
	ErrTupleTooLarge = errors.New("tuple is larger than a slot")
)

// HeapPage is a fixed-size page holding fixed-size tuples. The page starts
// with a serialized slot bitmap followed by the tuple slots.
type HeapPage struct {
	mu sync.RWMutex

	id        common.PageIdentity
	pageSize  int
	tupleSize int
	numSlots  int

	slots *bitset.BitSet
	data  []byte

	dirty   bool
	dirtier common.TxnID
}

var _ common.Page = &HeapPage{}

// MaxSlotsPerPage bounds the slot count so that every slot is addressable
// by common.RecordID.SlotNum.
const MaxSlotsPerPage = math.MaxUint16 + 1

func headerSize(numSlots int) int {
	return int(bitset.New(uint(numSlots)).BinaryStorageSize())
}

// SlotsPerPage returns how many tuples of tupleSize fit into a page, at most
// MaxSlotsPerPage. Space past the last slot stays unused.
func SlotsPerPage(pageSize, tupleSize int) int {
	assert.Assert(tupleSize > 0, "tuple size must be positive")

	n := min((pageSize*8)/(tupleSize*8+1), MaxSlotsPerPage)
	for n > 0 && headerSize(n)+n*tupleSize > pageSize {
		n--
	}
	return n
}

// NewEmptyPageData returns the on-disk image of a page without tuples.
func NewEmptyPageData(pageSize int) []byte {
	return make([]byte, pageSize)
}

func NewHeapPage(pIdent common.PageIdentity, data []byte, tupleSize int) (*HeapPage, error) {
	pageSize := len(data)
	numSlots := SlotsPerPage(pageSize, tupleSize)
	if numSlots == 0 {
		return nil, fmt.Errorf("tuple of %d bytes doesn't fit into a page of %d bytes", tupleSize, pageSize)
	}

	slots := bitset.New(uint(numSlots))
	if _, err := slots.ReadFrom(bytes.NewReader(data[:headerSize(numSlots)])); err != nil {
		return nil, fmt.Errorf("failed to read slot bitmap of page %v: %w", pIdent, err)
	}

	switch slots.Len() {
	case 0:
		// never written
		slots = bitset.New(uint(numSlots))
	case uint(numSlots):
	default:
		return nil, fmt.Errorf(
			"page %v has %d slots, expected %d",
			pIdent,
			slots.Len(),
			numSlots,
		)
	}

	return &HeapPage{
		id:        pIdent,
		pageSize:  pageSize,
		tupleSize: tupleSize,
		numSlots:  numSlots,
		slots:     slots,
		data:      append([]byte(nil), data...),
	}, nil
}

func (p *HeapPage) ID() common.PageIdentity {
	return p.id
}

// GetData returns a copy of the page image including the slot bitmap.
func (p *HeapPage) GetData() []byte {
	p.mu.RLock()
	defer p.mu.RUnlock()

	res := append([]byte(nil), p.data...)

	var header bytes.Buffer
	_, err := p.slots.WriteTo(&header)
	assert.Assert(err == nil, "failed to serialize slot bitmap: %v", err)
	copy(res, header.Bytes())
	return res
}

func (p *HeapPage) IsDirty() (common.TxnID, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.dirtier, p.dirty
}

func (p *HeapPage) MarkDirty(dirty bool, txnID common.TxnID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.dirty = dirty
	if dirty {
		p.dirtier = txnID
	} else {
		p.dirtier = common.NilTxnID
	}
}

func (p *HeapPage) NumSlots() int {
	return p.numSlots
}

func (p *HeapPage) NumUsedSlots() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return int(p.slots.Count())
}

func (p *HeapPage) NumEmptySlots() int {
	return p.numSlots - p.NumUsedSlots()
}

func (p *HeapPage) slotOffset(slot uint16) int {
	return headerSize(p.numSlots) + int(slot)*p.tupleSize
}

// InsertTuple stores data in the first free slot. Data shorter than the
// tuple size is zero padded.
func (p *HeapPage) InsertTuple(data []byte) (uint16, error) {
	if len(data) > p.tupleSize {
		return 0, fmt.Errorf("%w: %d > %d", ErrTupleTooLarge, len(data), p.tupleSize)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	free, ok := p.slots.NextClear(0)
	if !ok || free >= uint(p.numSlots) {
		return 0, ErrPageFull
	}

	slot := uint16(free) //nolint:gosec
	offset := p.slotOffset(slot)
	tuple := p.data[offset : offset+p.tupleSize]
	clear(tuple)
	copy(tuple, data)
	p.slots.Set(free)
	return slot, nil
}

func (p *HeapPage) DeleteTuple(slot uint16) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if int(slot) >= p.numSlots || !p.slots.Test(uint(slot)) {
		return fmt.Errorf("%w: slot %d of page %v", ErrSlotEmpty, slot, p.id)
	}
	p.slots.Clear(uint(slot))
	return nil
}

func (p *HeapPage) ReadTuple(slot uint16) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if int(slot) >= p.numSlots || !p.slots.Test(uint(slot)) {
		return nil, fmt.Errorf("%w: slot %d of page %v", ErrSlotEmpty, slot, p.id)
	}
	offset := p.slotOffset(slot)
	return append([]byte(nil), p.data[offset:offset+p.tupleSize]...), nil
}

// Tuples returns the tuples of all used slots in slot order.
func (p *HeapPage) Tuples() []common.Tuple {
	p.mu.RLock()
	defer p.mu.RUnlock()

	res := make([]common.Tuple, 0, p.slots.Count())
	for i, ok := p.slots.NextSet(0); ok && i < uint(p.numSlots); i, ok = p.slots.NextSet(i + 1) {
		slot := uint16(i) //nolint:gosec
		offset := p.slotOffset(slot)
		res = append(res, common.Tuple{
			RecordID: common.RecordID{
				TableID: p.id.TableID,
				PageID:  p.id.PageID,
				SlotNum: slot,
			},
			Data: append([]byte(nil), p.data[offset:offset+p.tupleSize]...),
		})
	}
	return res
}

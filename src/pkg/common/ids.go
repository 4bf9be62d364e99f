package common

import (
	"fmt"

	"github.com/google/uuid"
)

type TableID uint64

type PageID uint64

type PageIdentity struct {
	TableID TableID
	PageID  PageID
}

func (p PageIdentity) String() string {
	return fmt.Sprintf("%d:%d", p.TableID, p.PageID)
}

type RecordID struct {
	TableID TableID
	PageID  PageID
	SlotNum uint16
}

func (r RecordID) PageIdentity() PageIdentity {
	return PageIdentity{
		TableID: r.TableID,
		PageID:  r.PageID,
	}
}

// TxnID is an opaque transaction identifier. The zero value is NilTxnID.
type TxnID uuid.UUID

var NilTxnID = TxnID(uuid.Nil)

func NewTxnID() TxnID {
	return TxnID(uuid.New())
}

func (t TxnID) IsNil() bool {
	return t == NilTxnID
}

func (t TxnID) String() string {
	return uuid.UUID(t).String()
}

type Permissions uint8

const (
	ReadOnly Permissions = iota
	ReadWrite
)

func (p Permissions) String() string {
	switch p {
	case ReadOnly:
		return "READ_ONLY"
	case ReadWrite:
		return "READ_WRITE"
	default:
		return fmt.Sprintf("Permissions(%d)", uint8(p))
	}
}

type Tuple struct {
	RecordID RecordID
	Data     []byte
}

package common

type Page interface {
	ID() PageIdentity
	GetData() []byte

	// IsDirty reports the transaction that last dirtied the page, if any
	IsDirty() (TxnID, bool)
	MarkDirty(dirty bool, txnID TxnID)
}

// TableStorage is the per-table persistence layer the buffer pool reads
// from and writes to.
type TableStorage interface {
	TableID() TableID
	ReadPage(pageIdent PageIdentity) (Page, error)
	WritePage(pg Page) error
	NumPages() (int, error)

	// InsertTuple and DeleteTuple return every page they modified. The pages
	// must be obtained through the buffer pool so that they are locked.
	InsertTuple(txnID TxnID, t *Tuple) ([]Page, error)
	DeleteTuple(txnID TxnID, t *Tuple) ([]Page, error)
}

type Catalog interface {
	GetTableStorage(tableID TableID) (TableStorage, error)
}

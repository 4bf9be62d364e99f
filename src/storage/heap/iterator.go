package heap

import (
	"iter"

	"github.com/Blackdeer1524/StorageCore/src/pkg/common"
)

// Tuples iterates over every tuple of the file with read-only access. Each
// page is locked in shared mode by txnID as the iteration reaches it. The
// iteration stops after yielding the first error.
func (f *HeapFile) Tuples(txnID common.TxnID) iter.Seq2[common.Tuple, error] {
	return func(yield func(common.Tuple, error) bool) {
		numPages, err := f.NumPages()
		if err != nil {
			yield(common.Tuple{}, err)
			return
		}

		for i := range numPages {
			pIdent := common.PageIdentity{TableID: f.tableID, PageID: common.PageID(i)} //nolint:gosec

			hp, err := f.getHeapPage(txnID, pIdent, common.ReadOnly)
			if err != nil {
				yield(common.Tuple{}, err)
				return
			}

			for _, t := range hp.Tuples() {
				if !yield(t, nil) {
					return
				}
			}
		}
	}
}

// Count returns the number of tuples visible to txnID.
func (f *HeapFile) Count(txnID common.TxnID) (int, error) {
	count := 0
	for _, err := range f.Tuples(txnID) {
		if err != nil {
			return 0, err
		}
		count++
	}
	return count, nil
}

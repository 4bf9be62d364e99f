package txns

import (
	"errors"
	"fmt"

	"github.com/Blackdeer1524/StorageCore/src/pkg/common"
)

// ErrTxnAborted is returned when a lock could not be granted within the
// wait bound. The caller is expected to abort the transaction.
var ErrTxnAborted = errors.New("transaction aborted")

type TaggedType[T any] struct{ v T } // this trick forbids casting one lock mode to another

type SimpleLockMode TaggedType[uint8]

type DatabaseLock[Lock any] interface {
	fmt.Stringer
	Compatible(Lock) bool
	Combine(Lock) Lock
	WeakerOrEqual(Lock) bool
}

var (
	SimpleLockShared    SimpleLockMode = SimpleLockMode{0}
	SimpleLockExclusive SimpleLockMode = SimpleLockMode{1}
)

var _ DatabaseLock[SimpleLockMode] = SimpleLockMode{0}

// LockModeFor maps page access permissions to the lock mode guarding them.
func LockModeFor(perm common.Permissions) SimpleLockMode {
	if perm == common.ReadWrite {
		return SimpleLockExclusive
	}
	return SimpleLockShared
}

func (m SimpleLockMode) String() string {
	switch m {
	case SimpleLockShared:
		return "SHARED"
	case SimpleLockExclusive:
		return "EXCLUSIVE"
	default:
		return fmt.Sprintf("SimpleLockMode(%d)", m.v)
	}
}

func (m SimpleLockMode) Compatible(other SimpleLockMode) bool {
	if m == SimpleLockShared && other == SimpleLockShared {
		return true
	}
	return false
}

func (m SimpleLockMode) Combine(to SimpleLockMode) SimpleLockMode {
	switch m {
	case SimpleLockShared:
		switch to {
		case SimpleLockShared:
			return SimpleLockShared
		case SimpleLockExclusive:
			return SimpleLockExclusive
		}
	case SimpleLockExclusive:
		return SimpleLockExclusive
	}
	panic("unreachable")
}

func (m SimpleLockMode) WeakerOrEqual(other SimpleLockMode) bool {
	switch m {
	case SimpleLockShared:
		return true
	case SimpleLockExclusive:
		return other == SimpleLockExclusive
	}
	panic("unreachable")
}

type lockRecord struct {
	mode    SimpleLockMode
	holders map[common.TxnID]struct{}
}

func newLockRecord(txnID common.TxnID, mode SimpleLockMode) *lockRecord {
	return &lockRecord{
		mode:    mode,
		holders: map[common.TxnID]struct{}{txnID: {}},
	}
}

func (r *lockRecord) isSoleHolder(txnID common.TxnID) bool {
	if len(r.holders) != 1 {
		return false
	}
	_, ok := r.holders[txnID]
	return ok
}

type waitInfo[ObjectID comparable] struct {
	objectID ObjectID
	lockMode SimpleLockMode
}

package txns

import (
	"math/rand/v2"
	"time"

	"github.com/Blackdeer1524/StorageCore/src/pkg/assert"
)

const (
	DefaultMinLockWait = 0
	DefaultMaxLockWait = 2 * time.Second
)

// TimeoutPolicy yields the wait bound for a single lock request.
type TimeoutPolicy func() time.Duration

// RandomTimeout draws each wait bound uniformly from [lo, hi). Randomizing
// the bound keeps transactions stuck in a cycle from timing out together.
func RandomTimeout(lo, hi time.Duration) TimeoutPolicy {
	assert.Assert(lo >= 0 && lo <= hi, "invalid lock wait bounds [%v, %v)", lo, hi)

	return func() time.Duration {
		if hi == lo {
			return lo
		}
		return lo + time.Duration(rand.Int64N(int64(hi-lo)))
	}
}

func FixedTimeout(d time.Duration) TimeoutPolicy {
	return func() time.Duration {
		return d
	}
}

func DefaultTimeout() TimeoutPolicy {
	return RandomTimeout(DefaultMinLockWait, DefaultMaxLockWait)
}

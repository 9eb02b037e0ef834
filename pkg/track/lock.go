package track

import "fmt"

// LockFlags modify a lock acquisition.
type LockFlags uint8

// Lock flags.
const (
	// Mutable requests exclusive write access.
	Mutable LockFlags = 1 << iota

	// WriteThrough loads the substate straight from the durable ledger and,
	// on release, writes it straight back. Used for fee vaults whose state
	// must survive a failed transaction.
	WriteThrough
)

// Has reports whether flag is set.
func (f LockFlags) Has(flag LockFlags) bool {
	return f&flag != 0
}

// LockState is Read(n) for n readers or Write for one exclusive writer.
// The zero value is Read(0), the free state.
type LockState struct {
	readers uint32
	write   bool
}

// ReadLock returns the Read(n) state.
func ReadLock(n uint32) LockState { return LockState{readers: n} }

// WriteLock is the exclusive state.
var WriteLock = LockState{write: true}

// IsFree reports whether nobody holds the lock.
func (s LockState) IsFree() bool { return !s.write && s.readers == 0 }

// IsWrite reports whether a writer holds the lock.
func (s LockState) IsWrite() bool { return s.write }

// Readers returns the reader count.
func (s LockState) Readers() uint32 { return s.readers }

func (s LockState) String() string {
	if s.write {
		return "Write"
	}
	return fmt.Sprintf("Read(%d)", s.readers)
}

// acquire applies an acquisition to the state.
func (s LockState) acquire(mutable bool) (LockState, bool) {
	switch {
	case s.write:
		return s, false
	case mutable:
		if s.readers != 0 {
			return s, false
		}
		return WriteLock, true
	default:
		return LockState{readers: s.readers + 1}, true
	}
}

// release applies a release to the state.
func (s LockState) release() (LockState, bool) {
	switch {
	case s.write:
		return LockState{}, true
	case s.readers > 0:
		return LockState{readers: s.readers - 1}, true
	default:
		return s, false
	}
}

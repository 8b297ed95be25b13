package pool

import "sync/atomic"

// Flags are the protocol decisions that apply to every pool for the rest
// of the run once made: a GBT downgrade, duplicate checking turned on by
// a duplicate reject, and network probes the server refused.
type Flags struct {
	gbt        atomic.Bool
	checkDups  atomic.Bool
	miningInfo atomic.Bool
	gbtHeight  atomic.Bool
}

// NewFlags returns flags with the given starting values
func NewFlags(allowGBT, checkDups, miningInfo bool) *Flags {
	f := &Flags{}
	f.gbt.Store(allowGBT)
	f.checkDups.Store(checkDups)
	f.miningInfo.Store(miningInfo)
	f.gbtHeight.Store(true)
	return f
}

// GBT reports whether getblocktemplate may still be used
func (f *Flags) GBT() bool { return f.gbt.Load() }

// DisableGBT downgrades every pool to getwork
func (f *Flags) DisableGBT() { f.gbt.Store(false) }

// CheckDups reports whether submissions are deduplicated
func (f *Flags) CheckDups() bool { return f.checkDups.Load() }

// EnableCheckDups turns deduplication on and reports whether it was off
func (f *Flags) EnableCheckDups() bool { return !f.checkDups.Swap(true) }

// MiningInfo reports whether the getmininginfo probe is enabled
func (f *Flags) MiningInfo() bool { return f.miningInfo.Load() }

// DisableMiningInfo stops the getmininginfo probe
func (f *Flags) DisableMiningInfo() { f.miningInfo.Store(false) }

// GBTHeight reports whether the template height probe is enabled
func (f *Flags) GBTHeight() bool { return f.gbtHeight.Load() }

// DisableGBTHeight stops the template height probe
func (f *Flags) DisableGBTHeight() { f.gbtHeight.Store(false) }

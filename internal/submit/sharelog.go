package submit

import (
	"sync"
	"time"
)

// StaleAge is how long a submitted share stays in the log
const StaleAge = 15 * time.Minute

type shareKey struct {
	job     string
	xnonce2 string
	nonce   uint32
}

// ShareLog remembers every submitted (job, nonce) pair. The extranonce2
// is part of the job key since stratum regenerates one pool job under
// several extranonce2 values.
type ShareLog struct {
	mu      sync.Mutex
	entries map[shareKey]time.Time
	now     func() time.Time
}

// NewShareLog creates an empty log
func NewShareLog() *ShareLog {
	return &ShareLog{
		entries: make(map[shareKey]time.Time),
		now:     time.Now,
	}
}

// Sent returns when the share was submitted, or zero
func (l *ShareLog) Sent(jobID string, xnonce2 []byte, nonce uint32) time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entries[shareKey{jobID, string(xnonce2), nonce}]
}

// Remember records a submission
func (l *ShareLog) Remember(jobID string, xnonce2 []byte, nonce uint32) {
	l.mu.Lock()
	l.entries[shareKey{jobID, string(xnonce2), nonce}] = l.now()
	l.mu.Unlock()
}

// PurgeJob drops entries of every pool job other than poolJobID, used
// when a clean-jobs notify makes older jobs stale.
func (l *ShareLog) PurgeJob(poolJobID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for k := range l.entries {
		if poolJob(k.job) != poolJobID {
			delete(l.entries, k)
			n++
		}
	}
	return n
}

// PurgeOlder drops entries submitted more than age ago
func (l *ShareLog) PurgeOlder(age time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-age)
	n := 0
	for k, at := range l.entries {
		if at.Before(cutoff) {
			delete(l.entries, k)
			n++
		}
	}
	return n
}

// Len returns the number of remembered shares
func (l *ShareLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func poolJob(jobID string) string {
	if len(jobID) <= 8 {
		return ""
	}
	return jobID[8:]
}

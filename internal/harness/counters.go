package harness

import (
	"fmt"
	"sync"
)

// Counter identifies a failure class tracked across a run.
type Counter int

const (
	CounterTTY Counter = iota
	CounterFPGAProgram
	CounterDebugger
	CounterBanner
	CounterUpload
	numCounters
)

var counterNames = [numCounters]string{"tty", "fpgaprog", "gdb", "bannertmout", "upload"}

func (c Counter) String() string {
	if c >= 0 && c < numCounters {
		return counterNames[c]
	}
	return fmt.Sprintf("counter(%d)", int(c))
}

// Ceilings are the per-counter maxima. A count above its ceiling aborts
// the run. Zero disables a ceiling.
type Ceilings struct {
	TTY         int `json:"tty"`
	FPGAProgram int `json:"fpgaprog"`
	Debugger    int `json:"gdb"`
	Banner      int `json:"bannertmout"`
	Upload      int `json:"upload"`
}

// DefaultCeilings are used when nothing is configured.
func DefaultCeilings() Ceilings {
	return Ceilings{TTY: 3, FPGAProgram: 3, Debugger: 10, Upload: 10, Banner: 100}
}

func (c Ceilings) array() [numCounters]int {
	return [numCounters]int{c.TTY, c.FPGAProgram, c.Debugger, c.Banner, c.Upload}
}

// FailureCounters tracks failures across the cases of one run. The
// orchestrator increments it; the run loop reads it between cases.
type FailureCounters struct {
	mu       sync.Mutex
	counts   [numCounters]int
	ceilings [numCounters]int
}

// NewFailureCounters returns zeroed counters with the given ceilings.
func NewFailureCounters(c Ceilings) *FailureCounters {
	return &FailureCounters{ceilings: c.array()}
}

// Inc increments c and returns the new count.
func (f *FailureCounters) Inc(c Counter) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[c]++
	return f.counts[c]
}

// Count returns the current count of c.
func (f *FailureCounters) Count(c Counter) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[c]
}

// Reset zeroes every count.
func (f *FailureCounters) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts = [numCounters]int{}
}

// Exceeded returns an *AbortError for the first counter above its
// ceiling, or nil.
func (f *FailureCounters) Exceeded() *AbortError {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, n := range f.counts {
		if limit := f.ceilings[i]; limit > 0 && n > limit {
			return &AbortError{Counter: Counter(i), Count: n, Ceiling: limit}
		}
	}
	return nil
}

// Snapshot returns the counts by name.
func (f *FailureCounters) Snapshot() map[string]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int, numCounters)
	for i, n := range f.counts {
		out[counterNames[i]] = n
	}
	return out
}

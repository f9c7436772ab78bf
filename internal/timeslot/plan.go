// Package timeslot provides the TDMA slot plan for a paging transmitter.
//
// The shared network time base is a 16-bit counter of tenths of a second.
// It is divided into 16 slots of 64 ticks (6.4 s) each, so a full slot
// cycle lasts 102.4 s. A transmitter may only key up during the slots its
// Plan marks as allowed. Slot plans are pushed by the network master as a
// string of hex digits, one digit per allowed slot.
package timeslot

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

const (
	// NumSlots is the number of slots in one cycle.
	NumSlots = 16
	// TicksPerSlot is the slot length in 0.1 s units.
	TicksPerSlot = 64
	// TimeModulus is the wrap point of the shared time base.
	TimeModulus = 1 << 16
)

var ErrInvalidSlotDigit = errors.New("invalid slot digit")

// TimeValue is a point on the wrapping network time base, in 0.1 s units.
type TimeValue uint16

// String renders the time the way the master expects it in identify replies.
func (t TimeValue) String() string {
	return fmt.Sprintf("%04x", uint16(t))
}

// Slot returns the slot index the time falls into.
func (t TimeValue) Slot() int {
	return IndexOf(t)
}

// IndexOf returns the slot index for the given time value.
func IndexOf(t TimeValue) int {
	return (int(t) / TicksPerSlot) % NumSlots
}

// Snapshot is an immutable copy of a Plan's allowed flags.
type Snapshot [NumSlots]bool

// String returns the allowed slots as hex digits, e.g. "048c".
func (s Snapshot) String() string {
	var sb strings.Builder
	for i, allowed := range s {
		if allowed {
			fmt.Fprintf(&sb, "%x", i)
		}
	}
	return sb.String()
}

// Plan is the slot allocation table. All methods are safe for concurrent
// use: the scheduler reads it every tick while the network side replaces it.
type Plan struct {
	mu    sync.Mutex
	slots [NumSlots]bool

	// change detector state for HasChanged
	observed  bool
	lastIndex int
}

// NewPlan returns a Plan with every slot disallowed.
func NewPlan() *Plan {
	return &Plan{}
}

// SetSlots replaces the whole plan. Every hex digit in digits marks the
// matching slot as allowed; all other slots are cleared. Characters that
// are not hex digits are skipped and reported in the returned error, the
// valid digits are applied regardless.
func (p *Plan) SetSlots(digits string) error {
	var next [NumSlots]bool
	var invalid []rune
	for _, r := range digits {
		idx, ok := hexDigit(r)
		if !ok {
			invalid = append(invalid, r)
			continue
		}
		next[idx] = true
	}

	p.mu.Lock()
	p.slots = next
	p.mu.Unlock()

	slog.Debug("time slots updated", "slots", Snapshot(next).String())

	if len(invalid) > 0 {
		return fmt.Errorf("%w: %q", ErrInvalidSlotDigit, string(invalid))
	}
	return nil
}

func hexDigit(r rune) (int, bool) {
	switch {
	case r >= '0' && r <= '9':
		return int(r - '0'), true
	case r >= 'a' && r <= 'f':
		return int(r-'a') + 10, true
	case r >= 'A' && r <= 'F':
		return int(r-'A') + 10, true
	}
	return 0, false
}

// IsAllowed reports whether the slot (taken modulo 16) may be used.
func (p *Plan) IsAllowed(slot int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.slots[wrapSlot(slot)]
}

// IsAllowedAt reports whether the slot containing t may be used.
func (p *Plan) IsAllowedAt(t TimeValue) bool {
	return p.IsAllowed(IndexOf(t))
}

// IsNextAllowed reports whether the slot following the one containing t
// may be used.
func (p *Plan) IsNextAllowed(t TimeValue) bool {
	return p.IsAllowed(IndexOf(t) + 1)
}

// AllowedRun counts the contiguous allowed slots starting at start,
// wrapping around the cycle. The result never exceeds NumSlots.
func (p *Plan) AllowedRun(start int) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	start = wrapSlot(start)
	count := 0
	for count < NumSlots && p.slots[(start+count)%NumSlots] {
		count++
	}
	return count
}

// TimeToNextSlot returns the number of ticks from t until the start of the
// next allowed slot after the current one. The search covers one full
// cycle, so with a single allowed slot that is also the current one the
// answer is the start of its next occurrence. It returns false when no slot
// is allowed at all.
func (p *Plan) TimeToNextSlot(t TimeValue) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	current := IndexOf(t)
	into := int(t) % TicksPerSlot
	for k := 1; k <= NumSlots; k++ {
		if p.slots[(current+k)%NumSlots] {
			return k*TicksPerSlot - into, true
		}
	}
	return 0, false
}

// HasChanged reports whether t falls into a different slot than the one
// seen on the previous call. The first call always reports true. This is a
// side-effecting query: it remembers the slot it was called with.
func (p *Plan) HasChanged(t TimeValue) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx := IndexOf(t)
	if p.observed && idx == p.lastIndex {
		return false
	}
	p.observed = true
	p.lastIndex = idx
	return true
}

// Snapshot returns a copy of the current allowed flags.
func (p *Plan) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.slots
}

// String returns the allowed slots as hex digits.
func (p *Plan) String() string {
	return p.Snapshot().String()
}

func wrapSlot(slot int) int {
	slot %= NumSlots
	if slot < 0 {
		slot += NumSlots
	}
	return slot
}

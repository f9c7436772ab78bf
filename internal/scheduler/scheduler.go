// Package scheduler drives the on-air state machine of the transmitter.
//
// Every tick the scheduler samples the wall clock, adds the correction
// received from the network master and derives the shared 16-bit time
// value. Shortly before an allowed slot starts it packs queued pages into a
// transmission and encodes it; once the slot has started it sends it, and
// keeps refilling the transmitter for as long as the slot run lasts.
package scheduler

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/USA-RedDragon/dapnet-tx/internal/batch"
	"github.com/USA-RedDragon/dapnet-tx/internal/timeslot"
)

const (
	// DefaultTickInterval is the cadence of the runner.
	DefaultTickInterval = 100 * time.Millisecond
	// MaxEncodeTime is how many ticks before an allowed slot the next
	// transmission is prepared.
	MaxEncodeTime = 3
)

var (
	ErrEncode = errors.New("encode failed")
	ErrSend   = errors.New("send failed")
)

type State uint32

const (
	StateAwaitingSlot State = iota
	StateDataEncoded
	StateSlotStillAllowed
)

func (s State) String() string {
	switch s {
	case StateAwaitingSlot:
		return "AWAITING_SLOT"
	case StateDataEncoded:
		return "DATA_ENCODED"
	case StateSlotStillAllowed:
		return "SLOT_STILL_ALLOWED"
	}
	return fmt.Sprintf("State(%d)", uint32(s))
}

// Transmitter puts codewords on air. Both calls are made from the tick
// only, never concurrently.
type Transmitter interface {
	// Encode converts a codeword stream into the transmitter's payload.
	Encode(codeWords []uint32) ([]byte, error)
	// Send transmits a payload and returns once it is off air.
	Send(payload []byte) error
}

// Queue is the part of the message queue the scheduler needs.
type Queue interface {
	batch.Queue
	IsEmpty() bool
}

// Observer receives the slot plan whenever the current slot changes.
type Observer func(timeslot.Snapshot)

type Options struct {
	// TxDelay is the lead time between PTT and modulation.
	TxDelay time.Duration
	// TickInterval defaults to DefaultTickInterval.
	TickInterval time.Duration
	// Clock defaults to time.Now.
	Clock func() time.Time
}

type Scheduler struct {
	plan     *timeslot.Plan
	queue    Queue
	builder  *batch.Builder
	tx       Transmitter
	clock    func() time.Time
	interval time.Duration

	correction atomic.Int64
	time       atomic.Uint32
	state      atomic.Uint32
	canceled   atomic.Bool
	observer   atomic.Pointer[Observer]

	// tickMu serializes ticks; payload and pages belong to the tick.
	tickMu  sync.Mutex
	payload []byte
	pages   int

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(q Queue, tx Transmitter, opts Options) *Scheduler {
	s := &Scheduler{
		plan:     timeslot.NewPlan(),
		queue:    q,
		builder:  batch.NewBuilder(opts.TxDelay),
		tx:       tx,
		clock:    opts.Clock,
		interval: opts.TickInterval,
		done:     make(chan struct{}),
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	if s.interval <= 0 {
		s.interval = DefaultTickInterval
	}
	s.state.Store(uint32(StateAwaitingSlot))
	return s
}

// Plan returns the slot plan owned by the scheduler.
func (s *Scheduler) Plan() *timeslot.Plan {
	return s.plan
}

// Time returns the time value computed by the most recent tick.
func (s *Scheduler) Time() timeslot.TimeValue {
	return timeslot.TimeValue(s.time.Load())
}

// CorrectTime adds delta (in 0.1 s units) to the time correction. It takes
// effect on the next tick.
func (s *Scheduler) CorrectTime(delta int) {
	total := s.correction.Add(int64(delta))
	slog.Debug("time correction applied", "delta", delta, "correction", total)
}

// Correction returns the accumulated time correction in 0.1 s units.
func (s *Scheduler) Correction() int64 {
	return s.correction.Load()
}

// SetTimeSlots replaces the slot plan from a string of hex digits.
func (s *Scheduler) SetTimeSlots(digits string) error {
	return s.plan.SetSlots(digits)
}

// OnSlotChange registers fn to be called with the plan every time the
// current slot changes. It replaces any previous observer; nil removes it.
func (s *Scheduler) OnSlotChange(fn Observer) {
	if fn == nil {
		s.observer.Store(nil)
		return
	}
	s.observer.Store(&fn)
}

func (s *Scheduler) State() State {
	return State(s.state.Load())
}

func (s *Scheduler) setState(next State) {
	prev := State(s.state.Swap(uint32(next)))
	if prev != next {
		slog.Debug("scheduler state changed", "from", prev, "to", next)
	}
}

// Cancel stops all further work. Once it has returned and a tick that may
// be running has finished, ticks do nothing and the transmitter is never
// called again.
func (s *Scheduler) Cancel() {
	s.canceled.Store(true)
}

// Start runs ticks on the configured interval until Stop is called.
func (s *Scheduler) Start() {
	slog.Info("Starting scheduler", "interval", s.interval)
	s.wg.Add(1)
	go s.run()
}

func (s *Scheduler) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Tick(s.clock())
		case <-s.done:
			return
		}
	}
}

// Stop cancels the scheduler and waits for the runner to exit.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		slog.Info("Stopping scheduler")
		s.Cancel()
		close(s.done)
	})
	s.wg.Wait()
}

// TimeAt converts a wall clock reading into the corrected network time.
func (s *Scheduler) TimeAt(now time.Time) timeslot.TimeValue {
	v := (now.UnixMilli()/100 + s.correction.Load()) % timeslot.TimeModulus
	if v < 0 {
		v += timeslot.TimeModulus
	}
	return timeslot.TimeValue(v)
}

// Tick advances the state machine for the wall clock reading now. Ticks
// are serialized; errors are logged and never leave the tick.
func (s *Scheduler) Tick(now time.Time) {
	if s.canceled.Load() {
		return
	}
	s.tickMu.Lock()
	defer s.tickMu.Unlock()
	if s.canceled.Load() {
		return
	}

	t := s.TimeAt(now)
	s.time.Store(uint32(t))

	if s.plan.HasChanged(t) {
		s.notify(t)
	}

	var err error
	switch state := s.State(); state {
	case StateAwaitingSlot:
		err = s.awaitSlot(t)
	case StateDataEncoded:
		err = s.sendData(t)
	case StateSlotStillAllowed:
		err = s.stillAllowed(t)
	default:
		slog.Warn("unknown scheduler state, resetting", "state", state)
		s.setState(StateAwaitingSlot)
	}

	switch {
	case err == nil:
	case errors.Is(err, ErrEncode):
		slog.Error("Failed to encode data", "time", t, "error", err)
	case errors.Is(err, ErrSend):
		slog.Error("Failed to send data", "time", t, "error", err)
	default:
		slog.Error("Scheduler tick failed", "time", t, "state", s.State(), "error", err)
	}
}

func (s *Scheduler) notify(t timeslot.TimeValue) {
	fn := s.observer.Load()
	if fn == nil {
		return
	}
	snap := s.plan.Snapshot()
	slot := t.Slot()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Warn("slot observer panicked", "slot", slot, "panic", r)
			}
		}()
		(*fn)(snap)
	}()
}

// awaitSlot prepares a transmission just before the next slot starts.
func (s *Scheduler) awaitSlot(t timeslot.TimeValue) error {
	if !s.plan.IsNextAllowed(t) || s.queue.IsEmpty() {
		return nil
	}
	ticks, ok := s.plan.TimeToNextSlot(t)
	if !ok || ticks > MaxEncodeTime {
		return nil
	}
	_, err := s.prepare(s.plan.AllowedRun(t.Slot() + 1))
	return err
}

// sendData transmits the prepared payload once the slot has started.
func (s *Scheduler) sendData(t timeslot.TimeValue) error {
	if !s.plan.IsAllowedAt(t) {
		return nil
	}

	slog.Info("Activating transmitter", "slot", t.Slot(), "time", t, "pages", s.pages, "bytes", len(s.payload))
	payload := s.payload
	err := guard(func() error { return s.tx.Send(payload) })

	// The attempt is made exactly once, a failed payload is not retried.
	s.payload = nil
	s.pages = 0
	s.setState(StateSlotStillAllowed)

	if err != nil {
		return fmt.Errorf("%w: %w", ErrSend, err)
	}
	slog.Debug("Data sent", "slot", t.Slot())
	return nil
}

// stillAllowed refills the transmitter while the current slot run lasts.
func (s *Scheduler) stillAllowed(t timeslot.TimeValue) error {
	if !s.plan.IsAllowedAt(t) || s.queue.IsEmpty() {
		s.setState(StateAwaitingSlot)
		return nil
	}
	ok, err := s.prepare(s.plan.AllowedRun(t.Slot()))
	if !ok {
		s.setState(StateAwaitingSlot)
	}
	return err
}

// prepare packs up to slotCount slots worth of pages and encodes them. It
// reports whether a payload is ready to send.
func (s *Scheduler) prepare(slotCount int) (bool, error) {
	stream, err := s.builder.Build(s.queue, slotCount)
	if errors.Is(err, batch.ErrNothingToSend) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	var payload []byte
	err = guard(func() error {
		var encErr error
		payload, encErr = s.tx.Encode(stream.Words)
		return encErr
	})
	if err != nil {
		return false, fmt.Errorf("%w: %d pages lost: %w", ErrEncode, stream.Messages, err)
	}

	s.payload = payload
	s.pages = stream.Messages
	s.setState(StateDataEncoded)
	slog.Debug("Transmission prepared",
		"slots", slotCount, "pages", stream.Messages,
		"batches", stream.Batches(), "maxBatches", stream.MaxBatches)
	return true, nil
}

// guard runs fn, returning a panic as an error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

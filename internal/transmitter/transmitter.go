// Package transmitter puts POCSAG codeword streams on air.
//
// Raw writes the stream as packed big-endian bits to an output that feeds
// an FSK modulator, and keys the radio around the write with a PTT line.
package transmitter

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/USA-RedDragon/dapnet-tx/internal/batch"
	"github.com/USA-RedDragon/dapnet-tx/internal/config"
	"github.com/pkg/term"
)

// Tail is how long the radio stays keyed after the last bit.
const Tail = 100 * time.Millisecond

var (
	ErrEmptyPayload = errors.New("empty payload")
	ErrPTT          = errors.New("PTT failure")
	ErrWrite        = errors.New("output write failure")
)

type Options struct {
	// TxDelay is the lead time between keying and the first bit.
	TxDelay time.Duration
	// Invert flips every bit of the encoded payload.
	Invert bool
}

// Raw is a transmitter for a bit-level modulator.
type Raw struct {
	ptt     PTT
	out     io.Writer
	closers []io.Closer
	txDelay time.Duration
	invert  bool

	mu    sync.Mutex
	sleep func(time.Duration)
}

// NewRaw creates a transmitter writing to out and keying ptt.
func NewRaw(ptt PTT, out io.Writer, opts Options) *Raw {
	if ptt == nil {
		ptt = NoPTT{}
	}
	if out == nil {
		out = io.Discard
	}
	return &Raw{
		ptt:     ptt,
		out:     out,
		txDelay: opts.TxDelay,
		invert:  opts.Invert,
		sleep:   time.Sleep,
	}
}

// New opens the output and PTT described by cfg.
func New(cfg *config.Transmitter) (*Raw, error) {
	var (
		out     io.Writer = io.Discard
		closers []io.Closer
		port    *term.Term
	)

	switch cfg.Output {
	case config.OutputDiscard, "":
	case config.OutputFile:
		f, err := os.OpenFile(cfg.Device, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open output file: %w", err)
		}
		out = f
		closers = append(closers, f)
	case config.OutputSerial:
		var err error
		port, err = term.Open(cfg.Device, term.RawMode, term.Speed(cfg.Baud))
		if err != nil {
			return nil, fmt.Errorf("failed to open serial output %s: %w", cfg.Device, err)
		}
		out = port
		closers = append(closers, port)
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrInvalidOutput, cfg.Output)
	}

	ptt, err := newPTT(&cfg.PTT, cfg.Device, port)
	if err != nil {
		for _, c := range closers {
			_ = c.Close()
		}
		return nil, err
	}

	r := NewRaw(ptt, out, Options{
		TxDelay: time.Duration(cfg.TxDelay) * time.Millisecond,
		Invert:  cfg.Invert,
	})
	r.closers = closers
	slog.Info("Transmitter ready",
		"output", cfg.Output, "device", cfg.Device, "ptt", cfg.PTT.Method,
		"txDelay", r.txDelay, "invert", r.invert)
	return r, nil
}

// newPTT builds the configured PTT. A serial PTT on the output device
// shares the already open port.
func newPTT(cfg *config.PTT, outDevice string, port *term.Term) (PTT, error) {
	var signal Signal
	switch cfg.Method {
	case config.PTTMethodNone, "":
		return NoPTT{}, nil
	case config.PTTMethodGPIO:
		return NewGPIOPTT(cfg.GPIOChip, cfg.GPIOLine, cfg.Invert)
	case config.PTTMethodRTS:
		signal = SignalRTS
	case config.PTTMethodDTR:
		signal = SignalDTR
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrInvalidPTTMethod, cfg.Method)
	}

	if port != nil && cfg.Device == outDevice {
		p := &SerialPTT{port: port, signal: signal, invert: cfg.Invert}
		if err := p.Unkey(); err != nil {
			return nil, err
		}
		return p, nil
	}
	return NewSerialPTT(cfg.Device, signal, cfg.Invert)
}

// Encode packs codewords MSB first into bytes.
func (r *Raw) Encode(codeWords []uint32) ([]byte, error) {
	if len(codeWords) == 0 {
		return nil, ErrEmptyPayload
	}
	payload := make([]byte, 0, len(codeWords)*4)
	for _, cw := range codeWords {
		if r.invert {
			cw = ^cw
		}
		payload = binary.BigEndian.AppendUint32(payload, cw)
	}
	return payload, nil
}

// Send keys the radio, writes payload and holds the key until the payload
// is off air. The radio is always unkeyed before Send returns.
func (r *Raw) Send(payload []byte) (err error) {
	if len(payload) == 0 {
		return ErrEmptyPayload
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ptt.Key(); err != nil {
		return fmt.Errorf("%w: %w", ErrPTT, err)
	}
	defer func() {
		if uerr := r.ptt.Unkey(); uerr != nil {
			err = errors.Join(err, fmt.Errorf("%w: unkey: %w", ErrPTT, uerr))
		}
	}()

	if r.txDelay > 0 {
		r.sleep(r.txDelay)
	}

	start := time.Now()
	if _, err := r.out.Write(payload); err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	if hold := Airtime(len(payload)) + Tail - time.Since(start); hold > 0 {
		r.sleep(hold)
	}
	return nil
}

// Airtime returns how long n payload bytes take on air.
func Airtime(n int) time.Duration {
	return time.Duration(n*8) * time.Second / batch.BitRate
}

// Close unkeys and releases the PTT and output.
func (r *Raw) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	errs := []error{r.ptt.Close()}
	for _, c := range r.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

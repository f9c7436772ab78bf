package transmitter

import (
	"fmt"
	"log/slog"

	"github.com/pkg/term"
	"github.com/warthog618/go-gpiocdev"
)

// PTT keys and unkeys the radio.
type PTT interface {
	Key() error
	Unkey() error
	Close() error
}

// NoPTT is used when the modulator keys the radio by itself.
type NoPTT struct{}

func (NoPTT) Key() error   { return nil }
func (NoPTT) Unkey() error { return nil }
func (NoPTT) Close() error { return nil }

// GPIOPTT drives a GPIO line through the character device.
type GPIOPTT struct {
	line *gpiocdev.Line
}

func NewGPIOPTT(chip string, offset int, invert bool) (*GPIOPTT, error) {
	opts := []gpiocdev.LineReqOption{
		gpiocdev.AsOutput(0),
		gpiocdev.WithConsumer("dapnet-tx"),
	}
	if invert {
		opts = append(opts, gpiocdev.AsActiveLow)
	}
	line, err := gpiocdev.RequestLine(chip, offset, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to request GPIO %s:%d: %w", chip, offset, err)
	}
	slog.Debug("PTT GPIO line requested", "chip", chip, "line", offset, "invert", invert)
	return &GPIOPTT{line: line}, nil
}

func (p *GPIOPTT) Key() error   { return p.line.SetValue(1) }
func (p *GPIOPTT) Unkey() error { return p.line.SetValue(0) }

func (p *GPIOPTT) Close() error {
	_ = p.line.SetValue(0)
	return p.line.Close()
}

// Signal selects the modem control line of a SerialPTT.
type Signal int

const (
	SignalRTS Signal = iota
	SignalDTR
)

func (s Signal) String() string {
	if s == SignalDTR {
		return "DTR"
	}
	return "RTS"
}

// SerialPTT keys the radio with the RTS or DTR line of a serial port.
type SerialPTT struct {
	port   *term.Term
	signal Signal
	invert bool
	// owned is false when the port is shared with the output sink.
	owned bool
}

func NewSerialPTT(device string, signal Signal, invert bool) (*SerialPTT, error) {
	port, err := term.Open(device, term.RawMode)
	if err != nil {
		return nil, fmt.Errorf("failed to open PTT device %s: %w", device, err)
	}
	p := &SerialPTT{port: port, signal: signal, invert: invert, owned: true}
	if err := p.set(false); err != nil {
		_ = port.Close()
		return nil, err
	}
	return p, nil
}

func (p *SerialPTT) set(on bool) error {
	level := on != p.invert
	var err error
	if p.signal == SignalDTR {
		err = p.port.SetDTR(level)
	} else {
		err = p.port.SetRTS(level)
	}
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", p.signal, err)
	}
	return nil
}

func (p *SerialPTT) Key() error   { return p.set(true) }
func (p *SerialPTT) Unkey() error { return p.set(false) }

func (p *SerialPTT) Close() error {
	_ = p.set(false)
	if !p.owned {
		return nil
	}
	return p.port.Close()
}

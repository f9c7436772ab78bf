// Package pocsag encodes pages into POCSAG codewords.
//
// A page becomes an address codeword followed by message codewords. The
// pager only listens in one of the 8 frames of a batch, selected by the low
// three bits of its address; that frame position travels with the
// codewords as element 0 of Message.CodeWords so the batch packer can place
// the address word correctly without knowing anything about the encoding.
package pocsag

import (
	"errors"
	"fmt"
	"math/bits"
	"strings"
)

// Protocol codewords.
const (
	Preamble uint32 = 0xAAAAAAAA
	Sync     uint32 = 0x7CD215D8
	Idle     uint32 = 0x7A89C197
)

const (
	// BatchWords is the number of codewords after the sync word of a batch.
	BatchWords = 16
	// FrameWords is the number of codewords per frame.
	FrameWords = 2
	// Frames is the number of frames per batch.
	Frames = 8
	// MaxAddress is the largest RIC a pager can have.
	MaxAddress = 1<<21 - 1

	messageFlag     uint32 = 1 << 20
	bitsPerWord            = 20
	bitsPerChar            = 7
	bitsPerDigit           = 4
	crcBits                = 10
	crcGenerator    uint32 = 0b11101101001
	numericSpace    byte   = 0xC
	alphaBitsMask   rune   = 0x7F
	addressFuncBits        = 2
)

type Type uint8

const (
	Numeric Type = iota
	Alphanumeric
)

func (t Type) String() string {
	switch t {
	case Numeric:
		return "numeric"
	case Alphanumeric:
		return "alphanumeric"
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}

var (
	ErrInvalidType     = errors.New("invalid message type")
	ErrInvalidAddress  = errors.New("invalid pager address")
	ErrInvalidFunction = errors.New("invalid function bits")
	ErrInvalidDigit    = errors.New("character not representable in a numeric page")
)

// ParseType parses the configuration spelling of a message type.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(s) {
	case "numeric", "num", "5":
		return Numeric, nil
	case "alphanumeric", "alpha", "text", "6":
		return Alphanumeric, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidType, s)
}

// Message is a single page ready for scheduling.
type Message struct {
	Type     Type
	Address  uint32
	Function uint8
	Text     string

	// CodeWords holds the frame position at index 0 followed by the
	// address codeword and the message codewords.
	CodeWords []uint32
}

// NewMessage validates and encodes a page.
func NewMessage(typ Type, address uint32, function uint8, text string) (*Message, error) {
	if address > MaxAddress {
		return nil, fmt.Errorf("%w: %d", ErrInvalidAddress, address)
	}
	if function > 3 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidFunction, function)
	}

	var payload []uint32
	switch typ {
	case Numeric:
		var err error
		payload, err = encodeNumeric(text)
		if err != nil {
			return nil, err
		}
	case Alphanumeric:
		payload = encodeAlphanumeric(text)
	default:
		return nil, fmt.Errorf("%w: %d", ErrInvalidType, typ)
	}

	cw := make([]uint32, 0, 2+len(payload))
	cw = append(cw, FramePosition(address))
	cw = append(cw, Codeword(((address>>3)<<addressFuncBits)|uint32(function)))
	cw = append(cw, payload...)

	return &Message{
		Type:      typ,
		Address:   address,
		Function:  function,
		Text:      text,
		CodeWords: cw,
	}, nil
}

// FramePosition returns the frame (0..7) a pager with this address listens in.
func FramePosition(address uint32) uint32 {
	return address & (Frames - 1)
}

// Codeword turns 21 data bits into a full 32-bit codeword: the data, a
// BCH(31,21) check and an even parity bit.
func Codeword(data uint32) uint32 {
	data &= 1<<21 - 1
	word := (data << crcBits) | crc(data)
	return (word << 1) | uint32(bits.OnesCount32(word)%2)
}

func crc(data uint32) uint32 {
	denominator := crcGenerator << 20
	msg := data << crcBits
	for column := 0; column <= 20; column++ {
		if (msg>>(30-column))&1 != 0 {
			msg ^= denominator
		}
		denominator >>= 1
	}
	return msg & 0x3FF
}

// wordPacker accumulates bits LSB-first per symbol into 20-bit message words.
type wordPacker struct {
	current uint32
	n       int
	out     []uint32
}

func (w *wordPacker) push(symbol uint32, width int) {
	for i := range width {
		w.current = (w.current << 1) | ((symbol >> i) & 1)
		w.n++
		if w.n == bitsPerWord {
			w.out = append(w.out, Codeword(w.current|messageFlag))
			w.current, w.n = 0, 0
		}
	}
}

func encodeAlphanumeric(text string) []uint32 {
	var w wordPacker
	for _, c := range text {
		w.push(uint32(c&alphaBitsMask), bitsPerChar)
	}
	if w.n > 0 {
		w.current <<= bitsPerWord - w.n
		w.out = append(w.out, Codeword(w.current|messageFlag))
	}
	return w.out
}

func encodeNumeric(text string) ([]uint32, error) {
	var w wordPacker
	for _, c := range text {
		digit, ok := numericDigit(c)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrInvalidDigit, c)
		}
		w.push(uint32(digit), bitsPerDigit)
	}
	for w.n > 0 {
		w.push(uint32(numericSpace), bitsPerDigit)
	}
	return w.out, nil
}

func numericDigit(c rune) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return byte(c - '0'), true
	}
	switch c {
	case '*':
		return 0xA, true
	case 'U', 'u':
		return 0xB, true
	case ' ':
		return numericSpace, true
	case '-':
		return 0xD, true
	case ']', ')':
		return 0xE, true
	case '[', '(':
		return 0xF, true
	}
	return 0, false
}

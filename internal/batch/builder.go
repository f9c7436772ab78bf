// Package batch packs queued pages into a POCSAG transmission.
//
// A transmission is 18 preamble codewords followed by batches of one sync
// codeword and 16 payload codewords. Each page starts a new batch, waits
// idle until the frame its pager listens in, and the last batch of a page
// is padded with idle codewords. The number of batches is bounded by the
// airtime of the contiguous slots available to the transmitter.
package batch

import (
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/USA-RedDragon/dapnet-tx/internal/pocsag"
)

const (
	// PreambleWords is the number of preamble codewords before the first batch.
	PreambleWords = 18
	// BatchLen is the length of a batch including its sync codeword.
	BatchLen = pocsag.BatchWords + 1
	// BitRate is the over-the-air rate in bit/s.
	BitRate = 1200

	slotSeconds     = 6.40
	overheadSeconds = 0.48
	batchBits       = BatchLen * 32
)

// ErrNothingToSend is returned when no page could be taken from the queue.
// It is not a failure: the queue was empty or its head does not fit.
var ErrNothingToSend = errors.New("nothing to send")

// Queue is the part of the message queue the builder needs.
type Queue interface {
	Pop() (*pocsag.Message, bool)
	PushFront(msg *pocsag.Message)
}

// Stream is a packed transmission.
type Stream struct {
	Words []uint32
	// Messages is the number of pages taken from the queue.
	Messages int
	// MaxBatches is the capacity the stream was built against.
	MaxBatches int
}

// Batches returns the number of complete batches after the preamble.
func (s Stream) Batches() int {
	return (len(s.Words) - PreambleWords) / BatchLen
}

// Builder turns queued pages into bounded codeword streams.
type Builder struct {
	txDelay time.Duration
}

// NewBuilder creates a Builder. txDelay is the lead time between keying the
// transmitter and the start of modulation; it is subtracted from the
// available airtime.
func NewBuilder(txDelay time.Duration) *Builder {
	return &Builder{txDelay: txDelay}
}

// MaxBatches returns how many batches fit into slotCount slots.
func (b *Builder) MaxBatches(slotCount int) int {
	seconds := slotSeconds*float64(slotCount) - overheadSeconds - b.txDelay.Seconds()
	return int(math.Floor(seconds * BitRate / batchBits))
}

// BatchesFor returns how many batches a page occupies once framed: its
// payload plus the idle codewords that move it to its frame, 16 codewords per
// batch, and at least the one batch its sync word opens.
func BatchesFor(payloadLen int, framePos int) int {
	words := payloadLen + pocsag.FrameWords*framePos
	n := (words + pocsag.BatchWords - 1) / pocsag.BatchWords
	if n < 1 {
		n = 1
	}
	return n
}

// Build takes pages from the head of q until the next one would exceed the
// capacity of slotCount slots. A page that does not fit is put back at the
// head and ends the build; pages behind it are not considered.
func (b *Builder) Build(q Queue, slotCount int) (Stream, error) {
	maxBatches := b.MaxBatches(slotCount)

	capacity := PreambleWords
	if maxBatches > 0 {
		capacity += maxBatches * BatchLen
	}
	words := make([]uint32, PreambleWords, capacity)
	for i := range words {
		words[i] = pocsag.Preamble
	}

	consumed := 0
	for maxBatches > 0 {
		msg, ok := q.Pop()
		if !ok {
			break
		}

		if len(msg.CodeWords) == 0 || msg.CodeWords[0] >= pocsag.Frames {
			slog.Error("dropping malformed page",
				"address", msg.Address, "codewords", len(msg.CodeWords))
			continue
		}

		framePos := int(msg.CodeWords[0])
		payload := msg.CodeWords[1:]
		need := BatchesFor(len(payload), framePos)
		current := (len(words) - PreambleWords) / BatchLen

		if current+need > maxBatches {
			q.PushFront(msg)
			if need > maxBatches {
				slog.Warn("page exceeds slot capacity, requeued",
					"address", msg.Address, "batches", need, "maxBatches", maxBatches,
					"slotCount", slotCount)
			}
			break
		}

		words = appendMessage(words, framePos, payload)
		consumed++
	}

	if consumed == 0 {
		return Stream{MaxBatches: maxBatches}, ErrNothingToSend
	}

	s := Stream{Words: words, Messages: consumed, MaxBatches: maxBatches}
	slog.Debug("batches packed", "used", s.Batches(), "max", maxBatches, "pages", consumed)
	return s, nil
}

func appendMessage(words []uint32, framePos int, payload []uint32) []uint32 {
	words = append(words, pocsag.Sync)
	for range framePos * pocsag.FrameWords {
		words = append(words, pocsag.Idle)
	}
	for _, cw := range payload {
		if atBoundary(words) {
			words = append(words, pocsag.Sync)
		}
		words = append(words, cw)
	}
	for !atBoundary(words) {
		words = append(words, pocsag.Idle)
	}
	return words
}

func atBoundary(words []uint32) bool {
	return (len(words)-PreambleWords)%BatchLen == 0
}

// Airtime returns how long a stream of n codewords takes on air.
func Airtime(n int) time.Duration {
	return time.Duration(n) * 32 * time.Second / BitRate
}

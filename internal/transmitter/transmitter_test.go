package transmitter

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/USA-RedDragon/dapnet-tx/internal/config"
	"github.com/USA-RedDragon/dapnet-tx/internal/pocsag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type fakePTT struct {
	events   []string
	keyErr   error
	unkeyErr error
}

func (p *fakePTT) Key() error {
	p.events = append(p.events, "key")
	return p.keyErr
}

func (p *fakePTT) Unkey() error {
	p.events = append(p.events, "unkey")
	return p.unkeyErr
}

func (p *fakePTT) Close() error {
	p.events = append(p.events, "close")
	return nil
}

// recordingWriter logs the write into the shared event list.
type recordingWriter struct {
	ptt *fakePTT
	buf bytes.Buffer
	err error
}

func (w *recordingWriter) Write(b []byte) (int, error) {
	w.ptt.events = append(w.ptt.events, "write")
	if w.err != nil {
		return 0, w.err
	}
	return w.buf.Write(b)
}

func newTestRaw(opts Options) (*Raw, *fakePTT, *recordingWriter, *[]time.Duration) {
	ptt := &fakePTT{}
	out := &recordingWriter{ptt: ptt}
	r := NewRaw(ptt, out, opts)
	var sleeps []time.Duration
	r.sleep = func(d time.Duration) { sleeps = append(sleeps, d) }
	return r, ptt, out, &sleeps
}

func TestEncode(t *testing.T) {
	r := NewRaw(nil, nil, Options{})
	payload, err := r.Encode([]uint32{pocsag.Sync, 0x01020304})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x7C, 0xD2, 0x15, 0xD8, 0x01, 0x02, 0x03, 0x04}, payload)
}

func TestEncode_Invert(t *testing.T) {
	r := NewRaw(nil, nil, Options{Invert: true})
	payload, err := r.Encode([]uint32{0xFFFF0000})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x00, 0xFF, 0xFF}, payload)
}

func TestEncode_Empty(t *testing.T) {
	r := NewRaw(nil, nil, Options{})
	_, err := r.Encode(nil)
	assert.ErrorIs(t, err, ErrEmptyPayload)
}

func TestEncode_Length(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		words := rapid.SliceOfN(rapid.Uint32(), 1, 200).Draw(t, "words")
		invert := rapid.Bool().Draw(t, "invert")
		payload, err := NewRaw(nil, nil, Options{Invert: invert}).Encode(words)
		require.NoError(t, err)
		require.Len(t, payload, 4*len(words))
		first := uint32(payload[0])<<24 | uint32(payload[1])<<16 | uint32(payload[2])<<8 | uint32(payload[3])
		if invert {
			first = ^first
		}
		assert.Equal(t, words[0], first)
	})
}

func TestSend_Sequence(t *testing.T) {
	r, ptt, out, sleeps := newTestRaw(Options{TxDelay: 250 * time.Millisecond})
	payload := make([]byte, 150) // 1 s at 1200 bit/s

	require.NoError(t, r.Send(payload))
	assert.Equal(t, []string{"key", "write", "unkey"}, ptt.events)
	assert.Equal(t, payload, out.buf.Bytes())

	require.Len(t, *sleeps, 2)
	assert.Equal(t, 250*time.Millisecond, (*sleeps)[0])
	hold := (*sleeps)[1]
	assert.LessOrEqual(t, hold, time.Second+Tail)
	assert.Greater(t, hold, time.Second)
}

func TestSend_NoDelay(t *testing.T) {
	r, _, _, sleeps := newTestRaw(Options{})
	require.NoError(t, r.Send([]byte{1, 2, 3, 4}))
	assert.Len(t, *sleeps, 1, "only the airtime hold is expected")
}

func TestSend_WriteFailureUnkeys(t *testing.T) {
	r, ptt, out, _ := newTestRaw(Options{})
	out.err = errors.New("device unplugged")

	err := r.Send([]byte{1})
	require.ErrorIs(t, err, ErrWrite)
	assert.Equal(t, []string{"key", "write", "unkey"}, ptt.events)
}

func TestSend_KeyFailure(t *testing.T) {
	r, ptt, _, _ := newTestRaw(Options{})
	ptt.keyErr = errors.New("busy")

	err := r.Send([]byte{1})
	require.ErrorIs(t, err, ErrPTT)
	assert.Equal(t, []string{"key"}, ptt.events, "nothing is written without a keyed radio")
}

func TestSend_UnkeyFailure(t *testing.T) {
	r, ptt, _, _ := newTestRaw(Options{})
	ptt.unkeyErr = errors.New("stuck")

	err := r.Send([]byte{1})
	assert.ErrorIs(t, err, ErrPTT)
}

func TestSend_Empty(t *testing.T) {
	r, ptt, _, _ := newTestRaw(Options{})
	assert.ErrorIs(t, r.Send(nil), ErrEmptyPayload)
	assert.Empty(t, ptt.events)
}

func TestAirtime(t *testing.T) {
	assert.Equal(t, time.Second, Airtime(150))
	assert.Equal(t, time.Duration(0), Airtime(0))
}

func TestNew_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.bin")
	r, err := New(&config.Transmitter{
		Output: config.OutputFile,
		Device: path,
		PTT:    config.PTT{Method: config.PTTMethodNone},
	})
	require.NoError(t, err)
	r.sleep = func(time.Duration) {}

	payload, err := r.Encode([]uint32{pocsag.Preamble, pocsag.Sync})
	require.NoError(t, err)
	require.NoError(t, r.Send(payload))
	require.NoError(t, r.Send(payload))
	require.NoError(t, r.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, append(append([]byte{}, payload...), payload...), data, "file output appends")
}

func TestNew_Discard(t *testing.T) {
	r, err := New(&config.Transmitter{Output: config.OutputDiscard})
	require.NoError(t, err)
	assert.NoError(t, r.Close())
}

func TestNew_Invalid(t *testing.T) {
	_, err := New(&config.Transmitter{Output: config.Output("pipe")})
	assert.ErrorIs(t, err, config.ErrInvalidOutput)

	_, err = New(&config.Transmitter{Output: config.OutputDiscard, PTT: config.PTT{Method: "vox"}})
	assert.ErrorIs(t, err, config.ErrInvalidPTTMethod)
}

func TestNew_FileClosedOnPTTFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.bin")
	_, err := New(&config.Transmitter{
		Output: config.OutputFile,
		Device: path,
		PTT:    config.PTT{Method: config.PTTMethodRTS, Device: filepath.Join(t.TempDir(), "missing-tty")},
	})
	assert.Error(t, err)
}

func TestSignalString(t *testing.T) {
	assert.Equal(t, "RTS", SignalRTS.String())
	assert.Equal(t, "DTR", SignalDTR.String())
}

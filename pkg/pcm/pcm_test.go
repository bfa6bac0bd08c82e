package pcm_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"slices"
	"testing"

	"github.com/MrWong99/jarvis/pkg/pcm"
)

// samplesToBytes converts int16 samples to little-endian bytes.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// bytesToSamples converts little-endian bytes to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestDownmix(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		in       []int16
		channels int
		want     []int16
	}{
		{"stereo", []int16{100, 200, -100, -200}, 2, []int16{150, -150}},
		{"stereo at max", []int16{32767, 32767, -32768, -32768}, 2, []int16{32767, -32768}},
		{"three channels", []int16{30, 60, 90}, 3, []int16{60}},
		{"mono unchanged", []int16{1, 2, 3}, 1, []int16{1, 2, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := bytesToSamples(pcm.Downmix(samplesToBytes(tt.in), tt.channels))
			if !slices.Equal(got, tt.want) {
				t.Errorf("Downmix = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDownmix_PartialFrameIgnored(t *testing.T) {
	t.Parallel()
	in := append(samplesToBytes([]int16{10, 20}), 0xFF)
	if got := bytesToSamples(pcm.Downmix(in, 2)); !slices.Equal(got, []int16{15}) {
		t.Errorf("Downmix = %v, want [15]", got)
	}
}

func TestResample(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		in       []int16
		src, dst int
		want     []int16
	}{
		{"same rate", []int16{1, 2, 3}, 16000, 16000, []int16{1, 2, 3}},
		{"upsample", []int16{0, 100}, 8000, 16000, []int16{0, 50, 100, 100}},
		{"downsample", []int16{0, 100, 200, 300}, 16000, 8000, []int16{0, 200}},
		{"zero source rate", []int16{5, 6}, 0, 16000, []int16{5, 6}},
		{"zero target rate", []int16{5, 6}, 16000, 0, []int16{5, 6}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := bytesToSamples(pcm.Resample(samplesToBytes(tt.in), tt.src, tt.dst))
			if !slices.Equal(got, tt.want) {
				t.Errorf("Resample = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResample_TooShortForTarget(t *testing.T) {
	t.Parallel()
	if got := pcm.Resample(samplesToBytes([]int16{7}), 48000, 16000); got != nil {
		t.Errorf("Resample = %v, want nil", got)
	}
}

func TestFormat_String(t *testing.T) {
	t.Parallel()
	for f, want := range map[pcm.Format]string{
		{SampleRate: 16000, Channels: 1}: "16000Hz mono",
		{SampleRate: 48000, Channels: 2}: "48000Hz stereo",
		{SampleRate: 44100, Channels: 6}: "44100Hz 6ch",
	} {
		if got := f.String(); got != want {
			t.Errorf("%+v.String() = %q, want %q", f, got, want)
		}
	}
}

func TestNewWriter_Invalid(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	if _, err := pcm.NewWriter(&buf, pcm.Format{}, 16000); err == nil {
		t.Error("expected error for zero source format")
	}
	if _, err := pcm.NewWriter(&buf, pcm.Format{SampleRate: 48000, Channels: 2}, 0); err == nil {
		t.Error("expected error for zero target rate")
	}
}

func TestWriter_Passthrough(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	w, err := pcm.NewWriter(&buf, pcm.Format{SampleRate: 16000, Channels: 1}, 16000)
	if err != nil {
		t.Fatal(err)
	}
	if !w.Passthrough() {
		t.Error("16kHz mono should pass through")
	}

	if n, err := w.Write([]byte{1, 2, 3}); n != 3 || err != nil {
		t.Fatalf("Write = %d, %v", n, err)
	}
	if !bytes.Equal(buf.Bytes(), []byte{1, 2}) {
		t.Fatalf("after odd write = %v, want the whole sample only", buf.Bytes())
	}
	if _, err := w.Write([]byte{4}); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf.Bytes(), []byte{1, 2, 3, 4}) {
		t.Errorf("after carry = %v", buf.Bytes())
	}
}

func TestWriter_StereoToSpeechRate(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	w, err := pcm.NewWriter(&buf, pcm.Format{SampleRate: 48000, Channels: 2}, 16000)
	if err != nil {
		t.Fatal(err)
	}
	if w.Passthrough() {
		t.Fatal("48kHz stereo reported as passthrough")
	}

	in := samplesToBytes([]int16{0, 0, 300, 300, 600, 600, 900, 900, 1200, 1200, 1500, 1500})
	// Split inside a frame; the partial frame is carried over.
	if _, err := w.Write(in[:13]); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write(in[13:]); err != nil {
		t.Fatal(err)
	}
	if got := bytesToSamples(buf.Bytes()); !slices.Equal(got, []int16{0, 900}) {
		t.Errorf("converted = %v, want [0 900]", got)
	}
}

type errWriter struct{ err error }

func (e errWriter) Write([]byte) (int, error) { return 0, e.err }

func TestWriter_PropagatesError(t *testing.T) {
	t.Parallel()
	boom := errors.New("session closed")
	w, err := pcm.NewWriter(errWriter{boom}, pcm.Format{SampleRate: 16000, Channels: 1}, 16000)
	if err != nil {
		t.Fatal(err)
	}
	if n, err := w.Write([]byte{1, 2}); n != 0 || !errors.Is(err, boom) {
		t.Errorf("Write = %d, %v", n, err)
	}
}

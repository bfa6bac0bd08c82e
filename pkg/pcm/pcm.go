// Package pcm converts little-endian signed 16-bit PCM audio between sample
// rates and channel layouts.
//
// Browsers capture audio at the sound card's rate (usually 44.1 or 48 kHz),
// while speech-to-text providers expect 16 kHz mono. [Writer] sits between the
// two and converts a stream chunk by chunk.
package pcm

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// bytesPerSample is the size of one 16-bit sample.
const bytesPerSample = 2

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Valid reports whether f has a positive rate and channel count.
func (f Format) Valid() bool { return f.SampleRate > 0 && f.Channels > 0 }

// String returns e.g. "48000Hz stereo".
func (f Format) String() string {
	ch := "mono"
	switch {
	case f.Channels == 2:
		ch = "stereo"
	case f.Channels > 2:
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// frameSize is the number of bytes per frame (one sample per channel).
func (f Format) frameSize() int { return bytesPerSample * f.Channels }

func sample(pcm []byte, i int) int32 {
	return int32(int16(pcm[i*2]) | int16(pcm[i*2+1])<<8)
}

func putSample(out []byte, i int, v int32) {
	out[i*2] = byte(v)
	out[i*2+1] = byte(v >> 8)
}

// Downmix averages each frame of interleaved channels into one mono sample.
// Trailing bytes that do not form a whole frame are ignored. Mono input is
// returned unchanged.
func Downmix(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	frames := len(pcm) / (bytesPerSample * channels)
	out := make([]byte, frames*bytesPerSample)
	for i := range frames {
		var sum int32
		for c := range channels {
			sum += sample(pcm, i*channels+c)
		}
		putSample(out, i, sum/int32(channels))
	}
	return out
}

// Resample converts mono PCM from srcRate to dstRate using linear
// interpolation. Non-positive or equal rates return the input unchanged.
func Resample(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < bytesPerSample {
		return pcm
	}
	srcSamples := len(pcm) / bytesPerSample
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*bytesPerSample)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstSamples {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)

		s0 := sample(pcm, idx)
		s1 := s0
		if idx+1 < srcSamples {
			s1 = sample(pcm, idx+1)
		}
		putSample(out, i, int32(float64(s0)*(1-frac)+float64(s1)*frac))
	}
	return out
}

// Writer converts PCM written to it from a source format to mono at a target
// rate and forwards the result to an underlying writer. Partial frames are
// carried over to the next Write, so callers may split the stream anywhere.
// A Writer is not safe for concurrent use.
type Writer struct {
	w     io.Writer
	from  Format
	rate  int
	carry []byte

	logOnce sync.Once
}

// NewWriter returns a Writer producing mono PCM at rate from input in
// format from. It fails when either format is invalid.
func NewWriter(w io.Writer, from Format, rate int) (*Writer, error) {
	if !from.Valid() || rate <= 0 {
		return nil, fmt.Errorf("pcm: cannot convert %s to %dHz mono", from, rate)
	}
	return &Writer{w: w, from: from, rate: rate}, nil
}

// Passthrough reports whether the source already matches the target.
func (c *Writer) Passthrough() bool {
	return c.from.Channels == 1 && c.from.SampleRate == c.rate
}

// Write converts p and writes the whole frames to the underlying writer. It
// returns len(p) unless the underlying writer fails.
func (c *Writer) Write(p []byte) (int, error) {
	data := p
	if len(c.carry) > 0 {
		data = append(c.carry, p...)
		c.carry = nil
	}
	fs := c.from.frameSize()
	whole := len(data) - len(data)%fs
	if rest := data[whole:]; len(rest) > 0 {
		c.carry = append([]byte(nil), rest...)
	}
	data = data[:whole]
	if len(data) == 0 {
		return len(p), nil
	}

	if !c.Passthrough() {
		c.logOnce.Do(func() {
			slog.Debug("pcm: converting stream",
				"from", c.from.String(),
				"to", Format{SampleRate: c.rate, Channels: 1}.String(),
			)
		})
		data = Resample(Downmix(data, c.from.Channels), c.from.SampleRate, c.rate)
	}
	if len(data) == 0 {
		return len(p), nil
	}
	if _, err := c.w.Write(data); err != nil {
		return 0, err
	}
	return len(p), nil
}

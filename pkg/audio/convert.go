package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Wire is the format every frame in the core pipeline uses.
var Wire = Format{SampleRate: SampleRate, Channels: Channels}

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

// Normalizer converts PCM captured in an arbitrary [Format] to [Wire] and
// re-slices it into exact [FrameBytes] frames. Partial trailing samples are
// carried over to the next call so that no audio is lost between callbacks.
//
// Create one per capture stream; it is not safe for concurrent use.
type Normalizer struct {
	From Format

	pending        []byte
	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Push converts pcm and returns every complete frame now available.
// Misaligned input (not a whole number of samples) is dropped once with a
// warning, since the alignment of everything after it would be unknown.
func (n *Normalizer) Push(pcm []byte) [][]byte {
	align := BytesPerSample * max(n.From.Channels, 1)
	if len(pcm)%align != 0 {
		n.warnedCorrupt.Do(func() {
			slog.Warn("audio normalizer: misaligned PCM, dropping buffer",
				"bytes", len(pcm),
				"format", n.From.String(),
			)
		})
		return nil
	}

	if n.From != Wire {
		n.warnedMismatch.Do(func() {
			slog.Info("audio normalizer: converting capture format",
				"from", n.From.String(),
				"to", Wire.String(),
			)
		})
		// Downmix first so that only one channel is resampled.
		if n.From.Channels == 2 {
			pcm = StereoToMono(pcm)
		}
		pcm = ResampleMono16(pcm, n.From.SampleRate, SampleRate)
	}

	n.pending = append(n.pending, pcm...)
	var frames [][]byte
	for len(n.pending) >= FrameBytes {
		f := make([]byte, FrameBytes)
		copy(f, n.pending[:FrameBytes])
		frames = append(frames, f)
		n.pending = n.pending[FrameBytes:]
	}
	return frames
}

// sampleAt decodes the i-th little-endian int16 sample of pcm.
func sampleAt(pcm []byte, i int) int16 {
	return int16(pcm[2*i]) | int16(pcm[2*i+1])<<8
}

// putSample encodes s as the i-th little-endian int16 sample of pcm.
func putSample(pcm []byte, i int, s int16) {
	pcm[2*i] = byte(s)
	pcm[2*i+1] = byte(s >> 8)
}

// Samples decodes little-endian int16 PCM into a sample slice. A trailing odd
// byte is ignored.
func Samples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = sampleAt(pcm, i)
	}
	return out
}

// PCM encodes samples as little-endian int16 bytes.
func PCM(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		putSample(out, i, s)
	}
	return out
}

// StereoToMono averages each interleaved L/R pair into one mono sample.
func StereoToMono(pcm []byte) []byte {
	pairs := len(pcm) / 4
	out := make([]byte, pairs*2)
	for i := range pairs {
		l := int32(sampleAt(pcm, 2*i))
		r := int32(sampleAt(pcm, 2*i+1))
		// The mean of two int16 values always fits in int16.
		putSample(out, i, int16((l+r)/2))
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using
// linear interpolation. When the rates match, or either is not positive, pcm
// is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcN := len(pcm) / 2
	dstN := int(int64(srcN) * int64(dstRate) / int64(srcRate))
	if dstN == 0 {
		return nil
	}

	out := make([]byte, dstN*2)
	step := float64(srcRate) / float64(dstRate)
	for i := range dstN {
		pos := float64(i) * step
		idx := int(pos)
		frac := pos - float64(idx)

		s0 := float64(sampleAt(pcm, idx))
		s1 := s0
		if idx+1 < srcN {
			s1 = float64(sampleAt(pcm, idx+1))
		}
		putSample(out, i, int16(s0+(s1-s0)*frac))
	}
	return out
}

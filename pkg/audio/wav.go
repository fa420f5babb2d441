package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/wav"
)

// resampleQuality is the beep resampler quality (1 = linear, higher is
// smoother and slower). 4 is plenty for speech.
const resampleQuality = 4

// WAVSource is a finite [Source] that plays back a WAV file. Files of any
// sample rate or channel count are folded to 16 kHz mono; the final partial
// frame is zero padded. Once the file is exhausted ReadFrame returns [io.EOF].
type WAVSource struct {
	decoded  beep.StreamSeekCloser
	streamer beep.Streamer
	pace     bool
	pacer    pacer
	scale    float64

	buf  [][2]float64
	seq  int
	done bool
}

// OpenWAV opens path for reading. When pace is true frames are released at
// real time.
func OpenWAV(path string, pace bool) (*WAVSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("audio: open wav %q: %w", path, err)
	}
	decoded, format, err := wav.Decode(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("audio: decode wav %q: %w", path, err)
	}

	// beep maps 8-bit PCM to [-1, 1] but 16- and 24-bit PCM to [-0.5, 0.5].
	scale := 32767.0
	if format.Precision >= 2 {
		scale = 65535
	}

	var s beep.Streamer = decoded
	if format.SampleRate != beep.SampleRate(SampleRate) {
		s = beep.Resample(resampleQuality, format.SampleRate, beep.SampleRate(SampleRate), decoded)
	}
	return &WAVSource{
		decoded:  decoded,
		streamer: s,
		pace:     pace,
		scale:    scale,
		buf:      make([][2]float64, SamplesPerFrame),
	}, nil
}

// ReadFrame implements [Source].
func (s *WAVSource) ReadFrame(ctx context.Context) (AudioFrame, error) {
	if s.done {
		return AudioFrame{}, io.EOF
	}
	if s.pace {
		if err := s.pacer.wait(ctx); err != nil {
			return AudioFrame{}, err
		}
	} else if err := ctx.Err(); err != nil {
		return AudioFrame{}, err
	}

	n := 0
	for n < len(s.buf) {
		got, ok := s.streamer.Stream(s.buf[n:])
		n += got
		if !ok {
			s.done = true
			break
		}
	}
	if n == 0 {
		if err := s.decoded.Err(); err != nil {
			return AudioFrame{}, fmt.Errorf("audio: read wav: %w", err)
		}
		return AudioFrame{}, io.EOF
	}

	pcm := make([]byte, FrameBytes)
	for i := range n {
		// beep always yields two channels; mono files carry the same value in both.
		v := math.Round((s.buf[i][0] + s.buf[i][1]) / 2 * s.scale)
		putSample(pcm, i, int16(max(math.MinInt16, min(math.MaxInt16, v))))
	}
	ts := time.Duration(s.seq) * FrameDuration
	s.seq++
	return NewFrame(pcm, ts), nil
}

// Close releases the underlying file. The decoder owns the file handle once
// decoding has started.
func (s *WAVSource) Close() error {
	return s.decoded.Close()
}

// wavHeader is the canonical 44-byte RIFF/WAVE header for integer PCM.
type wavHeader struct {
	ChunkID       [4]byte
	ChunkSize     uint32
	Format        [4]byte
	Subchunk1ID   [4]byte
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte
	Subchunk2Size uint32
}

func newWAVHeader(dataBytes uint32) wavHeader {
	return wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataBytes,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   Channels,
		SampleRate:    SampleRate,
		ByteRate:      SampleRate * Channels * BytesPerSample,
		BlockAlign:    Channels * BytesPerSample,
		BitsPerSample: 8 * BytesPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataBytes,
	}
}

// WAVSink records every rendered frame to a 16 kHz mono WAV file. The header
// is written with zero sizes up front and patched on Close, so a recording
// interrupted by a crash is still readable by most tools.
type WAVSink struct {
	mu     sync.Mutex
	file   *os.File
	data   uint32
	closed bool
}

// CreateWAV creates (or truncates) path and returns a sink writing to it.
func CreateWAV(path string) (*WAVSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("audio: create wav %q: %w", path, err)
	}
	if err := binary.Write(f, binary.LittleEndian, newWAVHeader(0)); err != nil {
		f.Close()
		return nil, fmt.Errorf("audio: write wav header: %w", err)
	}
	return &WAVSink{file: f}, nil
}

// WriteFrame implements [Sink].
func (s *WAVSink) WriteFrame(_ context.Context, frame AudioFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return os.ErrClosed
	}
	n, err := s.file.Write(frame.Data)
	s.data += uint32(n)
	if err != nil {
		return fmt.Errorf("audio: write wav: %w", err)
	}
	return nil
}

// Close finalises the header and closes the file. Calling Close more than
// once is safe.
func (s *WAVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		errs = append(errs, err)
	} else if err := binary.Write(s.file, binary.LittleEndian, newWAVHeader(s.data)); err != nil {
		errs = append(errs, err)
	}
	errs = append(errs, s.file.Close())
	return errors.Join(errs...)
}

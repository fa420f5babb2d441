//go:build portaudio

// Package portaudio provides sound card capture and render through the
// PortAudio C library. It needs cgo and libportaudio and is only compiled
// with the "portaudio" build tag.
//
// Devices are opened at their native sample rate. Capture is converted to
// the wire format by [audio.CallbackSource]; render resamples each frame up
// to the device rate before a blocking write.
package portaudio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/voxlink/pkg/audio"
)

// ErrNoDevice is returned when a device name or index matches nothing.
var ErrNoDevice = errors.New("portaudio: no matching device")

// Device describes one PortAudio device.
type Device struct {
	Index      int
	Name       string
	MaxInputs  int
	MaxOutputs int
	SampleRate float64
}

// Devices lists the devices PortAudio can see.
func Devices() ([]Device, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	defer portaudio.Terminate()

	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	out := make([]Device, len(infos))
	for i, d := range infos {
		out[i] = Device{
			Index:      i,
			Name:       d.Name,
			MaxInputs:  d.MaxInputChannels,
			MaxOutputs: d.MaxOutputChannels,
			SampleRate: d.DefaultSampleRate,
		}
	}
	return out, nil
}

// resolve finds a device by index or by case-insensitive name substring.
// An empty selector picks the host default. Must be called between
// Initialize and Terminate.
func resolve(selector string, input bool) (*portaudio.DeviceInfo, error) {
	if selector == "" {
		if input {
			return portaudio.DefaultInputDevice()
		}
		return portaudio.DefaultOutputDevice()
	}
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	usable := func(d *portaudio.DeviceInfo) bool {
		if input {
			return d.MaxInputChannels > 0
		}
		return d.MaxOutputChannels > 0
	}
	if idx, err := strconv.Atoi(selector); err == nil {
		if idx >= 0 && idx < len(infos) && usable(infos[idx]) {
			return infos[idx], nil
		}
		return nil, fmt.Errorf("%w: index %d", ErrNoDevice, idx)
	}
	want := strings.ToLower(selector)
	for _, d := range infos {
		if usable(d) && strings.Contains(strings.ToLower(d.Name), want) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrNoDevice, selector)
}

// ── Capture ──────────────────────────────────────────────────────────────────

// Input captures from a device into a bounded frame queue.
type Input struct {
	*audio.CallbackSource

	stream    *portaudio.Stream
	closeOnce sync.Once
	closeErr  error
}

// OpenInput starts capturing from device. queue bounds the frames held for a
// slow reader; onDrop, if non-nil, is called for every frame lost to it.
func OpenInput(device string, queue int, onDrop func()) (*Input, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	info, err := resolve(device, true)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("portaudio: input device: %w", err)
	}

	params := portaudio.LowLatencyParameters(info, nil)
	params.Input.Channels = min(info.MaxInputChannels, 2)
	params.FramesPerBuffer = int(info.DefaultSampleRate) * audio.FrameMs / 1000

	var opts []audio.CallbackOption
	if onDrop != nil {
		opts = append(opts, audio.WithDropHook(onDrop))
	}
	src := audio.NewCallbackSource(audio.Format{
		SampleRate: int(info.DefaultSampleRate),
		Channels:   params.Input.Channels,
	}, queue, opts...)

	in := &Input{CallbackSource: src}
	var scratch []byte
	stream, err := portaudio.OpenStream(params, func(samples []int16) {
		if cap(scratch) < len(samples)*2 {
			scratch = make([]byte, len(samples)*2)
		}
		buf := scratch[:len(samples)*2]
		for i, s := range samples {
			binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
		}
		src.Push(buf)
	})
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("portaudio: open input %q: %w", info.Name, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("portaudio: start input %q: %w", info.Name, err)
	}
	in.stream = stream
	return in, nil
}

// Close stops the device. Frames already queued remain readable.
func (in *Input) Close() error {
	in.closeOnce.Do(func() {
		in.closeErr = errors.Join(in.stream.Stop(), in.stream.Close(), portaudio.Terminate())
		in.CallbackSource.Close()
	})
	return in.closeErr
}

// ── Render ───────────────────────────────────────────────────────────────────

// Output renders frames to a device with blocking writes.
type Output struct {
	stream *portaudio.Stream
	rate   int
	buf    []int16

	mu        sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

var _ audio.Sink = (*Output)(nil)

// OpenOutput opens device for mono playback at its native rate.
func OpenOutput(device string) (*Output, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	info, err := resolve(device, false)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("portaudio: output device: %w", err)
	}

	rate := int(info.DefaultSampleRate)
	out := &Output{rate: rate, buf: make([]int16, rate*audio.FrameMs/1000)}

	params := portaudio.LowLatencyParameters(nil, info)
	params.Output.Channels = 1
	params.FramesPerBuffer = len(out.buf)
	stream, err := portaudio.OpenStream(params, &out.buf)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("portaudio: open output %q: %w", info.Name, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("portaudio: start output %q: %w", info.Name, err)
	}
	out.stream = stream
	return out, nil
}

// WriteFrame resamples frame to the device rate and blocks until the device
// accepts it. Underflow is not an error; the device simply played silence.
func (o *Output) WriteFrame(_ context.Context, frame audio.AudioFrame) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	pcm := audio.ResampleMono16(frame.Data, audio.SampleRate, o.rate)
	n := min(len(pcm)/2, len(o.buf))
	for i := range n {
		o.buf[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	clear(o.buf[n:])

	if err := o.stream.Write(); err != nil && !errors.Is(err, portaudio.OutputUnderflowed) {
		return fmt.Errorf("portaudio: write: %w", err)
	}
	return nil
}

// Close stops the device.
func (o *Output) Close() error {
	o.closeOnce.Do(func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		o.closeErr = errors.Join(o.stream.Stop(), o.stream.Close(), portaudio.Terminate())
	})
	return o.closeErr
}

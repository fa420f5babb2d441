// Package audio defines the frame format, the capture [Source] and render
// [Sink] abstractions, and the concrete backends that ship with voxlink.
//
// The core pipeline works exclusively on 20 ms frames of 16 kHz mono
// signed 16-bit little-endian PCM ([FrameBytes] = 640 bytes). Backends that
// speak a different format (a 48 kHz stereo sound card, a 44.1 kHz WAV file)
// convert at the edge so that nothing past a Source ever sees anything else.
//
// Shipped backends:
//
//   - [ToneSource]: synthetic beep/silence generator, useful without hardware.
//   - [WAVSource]: reads a WAV file of any rate and channel count.
//   - [CallbackSource]: a bounded queue fed by a hardware callback.
//   - [NullSink]: discards frames; the fallback when no renderer is available.
//   - [WAVSink]: records rendered frames to a WAV file.
//
// Real device capture and render live in the portaudio subpackage behind the
// "portaudio" build tag because they require cgo and the system library.
package audio

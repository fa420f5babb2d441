package audio_test

import (
	"bytes"
	"testing"

	"github.com/MrWong99/voxlink/pkg/audio"
)

func TestSamplesRoundTrip(t *testing.T) {
	in := []int16{0, 1, -1, 32767, -32768, 1234}
	got := audio.Samples(audio.PCM(in))
	if len(got) != len(in) {
		t.Fatalf("length = %d, want %d", len(got), len(in))
	}
	for i := range in {
		if got[i] != in[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], in[i])
		}
	}
}

func TestStereoToMono(t *testing.T) {
	tests := []struct {
		name   string
		stereo []int16
		want   []int16
	}{
		{"average", []int16{100, 200, -100, -200}, []int16{150, -150}},
		{"full scale does not overflow", []int16{32767, 32767}, []int16{32767}},
		{"negative full scale", []int16{-32768, -32768}, []int16{-32768}},
		{"trailing half pair ignored", []int16{10, 20, 30}, []int16{15}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := audio.Samples(audio.StereoToMono(audio.PCM(tc.stereo)))
			if len(got) != len(tc.want) {
				t.Fatalf("length = %d, want %d", len(got), len(tc.want))
			}
			for i := range tc.want {
				if got[i] != tc.want[i] {
					t.Errorf("sample %d: got %d, want %d", i, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestResampleMono16_SameRate(t *testing.T) {
	pcm := audio.PCM([]int16{100, 200, 300})
	out := audio.ResampleMono16(pcm, 16000, 16000)
	if !bytes.Equal(out, pcm) {
		t.Fatal("same-rate resample modified the input")
	}
}

func TestResampleMono16_Upsample(t *testing.T) {
	out := audio.Samples(audio.ResampleMono16(audio.PCM([]int16{1000, 2000}), 16000, 48000))
	if len(out) != 6 {
		t.Fatalf("expected 6 samples, got %d", len(out))
	}
	if out[0] != 1000 {
		t.Errorf("first sample: got %d, want 1000", out[0])
	}
	if last := out[len(out)-1]; last < 1800 || last > 2200 {
		t.Errorf("last sample: got %d, want close to 2000", last)
	}
}

func TestResampleMono16_Downsample(t *testing.T) {
	out := audio.Samples(audio.ResampleMono16(audio.PCM([]int16{100, 200, 300, 400, 500, 600}), 48000, 16000))
	if len(out) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(out))
	}
	if out[0] != 100 || out[1] != 400 {
		t.Errorf("got %v, want [100 400]", out)
	}
}

func TestNormalizer_WireFormatReslices(t *testing.T) {
	n := &audio.Normalizer{From: audio.Wire}

	// 1.5 frames: one complete frame out, the remainder held back.
	first := n.Push(make([]byte, audio.FrameBytes+audio.FrameBytes/2))
	if len(first) != 1 {
		t.Fatalf("first push: got %d frames, want 1", len(first))
	}
	second := n.Push(make([]byte, audio.FrameBytes/2))
	if len(second) != 1 {
		t.Fatalf("second push: got %d frames, want 1", len(second))
	}
	for _, f := range append(first, second...) {
		if len(f) != audio.FrameBytes {
			t.Errorf("frame length = %d, want %d", len(f), audio.FrameBytes)
		}
	}
}

func TestNormalizer_Converts48kStereo(t *testing.T) {
	n := &audio.Normalizer{From: audio.Format{SampleRate: 48000, Channels: 2}}

	// 20 ms of 48 kHz stereo: 960 sample pairs.
	in := make([]int16, 960*2)
	for i := range in {
		in[i] = 500
	}
	frames := n.Push(audio.PCM(in))
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	for i, s := range audio.Samples(frames[0]) {
		if s != 500 {
			t.Fatalf("sample %d = %d, want 500", i, s)
		}
	}
}

func TestNormalizer_DropsMisaligned(t *testing.T) {
	n := &audio.Normalizer{From: audio.Format{SampleRate: 16000, Channels: 2}}
	if got := n.Push(make([]byte, 6)); got != nil {
		t.Fatalf("misaligned push returned %d frames, want none", len(got))
	}
}

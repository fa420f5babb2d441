package audio

import (
	"context"
	"errors"
	"io"
)

// ReadAll pulls frames from src until it reports [io.EOF] and returns them.
// It must only be used with finite sources; any other error is returned along
// with the frames read so far.
func ReadAll(ctx context.Context, src Source) ([]AudioFrame, error) {
	var frames []AudioFrame
	for {
		f, err := src.ReadFrame(ctx)
		if errors.Is(err, io.EOF) {
			return frames, nil
		}
		if err != nil {
			return frames, err
		}
		frames = append(frames, f)
	}
}

// Package media opens HLS sources and splits them into sampled video frames
// and fixed-duration audio segments. Each pipeline runs its own ffmpeg
// subprocess so a broken video track cannot take down audio analysis.
package media

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"
)

// ErrStreamEnded marks a terminal demux failure: the playlist is gone or the
// codec hit EOF. The supervisor reacts by refreshing the media URL or
// marking the stream offline.
var ErrStreamEnded = errors.New("media: stream ended")

const (
	ffmpegBin      = "ffmpeg"
	reopenDelay    = 10 * time.Second
	maxStderrBytes = 8 << 10
)

// classifyExit decides whether an ffmpeg exit is terminal or worth a
// reopen. End-of-stream and 404/410 playlist errors are terminal; network
// hiccups are transient.
func classifyExit(err error, stderr string) error {
	if err == nil {
		return ErrStreamEnded // clean exit means the playlist ended
	}
	s := strings.ToLower(stderr)
	switch {
	case strings.Contains(s, "404 not found"),
		strings.Contains(s, "410 gone"),
		strings.Contains(s, "403 forbidden"),
		strings.Contains(s, "end of file"),
		strings.Contains(s, "invalid data found when processing input"):
		return ErrStreamEnded
	default:
		return err
	}
}

// stderrTail captures the last chunk of ffmpeg's stderr for classification
// without holding the whole log.
type stderrTail struct {
	buf []byte
}

func (t *stderrTail) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if len(t.buf) > maxStderrBytes {
		t.buf = t.buf[len(t.buf)-maxStderrBytes:]
	}
	return len(p), nil
}

func (t *stderrTail) String() string { return string(t.buf) }

// startFFmpeg launches ffmpeg with the given args, wiring stdout to the
// caller and capturing a stderr tail.
func startFFmpeg(ctx context.Context, args []string) (*exec.Cmd, *stderrTail, error) {
	cmd := exec.CommandContext(ctx, ffmpegBin, args...)
	tail := &stderrTail{}
	cmd.Stderr = tail
	return cmd, tail, nil
}

// sleepOrDone waits d unless ctx is cancelled first.
func sleepOrDone(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

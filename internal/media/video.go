package media

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

// VideoDemuxer decodes the video track into JPEG frames, applying the
// sampling gate so at most one frame per SampleInterval reaches the
// detector.
type VideoDemuxer struct {
	URL            string
	SampleInterval time.Duration
	Log            *logrus.Entry
}

// FrameFunc consumes one sampled JPEG frame. Returning an error stops the
// demuxer with that error.
type FrameFunc func(ctx context.Context, frame []byte) error

// Run decodes frames until ctx is cancelled or the source dies terminally.
// Transient failures reopen the source after a pause.
func (d *VideoDemuxer) Run(ctx context.Context, onFrame FrameFunc) error {
	gate := newSampleGate(d.SampleInterval)
	for {
		err := d.runOnce(ctx, gate, onFrame)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, ErrStreamEnded):
			return err
		case err != nil:
			d.Log.WithError(err).Warn("video demux transient failure, reopening")
			if serr := sleepOrDone(ctx, reopenDelay); serr != nil {
				return serr
			}
		default:
			return ErrStreamEnded
		}
	}
}

func (d *VideoDemuxer) runOnce(ctx context.Context, gate *sampleGate, onFrame FrameFunc) error {
	fps := fmt.Sprintf("fps=1/%d", int(d.SampleInterval.Seconds()))
	cmd, tail, err := startFFmpeg(ctx, []string{
		"-loglevel", "error",
		"-i", d.URL,
		"-an",
		"-vf", fps,
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-",
	})
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	scanErr := d.scanFrames(ctx, stdout, gate, onFrame)
	waitErr := cmd.Wait()

	if scanErr != nil {
		return scanErr
	}
	return classifyExit(waitErr, tail.String())
}

// scanFrames splits the MJPEG byte stream on JPEG SOI/EOI markers. A frame
// that fails to parse is logged and skipped, never fatal.
func (d *VideoDemuxer) scanFrames(ctx context.Context, r io.Reader, gate *sampleGate, onFrame FrameFunc) error {
	br := bufio.NewReaderSize(r, 1<<20)
	var frame bytes.Buffer
	inFrame := false
	var prev byte

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b, err := br.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		switch {
		case !inFrame:
			if prev == 0xFF && b == 0xD8 {
				inFrame = true
				frame.Reset()
				frame.WriteByte(0xFF)
				frame.WriteByte(0xD8)
			}
		default:
			frame.WriteByte(b)
			if prev == 0xFF && b == 0xD9 {
				inFrame = false
				if gate.pass(time.Now()) {
					if err := onFrame(ctx, append([]byte(nil), frame.Bytes()...)); err != nil {
						return err
					}
				}
			}
		}
		prev = b
	}
}

// sampleGate passes a frame only when at least interval has elapsed since
// the last passed frame.
type sampleGate struct {
	interval time.Duration
	last     time.Time
}

func newSampleGate(interval time.Duration) *sampleGate {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &sampleGate{interval: interval}
}

func (g *sampleGate) pass(now time.Time) bool {
	if !g.last.IsZero() && now.Sub(g.last) < g.interval {
		return false
	}
	g.last = now
	return true
}

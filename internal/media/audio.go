package media

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"time"

	"github.com/sirupsen/logrus"
)

const audioSampleRate = 16000

// AudioDemuxer converts the audio track to mono float32 at 16 kHz and emits
// fixed-duration segments.
type AudioDemuxer struct {
	URL             string
	SegmentDuration time.Duration
	Log             *logrus.Entry
}

// SegmentFunc consumes one complete audio segment. Returning an error stops
// the demuxer with that error.
type SegmentFunc func(ctx context.Context, pcm []float32, sampleRate int) error

func (d *AudioDemuxer) Run(ctx context.Context, onSegment SegmentFunc) error {
	for {
		err := d.runOnce(ctx, onSegment)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, ErrStreamEnded):
			return err
		case err != nil:
			d.Log.WithError(err).Warn("audio demux transient failure, reopening")
			if serr := sleepOrDone(ctx, reopenDelay); serr != nil {
				return serr
			}
		default:
			return ErrStreamEnded
		}
	}
}

func (d *AudioDemuxer) runOnce(ctx context.Context, onSegment SegmentFunc) error {
	cmd, tail, err := startFFmpeg(ctx, []string{
		"-loglevel", "error",
		"-i", d.URL,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-f", "f32le",
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

	scanErr := d.accumulate(ctx, stdout, onSegment)
	waitErr := cmd.Wait()

	if scanErr != nil {
		return scanErr
	}
	return classifyExit(waitErr, tail.String())
}

// accumulate buffers samples until SegmentDuration is reached, then emits
// the segment and resets.
func (d *AudioDemuxer) accumulate(ctx context.Context, r io.Reader, onSegment SegmentFunc) error {
	target := int(d.SegmentDuration.Seconds() * audioSampleRate)
	if target <= 0 {
		target = 30 * audioSampleRate
	}

	br := bufio.NewReaderSize(r, 1<<16)
	buf := make([]float32, 0, target)
	raw := make([]byte, 4)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := io.ReadFull(br, raw); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return err
		}
		buf = append(buf, math.Float32frombits(binary.LittleEndian.Uint32(raw)))

		if len(buf) >= target {
			segment := append([]float32(nil), buf...)
			buf = buf[:0]
			if err := onSegment(ctx, segment, audioSampleRate); err != nil {
				return err
			}
		}
	}
}

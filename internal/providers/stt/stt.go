package stt

import (
	"context"
	"math"
)

// TargetSampleRate is what both backends expect; callers may hand in any
// rate and Prepare resamples.
const TargetSampleRate = 16000

// silenceFloor: segments whose peak is below this are skipped entirely.
const silenceFloor = 1e-5

// Provider transcribes one mono PCM segment. Callers run the segment through
// Prepare exactly once before handing it over; implementations take the
// samples as-is. Implementations must be safe for concurrent calls once
// initialized.
type Provider interface {
	Transcribe(ctx context.Context, pcm []float32, sampleRate int) (string, error)
	Close() error
}

// Prepare peak-normalizes pcm into [-1, 1] and resamples it to
// TargetSampleRate. It returns nil when the segment is effectively silent.
func Prepare(pcm []float32, sampleRate int) []float32 {
	if len(pcm) == 0 {
		return nil
	}

	var peak float32
	for _, s := range pcm {
		if a := float32(math.Abs(float64(s))); a > peak {
			peak = a
		}
	}
	if peak < silenceFloor {
		return nil
	}

	out := make([]float32, len(pcm))
	for i, s := range pcm {
		out[i] = s / peak
	}

	if sampleRate == TargetSampleRate || sampleRate <= 0 {
		return out
	}
	return resampleLinear(out, sampleRate, TargetSampleRate)
}

func resampleLinear(in []float32, from, to int) []float32 {
	if from == to || len(in) < 2 {
		return in
	}
	n := int(float64(len(in)) * float64(to) / float64(from))
	if n < 1 {
		n = 1
	}
	out := make([]float32, n)
	step := float64(len(in)-1) / float64(max(n-1, 1))
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = in[j]*(1-frac) + in[j+1]*frac
	}
	return out
}

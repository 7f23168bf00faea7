// Package transcripts persists one JSON document per transcribed audio
// segment. The files double as an audit trail for audio detections.
package transcripts

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Document is the on-disk shape of one transcribed segment.
type Document struct {
	StreamURL        string    `json:"stream_url"`
	Timestamp        time.Time `json:"timestamp"`
	Transcription    string    `json:"transcription"`
	DetectedKeywords []string  `json:"detected_keywords"`
}

// Mirror receives every written document for an off-site copy. Mirroring is
// best-effort and must not block the audio pipeline on failure.
type Mirror interface {
	ArchiveTranscript(ctx context.Context, fileName string, doc []byte)
}

type Writer struct {
	dir    string
	mirror Mirror
	log    *logrus.Entry
}

func NewWriter(dir string, log *logrus.Logger) *Writer {
	if log == nil {
		log = logrus.New()
	}
	return &Writer{dir: dir, log: log.WithField("component", "transcripts")}
}

// WithMirror also copies each document off-site after the local write.
func (w *Writer) WithMirror(m Mirror) *Writer {
	w.mirror = m
	return w
}

// MatchKeywords returns the keywords found in the transcript,
// case-insensitive substring match, preserving the keyword list's order.
func MatchKeywords(transcript string, keywords []string) []string {
	lower := strings.ToLower(transcript)
	var hits []string
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			hits = append(hits, kw)
		}
	}
	return hits
}

// Write stores the segment's document and returns its path. The directory is
// created on first use.
func (w *Writer) Write(ctx context.Context, streamURL, transcript string, keywords []string, ts time.Time) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("transcription dir: %w", err)
	}

	doc := Document{
		StreamURL:        streamURL,
		Timestamp:        ts.UTC(),
		Transcription:    transcript,
		DetectedKeywords: MatchKeywords(transcript, keywords),
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", err
	}

	name := fileName(streamURL, ts)
	path := filepath.Join(w.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write transcript: %w", err)
	}
	if w.mirror != nil {
		w.mirror.ArchiveTranscript(ctx, name, data)
	}
	w.log.WithFields(logrus.Fields{
		"path":     path,
		"keywords": len(doc.DetectedKeywords),
	}).Debug("transcript written")
	return path, nil
}

// fileName keys the file by a short hash of the stream URL plus the segment
// timestamp so concurrent streams never collide.
func fileName(streamURL string, ts time.Time) string {
	h := fnv.New32a()
	h.Write([]byte(streamURL))
	return fmt.Sprintf("%08x_%s.json", h.Sum32(), ts.UTC().Format("20060102T150405"))
}

package transcripts

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestMatchKeywords(t *testing.T) {
	keywords := []string{"gun", "Knife", "cash"}

	got := MatchKeywords("He pulled a KNIFE and a gun out", keywords)
	want := []string{"gun", "Knife"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("MatchKeywords = %v, want %v", got, want)
	}

	if got := MatchKeywords("nothing to see here", keywords); got != nil {
		t.Fatalf("expected no hits, got %v", got)
	}
}

func TestWriteRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, nil)

	ts := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	path, err := w.Write(context.Background(),
		"https://chaturbate.com/alice", "he showed a gun on camera", []string{"gun", "knife"}, ts)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc.StreamURL != "https://chaturbate.com/alice" {
		t.Fatalf("stream_url = %q", doc.StreamURL)
	}
	if !doc.Timestamp.Equal(ts) {
		t.Fatalf("timestamp = %v", doc.Timestamp)
	}
	if doc.Transcription != "he showed a gun on camera" {
		t.Fatalf("transcription = %q", doc.Transcription)
	}
	if !reflect.DeepEqual(doc.DetectedKeywords, []string{"gun"}) {
		t.Fatalf("detected_keywords = %v", doc.DetectedKeywords)
	}

	if !strings.HasSuffix(path, "_20250314T092653.json") {
		t.Fatalf("file name = %s", filepath.Base(path))
	}
}

type captureMirror struct {
	fileName string
	doc      []byte
}

func (m *captureMirror) ArchiveTranscript(_ context.Context, fileName string, doc []byte) {
	m.fileName = fileName
	m.doc = doc
}

func TestWriteForwardsToMirror(t *testing.T) {
	mirror := &captureMirror{}
	w := NewWriter(t.TempDir(), nil).WithMirror(mirror)

	path, err := w.Write(context.Background(), "https://chaturbate.com/alice", "hi", nil, time.Now())
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if mirror.fileName != filepath.Base(path) {
		t.Fatalf("mirrored name = %q, want %q", mirror.fileName, filepath.Base(path))
	}
	local, _ := os.ReadFile(path)
	if !reflect.DeepEqual(mirror.doc, local) {
		t.Fatal("mirrored document must match the local file")
	}
}

func TestWriteDistinctStreamsNeverCollide(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, nil)
	ts := time.Now()

	p1, err := w.Write(context.Background(), "https://chaturbate.com/alice", "a", nil, ts)
	if err != nil {
		t.Fatal(err)
	}
	p2, err := w.Write(context.Background(), "https://stripchat.com/bob", "b", nil, ts)
	if err != nil {
		t.Fatal(err)
	}
	if p1 == p2 {
		t.Fatal("distinct streams must get distinct files")
	}
}

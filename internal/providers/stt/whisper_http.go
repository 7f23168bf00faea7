package stt

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// WhisperHTTP ships WAV-encoded segments to a self-hosted whisper server.
// ModelSize is advisory: the server picks the actual weights.
type WhisperHTTP struct {
	Endpoint  string
	ModelSize string

	mu     sync.Mutex
	client *http.Client
}

func NewWhisperHTTP(endpoint, modelSize string) *WhisperHTTP {
	return &WhisperHTTP{Endpoint: endpoint, ModelSize: modelSize}
}

func (w *WhisperHTTP) Close() error { return nil }

type whisperResponse struct {
	Text string `json:"text"`
}

func (w *WhisperHTTP) Transcribe(ctx context.Context, pcm []float32, sampleRate int) (string, error) {
	if len(pcm) == 0 {
		return "", nil
	}

	w.mu.Lock()
	if w.client == nil {
		w.client = &http.Client{Timeout: 2 * time.Minute}
	}
	client := w.client
	w.mu.Unlock()

	body := encodeWAV16(pcm, sampleRate)
	url := w.Endpoint + "/transcribe"
	if w.ModelSize != "" {
		url += "?model=" + w.ModelSize
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisper server returned %d", resp.StatusCode)
	}

	var parsed whisperResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}
	return parsed.Text, nil
}

// encodeWAV16 packs mono float32 samples into a 16-bit PCM WAV container.
func encodeWAV16(pcm []float32, sampleRate int) []byte {
	dataLen := len(pcm) * 2
	buf := bytes.NewBuffer(make([]byte, 0, 44+dataLen))

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(buf, binary.LittleEndian, uint16(1)) // mono
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate*2))
	binary.Write(buf, binary.LittleEndian, uint16(2))
	binary.Write(buf, binary.LittleEndian, uint16(16))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(dataLen))
	for _, s := range pcm {
		v := s
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		binary.Write(buf, binary.LittleEndian, int16(v*32767))
	}
	return buf.Bytes()
}

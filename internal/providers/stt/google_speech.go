package stt

import (
	"context"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
)

// GoogleSpeech is the managed alternative to the whisper server. The client
// is built lazily under a mutex so a missing credential only breaks the audio
// pipeline, not startup.
type GoogleSpeech struct {
	Language string

	mu sync.Mutex
	c  *speech.Client
}

func NewGoogleSpeech(language string) *GoogleSpeech {
	if language == "" {
		language = "en-US"
	}
	return &GoogleSpeech{Language: language}
}

func (g *GoogleSpeech) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.c == nil {
		return nil
	}
	err := g.c.Close()
	g.c = nil
	return err
}

func (g *GoogleSpeech) warmUp(ctx context.Context) (*speech.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.c != nil {
		return g.c, nil
	}
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	g.c = c
	return c, nil
}

func (g *GoogleSpeech) Transcribe(ctx context.Context, pcm []float32, sampleRate int) (string, error) {
	if len(pcm) == 0 {
		return "", nil
	}

	c, err := g.warmUp(ctx)
	if err != nil {
		return "", err
	}

	// LINEAR16 content: reuse the WAV encoder body minus the header
	wav := encodeWAV16(pcm, sampleRate)
	content := wav[44:]

	resp, err := c.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz:            int32(sampleRate),
			LanguageCode:               g.Language,
			EnableAutomaticPunctuation: true,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: content},
		},
	})
	if err != nil {
		return "", err
	}

	var bestText string
	var bestConf float64
	for _, r := range resp.Results {
		for _, alt := range r.Alternatives {
			if alt.Transcript != "" && float64(alt.Confidence) >= bestConf {
				bestText = alt.Transcript
				bestConf = float64(alt.Confidence)
			}
		}
	}
	return bestText, nil
}

package sentiment

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	vertexgenai "cloud.google.com/go/vertexai/genai"
	"google.golang.org/api/iterator"
)

const scorePrompt = "Rate the sentiment of the following chat message as a single number between -1.0 (extremely negative or threatening) and 1.0 (extremely positive). Respond with only the number.\n\nMessage: "

// VertexGemini scores sentiment with a hosted model. Built lazily so the
// chat pipeline degrades to a no-op instead of failing startup when
// credentials are absent.
type VertexGemini struct {
	ProjectID string
	Location  string
	ModelName string

	mu     sync.Mutex
	client *vertexgenai.Client
	model  *vertexgenai.GenerativeModel
}

func NewVertexGemini(projectID, location, modelName string) *VertexGemini {
	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}
	return &VertexGemini{ProjectID: projectID, Location: location, ModelName: modelName}
}

func (v *VertexGemini) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.client == nil {
		return nil
	}
	err := v.client.Close()
	v.client = nil
	v.model = nil
	return err
}

func (v *VertexGemini) warmUp(ctx context.Context) (*vertexgenai.GenerativeModel, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.model != nil {
		return v.model, nil
	}
	c, err := vertexgenai.NewClient(ctx, v.ProjectID, v.Location)
	if err != nil {
		return nil, err
	}
	v.client = c
	v.model = c.GenerativeModel(v.ModelName)
	return v.model, nil
}

func (v *VertexGemini) Score(ctx context.Context, text string) (float64, error) {
	model, err := v.warmUp(ctx)
	if err != nil {
		return 0, err
	}

	var sb strings.Builder
	it := model.GenerateContentStream(ctx, vertexgenai.Text(scorePrompt+text))
	for {
		resp, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return 0, err
		}
		for _, cand := range resp.Candidates {
			if cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				if t, ok := part.(vertexgenai.Text); ok {
					sb.WriteString(string(t))
				}
			}
		}
	}

	raw := strings.TrimSpace(sb.String())
	score, err := strconv.ParseFloat(strings.Fields(raw+" 0")[0], 64)
	if err != nil {
		return 0, fmt.Errorf("unparseable sentiment response %q", raw)
	}
	if score > 1 {
		score = 1
	} else if score < -1 {
		score = -1
	}
	return score, nil
}

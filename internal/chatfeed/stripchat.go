package chatfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/streamvigil/vigil/internal/models"
)

const stripchatBase = "https://stripchat.com"

type scChatMessage struct {
	Type    string `json:"type"`
	Details struct {
		Body string `json:"body"`
	} `json:"details"`
	UserData struct {
		Username string `json:"username"`
	} `json:"userData"`
	CreatedAt string `json:"createdAt"`
}

type scChatResponse struct {
	Messages []scChatMessage `json:"messages"`
}

// fetchStripchat pulls the public chat tail for a model.
func (p *Poller) fetchStripchat(ctx context.Context, stream *models.Stream) ([]models.ChatMessage, error) {
	url := fmt.Sprintf("%s/api/front/v2/models/username/%s/chat", stripchatBase, stream.RoomSlug())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", browserUA)

	resp, err := p.pool.Client(ctx, 15*time.Second).Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("stripchat chat returned %d", resp.StatusCode)
	}

	var parsed scChatResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&parsed); err != nil {
		return nil, err
	}
	return normalizeStripchat(parsed.Messages), nil
}

// normalizeStripchat keeps text messages, and tips only when they carry a
// message body.
func normalizeStripchat(msgs []scChatMessage) []models.ChatMessage {
	var out []models.ChatMessage
	for _, m := range msgs {
		switch m.Type {
		case "text":
		case "tip":
			if m.Details.Body == "" {
				continue
			}
		default:
			continue
		}
		if m.Details.Body == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, m.CreatedAt)
		if err != nil {
			ts = time.Now().UTC()
		}
		out = append(out, models.ChatMessage{
			Username:  m.UserData.Username,
			Text:      m.Details.Body,
			Timestamp: ts.UTC(),
		})
	}
	return out
}

package chatfeed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"time"

	"github.com/streamvigil/vigil/internal/models"
)

const chaturbateBase = "https://chaturbate.com"

// chatVideoContext is the one-shot response that carries the broadcaster uid
// needed to build the room history topic key.
type chatVideoContext struct {
	BroadcasterUID string `json:"broadcaster_uid"`
}

// ResolveBroadcasterUID fetches the broadcaster uid for a chaturbate room.
// The uid is treated as immutable once stored.
func (p *Poller) ResolveBroadcasterUID(ctx context.Context, username string) (string, error) {
	url := fmt.Sprintf("%s/api/chatvideocontext/%s/", chaturbateBase, username)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", browserUA)

	resp, err := p.pool.Client(ctx, 15*time.Second).Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("chatvideocontext returned %d", resp.StatusCode)
	}

	var parsed chatVideoContext
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&parsed); err != nil {
		return "", err
	}
	if parsed.BroadcasterUID == "" {
		return "", fmt.Errorf("chatvideocontext had no broadcaster_uid")
	}
	return parsed.BroadcasterUID, nil
}

type cbHistoryEntry struct {
	M struct {
		Message  string `json:"message"`
		FromUser struct {
			Username string `json:"username"`
		} `json:"from_user"`
	} `json:"m"`
	TS int64 `json:"ts"` // epoch millis
}

// fetchChaturbate pulls recent room history keyed by the broadcaster uid.
func (p *Poller) fetchChaturbate(ctx context.Context, stream *models.Stream) ([]models.ChatMessage, error) {
	if stream.BroadcasterUID == "" {
		uid, err := p.ResolveBroadcasterUID(ctx, stream.RoomSlug())
		if err != nil {
			return nil, err
		}
		stream.BroadcasterUID = uid
		if p.streams != nil {
			if perr := p.streams.SetBroadcasterUID(ctx, stream.ID, uid); perr != nil {
				p.log.WithError(perr).Warn("failed to persist broadcaster_uid")
			}
		}
	}

	topicKey := fmt.Sprintf("RoomMessageTopic#RoomMessageTopic:%s", stream.BroadcasterUID)
	topics, _ := json.Marshal(map[string]map[string]string{topicKey: {}})

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("topics", string(topics))
	_ = mw.WriteField("csrfmiddlewaretoken", csrfToken)
	_ = mw.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		chaturbateBase+"/push_service/room_history/", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("User-Agent", browserUA)
	req.Header.Set("Cookie", fmt.Sprintf("csrftoken=%s; agreeterms=1", csrfToken))
	req.Header.Set("X-Requested-With", "XMLHttpRequest")

	resp, err := p.pool.Client(ctx, 15*time.Second).Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("room_history returned %d", resp.StatusCode)
	}

	var parsed map[string]map[string]cbHistoryEntry
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&parsed); err != nil {
		return nil, err
	}
	return flattenChaturbateHistory(parsed[topicKey]), nil
}

func flattenChaturbateHistory(entries map[string]cbHistoryEntry) []models.ChatMessage {
	out := make([]models.ChatMessage, 0, len(entries))
	for _, e := range entries {
		if e.M.Message == "" {
			continue
		}
		out = append(out, models.ChatMessage{
			Username:  e.M.FromUser.Username,
			Text:      e.M.Message,
			Timestamp: time.UnixMilli(e.TS).UTC(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

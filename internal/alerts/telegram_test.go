package alerts

import (
	"context"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeSender struct {
	mu     sync.Mutex
	texts  map[int64]string
	photos map[int64][]byte
}

func newFakeSender() *fakeSender {
	return &fakeSender{texts: map[int64]string{}, photos: map[int64][]byte{}}
}

func (f *fakeSender) SendText(chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts[chatID] = text
	return nil
}

func (f *fakeSender) SendPhoto(chatID int64, caption string, jpeg []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts[chatID] = caption
	f.photos[chatID] = jpeg
	return nil
}

func newQueueClient(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestEnqueueWritesStreamEntry(t *testing.T) {
	rdb := newQueueClient(t)
	p := &TelegramPool{Redis: rdb}

	img := []byte{0xFF, 0xD8, 0xFF, 0xD9}
	if err := p.Enqueue(context.Background(), "42", "alert body", img); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	msgs, err := rdb.XRange(context.Background(), p.Stream, "-", "+").Result()
	if err != nil || len(msgs) != 1 {
		t.Fatalf("expected one entry, got %v err=%v", msgs, err)
	}
	v := msgs[0].Values
	if v["chat_id"] != "42" || v["text"] != "alert body" {
		t.Fatalf("bad entry %v", v)
	}
	if v["image_base64"] != base64.StdEncoding.EncodeToString(img) {
		t.Fatalf("image must travel base64 encoded, got %v", v["image_base64"])
	}
}

func TestEnqueueWithoutImageOmitsField(t *testing.T) {
	rdb := newQueueClient(t)
	p := &TelegramPool{Redis: rdb}

	if err := p.Enqueue(context.Background(), "42", "text only", nil); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	msgs, _ := rdb.XRange(context.Background(), p.Stream, "-", "+").Result()
	if _, ok := msgs[0].Values["image_base64"]; ok {
		t.Fatal("text-only deliveries must not carry an image field")
	}
}

func TestHandleMsgSendsPhotoWhenImagePresent(t *testing.T) {
	sender := newFakeSender()
	p := &TelegramPool{Sender: sender}
	p.defaults()

	img := []byte{0xFF, 0xD8, 0x01, 0x02}
	p.handleMsg(redis.XMessage{ID: "1-0", Values: map[string]any{
		"chat_id":      "42",
		"text":         "caption here",
		"image_base64": base64.StdEncoding.EncodeToString(img),
	}})

	if string(sender.photos[42]) != string(img) {
		t.Fatalf("photo payload = %v", sender.photos[42])
	}
	if sender.texts[42] != "caption here" {
		t.Fatalf("caption = %q", sender.texts[42])
	}
}

func TestHandleMsgFallsBackToText(t *testing.T) {
	sender := newFakeSender()
	p := &TelegramPool{Sender: sender}
	p.defaults()

	p.handleMsg(redis.XMessage{ID: "1-0", Values: map[string]any{
		"chat_id": "42",
		"text":    "plain alert",
	}})
	if sender.texts[42] != "plain alert" {
		t.Fatalf("text = %q", sender.texts[42])
	}
	if len(sender.photos) != 0 {
		t.Fatal("no photo expected")
	}

	p.handleMsg(redis.XMessage{ID: "2-0", Values: map[string]any{
		"chat_id": "not-a-number",
		"text":    "dropped",
	}})
	if len(sender.texts) != 1 {
		t.Fatal("unparseable chat ids must be dropped")
	}
}

func TestPoolDrainsQueue(t *testing.T) {
	rdb := newQueueClient(t)
	sender := newFakeSender()
	p := &TelegramPool{Redis: rdb, Sender: sender, NumWorkers: 2}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	for i, chat := range []string{"10", "11", "12"} {
		if err := p.Enqueue(ctx, chat, "msg", nil); err != nil {
			t.Fatalf("Enqueue %d: %v", i, err)
		}
	}

	deadline := time.After(3 * time.Second)
	for {
		sender.mu.Lock()
		n := len(sender.texts)
		sender.mu.Unlock()
		if n == 3 {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("only %d of 3 messages delivered", n)
		case <-time.After(20 * time.Millisecond):
		}
	}
}

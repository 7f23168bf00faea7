package alerts

import (
	"context"
	"encoding/base64"
	"errors"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// telegramSender is the bot surface the worker pool uses. Wrapping the bot
// API keeps the pool testable without a token.
type telegramSender interface {
	SendText(chatID int64, text string) error
	SendPhoto(chatID int64, caption string, jpeg []byte) error
}

type BotSender struct {
	bot *tgbotapi.BotAPI
}

func NewBotSender(token string) (*BotSender, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return &BotSender{bot: bot}, nil
}

func (s *BotSender) SendText(chatID int64, text string) error {
	_, err := s.bot.Send(tgbotapi.NewMessage(chatID, text))
	return err
}

func (s *BotSender) SendPhoto(chatID int64, caption string, jpeg []byte) error {
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: "detection.jpg", Bytes: jpeg})
	photo.Caption = caption
	_, err := s.bot.Send(photo)
	return err
}

// TelegramPool drains the Telegram delivery queue with a redis streams
// consumer group. Enqueue is the producer side used by the fan-out service.
type TelegramPool struct {
	Redis      *redis.Client
	Sender     telegramSender
	NumWorkers int

	Logger *logrus.Logger

	Stream         string
	Group          string
	ConsumerPrefix string
}

func (p *TelegramPool) defaults() {
	if p.Stream == "" {
		p.Stream = "alerts:telegram"
	}
	if p.Group == "" {
		p.Group = "telegram-workers"
	}
	if p.ConsumerPrefix == "" {
		p.ConsumerPrefix = "c"
	}
	if p.NumWorkers <= 0 {
		p.NumWorkers = 5
	}
	if p.Logger == nil {
		p.Logger = logrus.New()
	}
}

// Enqueue appends one delivery to the stream. Images travel base64-encoded
// in the message body; a missing image means plain text.
func (p *TelegramPool) Enqueue(ctx context.Context, chatID string, text string, image []byte) error {
	p.defaults()
	values := map[string]any{
		"chat_id": chatID,
		"text":    text,
	}
	if len(image) > 0 {
		values["image_base64"] = base64.StdEncoding.EncodeToString(image)
	}
	return p.Redis.XAdd(ctx, &redis.XAddArgs{Stream: p.Stream, Values: values}).Err()
}

func (p *TelegramPool) Start(ctx context.Context) error {
	if p.Redis == nil || p.Sender == nil {
		return errors.New("TelegramPool missing dependency: Redis/Sender must be set")
	}
	p.defaults()

	_ = p.Redis.XGroupCreateMkStream(ctx, p.Stream, p.Group, "0").Err() // ignore BUSYGROUP

	for i := 0; i < p.NumWorkers; i++ {
		consumer := p.ConsumerPrefix + "-" + strconv.Itoa(i+1)
		go p.runConsumer(ctx, consumer)
	}
	return nil
}

func (p *TelegramPool) runConsumer(ctx context.Context, consumer string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res, err := p.Redis.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    p.Group,
			Consumer: consumer,
			Streams:  []string{p.Stream, ">"},
			Count:    10,
			Block:    5 * time.Second,
		}).Result()

		if err != nil {
			if err == redis.Nil {
				continue
			}
			time.Sleep(500 * time.Millisecond)
			continue
		}

		for _, stream := range res {
			for _, msg := range stream.Messages {
				p.handleMsg(msg)
				_ = p.Redis.XAck(ctx, p.Stream, p.Group, msg.ID).Err()
			}
		}
	}
}

func (p *TelegramPool) handleMsg(msg redis.XMessage) {
	getStr := func(k string) string {
		v, ok := msg.Values[k]
		if !ok || v == nil {
			return ""
		}
		s, _ := v.(string)
		return s
	}

	chatStr := getStr("chat_id")
	text := getStr("text")
	if chatStr == "" || text == "" {
		return
	}
	chatID, err := strconv.ParseInt(chatStr, 10, 64)
	if err != nil {
		p.Logger.WithField("chat_id", chatStr).Warn("unparseable telegram chat id")
		return
	}

	log := p.Logger.WithFields(logrus.Fields{
		"redis_id": msg.ID,
		"chat_id":  chatID,
	})

	if b64 := getStr("image_base64"); b64 != "" {
		jpeg, err := base64.StdEncoding.DecodeString(b64)
		if err == nil && len(jpeg) > 0 {
			if err := p.Sender.SendPhoto(chatID, text, jpeg); err != nil {
				log.WithError(err).Error("telegram photo send failed")
			}
			return
		}
		log.Warn("invalid image payload, falling back to text")
	}

	if err := p.Sender.SendText(chatID, text); err != nil {
		log.WithError(err).Error("telegram send failed")
	}
}

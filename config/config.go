package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Settings holds everything the core reads from the environment. Invalid
// values are configuration errors and fatal at startup.
type Settings struct {
	// pipeline kill switches
	ContinuousMonitoring  bool
	EnableVideoMonitoring bool
	EnableAudioMonitoring bool
	EnableChatMonitoring  bool

	// sampling and cooldowns
	AudioSampleDuration  time.Duration
	VideoSampleInterval  time.Duration
	VisualAlertCooldown  time.Duration
	AudioAlertCooldown   time.Duration
	ChatAlertCooldown    time.Duration
	NotificationDebounce time.Duration

	NegativeSentimentThreshold float64

	// detectors
	VisionEndpoint    string
	STTProvider       string // "whisper" | "google" | ""
	STTEndpoint       string
	WhisperModelSize  string
	SentimentProvider string // "lexicon" | "vertex"
	VertexProject     string
	VertexLocation    string

	TranscriptionDir string
	ArchiveBucket    string // optional GCS bucket for detection artifacts

	// delivery
	TelegramToken string
	Mail          MailSettings

	JWTSecret string
}

type MailSettings struct {
	Server        string
	Port          int
	Username      string
	Password      string
	UseTLS        bool
	UseSSL        bool
	DefaultSender string
	SenderName    string
	MaxRetries    int
	RetryDelay    time.Duration
}

func Load() (*Settings, error) {
	s := &Settings{
		ContinuousMonitoring:  envBool("CONTINUOUS_MONITORING", true),
		EnableVideoMonitoring: envBool("ENABLE_VIDEO_MONITORING", true),
		EnableAudioMonitoring: envBool("ENABLE_AUDIO_MONITORING", true),
		EnableChatMonitoring:  envBool("ENABLE_CHAT_MONITORING", true),

		VisionEndpoint:    os.Getenv("VISION_ENDPOINT"),
		STTProvider:       os.Getenv("STT_PROVIDER"),
		STTEndpoint:       os.Getenv("STT_ENDPOINT"),
		WhisperModelSize:  os.Getenv("WHISPER_MODEL_SIZE"),
		SentimentProvider: os.Getenv("SENTIMENT_PROVIDER"),
		VertexProject:     os.Getenv("VERTEX_PROJECT"),
		VertexLocation:    os.Getenv("VERTEX_LOCATION"),

		TranscriptionDir: os.Getenv("TRANSCRIPTION_DIR"),
		ArchiveBucket:    os.Getenv("ARCHIVE_BUCKET"),
		TelegramToken:    os.Getenv("TELEGRAM_TOKEN"),
		JWTSecret:        os.Getenv("JWT_SECRET"),
	}

	var err error
	if s.AudioSampleDuration, err = envSeconds("AUDIO_SAMPLE_DURATION", 30); err != nil {
		return nil, err
	}
	if s.VideoSampleInterval, err = envSeconds("VIDEO_SAMPLE_INTERVAL", 5); err != nil {
		return nil, err
	}
	if s.VisualAlertCooldown, err = envSeconds("VISUAL_ALERT_COOLDOWN", 30); err != nil {
		return nil, err
	}
	if s.AudioAlertCooldown, err = envSeconds("AUDIO_ALERT_COOLDOWN", 60); err != nil {
		return nil, err
	}
	if s.ChatAlertCooldown, err = envSeconds("CHAT_ALERT_COOLDOWN", 45); err != nil {
		return nil, err
	}
	if s.NotificationDebounce, err = envSeconds("NOTIFICATION_DEBOUNCE", 300); err != nil {
		return nil, err
	}
	if s.NegativeSentimentThreshold, err = envFloat("NEGATIVE_SENTIMENT_THRESHOLD", -0.5); err != nil {
		return nil, err
	}

	if s.TranscriptionDir == "" {
		s.TranscriptionDir = "transcriptions"
	}

	if s.Mail, err = loadMail(); err != nil {
		return nil, err
	}
	return s, nil
}

func loadMail() (MailSettings, error) {
	m := MailSettings{
		Server:        os.Getenv("MAIL_SERVER"),
		Username:      os.Getenv("MAIL_USERNAME"),
		Password:      os.Getenv("MAIL_PASSWORD"),
		UseTLS:        envBool("MAIL_USE_TLS", true),
		UseSSL:        envBool("MAIL_USE_SSL", false),
		DefaultSender: os.Getenv("MAIL_DEFAULT_SENDER"),
		SenderName:    os.Getenv("MAIL_SENDER_NAME"),
	}
	var err error
	if m.Port, err = envInt("MAIL_PORT", 587); err != nil {
		return m, err
	}
	if m.MaxRetries, err = envInt("MAIL_MAX_RETRIES", 3); err != nil {
		return m, err
	}
	var delay time.Duration
	if delay, err = envSeconds("MAIL_RETRY_DELAY", 2); err != nil {
		return m, err
	}
	m.RetryDelay = delay
	if m.DefaultSender == "" {
		m.DefaultSender = m.Username
	}
	return m, nil
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, v)
	}
	return n, nil
}

func envSeconds(key string, def int) (time.Duration, error) {
	n, err := envInt(key, def)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("%s: must be >= 0, got %d", key, n)
	}
	return time.Duration(n) * time.Second, nil
}

func envFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid number %q", key, v)
	}
	return f, nil
}

package config

import (
	"os"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr string
	LogMode  string

	RedisAddr   string
	PostgresDSN string

	SendGridAPIKey string
	FromName       string
	FromAddress    string
	NotifyTo       string

	CallTimeout   time.Duration
	SettleDelay   time.Duration
	TaskRetention time.Duration
	ReadingMarker string

	CourseFile      string
	ShutdownTimeout time.Duration
}

func Load() Config {
	return Config{
		HTTPAddr:        str("AUTOCOURSE_HTTP_ADDR", ":8080"),
		LogMode:         str("AUTOCOURSE_LOG_MODE", "dev"),
		RedisAddr:       str("REDIS_ADDR", ""),
		PostgresDSN:     str("POSTGRES_DSN", ""),
		SendGridAPIKey:  str("SENDGRID_API_KEY", ""),
		FromName:        str("FROM_NAME", "autocourse"),
		FromAddress:     str("FROM_ADDRESS", ""),
		NotifyTo:        str("NOTIFY_TO", ""),
		CallTimeout:     duration("AUTOCOURSE_CALL_TIMEOUT", 30*time.Second),
		SettleDelay:     duration("AUTOCOURSE_SETTLE_DELAY", 3*time.Second),
		TaskRetention:   duration("AUTOCOURSE_TASK_RETENTION", 60*time.Second),
		ReadingMarker:   str("AUTOCOURSE_READING_MARKER", "Completed"),
		CourseFile:      str("AUTOCOURSE_COURSE_FILE", ""),
		ShutdownTimeout: duration("AUTOCOURSE_SHUTDOWN_TIMEOUT", 10*time.Second),
	}
}

// NotificationsEnabled reports whether enough SendGrid settings are present to send mail.
func (c Config) NotificationsEnabled() bool {
	return c.SendGridAPIKey != "" && c.FromAddress != "" && c.NotifyTo != ""
}

func str(name, def string) string {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}

	return v
}

func duration(name string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return def
	}

	return d
}

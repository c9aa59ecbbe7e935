package config

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables that override secrets in the file.
const (
	EnvTelegramToken = "CMMSD_TELEGRAM_TOKEN"
	EnvSMTPPassword  = "CMMSD_SMTP_PASSWORD"
	EnvStorageDSN    = "CMMSD_STORAGE_DSN"
	EnvHTTPToken     = "CMMSD_HTTP_TOKEN"
	EnvRedisPassword = "CMMSD_REDIS_PASSWORD"
)

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment. Variables already set win over the file, and missing files are
// ignored.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if cfg == nil || lookup == nil {
		return
	}
	set := func(dst *string, key string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set(&cfg.Telegram.Token, EnvTelegramToken)
	set(&cfg.Notifier.SMTP.Password, EnvSMTPPassword)
	set(&cfg.Storage.DSN, EnvStorageDSN)
	set(&cfg.HTTP.Token, EnvHTTPToken)
	set(&cfg.Engine.Lock.Password, EnvRedisPassword)
}

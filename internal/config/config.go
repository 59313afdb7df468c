package config

import (
	"os"
	"strconv"
	"strings"
)

type Config struct {
	SMTPPort    int
	POP3Port    int
	MetricsPort int
	LocalDomain string
	MailDir     string
	UsersFile   string
}

func Load() Config {
	return Config{
		SMTPPort:    getEnvInt("SMTP_PORT", 2525),
		POP3Port:    getEnvInt("POP3_PORT", 1110),
		MetricsPort: getEnvInt("METRICS_PORT", 0),
		LocalDomain: getEnvString("LOCAL_DOMAIN", "localhost"),
		MailDir:     getEnvString("MAIL_DIR", "data"),
		UsersFile:   getEnvString("USERS_FILE", "userinfo.txt"),
	}
}

func getEnvString(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err == nil {
			return parsed
		}
	}
	return fallback
}

package config

import (
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	ChatServerURL        string `validate:"required,url"`
	Environment          string
	HandshakeTimeoutSec  int64 `validate:"min=1,max=60"`
	RequestTimeoutSec    int64 `validate:"min=1"`
	UploadTimeoutSec     int64 `validate:"min=1"`
	MaxReconnectAttempts int   `validate:"min=1"`
	ReconnectBaseDelayMs int64 `validate:"min=50"`
	ReconnectMaxDelayMs  int64 `validate:"min=1000"`
	TypingDebounceMs     int64 `validate:"min=100"`
	TypingExpirySec      int64 `validate:"min=1"`
	MaxUploadSizeMB      int64 `validate:"min=1"`
	StatusPort           string
}

func Load() (*Config, error) {
	godotenv.Load()

	config := &Config{
		ChatServerURL:        getEnv("CHAT_SERVER_URL", "wss://chat.example.com/ws"),
		Environment:          getEnv("ENVIRONMENT", "development"),
		HandshakeTimeoutSec:  getEnvAsInt64("CHAT_HANDSHAKE_TIMEOUT_SEC", 15),
		RequestTimeoutSec:    getEnvAsInt64("CHAT_REQUEST_TIMEOUT_SEC", 10),
		UploadTimeoutSec:     getEnvAsInt64("CHAT_UPLOAD_TIMEOUT_SEC", 60),
		MaxReconnectAttempts: int(getEnvAsInt64("CHAT_MAX_RECONNECT_ATTEMPTS", 5)),
		ReconnectBaseDelayMs: getEnvAsInt64("CHAT_RECONNECT_BASE_DELAY_MS", 1000),
		ReconnectMaxDelayMs:  getEnvAsInt64("CHAT_RECONNECT_MAX_DELAY_MS", 30000),
		TypingDebounceMs:     getEnvAsInt64("CHAT_TYPING_DEBOUNCE_MS", 1000),
		TypingExpirySec:      getEnvAsInt64("CHAT_TYPING_EXPIRY_SEC", 5),
		MaxUploadSizeMB:      getEnvAsInt64("CHAT_MAX_UPLOAD_SIZE_MB", 50),
		StatusPort:           getEnv("STATUS_PORT", "8091"),
	}

	if err := validator.New().Struct(config); err != nil {
		return nil, err
	}

	return config, nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		intValue, err := strconv.ParseInt(value, 10, 64)
		if err == nil {
			return intValue
		}
	}
	return defaultValue
}

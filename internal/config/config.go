package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	APIBaseURL   string
	WSURL        string
	Token        string
	RefreshToken string
	UserID       int64
	PeerID       int64
	DBFile       string

	HeartbeatInterval time.Duration
	ReconnectDelay    time.Duration
	TypingIdle        time.Duration
	TypingExpiry      time.Duration
}

func Load() (*Config, error) {
	heartbeat, err := parseDurationEnv("HEARTBEAT_INTERVAL", "4s")
	if err != nil {
		return nil, err
	}
	reconnect, err := parseDurationEnv("RECONNECT_DELAY", "5s")
	if err != nil {
		return nil, err
	}
	typingIdle, err := parseDurationEnv("TYPING_IDLE", "1s")
	if err != nil {
		return nil, err
	}
	typingExpiry, err := parseDurationEnv("TYPING_EXPIRY", "3s")
	if err != nil {
		return nil, err
	}

	userID, err := parseIntEnv("TALANTA_USER_ID")
	if err != nil {
		return nil, err
	}
	peerID, err := parseIntEnv("TALANTA_PEER_ID")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		APIBaseURL:        getEnv("TALANTA_API_URL", "http://localhost:8081/api"),
		WSURL:             getEnv("TALANTA_WS_URL", "ws://localhost:8081/ws"),
		Token:             os.Getenv("TALANTA_TOKEN"),
		RefreshToken:      os.Getenv("TALANTA_REFRESH_TOKEN"),
		UserID:            userID,
		PeerID:            peerID,
		DBFile:            getEnv("TALANTA_DB", "talanta.db"),
		HeartbeatInterval: heartbeat,
		ReconnectDelay:    reconnect,
		TypingIdle:        typingIdle,
		TypingExpiry:      typingExpiry,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Token == "" {
		return fmt.Errorf("TALANTA_TOKEN is required")
	}
	if c.UserID == 0 {
		return fmt.Errorf("TALANTA_USER_ID is required")
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("HEARTBEAT_INTERVAL must be greater than 0")
	}
	if c.ReconnectDelay <= 0 {
		return fmt.Errorf("RECONNECT_DELAY must be greater than 0")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func parseDurationEnv(key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(getEnv(key, fallback))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func parseIntEnv(key string) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

package adminapi

import (
	"fmt"
	"strings"
	"time"
)

const (
	defaultListenAddr       = ":8080"
	defaultAllowedOrigin    = "http://localhost:3000"
	defaultSessionIssuer    = "tauth"
	defaultSessionCookie    = "app_session"
	defaultRequestTimeout   = 10 * time.Second
	defaultNotificationWait = 2 * time.Second
)

// Config aggregates runtime settings for the admin API.
type Config struct {
	ListenAddr        string
	AllowedOrigins    []string
	SessionSigningKey string
	SessionIssuer     string
	SessionCookieName string
	// AdminUserIDs restricts mutating and reporting routes; empty admits any valid session.
	AdminUserIDs     []string
	RequestTimeout   time.Duration
	NotificationWait time.Duration
}

// Validate fills defaults and ensures the configuration contains sane values.
func (cfg *Config) Validate() error {
	cfg.ListenAddr = defaultIfEmpty(cfg.ListenAddr, defaultListenAddr)
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	cfg.SessionIssuer = defaultIfEmpty(cfg.SessionIssuer, defaultSessionIssuer)
	cfg.SessionCookieName = defaultIfEmpty(cfg.SessionCookieName, defaultSessionCookie)
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.NotificationWait < 0 {
		return fmt.Errorf("notification wait must not be negative")
	}
	if cfg.NotificationWait == 0 {
		cfg.NotificationWait = defaultNotificationWait
	}
	if len(cfg.SessionSigningKey) == 0 {
		return fmt.Errorf("jwt signing key is required")
	}
	return nil
}

func (cfg Config) isAdmin(userID string) bool {
	if len(cfg.AdminUserIDs) == 0 {
		return true
	}
	for _, adminID := range cfg.AdminUserIDs {
		if adminID == userID {
			return true
		}
	}
	return false
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

// ParseList splits comma-delimited values into a slice.
func ParseList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}

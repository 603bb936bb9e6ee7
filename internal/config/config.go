package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Settings holds everything the portal and the ETL service read from the
// environment. Values are validated once at startup.
type Settings struct {
	Port        string
	DatabaseURL string
	CORSOrigins []string

	RegistryAPIBase  string
	RegistryPageSize int
	SyncWindowMonths int
	HTTPTimeout      time.Duration
	MaxRetries       int

	RegulatoryTables string
}

// Load reads .env files and assembles settings. A .env.development file takes
// priority over .env so local overrides never touch the committed defaults.
func Load() (*Settings, error) {
	for _, name := range []string{".env.development", ".env"} {
		if _, err := os.Stat(name); err == nil {
			if err := godotenv.Load(name); err != nil {
				return nil, fmt.Errorf("loading %s: %w", name, err)
			}
			log.Printf("Loaded environment from %s", name)
			break
		}
	}

	s := &Settings{
		Port:             envOr("PORT", "8081"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		CORSOrigins:      splitCSV(envOr("CORS_ORIGINS", "http://localhost:4200")),
		RegistryAPIBase:  envOr("REGISTRY_API_BASE", "https://www.infosubvenciones.es/bdnstrans/api"),
		RegistryPageSize: envInt("REGISTRY_PAGE_SIZE", 200),
		SyncWindowMonths: envInt("SYNC_WINDOW_MONTHS", 3),
		HTTPTimeout:      time.Duration(envInt("HTTP_TIMEOUT_SECONDS", 30)) * time.Second,
		MaxRetries:       envInt("HTTP_MAX_RETRIES", 3),
		RegulatoryTables: os.Getenv("REGULATORY_TABLES"),
	}

	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) validate() error {
	if _, err := strconv.Atoi(s.Port); err != nil {
		return fmt.Errorf("invalid PORT %q", s.Port)
	}
	if !strings.HasPrefix(s.RegistryAPIBase, "http://") && !strings.HasPrefix(s.RegistryAPIBase, "https://") {
		return fmt.Errorf("invalid REGISTRY_API_BASE %q", s.RegistryAPIBase)
	}
	if s.RegistryPageSize <= 0 || s.RegistryPageSize > 10000 {
		return fmt.Errorf("REGISTRY_PAGE_SIZE must be in 1..10000, got %d", s.RegistryPageSize)
	}
	if s.SyncWindowMonths <= 0 || s.SyncWindowMonths > 120 {
		return fmt.Errorf("SYNC_WINDOW_MONTHS must be in 1..120, got %d", s.SyncWindowMonths)
	}
	if s.HTTPTimeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT_SECONDS must be positive")
	}
	if s.MaxRetries < 0 || s.MaxRetries > 10 {
		return fmt.Errorf("HTTP_MAX_RETRIES must be in 0..10, got %d", s.MaxRetries)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("Ignoring non-integer %s=%q, using %d", key, raw, fallback)
		return fallback
	}
	return v
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

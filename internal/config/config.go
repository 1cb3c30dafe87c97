// Package config reads the service configuration from the environment,
// optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"ticketpool/internal/services"
)

// ErrMissingSecret is returned when DIGEST_SECRET is not set.
var ErrMissingSecret = errors.New("DIGEST_SECRET must be set")

// Config holds everything main needs to wire the service.
type Config struct {
	Port            string
	DigestSecret    string
	DatabasePath    string
	TenantHosts     map[string]string
	Limits          services.Options
	TenantIdle      time.Duration
	ReclaimSchedule string
	Debug           bool
}

// Load reads files (".env" when none are given) if they exist, then the
// environment. Variables already set in the environment win over the files.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, file := range files {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", file, err)
		}
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from the variables returned by getenv.
func FromEnv(getenv func(string) string) (*Config, error) {
	r := reader{getenv: getenv}
	defaults := services.DefaultOptions()

	cfg := &Config{
		Port:         r.str("PORT", "8080"),
		DigestSecret: getenv("DIGEST_SECRET"),
		DatabasePath: r.str("DATABASE_PATH", "tickets.db"),
		Limits: services.Options{
			PageSize:          r.positive("PAGE_SIZE", defaults.PageSize),
			ReadConcurrency:   r.positive("READ_CONCURRENCY", defaults.ReadConcurrency),
			InsertChunkSize:   r.positive("INSERT_CHUNK_SIZE", defaults.InsertChunkSize),
			InsertConcurrency: r.positive("INSERT_CONCURRENCY", defaults.InsertConcurrency),
			UpdateConcurrency: r.positive("UPDATE_CONCURRENCY", defaults.UpdateConcurrency),
			MaxPoolSize:       r.positive("MAX_POOL_SIZE", defaults.MaxPoolSize),
		},
		TenantIdle:      time.Duration(r.positive("TENANT_IDLE_MINUTES", 60)) * time.Minute,
		ReclaimSchedule: strings.TrimSpace(getenv("RECLAIM_SCHEDULE")),
		Debug:           r.boolean("DEBUG"),
	}
	cfg.TenantHosts = r.hosts("TENANT_HOSTS")

	if r.err != nil {
		return nil, r.err
	}
	if cfg.DigestSecret == "" {
		return nil, ErrMissingSecret
	}
	if cfg.Limits.PageSize > defaults.PageSize {
		return nil, fmt.Errorf("PAGE_SIZE must not exceed %d", defaults.PageSize)
	}
	return cfg, nil
}

// reader keeps the first parse error so FromEnv can report it once.
type reader struct {
	getenv func(string) string
	err    error
}

func (r *reader) str(key, def string) string {
	if v := strings.TrimSpace(r.getenv(key)); v != "" {
		return v
	}
	return def
}

func (r *reader) positive(key string, def int) int {
	raw := strings.TrimSpace(r.getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		r.fail(fmt.Errorf("%s must be a positive integer, got %q", key, raw))
		return def
	}
	return v
}

func (r *reader) boolean(key string) bool {
	raw := strings.TrimSpace(r.getenv(key))
	if raw == "" {
		return false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		r.fail(fmt.Errorf("%s must be a boolean, got %q", key, raw))
	}
	return v
}

// hosts parses "host=path,host=path".
func (r *reader) hosts(key string) map[string]string {
	raw := strings.TrimSpace(r.getenv(key))
	if raw == "" {
		return nil
	}
	table := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		host, path, ok := strings.Cut(entry, "=")
		host, path = strings.TrimSpace(host), strings.TrimSpace(path)
		if !ok || host == "" || path == "" {
			r.fail(fmt.Errorf("%s entry %q must look like host=path", key, entry))
			continue
		}
		table[host] = path
	}
	return table
}

func (r *reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Config is the whole config file. All duration-like fields are Go duration
// strings ("30s", "5m"); schedule fields are cron specs or descriptors
// ("@every 60m").
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Upstream UpstreamConfig `json:"upstream"`
	Monitor  MonitorConfig  `json:"monitor"`
	Catalog  CatalogConfig  `json:"catalog"`
}

type TelegramConfig struct {
	Token       string `json:"token"`
	SendTimeout string `json:"send_timeout,omitempty"`
	// RatePerSec caps outbound messages across all users.
	RatePerSec   float64 `json:"rate_per_sec,omitempty"`
	Burst        int     `json:"burst,omitempty"`
	SendAttempts int     `json:"send_attempts,omitempty"`
	SendBackoff  string  `json:"send_backoff,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// UpstreamConfig points at the club scheduling portal.
type UpstreamConfig struct {
	BaseURL   string `json:"base_url"`
	UserAgent string `json:"user_agent,omitempty"`
	Timeout   string `json:"timeout,omitempty"`
	// Timezone is the default club timezone (IANA name); individual clubs
	// may override it.
	Timezone string                `json:"timezone"`
	Clubs    map[string]ClubConfig `json:"clubs,omitempty"`
	Retry    RetryConfig           `json:"retry,omitempty"`
}

// ClubConfig describes one club; the map key is the upstream club id.
type ClubConfig struct {
	Name     string `json:"name"`
	Timezone string `json:"timezone,omitempty"`
}

type RetryConfig struct {
	MaxAttempts int    `json:"max_attempts,omitempty"`
	Base        string `json:"base,omitempty"`
	MaxDelay    string `json:"max_delay,omitempty"`
}

type MonitorConfig struct {
	// CycleSpec schedules the polling cycle; ticks that land while a cycle
	// runs are dropped.
	CycleSpec string `json:"cycle_spec,omitempty"`
	// Timezone for the scheduler; defaults to upstream.timezone.
	Timezone        string `json:"timezone,omitempty"`
	Lookahead       string `json:"lookahead,omitempty"`
	UserParallelism int    `json:"user_parallelism,omitempty"`
	FetchTimeout    string `json:"fetch_timeout,omitempty"`
	DispatchTimeout string `json:"dispatch_timeout,omitempty"`
	LedgerRetention string `json:"ledger_retention,omitempty"`
	GCSpec          string `json:"gc_spec,omitempty"`
}

type CatalogConfig struct {
	RefreshSpec string `json:"refresh_spec,omitempty"`
}

// Defaults for the schedule fields when left unset.
const (
	DefaultCycleSpec   = "@every 60m"
	DefaultGCSpec      = "@every 24h"
	DefaultRefreshSpec = "@every 12h"
)

// everyInterval extracts the interval of an "@every <duration>" descriptor.
// Fixed-clock cron forms report false; their cadence is not comparable here.
func everyInterval(spec string) (time.Duration, bool) {
	rest, ok := strings.CutPrefix(spec, "@every ")
	if !ok {
		return 0, false
	}
	d, err := time.ParseDuration(strings.TrimSpace(rest))
	if err != nil {
		return 0, false
	}
	return d, true
}

// Validate checks the fields whose absence or malformation would only
// surface deep inside a cycle.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return errors.New("telegram.token is required")
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		return errors.New("storage.path is required")
	}
	if strings.TrimSpace(c.Upstream.BaseURL) == "" {
		return errors.New("upstream.base_url is required")
	}
	if tz := strings.TrimSpace(c.Upstream.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("upstream.timezone: %w", err)
		}
	}
	for id, club := range c.Upstream.Clubs {
		if _, err := strconv.ParseInt(id, 10, 64); err != nil {
			return fmt.Errorf("upstream.clubs: key %q is not a club id", id)
		}
		if tz := strings.TrimSpace(club.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				return fmt.Errorf("upstream.clubs[%s].timezone: %w", id, err)
			}
		}
	}
	for _, d := range []struct{ path, raw string }{
		{"telegram.send_timeout", c.Telegram.SendTimeout},
		{"telegram.send_backoff", c.Telegram.SendBackoff},
		{"storage.busy_timeout", c.Storage.BusyTimeout},
		{"upstream.timeout", c.Upstream.Timeout},
		{"upstream.retry.base", c.Upstream.Retry.Base},
		{"upstream.retry.max_delay", c.Upstream.Retry.MaxDelay},
		{"monitor.lookahead", c.Monitor.Lookahead},
		{"monitor.fetch_timeout", c.Monitor.FetchTimeout},
		{"monitor.dispatch_timeout", c.Monitor.DispatchTimeout},
		{"monitor.ledger_retention", c.Monitor.LedgerRetention},
	} {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			return err
		}
	}

	// The catalog tolerates staleness; refreshing it as often as (or more
	// often than) the availability poll is a misconfiguration. Best effort:
	// only @every descriptors carry a comparable interval.
	cycleSpec := strings.TrimSpace(c.Monitor.CycleSpec)
	if cycleSpec == "" {
		cycleSpec = DefaultCycleSpec
	}
	refreshSpec := strings.TrimSpace(c.Catalog.RefreshSpec)
	if refreshSpec == "" {
		refreshSpec = DefaultRefreshSpec
	}
	if cycle, ok := everyInterval(cycleSpec); ok {
		if refresh, ok := everyInterval(refreshSpec); ok && refresh <= cycle {
			return fmt.Errorf("catalog.refresh_spec (%s) must be longer than monitor.cycle_spec (%s)", refreshSpec, cycleSpec)
		}
	}
	return nil
}

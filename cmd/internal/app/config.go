package app

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	v1 "battleships/contracts/battle/v1"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	ServerURL string
	Origin    string

	LogLevel  string
	LogFormat string
	// NoColor disables ANSI colors in the pretty log format.
	NoColor bool

	DialTimeout    time.Duration
	WriteTimeout   time.Duration
	RequestTimeout time.Duration

	// InviteBaseURL is the page the invite link points at; the game id is appended as a fragment.
	InviteBaseURL string

	// MetricsAddr enables the Prometheus /metrics endpoint when set.
	MetricsAddr string

	Size int
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		ServerURL: EnvString("SERVER_URL", "ws://127.0.0.1:8080/ws"),
		Origin:    EnvString("ORIGIN", ""),

		LogLevel:  EnvString("LOG_LEVEL", "info"),
		LogFormat: EnvString("LOG_FORMAT", "pretty"),
		NoColor:   EnvBool("NO_COLOR", false),

		DialTimeout:    EnvDuration("DIAL_TIMEOUT", 5*time.Second),
		WriteTimeout:   EnvDuration("WRITE_TIMEOUT", 5*time.Second),
		RequestTimeout: EnvDuration("REQUEST_TIMEOUT", 15*time.Second),

		InviteBaseURL: EnvString("INVITE_BASE_URL", "http://127.0.0.1:8080/"),
		MetricsAddr:   EnvString("METRICS_ADDR", ""),

		Size: EnvInt("SIZE", v1.DefaultSettings().Size),
	}
}

// Validate reports configuration that cannot work.
func (c Config) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return fmt.Errorf("config: server url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("config: server url must use ws or wss, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("config: server url without host")
	}
	switch c.LogFormat {
	case "pretty", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", c.LogFormat)
	}
	if c.Size <= 0 {
		return fmt.Errorf("config: size must be positive")
	}
	return nil
}

// ParseShipsSchema parses "length:count" pairs, e.g. "1:4,2:3,3:2,4:1".
func ParseShipsSchema(s string) (map[int]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty ships schema")
	}

	out := make(map[int]int)
	for _, part := range strings.Split(s, ",") {
		l, c, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok {
			return nil, fmt.Errorf("ships schema: %q is not length:count", part)
		}
		length, err := strconv.Atoi(strings.TrimSpace(l))
		if err != nil || length <= 0 {
			return nil, fmt.Errorf("ships schema: bad length %q", l)
		}
		count, err := strconv.Atoi(strings.TrimSpace(c))
		if err != nil || count < 0 {
			return nil, fmt.Errorf("ships schema: bad count %q", c)
		}
		out[length] += count
	}
	return out, nil
}

// FormatShipsSchema is the inverse of ParseShipsSchema with lengths ascending.
func FormatShipsSchema(schema map[int]int) string {
	lengths := make([]int, 0, len(schema))
	for l := range schema {
		lengths = append(lengths, l)
	}
	sort.Ints(lengths)

	parts := make([]string, 0, len(lengths))
	for _, l := range lengths {
		parts = append(parts, fmt.Sprintf("%d:%d", l, schema[l]))
	}
	return strings.Join(parts, ",")
}

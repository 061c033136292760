package config

import (
	"fmt"
	"net"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/saveenergy/connflurry/internal/logging"
)

const (
	DefaultPort        = "80"
	DefaultConcurrency = 1
	DefaultTotal       = 1
	DefaultStaleAfter  = 5 * time.Second
	DefaultTickTimeout = 10 * time.Millisecond
	DefaultPayload     = "GET"

	MaxConcurrency = 1 << 20
)

type Config struct {
	Host        string `yaml:"host,omitempty"`
	Port        string `yaml:"port,omitempty"`
	Concurrency int    `yaml:"concurrency,omitempty"`
	Total       uint64 `yaml:"total,omitempty"`
	Verbose     bool   `yaml:"verbose,omitempty"`

	// BindAddresses are the local source addresses rotated across attempts.
	// Empty means the wildcard address of the target's family.
	BindAddresses []string `yaml:"bind_addresses,omitempty"`

	StaleAfter  time.Duration `yaml:"stale_after,omitempty"`
	TickTimeout time.Duration `yaml:"tick_timeout,omitempty"`
	Timeout     time.Duration `yaml:"timeout,omitempty"`
	Payload     string        `yaml:"payload,omitempty"`

	LogLevel       string `yaml:"log_level,omitempty"`
	JSON           bool   `yaml:"json,omitempty"`
	NoColor        bool   `yaml:"no_color,omitempty"`
	MonitorAddress string `yaml:"monitor_address,omitempty"`
	ResultsDB      string `yaml:"results_db,omitempty"`
	MaxResults     int    `yaml:"max_results,omitempty"`
}

func DefaultConfig() *Config {
	return &Config{
		Port:        DefaultPort,
		Concurrency: DefaultConcurrency,
		Total:       DefaultTotal,
		StaleAfter:  DefaultStaleAfter,
		TickTimeout: DefaultTickTimeout,
		Payload:     DefaultPayload,
		LogLevel:    "info",
		MaxResults:  10000,
	}
}

// LoadFile overlays non-zero values from a YAML file onto c.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	c.overlay(&file)
	return nil
}

func (c *Config) overlay(o *Config) {
	if o.Host != "" {
		c.Host = o.Host
	}
	if o.Port != "" {
		c.Port = o.Port
	}
	if o.Concurrency > 0 {
		c.Concurrency = o.Concurrency
	}
	if o.Total > 0 {
		c.Total = o.Total
	}
	if o.Verbose {
		c.Verbose = true
	}
	if len(o.BindAddresses) > 0 {
		c.BindAddresses = append([]string(nil), o.BindAddresses...)
	}
	if o.StaleAfter > 0 {
		c.StaleAfter = o.StaleAfter
	}
	if o.TickTimeout > 0 {
		c.TickTimeout = o.TickTimeout
	}
	if o.Timeout > 0 {
		c.Timeout = o.Timeout
	}
	if o.Payload != "" {
		c.Payload = o.Payload
	}
	if o.LogLevel != "" {
		c.LogLevel = o.LogLevel
	}
	if o.JSON {
		c.JSON = true
	}
	if o.NoColor {
		c.NoColor = true
	}
	if o.MonitorAddress != "" {
		c.MonitorAddress = o.MonitorAddress
	}
	if o.ResultsDB != "" {
		c.ResultsDB = o.ResultsDB
	}
	if o.MaxResults > 0 {
		c.MaxResults = o.MaxResults
	}
}

func (c *Config) LoadFromEnv() error {
	if host := os.Getenv("FLURRY_HOST"); host != "" {
		c.Host = host
	}
	if port := os.Getenv("FLURRY_PORT"); port != "" {
		c.Port = port
	}
	if v := os.Getenv("FLURRY_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid FLURRY_CONCURRENCY %q: must be a positive integer", v)
		}
		c.Concurrency = n
	}
	if v := os.Getenv("FLURRY_TOTAL"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil || n == 0 {
			return fmt.Errorf("invalid FLURRY_TOTAL %q: must be a positive integer", v)
		}
		c.Total = n
	}
	if v := os.Getenv("FLURRY_VERBOSE"); v == "true" || v == "1" {
		c.Verbose = true
	}
	if v := os.Getenv("FLURRY_BIND_ADDRESSES"); v != "" {
		c.BindAddresses = SplitList(v)
	}
	if v := os.Getenv("FLURRY_STALE_AFTER"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return fmt.Errorf("invalid FLURRY_STALE_AFTER %q: must be a positive duration (e.g. 5s)", v)
		}
		c.StaleAfter = d
	}
	if v := os.Getenv("FLURRY_TICK_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return fmt.Errorf("invalid FLURRY_TICK_TIMEOUT %q: must be a positive duration (e.g. 10ms)", v)
		}
		c.TickTimeout = d
	}
	if v := os.Getenv("FLURRY_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return fmt.Errorf("invalid FLURRY_TIMEOUT %q: must be a duration (e.g. 60s)", v)
		}
		c.Timeout = d
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("FLURRY_MONITOR_ADDR"); v != "" {
		c.MonitorAddress = v
	}
	if v := os.Getenv("FLURRY_RESULTS_DB"); v != "" {
		c.ResultsDB = v
	}
	if os.Getenv("NO_COLOR") != "" {
		c.NoColor = true
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("hostname is required")
	}
	if p, err := strconv.Atoi(c.Port); err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("invalid port %q: must be 1-65535", c.Port)
	}
	if c.Concurrency <= 0 || c.Concurrency > MaxConcurrency {
		return fmt.Errorf("concurrency must be 1-%d", MaxConcurrency)
	}
	if c.Total == 0 {
		return fmt.Errorf("total must be > 0")
	}
	if c.StaleAfter <= 0 {
		return fmt.Errorf("stale-after must be > 0")
	}
	if c.TickTimeout <= 0 || c.TickTimeout > c.StaleAfter {
		return fmt.Errorf("tick timeout must be > 0 and <= stale-after")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must be >= 0")
	}
	if c.Payload == "" {
		return fmt.Errorf("payload cannot be empty")
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if _, err := c.ParsedBindAddresses(); err != nil {
		return err
	}
	if c.ResultsDB != "" && c.MaxResults <= 0 {
		return fmt.Errorf("max results must be > 0")
	}
	return nil
}

// ParsedBindAddresses returns the bind list as addresses, rejecting a mix
// of IPv4 and IPv6 since every socket in a run shares the target's family.
func (c *Config) ParsedBindAddresses() ([]netip.Addr, error) {
	addrs := make([]netip.Addr, 0, len(c.BindAddresses))
	for _, entry := range c.BindAddresses {
		a, err := netip.ParseAddr(strings.TrimSpace(entry))
		if err != nil {
			return nil, fmt.Errorf("invalid bind address %q: %w", entry, err)
		}
		a = a.Unmap()
		if len(addrs) > 0 && addrs[0].Is4() != a.Is4() {
			return nil, fmt.Errorf("bind addresses mix IPv4 and IPv6: %s, %s", addrs[0], a)
		}
		addrs = append(addrs, a)
	}
	return addrs, nil
}

func (c *Config) Level() logging.Level {
	if c.Verbose {
		return logging.LevelDebug
	}
	level, _ := logging.ParseLevel(c.LogLevel)
	return level
}

func (c *Config) TargetAddress() string {
	return net.JoinHostPort(c.Host, c.Port)
}

func SplitList(s string) []string {
	entries := strings.Split(s, ",")
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		if v := strings.TrimSpace(entry); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Package config loads the bridge configuration from flags and environment.
package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nyaruka/phonenumbers"
)

// Config holds the bridge configuration
type Config struct {
	// Listeners
	HTTPAddr       string // Transfer endpoint, diagnostics, control-plane websocket
	ControlPath    string // Websocket path the control plane connects to
	GRPCHealthAddr string // gRPC health service; empty disables it
	LogLevel       string

	// Trunks
	PSTNTrunk  string // Carrier used when forwarding agent calls to the PSTN
	AgentTrunk string // Carrier used when forwarding PSTN calls to the voice agent

	// TrustedUsername identifies calls that originate from the voice-agent platform
	// (matched against the user part of X-Authenticated-User).
	TrustedUsername string

	// Overrides
	OverrideCallerID     string
	OverrideDialedNumber string
	CountryCode          string // ISO region ("US") or calling code ("1")
	TransferAnnouncement string // Spoken before the REFER; empty disables it
	TransferReferredBy   string // Optional Referred-By for transfers

	// Transfer endpoint
	SignatureSecret   string
	SignatureHeader   string
	BaseCallbackURL   string
	TransferRateLimit float64 // requests per second
	TransferRateBurst int

	// Destination directory; empty uses the built-in table
	DirectoryPath string

	// Session lifecycle
	KeepAliveInterval time.Duration
	TombstoneTTL      time.Duration
}

// Load loads configuration from command line flags and environment variables
func Load() *Config {
	cfg := &Config{
		ControlPath:       "/voicebridge",
		SignatureHeader:   "X-Retell-Signature",
		KeepAliveInterval: 25 * time.Second,
		TombstoneTTL:      5 * time.Minute,
		TransferRateLimit: 20,
		TransferRateBurst: 40,
	}

	flag.StringVar(&cfg.HTTPAddr, "http", "0.0.0.0:3000", "HTTP listen address")
	flag.StringVar(&cfg.GRPCHealthAddr, "grpc-health", "", "gRPC health listen address (disabled if empty)")
	flag.StringVar(&cfg.LogLevel, "loglevel", "info", "Log level (debug, info, warn, error)")
	flag.StringVar(&cfg.DirectoryPath, "directory", "", "Path to destinations YAML file (built-in table if empty)")
	flag.DurationVar(&cfg.KeepAliveInterval, "keepalive", cfg.KeepAliveInterval, "Control-plane websocket ping interval")

	flag.Parse()

	cfg.applyEnv(os.Getenv)
	return cfg
}

// applyEnv overrides fields from the environment.
func (c *Config) applyEnv(getenv func(string) string) {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}

	if port := getenv("WS_PORT"); port != "" {
		if _, err := strconv.Atoi(port); err == nil {
			c.HTTPAddr = "0.0.0.0:" + port
		}
	}
	str("HTTP_ADDR", &c.HTTPAddr)
	str("CONTROL_PATH", &c.ControlPath)
	str("GRPC_HEALTH_ADDR", &c.GRPCHealthAddr)
	str("LOGLEVEL", &c.LogLevel)
	str("PSTN_CARRIER", &c.PSTNTrunk)
	str("AGENT_CARRIER", &c.AgentTrunk)
	str("RETELL_CARRIER", &c.AgentTrunk)
	str("SIP_USERNAME", &c.TrustedUsername)
	str("OVERRIDE_CALLER_ID", &c.OverrideCallerID)
	str("OVERRIDE_DIALED_NUMBER", &c.OverrideDialedNumber)
	str("COUNTRY_CODE", &c.CountryCode)
	str("TRANSFER_ANNOUNCEMENT", &c.TransferAnnouncement)
	str("TRANSFER_REFERRED_BY", &c.TransferReferredBy)
	str("RETELL_API_KEY", &c.SignatureSecret)
	str("SIGNATURE_SECRET", &c.SignatureSecret)
	str("SIGNATURE_HEADER", &c.SignatureHeader)
	str("HTTP_BASE_URL", &c.BaseCallbackURL)
	str("DIRECTORY_PATH", &c.DirectoryPath)

	if v := getenv("KEEPALIVE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.KeepAliveInterval = d
		}
	}
	if v := getenv("TOMBSTONE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.TombstoneTTL = d
		}
	}
	if v := getenv("TRANSFER_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.TransferRateLimit = f
		}
	}
	if v := getenv("TRANSFER_RATE_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.TransferRateBurst = n
		}
	}
}

// Validate checks required settings. An unrecognised country code is not fatal:
// it is logged and cleared so calls proceed without normalization.
func (c *Config) Validate() error {
	var errs []error
	if c.SignatureSecret == "" {
		errs = append(errs, errors.New("signature secret is required (RETELL_API_KEY)"))
	}
	if c.AgentTrunk == "" {
		errs = append(errs, errors.New("agent trunk is required (AGENT_CARRIER)"))
	}
	if c.KeepAliveInterval <= 0 {
		errs = append(errs, fmt.Errorf("keep-alive interval must be positive, got %s", c.KeepAliveInterval))
	}
	if !strings.HasPrefix(c.ControlPath, "/") {
		errs = append(errs, fmt.Errorf("control path must start with '/', got %q", c.ControlPath))
	}
	if c.TrustedUsername != "" && c.PSTNTrunk == "" {
		slog.Warn("[Config] Trusted username set without PSTN trunk; agent-originated calls will be treated as PSTN calls")
	}

	if c.CountryCode != "" {
		region, ok := NormalizeCountryCode(c.CountryCode)
		if !ok {
			slog.Error("[Config] Invalid country code, E.164 normalization disabled", "country_code", c.CountryCode)
			c.CountryCode = ""
		} else {
			c.CountryCode = region
		}
	}

	return errors.Join(errs...)
}

// NormalizeCountryCode accepts an ISO 3166 region ("US", "gb") or a calling
// code ("1", "+44") and returns the region phonenumbers expects.
func NormalizeCountryCode(code string) (string, bool) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", false
	}
	digits := strings.TrimPrefix(code, "+")
	if n, err := strconv.Atoi(digits); err == nil {
		region := phonenumbers.GetRegionCodeForCountryCode(n)
		if region == "" || region == phonenumbers.UNKNOWN_REGION {
			return "", false
		}
		return region, true
	}
	region := strings.ToUpper(code)
	if phonenumbers.GetCountryCodeForRegion(region) == 0 {
		return "", false
	}
	return region, true
}

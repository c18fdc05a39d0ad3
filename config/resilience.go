package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ResilienceConfig centralizes upstream protection and logging settings
type ResilienceConfig struct {
	// Circuit breaker settings, one breaker per upstream host
	CBFailureThreshold int           `yaml:"cb_failure_threshold"` // Number of failures before opening circuit
	CBTimeout          time.Duration `yaml:"cb_timeout"`           // Timeout before attempting to close circuit
	CBHalfOpenRequests int           `yaml:"cb_half_open_requests"`

	// Logging settings
	LogLevel string `yaml:"log_level"` // Log level: DEBUG, INFO, WARN, ERROR
}

var logLevels = map[string]bool{
	"DEBUG": true,
	"INFO":  true,
	"WARN":  true,
	"ERROR": true,
}

// DefaultResilienceConfig returns a ResilienceConfig with sensible defaults
func DefaultResilienceConfig() *ResilienceConfig {
	return &ResilienceConfig{
		CBFailureThreshold: 5,
		CBTimeout:          30 * time.Second,
		CBHalfOpenRequests: 1,
		LogLevel:           "INFO",
	}
}

// envParser is a helper for parsing environment variables with validation.
// Problems are collected so every bad variable is reported at once.
type envParser struct {
	errors []string
}

func (p *envParser) parseString(envName string, target *string) {
	if val := os.Getenv(envName); val != "" {
		*target = val
	}
}

// parseBool accepts the forms understood by strconv.ParseBool plus yes/no
func (p *envParser) parseBool(envName string, target *bool) {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(envName)))
	switch val {
	case "":
		return
	case "yes", "on":
		*target = true
		return
	case "no", "off":
		*target = false
		return
	}

	b, err := strconv.ParseBool(val)
	if err != nil {
		p.errors = append(p.errors, fmt.Sprintf("%s: must be a boolean", envName))
		return
	}
	*target = b
}

// parseDuration parses a duration environment variable, ensuring it's positive
func (p *envParser) parseDuration(envName string, target *time.Duration) {
	val := os.Getenv(envName)
	if val == "" {
		return
	}

	duration, err := time.ParseDuration(val)
	if err != nil {
		p.errors = append(p.errors, fmt.Sprintf("%s: invalid duration format (use '30s', '1m', etc.)", envName))
		return
	}
	if duration <= 0 {
		p.errors = append(p.errors, fmt.Sprintf("%s must be positive", envName))
		return
	}

	*target = duration
}

// parseInt parses an integer environment variable, ensuring it's positive
func (p *envParser) parseInt(envName string, target *int) {
	val := os.Getenv(envName)
	if val == "" {
		return
	}

	intVal, err := strconv.Atoi(val)
	if err != nil {
		p.errors = append(p.errors, fmt.Sprintf("%s: must be a valid integer", envName))
		return
	}
	if intVal <= 0 {
		p.errors = append(p.errors, fmt.Sprintf("%s must be positive", envName))
		return
	}

	*target = intVal
}

// parseByteSize parses a byte size environment variable, ensuring it's positive
func (p *envParser) parseByteSize(envName string, target *int) {
	val := os.Getenv(envName)
	if val == "" {
		return
	}

	size, err := parseByteSize(val)
	if err != nil {
		p.errors = append(p.errors, fmt.Sprintf("%s: %v", envName, err))
		return
	}
	if size <= 0 {
		p.errors = append(p.errors, fmt.Sprintf("%s must be positive", envName))
		return
	}

	*target = size
}

// parseEnum parses an upper-case enum environment variable
func (p *envParser) parseEnum(envName string, target *string, validValues map[string]bool) {
	p.parseNormalizedEnum(envName, target, validValues, strings.ToUpper)
}

// parseLowerEnum parses a lower-case enum environment variable
func (p *envParser) parseLowerEnum(envName string, target *string, validValues map[string]bool) {
	p.parseNormalizedEnum(envName, target, validValues, strings.ToLower)
}

func (p *envParser) parseNormalizedEnum(envName string, target *string, validValues map[string]bool, normalize func(string) string) {
	val := os.Getenv(envName)
	if val == "" {
		return
	}

	normalized := normalize(strings.TrimSpace(val))
	if !validValues[normalized] {
		validList := make([]string, 0, len(validValues))
		for k := range validValues {
			validList = append(validList, k)
		}
		sort.Strings(validList)
		p.errors = append(p.errors, fmt.Sprintf("%s must be one of: %s", envName, strings.Join(validList, ", ")))
		return
	}

	*target = normalized
}

// LoadFromEnv applies the resilience environment variables on top of base
// and returns an error if any value is invalid
func LoadFromEnv(base ResilienceConfig) (*ResilienceConfig, error) {
	cfg := base
	parser := &envParser{}

	parser.parseInt("CB_FAILURE_THRESHOLD", &cfg.CBFailureThreshold)
	parser.parseDuration("CB_TIMEOUT", &cfg.CBTimeout)
	parser.parseInt("CB_HALF_OPEN_REQUESTS", &cfg.CBHalfOpenRequests)
	parser.parseEnum("LOG_LEVEL", &cfg.LogLevel, logLevels)

	if len(parser.errors) > 0 {
		return nil, fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(parser.errors, "\n  - "))
	}

	return &cfg, nil
}

// Validate performs additional validation on the configuration
func (c *ResilienceConfig) Validate() error {
	var errs []string

	if c.CBFailureThreshold <= 0 {
		errs = append(errs, "CBFailureThreshold must be positive")
	}
	if c.CBTimeout <= 0 {
		errs = append(errs, "CBTimeout must be positive")
	}
	if c.CBHalfOpenRequests <= 0 {
		errs = append(errs, "CBHalfOpenRequests must be positive")
	}
	if !logLevels[c.LogLevel] {
		errs = append(errs, "LogLevel must be one of: DEBUG, INFO, WARN, ERROR")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// parseByteSize parses a byte size string (e.g., "2MB", "1024", "1.5GB")
// Supports: bytes (no suffix), KB, MB, GB
func parseByteSize(s string) (int, error) {
	s = strings.TrimSpace(strings.ToUpper(s))

	if val, err := strconv.Atoi(s); err == nil {
		return val, nil
	}

	// Longer suffixes first so "B" does not match "MB"
	suffixes := []struct {
		suffix     string
		multiplier int
	}{
		{"GB", 1024 * 1024 * 1024},
		{"MB", 1024 * 1024},
		{"KB", 1024},
		{"B", 1},
	}

	for _, item := range suffixes {
		numStr, ok := strings.CutSuffix(s, item.suffix)
		if !ok {
			continue
		}
		numStr = strings.TrimSpace(numStr)

		val, err := strconv.ParseFloat(numStr, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid numeric value: %s", numStr)
		}
		if val < 0 {
			return 0, fmt.Errorf("negative values are not allowed")
		}
		return int(val * float64(item.multiplier)), nil
	}

	return 0, fmt.Errorf("invalid byte size format (use '2MB', '1024', '1.5GB', etc.)")
}

package config

import "fmt"

// Validate enforces the configuration invariants. It is called once by Load
// and again by the settings API before accepting an update.
func Validate(config *Config) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := validateService(config); err != nil {
		return fmt.Errorf("service validation failed: %w", err)
	}

	if err := validateSubmit(config); err != nil {
		return fmt.Errorf("submit validation failed: %w", err)
	}

	if err := validateCapture(config); err != nil {
		return fmt.Errorf("capture validation failed: %w", err)
	}

	if err := validateFields(config); err != nil {
		return fmt.Errorf("field validation failed: %w", err)
	}

	if err := validateAuth(config); err != nil {
		return fmt.Errorf("auth validation failed: %w", err)
	}

	return nil
}

func validateService(config *Config) error {
	if len(config.Service.Versions) == 0 {
		return fmt.Errorf("at least one protocol version must be configured")
	}
	if _, ok := config.Service.Versions[config.Service.SelectedVersion]; !ok {
		return fmt.Errorf("selected version %q is not configured", config.Service.SelectedVersion)
	}
	return nil
}

func validateSubmit(config *Config) error {
	switch config.Submit.Mode {
	case SubmitAuto, SubmitManual:
	default:
		return fmt.Errorf("submit mode must be %q or %q, got %q", SubmitAuto, SubmitManual, config.Submit.Mode)
	}

	if config.Submit.AutoDelaySeconds < 1 || config.Submit.AutoDelaySeconds > 30 {
		return fmt.Errorf("auto delay must be in [1, 30] seconds, got %d", config.Submit.AutoDelaySeconds)
	}
	return nil
}

func validateCapture(config *Config) error {
	if config.Capture.DigitLength < 1 || config.Capture.DigitLength > 32 {
		return fmt.Errorf("digit length must be in [1, 32], got %d", config.Capture.DigitLength)
	}
	if config.Capture.BufferTimeoutSeconds <= 0 {
		return fmt.Errorf("buffer timeout must be positive, got %d", config.Capture.BufferTimeoutSeconds)
	}
	if config.Capture.EventBufferSize <= 0 {
		return fmt.Errorf("event buffer size must be positive, got %d", config.Capture.EventBufferSize)
	}
	if config.Capture.SerialPort != "" && config.Capture.SerialBaud <= 0 {
		return fmt.Errorf("serial baud must be positive, got %d", config.Capture.SerialBaud)
	}
	return nil
}

func validateFields(config *Config) error {
	seen := make(map[string]struct{}, len(config.Fields))
	for _, seed := range config.Fields {
		if seed.ParamName == "" {
			return fmt.Errorf("field %q has no param name", seed.Name)
		}
		if _, dup := seen[seed.ParamName]; dup {
			return fmt.Errorf("duplicate field param name %q", seed.ParamName)
		}
		seen[seed.ParamName] = struct{}{}
	}
	return nil
}

func validateAuth(config *Config) error {
	if !config.Auth.Enabled {
		return nil
	}
	switch config.Auth.Algorithm {
	case "HS256":
		if config.Auth.Secret == "" {
			return fmt.Errorf("HS256 auth requires a secret")
		}
	case "RS256":
		if config.Auth.PublicKeyPEM == "" && config.Auth.JWKSURL == "" {
			return fmt.Errorf("RS256 auth requires a public key or JWKS URL")
		}
	default:
		return fmt.Errorf("unsupported auth algorithm %q", config.Auth.Algorithm)
	}
	return nil
}

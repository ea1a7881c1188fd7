package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// DefaultFile is the settings file looked up when CCD_CONFIG is unset.
const DefaultFile = "ccd_settings.json"

// Load merges built-in defaults + the optional settings file + CCD_* env
// overrides, then validates the result.
func Load() (*Config, error) {
	config := Default()

	path := GetEnvVar("CCD_CONFIG", DefaultFile)
	if _, err := os.Stat(path); err == nil {
		if err := loadFromFile(path, config); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	} else if os.Getenv("CCD_CONFIG") != "" {
		// An explicitly named file must exist.
		return nil, fmt.Errorf("settings file %s: %w", path, err)
	}

	applyEnvOverrides(config)

	if err := Validate(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// loadFromFile decodes a JSON settings file over the given config, so keys
// absent from the file keep their current values.
func loadFromFile(filename string, config *Config) error {
	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	if err := json.NewDecoder(file).Decode(config); err != nil {
		return err
	}
	return nil
}

// applyEnvOverrides applies CCD_* environment variables to the config.
func applyEnvOverrides(config *Config) {
	if val := os.Getenv("CCD_ADDR"); val != "" {
		config.Addr = val
	}

	if val := os.Getenv("CCD_SELECTED_VERSION"); val != "" {
		config.Service.SelectedVersion = val
	}

	if val := os.Getenv("CCD_VERIFY_ENABLED"); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			config.Service.EnableVerification = enabled
		}
	}

	if val := os.Getenv("CCD_SUBMIT_MODE"); val != "" {
		config.Submit.Mode = val
	}

	if val := os.Getenv("CCD_AUTO_DELAY"); val != "" {
		if delay, err := strconv.Atoi(val); err == nil {
			config.Submit.AutoDelaySeconds = delay
		}
	}

	if val := os.Getenv("CCD_DIGIT_LENGTH"); val != "" {
		if length, err := strconv.Atoi(val); err == nil {
			config.Capture.DigitLength = length
		}
	}

	if val := os.Getenv("CCD_REQUIRE_ENTER"); val != "" {
		if required, err := strconv.ParseBool(val); err == nil {
			config.Capture.RequireEnter = required
		}
	}

	if val := os.Getenv("CCD_DEVICE_KEYWORDS"); val != "" {
		var keywords []string
		for _, kw := range strings.Split(val, ";") {
			if kw = strings.TrimSpace(kw); kw != "" {
				keywords = append(keywords, kw)
			}
		}
		config.Capture.DeviceKeywords = keywords
	}

	if val := os.Getenv("CCD_SERIAL_PORT"); val != "" {
		config.Capture.SerialPort = val
	}

	if val := os.Getenv("CCD_SERIAL_BAUD"); val != "" {
		if baud, err := strconv.Atoi(val); err == nil {
			config.Capture.SerialBaud = baud
		}
	}

	if val := os.Getenv("CCD_AUTH_SECRET"); val != "" {
		config.Auth.Enabled = true
		config.Auth.Secret = val
	}

	if val := os.Getenv("CCD_AUTH_PUBLIC_KEY"); val != "" {
		config.Auth.Enabled = true
		config.Auth.Algorithm = "RS256"
		config.Auth.PublicKeyPEM = val
	}
}

// GetEnvVar returns the value of an environment variable with a default.
func GetEnvVar(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvInt returns the value of an environment variable as an int with a default.
func GetEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// GetEnvBool returns the value of an environment variable as a bool with a default.
func GetEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

package config

import "time"

// Protocol version identifiers. The backend integration profile is selected
// globally by ID; a switch takes effect on the next card.
const (
	VersionDebug     = "v0"
	VersionStandard  = "v1"
	VersionCardFirst = "v2"
)

// Submission modes for the confirmation step.
const (
	SubmitManual = "manual"
	SubmitAuto   = "auto"
)

// VersionConfig holds the endpoints of one backend protocol version.
type VersionConfig struct {
	VerifyURL string `json:"verifyUrl"`
	BindURL   string `json:"bindUrl"`
	DebugURL  string `json:"debugUrl,omitempty"`
}

// ServiceConfig selects the backend protocol version and verification policy.
type ServiceConfig struct {
	SelectedVersion    string                   `json:"selectedVersion"`
	Versions           map[string]VersionConfig `json:"versions"`
	EnableVerification bool                     `json:"enableVerification"`
	PopupSuccess       bool                     `json:"popupSuccess"`
	PopupFailure       bool                     `json:"popupFailure"`
}

// Selected returns the configuration of the currently selected version.
func (s ServiceConfig) Selected() VersionConfig {
	return s.Versions[s.SelectedVersion]
}

// SubmitConfig controls the confirmation step.
type SubmitConfig struct {
	Mode             string `json:"mode"`
	AutoDelaySeconds int    `json:"autoDelaySeconds"`
}

// CaptureConfig controls the keystroke and radio capture sources.
type CaptureConfig struct {
	HIDEnabled           bool     `json:"hidEnabled"`
	DeviceKeywords       []string `json:"deviceKeywords"`
	DigitLength          int      `json:"digitLength"`
	RequireEnter         bool     `json:"requireEnter"`
	BufferTimeoutSeconds int      `json:"bufferTimeoutSeconds"`
	SerialPort           string   `json:"serialPort"`
	SerialBaud           int      `json:"serialBaud"`
	EventBufferSize      int      `json:"eventBufferSize"`
}

// BufferTimeout returns the keystroke buffer idle timeout as a duration.
func (c CaptureConfig) BufferTimeout() time.Duration {
	return time.Duration(c.BufferTimeoutSeconds) * time.Second
}

// FieldSeed defines one submission field as configured. The fields package
// turns seeds into the live registry.
type FieldSeed struct {
	ID           string `json:"id,omitempty"`
	Name         string `json:"name"`
	ParamName    string `json:"paramName"`
	Enabled      bool   `json:"enabled"`
	DefaultValue string `json:"defaultValue,omitempty"`
	SampleValue  string `json:"sampleValue,omitempty"`
	NumericOnly  bool   `json:"numericOnly,omitempty"`
	Builtin      bool   `json:"builtin,omitempty"`
}

// AuthConfig configures the operator API token verification.
type AuthConfig struct {
	Enabled      bool   `json:"enabled"`
	Algorithm    string `json:"algorithm"` // "HS256" or "RS256"
	Secret       string `json:"secret,omitempty"`
	PublicKeyPEM string `json:"publicKeyPem,omitempty"`
	JWKSURL      string `json:"jwksUrl,omitempty"`
}

// Config is the full daemon configuration.
type Config struct {
	Addr                    string          `json:"addr"`
	Service                 ServiceConfig   `json:"service"`
	Submit                  SubmitConfig    `json:"submit"`
	Capture                 CaptureConfig   `json:"capture"`
	Fields                  []FieldSeed     `json:"fields"`
	Auth                    AuthConfig      `json:"auth"`
	TransportTimeoutSeconds int             `json:"transportTimeoutSeconds"`
}

// TransportTimeout returns the per-request backend call timeout.
func (c *Config) TransportTimeout() time.Duration {
	return time.Duration(c.TransportTimeoutSeconds) * time.Second
}

// Default returns the built-in configuration baseline.
func Default() *Config {
	return &Config{
		Addr: ":8000",
		Service: ServiceConfig{
			SelectedVersion: VersionStandard,
			Versions: map[string]VersionConfig{
				VersionDebug:     {},
				VersionStandard:  {},
				VersionCardFirst: {},
			},
			EnableVerification: true,
			PopupSuccess:       true,
			PopupFailure:       true,
		},
		Submit: SubmitConfig{
			Mode:             SubmitAuto,
			AutoDelaySeconds: 5,
		},
		Capture: CaptureConfig{
			HIDEnabled:           true,
			DeviceKeywords:       []string{"Bluetooth", "Keyboard"},
			DigitLength:          10,
			RequireEnter:         false,
			BufferTimeoutSeconds: 2,
			SerialBaud:           9600,
			EventBufferSize:      16,
		},
		Fields:                  DefaultFields(),
		Auth:                    AuthConfig{Enabled: false, Algorithm: "HS256"},
		TransportTimeoutSeconds: 10,
	}
}

// DefaultFields returns the seed field set. Param names are the wire names
// the backend protocols expect; IDs are assigned by the fields package when
// a seed has none.
func DefaultFields() []FieldSeed {
	return []FieldSeed{
		{Name: "Card ID", ParamName: "RFID", Enabled: true, Builtin: true},
		{Name: "Treatment time", ParamName: "Treatime", Enabled: true, Builtin: true},
		{Name: "Unique ID", ParamName: "Number1", Enabled: true, SampleValue: "ID001"},
		{Name: "Serial number", ParamName: "LSNumber2", Enabled: true, SampleValue: "SN001"},
		{Name: "Patient name", ParamName: "DJName", Enabled: true},
		{Name: "Age", ParamName: "Age", Enabled: true, NumericOnly: true},
		{Name: "Gender", ParamName: "Sex", Enabled: true},
		{Name: "Doctor", ParamName: "docName", Enabled: true},
		{Name: "Nurse", ParamName: "auxiliaryNurse", Enabled: true},
		{Name: "Treatment room", ParamName: "examiningTable", Enabled: true},
		{Name: "Infectivity", ParamName: "infectivity", Enabled: true, DefaultValue: "1"},
	}
}

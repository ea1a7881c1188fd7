// Package config loads and validates the daemon settings.
//
// Settings come from three layers, later layers winning: built-in defaults,
// the JSON settings file (ccd_settings.json), and CCD_* environment
// variables. The loaded Config is read-only for the rest of the process;
// the orchestrator snapshots the service section once per workflow run so a
// mid-flight change can never split one run across two protocol versions.
package config

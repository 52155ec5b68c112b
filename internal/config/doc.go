// Package config loads settings from config.yaml and FIELDTRACK_* environment
// variables and initializes the global logger.
package config

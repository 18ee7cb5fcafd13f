// Package config loads kabu market configuration from YAML or TOML files.
package config

// Package config holds the service configuration: defaults, loading from
// viper, process environment overrides and validation.
package config

// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable interpolation,
// which is how the auth token and database password are normally supplied.
// See configs/liveagent.example.yaml for a complete file.
package config

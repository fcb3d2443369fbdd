// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable interpolation,
// which keeps credentials such as api.password and archive.database.password out
// of the file itself. See configs/notifyd.example.yaml for the full schema.
package config

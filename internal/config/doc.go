// Package config loads the host configuration with viper: built-in defaults,
// then an optional YAML file, then TASKPUMP_* environment variables (for
// example TASKPUMP_DATABASE_URL for database.url). The merged result is
// checked with validator struct tags before it is returned.
package config

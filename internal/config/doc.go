// Package config defines the keepstore configuration.
//
//   - spec.go: Config struct definition
//   - default.go: default values
//   - verify.go: validation
//
// Values are loaded through internal/infra/confloader from a YAML file,
// KEEPSTORE_ environment variables and command-line flags.
package config

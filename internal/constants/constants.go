// Package constants defines shared configuration constants.
package constants

var (
	ConfigFile = "config.yaml"

	DefaultDir = ".devbridge"

	// EnvPrefix prefixes every environment variable the bridge reads.
	EnvPrefix = "DEVBRIDGE_"

	// EnvConfigPath overrides the config file location.
	EnvConfigPath = EnvPrefix + "CONFIG"
)

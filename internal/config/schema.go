package config

import "time"

// Config is the bridge configuration stored at ~/.devbridge/config.yaml.
type Config struct {
	Dial      DialConfig      `yaml:"dial" json:"dial"`
	Serve     ServeConfig     `yaml:"serve" json:"serve"`
	Bootstrap BootstrapConfig `yaml:"bootstrap" json:"bootstrap"`
	Console   ConsoleConfig   `yaml:"console" json:"console"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
}

// DialConfig contains connect-mode settings.
type DialConfig struct {
	Host             string        `yaml:"host" json:"host" env:"DEVBRIDGE_DIAL_HOST"`
	Port             int           `yaml:"port" json:"port" env:"DEVBRIDGE_DIAL_PORT"`
	Path             string        `yaml:"path" json:"path" env:"DEVBRIDGE_DIAL_PATH"`
	Retries          int           `yaml:"retries" json:"retries" env:"DEVBRIDGE_DIAL_RETRIES"` // Initial dial attempts
	RetryBackoff     time.Duration `yaml:"retry_backoff" json:"retry_backoff" env:"DEVBRIDGE_DIAL_RETRY_BACKOFF"`
	MaxRetryBackoff  time.Duration `yaml:"max_retry_backoff" json:"max_retry_backoff" env:"DEVBRIDGE_DIAL_MAX_RETRY_BACKOFF"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout" json:"handshake_timeout" env:"DEVBRIDGE_HANDSHAKE_TIMEOUT"`
}

// ServeConfig contains serve-mode settings.
type ServeConfig struct {
	Host         string        `yaml:"host" json:"host" env:"DEVBRIDGE_SERVE_HOST"` // Empty binds all interfaces
	Port         int           `yaml:"port" json:"port" env:"DEVBRIDGE_SERVE_PORT"`
	Path         string        `yaml:"path,omitempty" json:"path,omitempty" env:"DEVBRIDGE_SERVE_PATH"` // Empty accepts any path
	RestartDelay time.Duration `yaml:"restart_delay" json:"restart_delay" env:"DEVBRIDGE_RESTART_DELAY"`
}

// BootstrapConfig selects the script sent to the target on attach.
type BootstrapConfig struct {
	// Path to a JavaScript file. Empty uses the embedded backend.
	Path string `yaml:"path,omitempty" json:"path,omitempty" env:"DEVBRIDGE_BOOTSTRAP"`
}

// ConsoleConfig controls the terminal front end.
type ConsoleConfig struct {
	Echo        bool          `yaml:"echo" json:"echo" env:"DEVBRIDGE_ECHO"`
	SettleDelay time.Duration `yaml:"settle_delay" json:"settle_delay" env:"DEVBRIDGE_SETTLE_DELAY"`
}

// LoggingConfig controls zerolog output.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level" env:"DEVBRIDGE_LOG_LEVEL"`
	Pretty *bool  `yaml:"pretty,omitempty" json:"pretty,omitempty" env:"DEVBRIDGE_LOG_PRETTY"` // Unset: pretty on a terminal
}

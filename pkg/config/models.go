package config

import "time"

type Config struct {
	Server    ServerConfig
	Transport TransportConfig
	Presence  PresenceConfig
	Log       LogConfig
}

type ServerConfig struct {
	Address         string
	Auth            AuthConfig
	ConnectionLimit ConnectionLimitConfig `mapstructure:"connectionLimit"`
}

type AuthConfig struct {
	JWTSecret     string        `mapstructure:"jwtSecret"`
	DirectoryURL  string        `mapstructure:"directoryURL"`
	VerifyTimeout time.Duration `mapstructure:"verifyTimeout"`
}

// ConnectionLimitConfig caps concurrent handshakes per client IP.
// MaxPerIP <= 0 disables the limit.
type ConnectionLimitConfig struct {
	MaxPerIP int `mapstructure:"maxPerIP"`
}

type TransportConfig struct {
	ReadTimeout time.Duration `mapstructure:"readTimeout"`
}

type PresenceConfig struct {
	SweepInterval time.Duration `mapstructure:"sweepInterval"`
	StaleAfter    time.Duration `mapstructure:"staleAfter"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

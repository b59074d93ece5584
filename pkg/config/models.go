package config

import "time"

type Config struct {
	Server    ServerConfig
	Transport TransportConfig
	Store     StoreConfig
	LogLevel  string `mapstructure:"logLevel"`
}

type ServerConfig struct {
	Address          string
	Auth             AuthConfig
	HandshakeTimeout time.Duration         `mapstructure:"handshakeTimeout"`
	ConnectionLimit  ConnectionLimitConfig `mapstructure:"connectionLimit"`
}

type AuthConfig struct {
	TokenSecret  string        `mapstructure:"tokenSecret"`
	CookieMaxAge time.Duration `mapstructure:"cookieMaxAge"`
}

// ConnectionLimitConfig bounds concurrent sockets per principal.
// Mode is "reject" or "cycle".
type ConnectionLimitConfig struct {
	MaxPerUser int    `mapstructure:"maxPerUser"`
	Mode       string `mapstructure:"mode"`
}

type TransportConfig struct {
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
}

type StoreConfig struct {
	Path         string
	QueryTimeout time.Duration `mapstructure:"queryTimeout"`
}

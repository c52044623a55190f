package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig      = "CARP_STREAMER_CONFIG"
	EnvTokenFile   = "CARP_STREAMER_TOKEN_FILE"
	EnvAccessToken = "CARP_STREAMER_ACCESS_TOKEN" //nolint:gosec // variable name, not a credential
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath  string // CARP_STREAMER_CONFIG: override config file path
	TokenFile   string // CARP_STREAMER_TOKEN_FILE: saved token location
	AccessToken string // CARP_STREAMER_ACCESS_TOKEN: fixed bearer token
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath:  os.Getenv(EnvConfig),
		TokenFile:   os.Getenv(EnvTokenFile),
		AccessToken: os.Getenv(EnvAccessToken),
	}
}

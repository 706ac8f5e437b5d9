package backend

import (
	"fmt"

	"fintrack/internal/config"
)

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	backendType := BackendType(appConfig.DataBackend)
	if !backendType.IsValid() {
		return Config{}, fmt.Errorf("invalid backend type in config: %s", appConfig.DataBackend)
	}

	return Config{
		Type:      backendType,
		BaseURL:   appConfig.APIBaseURL,
		Timeout:   appConfig.APITimeout,
		RateLimit: appConfig.APIRateLimit,
		RateBurst: appConfig.APIRateBurst,

		// Memory backend reads its seed from the default data directory
		DataDirectory: "data",
	}, nil
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid backend type: %s", c.Type)
	}

	switch c.Type {
	case HTTPBackend:
		if c.BaseURL == "" {
			return fmt.Errorf("API base URL is required for http backend")
		}
		if c.Timeout <= 0 {
			return fmt.Errorf("API timeout must be positive for http backend")
		}
	case MemoryBackend:
		// DataDirectory defaults to "data" if empty
	}

	return nil
}

// GetBackendTypes returns all valid backend types
func GetBackendTypes() []BackendType {
	return []BackendType{HTTPBackend, MemoryBackend}
}

// GetBackendTypeStrings returns all valid backend type strings
func GetBackendTypeStrings() []string {
	types := GetBackendTypes()
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = t.String()
	}
	return out
}

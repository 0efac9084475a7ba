package config

import (
	"os"
	"strings"
)

// Deployment environments understood by the feed. APP_ENV picks one; anything
// else is passed through lower-cased so custom environments can still carry
// their own config files.
const (
	EnvironmentDevelopment = "development"
	EnvironmentStaging     = "staging"
	EnvironmentProduction  = "production"
)

const appEnvVar = "APP_ENV"

// shorthand used by the deploy scripts
var environmentShorthand = map[string]string{
	"dev":   EnvironmentDevelopment,
	"local": EnvironmentDevelopment,
	"stage": EnvironmentStaging,
	"stg":   EnvironmentStaging,
	"prod":  EnvironmentProduction,
	"prd":   EnvironmentProduction,
	"live":  EnvironmentProduction,
}

func normalizeEnvironment(raw string) string {
	env := strings.ToLower(strings.TrimSpace(raw))
	if env == "" {
		return EnvironmentDevelopment
	}
	if full, ok := environmentShorthand[env]; ok {
		return full
	}
	return env
}

// AppEnvironment returns APP_ENV expanded to a full environment name.
func AppEnvironment() string {
	return normalizeEnvironment(os.Getenv(appEnvVar))
}

// IsProductionLike is true for the environments where the feed logs JSON
// regardless of logging.format. Shorthand names are accepted.
func IsProductionLike(env string) bool {
	switch normalizeEnvironment(env) {
	case EnvironmentProduction, EnvironmentStaging:
		return true
	}
	return false
}

// resolveEnvSpecificPath swaps the default file for the current environment's
// variant. An explicitly chosen path is kept as is.
func resolveEnvSpecificPath(path, defaultPath string, envPaths map[string]string) string {
	if path == "" {
		path = defaultPath
	}
	envPath, ok := envPaths[AppEnvironment()]
	if !ok || (path != defaultPath && path != envPath) {
		return path
	}
	return envPath
}

package process

import (
	"os"
	"strings"
)

const (
	// EnvMarker is set to "true" for every process the devserver launches,
	// so programs and build scripts can tell they run under it.
	EnvMarker = "DEVSERVER"

	// EnvSession carries the session id to each child instance.
	EnvSession = "DEVSERVER_SESSION"
)

// MarkerEnv returns the current environment plus the devserver marker and,
// when non-empty, the session id.
func MarkerEnv(session string) []string {
	env := append(os.Environ(), EnvMarker+"=true")
	if session != "" {
		env = append(env, EnvSession+"="+session)
	}
	return env
}

// Lookup returns the last value of key in env, matching exec's precedence.
func Lookup(env []string, key string) (string, bool) {
	prefix := key + "="
	for i := len(env) - 1; i >= 0; i-- {
		if strings.HasPrefix(env[i], prefix) {
			return env[i][len(prefix):], true
		}
	}
	return "", false
}

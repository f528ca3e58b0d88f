package cli

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// EnvOverrideVars name environment variables that point at an .env file and
// win over the --env flag, in order.
var EnvOverrideVars = []string{"SECBRIEF_ENV_FILE", "HORSE_ENV_FILE"}

// EnvLoader loads .env files with a predictable override order.
type EnvLoader struct {
	value       *string
	defaultPath string
}

// AddEnvFlag registers an --env flag and returns an EnvLoader.
func AddEnvFlag(fs *flag.FlagSet, defaultPath, description string) *EnvLoader {
	if fs == nil {
		fs = flag.CommandLine
	}
	if defaultPath == "" {
		defaultPath = ".env"
	}
	if description == "" {
		description = "Path to the .env file"
	}

	return &EnvLoader{
		value:       fs.String("env", defaultPath, description),
		defaultPath: defaultPath,
	}
}

// Load overloads the process environment from the first candidate file that
// loads and returns its path. Values already in the environment are
// replaced. The error lists every path tried.
func (l *EnvLoader) Load() (string, error) {
	if l == nil {
		return "", fmt.Errorf("env loader is nil")
	}

	log.SetOutput(os.Stderr)

	tried := make([]string, 0, 4)
	for _, candidate := range l.candidates() {
		tried = append(tried, candidate.path)
		if err := godotenv.Overload(candidate.path); err != nil {
			if candidate.source != "" {
				log.Printf("Warning: failed to load %s=%s", candidate.source, candidate.path)
			}
			continue
		}
		if candidate.source != "" {
			log.Printf("Loaded environment from %s: %s", candidate.source, candidate.path)
		} else {
			log.Printf("Loaded environment from: %s", candidate.path)
		}
		return candidate.path, nil
	}

	return "", fmt.Errorf("failed to load env file (tried %s)", strings.Join(tried, ", "))
}

type envCandidate struct {
	path   string
	source string
}

// candidates returns the override variables, then the flag value, its
// basename, and the default path, without duplicates.
func (l *EnvLoader) candidates() []envCandidate {
	var out []envCandidate
	seen := make(map[string]struct{})
	add := func(path, source string) {
		path = strings.TrimSpace(path)
		if path == "" {
			return
		}
		if _, ok := seen[path]; ok {
			return
		}
		seen[path] = struct{}{}
		out = append(out, envCandidate{path: path, source: source})
	}

	for _, envVar := range EnvOverrideVars {
		add(os.Getenv(envVar), envVar)
	}
	requested := l.defaultPath
	if l.value != nil && strings.TrimSpace(*l.value) != "" {
		requested = *l.value
	}
	add(requested, "")
	add(filepath.Base(strings.TrimSpace(requested)), "")
	add(l.defaultPath, "")
	return out
}

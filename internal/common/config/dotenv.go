package config

import (
	"bufio"
	"os"
	"strings"
)

// LoadEnvFile reads KEY=value pairs from a dotenv file into the process
// environment. Variables already present in the environment win, so the
// checked-in defaults (local postgres and kafka endpoints) never override a
// real deployment's settings. Blank lines and #-comments are skipped, and
// an optional "export " prefix is tolerated so the same file can be
// sourced by a shell.
// Side effects: writes to the process environment via os.Setenv.
func LoadEnvFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}

		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)

		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}

	return scanner.Err()
}

// LoadEnvFileIfExists loads a dotenv file if it exists, otherwise does
// nothing. Used at startup so a missing .env is not an error.
func LoadEnvFileIfExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return LoadEnvFile(path)
}

// Package dotenv loads KEY=VALUE files into the process environment before
// configuration is read.
package dotenv

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Entry is one assignment from a dotenv file, in file order.
type Entry struct {
	Key   string
	Value string
}

// Load applies each file in order. Variables already present in the
// environment, including ones set by an earlier file, are preserved. Missing
// files are skipped.
func Load(paths ...string) error {
	for _, path := range paths {
		if err := LoadFile(path); err != nil {
			return err
		}
	}
	return nil
}

// LoadFile loads one dotenv file into the process environment. Existing
// environment variables are preserved and a missing file is not an error.
func LoadFile(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open env file %q: %w", path, err)
	}
	defer file.Close()

	entries, err := Parse(file, os.LookupEnv)
	if err != nil {
		return fmt.Errorf("parse env file %q: %w", path, err)
	}
	for _, e := range entries {
		if _, exists := os.LookupEnv(e.Key); exists {
			continue
		}
		if err := os.Setenv(e.Key, e.Value); err != nil {
			return fmt.Errorf("set env %q from %q: %w", e.Key, path, err)
		}
	}
	return nil
}

// Parse reads assignments from r. ${NAME} and $NAME references in unquoted
// and double-quoted values expand against earlier entries, then lookup.
// Single-quoted values are taken literally.
func Parse(r io.Reader, lookup func(string) (string, bool)) ([]Entry, error) {
	if lookup == nil {
		lookup = func(string) (string, bool) { return "", false }
	}
	var entries []Entry
	seen := map[string]string{}
	resolve := func(name string) string {
		if v, ok := lookup(name); ok {
			return v
		}
		return seen[name]
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		line = strings.TrimPrefix(line, "export ")
		idx := strings.Index(line, "=")
		if idx <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		if key == "" {
			continue
		}

		val := strings.TrimSpace(line[idx+1:])
		switch {
		case len(val) >= 2 && val[0] == '\'' && val[len(val)-1] == '\'':
			val = val[1 : len(val)-1]
		case len(val) >= 2 && val[0] == '"' && val[len(val)-1] == '"':
			val = os.Expand(val[1:len(val)-1], resolve)
		default:
			if i := strings.Index(val, " #"); i >= 0 {
				val = strings.TrimSpace(val[:i])
			}
			val = os.Expand(val, resolve)
		}

		seen[key] = val
		entries = append(entries, Entry{Key: key, Value: val})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

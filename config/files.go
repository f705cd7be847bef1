package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Limits applied to configuration input.
const (
	maxConfigSize  = 10 << 20
	maxConfigDepth = 100
	maxEnvVarLen   = 10000
	maxPathLen     = 4096
)

type fileFormat int

const (
	formatJSON fileFormat = iota
	formatYAML
)

func formatOf(path string) (fileFormat, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		return formatJSON, nil
	case ".yaml", ".yml":
		return formatYAML, nil
	default:
		return 0, fmt.Errorf("unsupported config file type %q: %s", ext, path)
	}
}

// checkPath rejects empty or overlong paths and paths that climb out of
// the working directory. Absolute paths may not contain "..".
func checkPath(path string) error {
	switch {
	case path == "":
		return errors.New("empty config path")
	case len(path) > maxPathLen:
		return fmt.Errorf("path too long: %d > %d", len(path), maxPathLen)
	}

	if filepath.IsAbs(path) {
		if strings.Contains(filepath.ToSlash(path), "..") {
			return fmt.Errorf("path traversal not allowed: %s", path)
		}
		return nil
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("cannot resolve absolute path: %w", err)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("cannot get working directory: %w", err)
	}
	if rel, err := filepath.Rel(cwd, abs); err != nil || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("path traversal not allowed: %s resolves outside working directory", path)
	}
	return nil
}

// readConfigFile returns the contents and format of a config file.
func readConfigFile(path string) ([]byte, fileFormat, error) {
	if err := checkPath(path); err != nil {
		return nil, 0, err
	}
	format, err := formatOf(path)
	if err != nil {
		return nil, 0, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("cannot open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, 0, fmt.Errorf("cannot stat config file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, 0, fmt.Errorf("not a regular file: %s", path)
	}

	data, err := io.ReadAll(io.LimitReader(f, maxConfigSize+1))
	if err != nil {
		return nil, 0, fmt.Errorf("cannot read config file: %w", err)
	}
	if len(data) > maxConfigSize {
		return nil, 0, fmt.Errorf("config file larger than %d bytes", maxConfigSize)
	}
	return data, format, nil
}

// writeConfigFile writes data readable by the owner only.
func writeConfigFile(path string, data []byte) error {
	if err := checkPath(path); err != nil {
		return err
	}
	if _, err := formatOf(path); err != nil {
		return err
	}
	if len(data) > maxConfigSize {
		return fmt.Errorf("config data larger than %d bytes", maxConfigSize)
	}
	return os.WriteFile(path, data, 0600)
}

// checkEnvironment rejects overlong values and NUL bytes in every variable
// carrying prefix.
func checkEnvironment(prefix string) error {
	for _, kv := range os.Environ() {
		key, value, _ := strings.Cut(kv, "=")
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if len(value) > maxEnvVarLen {
			return fmt.Errorf("environment variable %s too long: %d > %d", key, len(value), maxEnvVarLen)
		}
		if strings.ContainsRune(value, 0) {
			return fmt.Errorf("null byte in environment variable %s", key)
		}
	}
	return nil
}

// checkDepth walks a decoded document and fails when maps and lists nest
// deeper than limit.
func checkDepth(v any, limit int) error {
	if limit < 0 {
		return fmt.Errorf("config nesting deeper than %d levels", maxConfigDepth)
	}
	switch node := v.(type) {
	case map[string]any:
		for _, child := range node {
			if err := checkDepth(child, limit-1); err != nil {
				return err
			}
		}
	case []any:
		for _, child := range node {
			if err := checkDepth(child, limit-1); err != nil {
				return err
			}
		}
	}
	return nil
}

package config

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// DefaultFileName is the file looked up in each search path directory.
const DefaultFileName = "elastic-apm.yaml"

// discoverFile returns the first search path entry that holds DefaultFileName,
// or "" if none does.
func discoverFile(sp *SearchPath) string {
	for _, dir := range sp.Dirs() {
		candidate := filepath.Join(dir, DefaultFileName)
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate
		}
	}
	return ""
}

// loadFile reads a configuration file. Environment references such as
// ${APP_NAME} are expanded before the YAML is parsed, and the document root
// must be a mapping.
func loadFile(path string, logger *zap.Logger) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConfigFileInvalid, path, err)
	}

	var doc any
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConfigFileInvalid, path, err)
	}

	fileConfig, ok := doc.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s did not contain a mapping", ErrConfigFileInvalid, path)
	}

	logger.Debug("Loaded configuration file",
		zap.String("path", path),
		zap.Int("keys", len(fileConfig)))

	return fileConfig, nil
}

// resolveFile finds and loads the file layer. An explicit path must exist; a
// discovered file is optional.
func resolveFile(explicitPath string, sp *SearchPath, logger *zap.Logger) (map[string]any, error) {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrConfigFileNotFound, explicitPath)
		}
		return loadFile(explicitPath, logger)
	}

	discovered := discoverFile(sp)
	if discovered == "" {
		logger.Debug("No configuration file found on search path", zap.Strings("dirs", sp.Dirs()))
		return map[string]any{}, nil
	}

	return loadFile(discovered, logger)
}

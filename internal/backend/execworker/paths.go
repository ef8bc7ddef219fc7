package execworker

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Environment variable names used for path resolution.
const (
	envCacheDir = "CACHE_DIR"
)

const (
	appName       = "murmur-tts"
	cacheDirName  = "cache"
	modelsDirName = "models"
	dotCache      = ".cache"
)

const (
	errFmtCouldNotResolveAbsolutePath = "could not resolve absolute path for %q: %w"
	errFmtErrorCheckingModelPath      = "error checking model path %q: %w"
)

// ErrModelNotFound is returned when a model file cannot be located.
var ErrModelNotFound = errors.New("model not found")

// CacheDir returns the cache directory, honoring CACHE_DIR and falling back
// to ~/.cache/murmur-tts.
func CacheDir() string {
	if cacheDir := os.Getenv(envCacheDir); cacheDir != "" {
		return cacheDir
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), appName, cacheDirName)
	}

	return filepath.Join(homeDir, dotCache, appName)
}

// ResolveModelPath finds a model file by checking, in order, the name as
// given, a local models/ directory and the models directory in the cache.
func ResolveModelPath(modelName string) (string, error) {
	candidatePaths := []string{
		modelName,
		filepath.Join(modelsDirName, modelName),
		filepath.Join(CacheDir(), modelsDirName, modelName),
	}

	for _, path := range candidatePaths {
		resolvedPath, found, err := resolveSinglePath(path)
		if err != nil {
			return "", err
		}

		if found {
			return resolvedPath, nil
		}
	}

	return "", fmt.Errorf("%w: %s", ErrModelNotFound, modelName)
}

// resolveSinglePath reports found=false without error when path does not
// exist. Any other stat failure stops the search.
func resolveSinglePath(path string) (string, bool, error) {
	_, statErr := os.Stat(path)
	if statErr == nil {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", false, fmt.Errorf(errFmtCouldNotResolveAbsolutePath, path, err)
		}

		return absPath, true, nil
	}

	if !errors.Is(statErr, os.ErrNotExist) {
		return "", false, fmt.Errorf(errFmtErrorCheckingModelPath, path, statErr)
	}

	return "", false, nil
}

package security

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const uploadStampLayout = "20060102_150405"

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// PathValidator confines file access to the upload directory
type PathValidator struct {
	configuredDirectory string
}

// NewPathValidator creates a new path validator for the given directory
func NewPathValidator(configuredDirectory string) (*PathValidator, error) {
	if configuredDirectory == "" {
		return nil, fmt.Errorf("configured directory cannot be empty")
	}

	absDir, err := filepath.Abs(configuredDirectory)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve configured directory: %w", err)
	}

	return &PathValidator{configuredDirectory: filepath.Clean(absDir)}, nil
}

// GetConfiguredDirectory returns the configured directory path
func (v *PathValidator) GetConfiguredDirectory() string {
	return v.configuredDirectory
}

// Resolve returns the absolute form of path, taken relative to the configured
// directory when not absolute, and fails if it escapes that directory
// (including through symlinks).
func (v *PathValidator) Resolve(path string) (string, error) {
	path = strings.ReplaceAll(path, "\x00", "")
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path cannot be empty")
	}

	if !filepath.IsAbs(path) {
		path = filepath.Join(v.configuredDirectory, path)
	}
	cleanPath := filepath.Clean(path)

	if !within(cleanPath, v.configuredDirectory) {
		return "", fmt.Errorf("path is outside configured directory: %s", path)
	}

	// Symlinks are judged by their target
	realDir := v.configuredDirectory
	if resolved, err := filepath.EvalSymlinks(realDir); err == nil {
		realDir = resolved
	}
	if resolved, err := filepath.EvalSymlinks(cleanPath); err == nil && !within(resolved, realDir) {
		return "", fmt.Errorf("path is outside configured directory: %s", path)
	}

	return cleanPath, nil
}

// UploadPath returns the path an uploaded file is stored under: the
// sanitized base name prefixed with a timestamp, inside the directory.
func (v *PathValidator) UploadPath(filename string, now time.Time) (string, error) {
	safe := SafeFilename(filename)
	if safe == "" {
		return "", fmt.Errorf("invalid file name: %q", filename)
	}
	stamp := fmt.Sprintf("%s_%06d", now.Format(uploadStampLayout), now.Nanosecond()/1000)
	return v.Resolve(stamp + "_" + safe)
}

// ValidateFile checks that path resolves inside the directory and names an
// existing regular file.
func (v *PathValidator) ValidateFile(path string) (string, error) {
	resolved, err := v.Resolve(path)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("cannot access file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("not a regular file: %s", path)
	}
	return resolved, nil
}

// SafeFilename reduces name to its base name made of ASCII letters, digits,
// dots, dashes and underscores.
func SafeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(strings.TrimSpace(name))
	name = strings.Join(strings.Fields(name), "_")
	name = unsafeFilenameChars.ReplaceAllString(name, "")
	name = strings.TrimLeft(name, "._")
	if name == "" || name == "." {
		return ""
	}
	return name
}

func within(path, dir string) bool {
	if path == dir {
		return true
	}
	return strings.HasPrefix(path, strings.TrimSuffix(dir, string(filepath.Separator))+string(filepath.Separator))
}

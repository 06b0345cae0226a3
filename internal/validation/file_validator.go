package validation

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"licensor/internal/config"
	licerrors "licensor/internal/errors"
)

// FileValidator checks license and key files before the CLIs touch them
type FileValidator struct {
	logger  *slog.Logger
	maxSize int64
}

// NewFileValidator creates a validator that accepts license files up to
// config.MaxLicenseFileSize
func NewFileValidator(logger *slog.Logger) *FileValidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileValidator{
		logger:  logger.With(slog.String("component", "file_validator")),
		maxSize: config.MaxLicenseFileSize,
	}
}

// ValidateFile checks that path is an existing, readable regular file
func (v *FileValidator) ValidateFile(path string) (os.FileInfo, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		v.logger.Error("File does not exist", slog.String("file", path))
		return nil, fmt.Errorf("file %s does not exist", path)
	}
	if err != nil {
		v.logger.Error("Failed to stat file",
			slog.String("file", path),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to stat file %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		v.logger.Error("Path is not a regular file", slog.String("path", path))
		return nil, fmt.Errorf("%s is not a regular file", path)
	}
	return info, nil
}

// ReadLicenseFile reads a license file after the size checks. A file that
// cannot be a license is a PayloadCorrupted error.
func (v *FileValidator) ReadLicenseFile(path string) ([]byte, error) {
	info, err := v.ValidateFile(path)
	if err != nil {
		return nil, err
	}
	if info.Size() == 0 || info.Size() > v.maxSize {
		v.logger.Warn("License file size out of range",
			slog.String("file", path),
			slog.Int64("size", info.Size()),
			slog.Int64("max_size", v.maxSize))
		return nil, licerrors.NewLicenseError(licerrors.CategoryPayloadCorrupted, "read license file",
			fmt.Errorf("%s is %d bytes; a license file is 1 to %d bytes", path, info.Size(), v.maxSize))
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("file %s is not readable: %w", path, err)
	}
	defer f.Close()

	// The file may grow between Stat and Read
	data, err := io.ReadAll(io.LimitReader(f, v.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if int64(len(data)) > v.maxSize {
		return nil, licerrors.NewLicenseError(licerrors.CategoryPayloadCorrupted, "read license file",
			fmt.Errorf("%s grew past %d bytes while reading", path, v.maxSize))
	}

	v.logger.Debug("License file read",
		slog.String("file", path),
		slog.Int("size", len(data)))
	return data, nil
}

// ValidateOutputDirectory ensures dir exists or can be created and is writable
func (v *FileValidator) ValidateOutputDirectory(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		v.logger.Error("Failed to create output directory",
			slog.String("directory", dir),
			slog.String("error", err.Error()))
		return fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}

	testFile, err := os.CreateTemp(dir, ".write_test")
	if err != nil {
		v.logger.Error("Output directory is not writable",
			slog.String("directory", dir),
			slog.String("error", err.Error()))
		return fmt.Errorf("output directory %s is not writable: %w", dir, err)
	}
	name := testFile.Name()
	testFile.Close()
	os.Remove(name)

	return nil
}

package security

import (
	"fmt"
	"os"
)

const (
	// PermConfigFile is for the generated monitor config, which carries API tokens.
	// rw-r----- (0640): owner can read/write, group can read, others have no access.
	PermConfigFile os.FileMode = 0640

	// PermLogFile is for the provisioning run log.
	// rw-r----- (0640): owner can read/write, group can read, others have no access.
	PermLogFile os.FileMode = 0640

	// PermDBFile is for the run history database.
	// rw-r----- (0640): owner can read/write, group can read, others have no access.
	PermDBFile os.FileMode = 0640

	// PermDirectory is for directories holding the log and history files.
	// rwxr-x--- (0750): owner can read/write/execute, group can read/execute, others have no access.
	PermDirectory os.FileMode = 0750

	// PermInstaller is granted to the chained automation installer.
	// rwxr-xr-x (0755): everyone can execute, only the owner can modify.
	PermInstaller os.FileMode = 0755
)

// CreateSecureFile creates a new file with secure permissions.
// If the file exists, it will be truncated.
// Returns an error if the file cannot be created with the specified permissions.
func CreateSecureFile(path string, perm os.FileMode) (*os.File, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return nil, fmt.Errorf("failed to create secure file: %w", err)
	}

	// Explicitly set permissions to bypass umask
	if err := os.Chmod(path, perm); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to set file permissions: %w", err)
	}

	return file, nil
}

// OpenSecureAppend opens path for appending, creating it with perm if needed.
func OpenSecureAppend(path string, perm os.FileMode) (*os.File, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, perm)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}

// CreateSecureDir creates a new directory with secure permissions.
// If the directory already exists, it updates the permissions.
// Creates parent directories as needed.
func CreateSecureDir(path string, perm os.FileMode) error {
	if err := os.MkdirAll(path, perm); err != nil {
		return fmt.Errorf("failed to create secure directory: %w", err)
	}

	// Ensure permissions are set correctly (MkdirAll may use umask)
	if err := os.Chmod(path, perm); err != nil {
		return fmt.Errorf("failed to set directory permissions: %w", err)
	}

	return nil
}

// IsWorldReadable checks if a file is readable by others.
// Returns true if the file has world-readable permissions (e.g., 0644, 0664).
func IsWorldReadable(perm os.FileMode) bool {
	return perm&0004 != 0
}

// IsWorldWritable checks if a file is writable by others.
// Returns true if the file has world-writable permissions (e.g., 0666, 0777).
func IsWorldWritable(perm os.FileMode) bool {
	return perm&0002 != 0
}

// ValidateSecurePermissions validates that a file does not have world-readable
// or world-writable permissions for sensitive files.
func ValidateSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	perm := info.Mode().Perm()

	if IsWorldReadable(perm) {
		return fmt.Errorf("file %s is world-readable (%04o), which is insecure for sensitive data", path, perm)
	}

	if IsWorldWritable(perm) {
		return fmt.Errorf("file %s is world-writable (%04o), which is a serious security risk", path, perm)
	}

	return nil
}

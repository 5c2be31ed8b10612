package infra

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
)

const AppName = "arbitrage"

// Paths are the runtime directories of one process.
type Paths struct {
	Root      string
	Logs      string
	DBPath    string
	Snapshots string
}

// ResolvePaths places data under the workspace unless the config names explicit locations,
// and creates the directories.
func ResolvePaths(cfg *Config) (Paths, error) {
	root := WorkspaceDir()
	p := Paths{
		Root:      root,
		Logs:      filepath.Join(root, "logs"),
		DBPath:    cfg.Storage.DBPath,
		Snapshots: cfg.Storage.SnapshotDir,
	}
	if p.DBPath == "" {
		p.DBPath = filepath.Join(root, "data", "arbitrage.db")
	}
	if p.Snapshots == "" {
		p.Snapshots = filepath.Join(root, "snapshots")
	}

	for _, dir := range []string{p.Logs, filepath.Dir(p.DBPath), p.Snapshots} {
		if err := EnsureDir(dir); err != nil {
			return Paths{}, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return p, nil
}

// SnapshotDir is the dump directory of one (user, symbol) engine.
func (p Paths) SnapshotDir(userID, symbol string) string {
	return filepath.Join(p.Snapshots, userID+"_"+symbol)
}

// WorkspaceDir returns the root directory for all runtime data.
// A local "_workspace" directory wins (portable/dev mode); otherwise the OS data directory.
func WorkspaceDir() string {
	localDir := "_workspace"
	if _, err := os.Stat(localDir); err == nil {
		return localDir
	}

	var baseDir string
	switch runtime.GOOS {
	case "windows":
		baseDir = os.Getenv("APPDATA")
		if baseDir == "" {
			baseDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, _ := os.UserHomeDir()
		baseDir = filepath.Join(home, "Library", "Application Support")
	case "linux":
		baseDir = os.Getenv("XDG_DATA_HOME")
		if baseDir == "" {
			home, _ := os.UserHomeDir()
			baseDir = filepath.Join(home, ".local", "share")
		}
	default:
		return localDir
	}
	return filepath.Join(baseDir, AppName)
}

// EnsureDir creates the directory if it doesn't exist.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// CreateLockFile refuses to start a second trading process on the same workspace.
// The returned function removes the lock.
func CreateLockFile(workDir string) (func(), error) {
	lockPath := filepath.Join(workDir, "instance.lock")

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("another instance is already running (lock file exists: %s)", lockPath)
		}
		return nil, err
	}
	_, _ = f.WriteString(strconv.Itoa(os.Getpid()))
	f.Close()

	return func() { os.Remove(lockPath) }, nil
}

// ResolveConfigPath looks for configs/config.yaml, then the OS config directory.
func ResolveConfigPath() string {
	defaultPath := filepath.Join("configs", "config.yaml")
	if _, err := os.Stat(defaultPath); err == nil {
		return defaultPath
	}

	if configRoot, err := os.UserConfigDir(); err == nil {
		osPath := filepath.Join(configRoot, AppName, "config.yaml")
		if _, err := os.Stat(osPath); err == nil {
			return osPath
		}
	}
	return defaultPath
}

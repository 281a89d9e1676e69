package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Workspace holds the root path and loaded config. All crew state lives under
// <root>/.crew/.
type Workspace struct {
	Root   string
	Config *Config
}

// crewDir returns the path to the .crew directory for the given root.
func crewDir(root string) string {
	return filepath.Join(root, ".crew")
}

// Open loads the workspace rooted at root.
func Open(root string) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(crewDir(abs)); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s is not a crew workspace (.crew not found)", abs)
		}
		return nil, err
	}
	cfg, err := LoadFromFile(filepath.Join(crewDir(abs), "config.yaml"))
	if err != nil {
		return nil, err
	}
	return &Workspace{Root: abs, Config: cfg}, nil
}

// FindRoot walks up from dir until a .crew directory is found.
func FindRoot(dir string) (*Workspace, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	for {
		if fi, err := os.Stat(crewDir(abs)); err == nil && fi.IsDir() {
			return Open(abs)
		}
		parent := filepath.Dir(abs)
		if parent == abs {
			return nil, fmt.Errorf("no crew workspace found (.crew not found in %s or any parent)", dir)
		}
		abs = parent
	}
}

// Init creates a new workspace at dir with default config and empty
// persona/session directories.
func Init(dir string) (*Workspace, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	for _, d := range []string{crewDir(abs), filepath.Join(crewDir(abs), "personas"), filepath.Join(crewDir(abs), "sessions")} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return nil, err
		}
	}
	cfgPath := filepath.Join(crewDir(abs), "config.yaml")
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		data, err := yaml.Marshal(DefaultConfig())
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(cfgPath, data, 0644); err != nil {
			return nil, err
		}
	}
	return Open(abs)
}

// Path helpers — all data lives under <root>/.crew/

func (ws *Workspace) CrewDir() string       { return crewDir(ws.Root) }
func (ws *Workspace) PersonasDir() string   { return filepath.Join(ws.CrewDir(), "personas") }
func (ws *Workspace) SessionsDir() string   { return filepath.Join(ws.CrewDir(), "sessions") }
func (ws *Workspace) ConfigPath() string    { return filepath.Join(ws.CrewDir(), "config.yaml") }
func (ws *Workspace) PipelinesPath() string { return filepath.Join(ws.CrewDir(), "pipelines.yaml") }
func (ws *Workspace) PoolStatePath() string { return filepath.Join(ws.CrewDir(), "pool.json") }

// WriteFileAtomic writes data to path via a temp file and rename, so readers
// never observe a partially written file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

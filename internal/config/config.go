package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

// ErrMissingParameter reports a required run parameter that was not supplied.
var ErrMissingParameter = errors.New("missing required parameter")

type Config struct {
	Run         Run         `yaml:"run"`
	Data        Data        `yaml:"data"`
	Slide       Slide       `yaml:"slide"`
	Annotations Annotations `yaml:"annotations"`
	Output      Output      `yaml:"output"`
	Processing  Processing  `yaml:"processing"`
	Server      Server      `yaml:"server"`
	Logging     Logging     `yaml:"logging"`
}

type Run struct {
	CaseID    string `yaml:"case_id"`
	Annotator string `yaml:"annotator"`
	PatchSize int    `yaml:"patch_size"`
}

type Data struct {
	WorkDir        string `yaml:"work_dir"`
	SlideExtension string `yaml:"slide_extension"`
}

// Slide holds the physical resolution of the slide in microns per pixel.
type Slide struct {
	MPPX float64 `yaml:"mpp_x"`
	MPPY float64 `yaml:"mpp_y"`
}

type Annotations struct {
	Path string `yaml:"path"`
}

type Output struct {
	DataDir  string `yaml:"data_dir"`
	Database string `yaml:"database"`
}

type Processing struct {
	Workers              int  `yaml:"workers"`
	SkipMalformedObjects bool `yaml:"skip_malformed_objects"`
}

type Server struct {
	Port int `yaml:"port"`
}

// Logging.Level is one of DEBUG, INFO, WARN or ERROR. Progress lines are
// INFO; DEBUG adds source locations.
type Logging struct {
	Level string `yaml:"level"`
}

// Debug reports whether log lines carry their source location.
func (l Logging) Debug() bool {
	return strings.EqualFold(l.Level, "DEBUG")
}

// Quiet reports whether progress lines are suppressed.
func (l Logging) Quiet() bool {
	switch strings.ToUpper(l.Level) {
	case "WARN", "WARNING", "ERROR":
		return true
	}
	return false
}

// ConfigDir returns the XDG config directory for tumorpatch.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "tumorpatch")
}

// DataDir returns the XDG data directory for tumorpatch.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "tumorpatch")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/tumorpatch/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'tumorpatch init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// Default returns the embedded default configuration.
func Default() *Config {
	cfg, err := parse(DefaultConfigYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded default config: %v", err))
	}
	return cfg
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Data: Data{
			WorkDir:        ".",
			SlideExtension: ".tif",
		},
		Processing: Processing{Workers: runtime.NumCPU()},
		Server:     Server{Port: 8000},
		Logging:    Logging{Level: "INFO"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.Processing.Workers <= 0 {
		cfg.Processing.Workers = runtime.NumCPU()
	}

	return cfg, nil
}

// Validate checks that the run parameters are present. Values are not
// otherwise checked.
func (c *Config) Validate() error {
	var missing []string
	if c.Run.CaseID == "" {
		missing = append(missing, "case_id")
	}
	if c.Run.Annotator == "" {
		missing = append(missing, "annotator")
	}
	if c.Run.PatchSize <= 0 {
		missing = append(missing, "patch_size")
	}
	if c.GetDatabasePath() == "" {
		missing = append(missing, "database")
	}
	if c.Annotations.Path == "" {
		missing = append(missing, "annotations.path")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingParameter, strings.Join(missing, ", "))
	}
	return nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// GetDatabasePath returns the sqlite file that receives the patch records.
func (c *Config) GetDatabasePath() string {
	if c.Output.Database != "" {
		return c.Output.Database
	}
	return filepath.Join(c.GetDataDir(), "tumorpatch.db")
}

// SlideDir returns the working directory of the configured case.
func (c *Config) SlideDir() string {
	return filepath.Join(c.Data.WorkDir, c.Run.CaseID)
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

package config

import (
	"os"
	"path/filepath"

	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
)

// FileName is the config file looked up by Load.
const FileName = ".stepci.yaml"

// Defaults.
const (
	DefaultWorkflow     = ".github/workflows/ci.yml"
	DefaultShell        = "bash"
	DefaultMaxTailLines = 200
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "console"
	DefaultServerAddr   = "127.0.0.1:8080"
	DefaultQueueSize    = 16
)

// Config is the resolved stepci configuration.
type Config struct {
	Workflow      string `yaml:"workflow"`
	Source        string `yaml:"source"`
	WorkspaceRoot string `yaml:"workspace_root"`
	KeepWorkspace bool   `yaml:"keep_workspace"`
	Shell         string `yaml:"shell"`
	ToolCache     string `yaml:"tool_cache"`
	MaxTailLines  int    `yaml:"max_tail_lines"`
	LogLevel      string `yaml:"log_level"`
	LogFormat     string `yaml:"log_format"`
	Server        Server `yaml:"server"`

	// Path is the file the values were read from, empty when only defaults apply.
	Path string `yaml:"-"`
}

// Server holds webhook server settings.
type Server struct {
	Addr      string `yaml:"addr"`
	QueueSize int    `yaml:"queue_size"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Workflow:     DefaultWorkflow,
		Source:       ".",
		Shell:        DefaultShell,
		ToolCache:    os.Getenv("RUNNER_TOOL_CACHE"),
		MaxTailLines: DefaultMaxTailLines,
		LogLevel:     DefaultLogLevel,
		LogFormat:    DefaultLogFormat,
		Server: Server{
			Addr:      DefaultServerAddr,
			QueueSize: DefaultQueueSize,
		},
	}
}

// Load reads the config file at path, or the discovered one when path is
// empty, over the defaults. A missing discovered file is not an error; a
// missing explicit path is.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = findConfigPath()
		if path == "" {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "read config file", goerr.V("path", path))
	}

	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, goerr.Wrap(err, "parse config file", goerr.V("path", path))
	}
	cfg.merge(&file)
	cfg.Path = path
	return cfg, nil
}

// merge copies the values set in f onto c.
func (c *Config) merge(f *Config) {
	if f.Workflow != "" {
		c.Workflow = f.Workflow
	}
	if f.Source != "" {
		c.Source = f.Source
	}
	if f.WorkspaceRoot != "" {
		c.WorkspaceRoot = f.WorkspaceRoot
	}
	c.KeepWorkspace = c.KeepWorkspace || f.KeepWorkspace
	if f.Shell != "" {
		c.Shell = f.Shell
	}
	if f.ToolCache != "" {
		c.ToolCache = f.ToolCache
	}
	if f.MaxTailLines > 0 {
		c.MaxTailLines = f.MaxTailLines
	}
	if f.LogLevel != "" {
		c.LogLevel = f.LogLevel
	}
	if f.LogFormat != "" {
		c.LogFormat = f.LogFormat
	}
	if f.Server.Addr != "" {
		c.Server.Addr = f.Server.Addr
	}
	if f.Server.QueueSize > 0 {
		c.Server.QueueSize = f.Server.QueueSize
	}
}

// findConfigPath checks the working directory first, then the user config
// directory.
func findConfigPath() string {
	if _, err := os.Stat(FileName); err == nil {
		return FileName
	}

	configHome, err := os.UserConfigDir()
	if err != nil || configHome == "" || configHome == "/" {
		return ""
	}
	userPath := filepath.Join(configHome, "stepci", FileName)
	if _, err := os.Stat(userPath); err == nil {
		return userPath
	}
	return ""
}

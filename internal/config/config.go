package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"sigs.k8s.io/yaml"
)

const (
	DefaultBaudRate = 115200
	DefaultLogDir   = "logs"
	DefaultLogLevel = "info"
)

// Config holds the host level sdkrun settings. Run configuration files
// describe what to run; this describes the machine running it.
type Config struct {
	SerialPort     string `json:"serial_port,omitempty"`
	SerialBaudRate int    `json:"serial_baud_rate,omitempty"`
	LogDir         string `json:"log_dir,omitempty"`
	LogLevel       string `json:"log_level,omitempty"`
	SDKRoot        string `json:"sdk_root,omitempty"`
	Toolchain      string `json:"toolchain,omitempty"`
	MakeCommand    string `json:"make_command,omitempty"`
	HangAction     string `json:"hang_action,omitempty"`
	FPGAScript     string `json:"fpga_script,omitempty"`
}

// Defaults returns a Config with default values.
func Defaults() Config {
	return Config{
		SerialBaudRate: DefaultBaudRate,
		LogDir:         DefaultLogDir,
		LogLevel:       DefaultLogLevel,
	}
}

// FPGAProgramScript returns the program_bit.tcl used for FPGA
// reprogramming: the configured fpga_script, else the one shipped with the
// SDK command line tools. It is empty when neither is known.
func (c Config) FPGAProgramScript() string {
	if c.FPGAScript != "" {
		return c.FPGAScript
	}
	if c.SDKRoot == "" {
		return ""
	}
	return filepath.Join(c.SDKRoot, "tools", "scripts", "nsdk_cli", "program_bit.tcl")
}

// Load reads and merges global and workspace configs.
// Order: defaults → global (~/.config/sdkrun/config.json) → workspace (.sdkrun/config.json).
// YAML files named config.yaml are read as well.
func Load(workspaceRoot string) Config {
	cfg := Defaults()

	if home, err := os.UserHomeDir(); err == nil {
		mergeFromDir(&cfg, filepath.Join(home, ".config", "sdkrun"))
	}
	if workspaceRoot != "" {
		mergeFromDir(&cfg, filepath.Join(workspaceRoot, ".sdkrun"))
	}
	if cfg.SDKRoot == "" {
		cfg.SDKRoot = os.Getenv("NUCLEI_SDK_ROOT")
	}
	return cfg
}

// Save writes the config to the workspace .sdkrun/config.json by default,
// or to the global config if global is true.
func Save(cfg Config, workspaceRoot string, global bool) error {
	var dir string
	if global {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		dir = filepath.Join(home, ".config", "sdkrun")
	} else {
		dir = filepath.Join(workspaceRoot, ".sdkrun")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(dir, "config.json"), data, 0o644)
}

func mergeFromDir(cfg *Config, dir string) {
	for _, name := range []string{"config.yaml", "config.json"} {
		mergeFromFile(cfg, filepath.Join(dir, name))
	}
}

func mergeFromFile(cfg *Config, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}

	var fileCfg Config
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return
	}

	if fileCfg.SerialPort != "" {
		cfg.SerialPort = fileCfg.SerialPort
	}
	if fileCfg.SerialBaudRate != 0 {
		cfg.SerialBaudRate = fileCfg.SerialBaudRate
	}
	if fileCfg.LogDir != "" {
		cfg.LogDir = fileCfg.LogDir
	}
	if fileCfg.LogLevel != "" {
		cfg.LogLevel = fileCfg.LogLevel
	}
	if fileCfg.SDKRoot != "" {
		cfg.SDKRoot = fileCfg.SDKRoot
	}
	if fileCfg.Toolchain != "" {
		cfg.Toolchain = fileCfg.Toolchain
	}
	if fileCfg.MakeCommand != "" {
		cfg.MakeCommand = fileCfg.MakeCommand
	}
	if fileCfg.HangAction != "" {
		cfg.HangAction = fileCfg.HangAction
	}
	if fileCfg.FPGAScript != "" {
		cfg.FPGAScript = fileCfg.FPGAScript
	}
}

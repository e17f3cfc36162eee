package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all vmhost configuration.
type Config struct {
	// ListenAddress is the loopback address the orchestrator serves on
	// and the client dials.
	ListenAddress string `mapstructure:"listen_address"`

	// DataDir is the root of the vms/, disks/ and kernel/ directories.
	DataDir string `mapstructure:"data_dir"`

	// ConsoleDir holds the per-instance console files stdin_<name> and stdout_<name>.
	ConsoleDir string `mapstructure:"console_dir"`

	// BaseImage is the file name of the base image inside disks/.
	BaseImage string `mapstructure:"base_image"`

	// Kernel and Initrd are file names inside kernel/.
	Kernel string `mapstructure:"kernel"`
	Initrd string `mapstructure:"initrd"`

	// Cmdline is the guest kernel command line.
	Cmdline string `mapstructure:"cmdline"`

	// HypervisorBinary is the hypervisor executable.
	HypervisorBinary string `mapstructure:"hypervisor_binary"`

	// DiskBinary is the disk image attach/detach utility.
	DiskBinary string `mapstructure:"disk_binary"`

	// AddressAttempts bounds how many times the console is polled for an address.
	AddressAttempts int `mapstructure:"address_attempts"`

	// AddressInterval is the delay between two console polls.
	AddressInterval time.Duration `mapstructure:"address_interval"`

	// StopTimeout escalates a graceful stop to a kill when the hypervisor
	// has not exited in time. Zero waits indefinitely.
	StopTimeout time.Duration `mapstructure:"stop_timeout"`

	// RequestTimeout bounds how long a client may take to send its request.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"log_level"`

	// LogFormat is text (human readable) or json.
	LogFormat string `mapstructure:"log_format"`

	// MetricsAddress serves Prometheus metrics when set.
	MetricsAddress string `mapstructure:"metrics_address"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	dataDir := "/tmp/vmhost"
	if paths, err := GetPaths(); err == nil {
		dataDir = paths.DataDir
	}

	return &Config{
		ListenAddress:    "127.0.0.1:7593",
		DataDir:          dataDir,
		ConsoleDir:       "/tmp",
		BaseImage:        "centos.dmg",
		Kernel:           "vmlinuz",
		Initrd:           "initrd.gz",
		Cmdline:          "root=/dev/vda3 earlyprintk=serial console=ttyS0 quiet",
		HypervisorBinary: "hyperkit",
		DiskBinary:       "hdiutil",
		AddressAttempts:  10,
		AddressInterval:  time.Second,
		StopTimeout:      0,
		RequestTimeout:   30 * time.Second,
		LogLevel:         "info",
		LogFormat:        "text",
		MetricsAddress:   "",
	}
}

// Paths returns the directory layout rooted at DataDir.
func (c *Config) Paths() *Paths {
	return NewPaths(c.DataDir)
}

// BaseImagePath returns the absolute path of the base image.
func (c *Config) BaseImagePath() string {
	return filepath.Join(c.Paths().DisksDir, c.BaseImage)
}

// KernelPath returns the absolute path of the guest kernel.
func (c *Config) KernelPath() string {
	return filepath.Join(c.Paths().KernelDir, c.Kernel)
}

// InitrdPath returns the absolute path of the guest initrd.
func (c *Config) InitrdPath() string {
	return filepath.Join(c.Paths().KernelDir, c.Initrd)
}

// Global holds the loaded configuration.
var Global *Config

// Load reads configuration from file, environment, and defaults into Global.
func Load() error {
	cfg, err := Read(viper.GetViper())
	if err != nil {
		return err
	}
	Global = cfg
	return nil
}

// Read resolves configuration from v. Flags bound to v take precedence over
// VMHOST_* environment variables, which take precedence over config.yaml.
func Read(v *viper.Viper) (*Config, error) {
	defaults := DefaultConfig()
	v.SetDefault("listen_address", defaults.ListenAddress)
	v.SetDefault("data_dir", defaults.DataDir)
	v.SetDefault("console_dir", defaults.ConsoleDir)
	v.SetDefault("base_image", defaults.BaseImage)
	v.SetDefault("kernel", defaults.Kernel)
	v.SetDefault("initrd", defaults.Initrd)
	v.SetDefault("cmdline", defaults.Cmdline)
	v.SetDefault("hypervisor_binary", defaults.HypervisorBinary)
	v.SetDefault("disk_binary", defaults.DiskBinary)
	v.SetDefault("address_attempts", defaults.AddressAttempts)
	v.SetDefault("address_interval", defaults.AddressInterval)
	v.SetDefault("stop_timeout", defaults.StopTimeout)
	v.SetDefault("request_timeout", defaults.RequestTimeout)
	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("log_format", defaults.LogFormat)
	v.SetDefault("metrics_address", defaults.MetricsAddress)

	// Environment variable support: VMHOST_LISTEN_ADDRESS, VMHOST_DATA_DIR, etc.
	v.SetEnvPrefix("VMHOST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// The data dir from flags or environment is searched first, then the
	// default data and config dirs.
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if dir := v.GetString("data_dir"); dir != "" {
		v.AddConfigPath(dir)
	}
	if paths, err := GetPaths(); err == nil {
		v.AddConfigPath(paths.DataDir)
		v.AddConfigPath(paths.ConfigDir)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return cfg, nil
}

// ConfigFileUsed returns the path of the config file being used, if any.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}

package main

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/warpcomdev/dashcam2/internal/engine"
)

type Config struct {
	InputDir   string `json:"InputDir" toml:"InputDir" yaml:"InputDir"`
	WatchInput bool   `json:"WatchInput" toml:"WatchInput" yaml:"WatchInput"`

	DatabaseDSN string `json:"DatabaseDSN" toml:"DatabaseDSN" yaml:"DatabaseDSN"`

	Port                int `json:"Port" toml:"Port" yaml:"Port"`
	ReadTimeoutSeconds  int `json:"ReadTimeout" toml:"ReadTimeout" yaml:"ReadTimeout"`
	WriteTimeoutSeconds int `json:"WriteTimeout" toml:"WriteTimeout" yaml:"WriteTimeout"`
	MaxHeaderBytes      int `json:"MaxHeaderBytes" toml:"MaxHeaderBytes" yaml:"MaxHeaderBytes"`

	LogFolder     string `json:"LogFolder" toml:"LogFolder" yaml:"LogFolder"`
	LogFileSizeMb int    `json:"LogFileSizeMb" toml:"LogFileSizeMb" yaml:"LogFileSizeMb"`
	LogFileNum    int    `json:"LogFileNum" toml:"LogFileNum" yaml:"LogFileNum"`

	NumGPUWorkers   int `json:"NumGPUWorkers" toml:"NumGPUWorkers" yaml:"NumGPUWorkers"`
	NumCPUWorkers   int `json:"NumCPUWorkers" toml:"NumCPUWorkers" yaml:"NumCPUWorkers"`
	NumVideoReaders int `json:"NumVideoReaders" toml:"NumVideoReaders" yaml:"NumVideoReaders"`

	MaxGPUBacklog  int `json:"MaxGPUBacklog" toml:"MaxGPUBacklog" yaml:"MaxGPUBacklog"`
	MaxCPUBacklog  int `json:"MaxCPUBacklog" toml:"MaxCPUBacklog" yaml:"MaxCPUBacklog"`
	QueueSoftLimit int `json:"QueueSoftLimit" toml:"QueueSoftLimit" yaml:"QueueSoftLimit"`
	QueueHardLimit int `json:"QueueHardLimit" toml:"QueueHardLimit" yaml:"QueueHardLimit"`

	MonitorIntervalSeconds int `json:"MonitorIntervalSeconds" toml:"MonitorIntervalSeconds" yaml:"MonitorIntervalSeconds"`
	DrainTimeoutSeconds    int `json:"DrainTimeoutSeconds" toml:"DrainTimeoutSeconds" yaml:"DrainTimeoutSeconds"`

	// Synthetic decode, used until a real decoder is linked in
	FakeFrames int     `json:"FakeFrames" toml:"FakeFrames" yaml:"FakeFrames"`
	FakeFPS    float64 `json:"FakeFPS" toml:"FakeFPS" yaml:"FakeFPS"`

	Debug bool `json:"Debug" toml:"Debug" yaml:"Debug"`
}

// envOverrides maps environment variables onto config fields, so a
// containerized deployment can skip the config file for tuning knobs
var envOverrides = map[string]func(*Config, int){
	"NUM_GPU_WORKERS":   func(c *Config, v int) { c.NumGPUWorkers = v },
	"NUM_CPU_WORKERS":   func(c *Config, v int) { c.NumCPUWorkers = v },
	"NUM_VIDEO_READERS": func(c *Config, v int) { c.NumVideoReaders = v },
	"MAX_GPU_BACKLOG":   func(c *Config, v int) { c.MaxGPUBacklog = v },
	"MAX_CPU_BACKLOG":   func(c *Config, v int) { c.MaxCPUBacklog = v },
	"QUEUE_SOFT_LIMIT":  func(c *Config, v int) { c.QueueSoftLimit = v },
	"QUEUE_HARD_LIMIT":  func(c *Config, v int) { c.QueueHardLimit = v },
}

func (config *Config) FromEnv() {
	for name, set := range envOverrides {
		raw := os.Getenv(name)
		if raw == "" {
			continue
		}
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			set(config, v)
		}
	}
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		config.DatabaseDSN = dsn
	}
	if dir := os.Getenv("INPUT_DIR"); dir != "" {
		config.InputDir = dir
	}
}

func (config *Config) Check(configPath string) error {
	if config.InputDir == "" {
		return errors.New("inputDir config parameter is required")
	}
	if config.Port < 1024 || config.Port > 65535 {
		config.Port = 8080
	}
	if config.ReadTimeoutSeconds < 1 {
		config.ReadTimeoutSeconds = 5
	}
	if config.WriteTimeoutSeconds < 1 {
		config.WriteTimeoutSeconds = 7
	}
	if config.MaxHeaderBytes < 4096 {
		config.MaxHeaderBytes = 1 << 20
	}
	configDir := filepath.Dir(configPath)
	if config.LogFolder == "" {
		config.LogFolder = filepath.Join(configDir, "logs")
	}
	if config.LogFileSizeMb < 1 {
		config.LogFileSizeMb = 100
	}
	if config.LogFileNum < 1 {
		config.LogFileNum = 10
	}
	if config.NumGPUWorkers < 1 {
		config.NumGPUWorkers = 2
	}
	if config.NumCPUWorkers < 1 {
		config.NumCPUWorkers = 4
	}
	if config.NumVideoReaders < 1 {
		config.NumVideoReaders = 2
	}
	if config.MaxGPUBacklog < 1 {
		config.MaxGPUBacklog = 8
	}
	if config.MaxCPUBacklog < 1 {
		config.MaxCPUBacklog = 16
	}
	if config.QueueSoftLimit < 1 {
		config.QueueSoftLimit = 64
	}
	if config.QueueHardLimit <= config.QueueSoftLimit {
		config.QueueHardLimit = 2 * config.QueueSoftLimit
	}
	if config.MonitorIntervalSeconds < 1 {
		config.MonitorIntervalSeconds = 1
	}
	if config.DrainTimeoutSeconds < 1 {
		config.DrainTimeoutSeconds = 60
	}
	if config.FakeFrames < 1 {
		config.FakeFrames = 300
	}
	if config.FakeFPS <= 0 {
		config.FakeFPS = 30
	}
	return nil
}

func (config Config) EngineOptions() engine.Options {
	return engine.Options{
		InputDir:        config.InputDir,
		WatchInput:      config.WatchInput,
		GPUWorkers:      config.NumGPUWorkers,
		CPUWorkers:      config.NumCPUWorkers,
		VideoReaders:    config.NumVideoReaders,
		MaxGPUBacklog:   config.MaxGPUBacklog,
		MaxCPUBacklog:   config.MaxCPUBacklog,
		QueueSoftLimit:  config.QueueSoftLimit,
		QueueHardLimit:  config.QueueHardLimit,
		MonitorInterval: time.Duration(config.MonitorIntervalSeconds) * time.Second,
		DrainTimeout:    time.Duration(config.DrainTimeoutSeconds) * time.Second,
	}
}

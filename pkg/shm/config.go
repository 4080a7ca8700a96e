package shm

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/yaml.v3"

	internalshm "github.com/srediag/shmsync/internal/shm"
)

const (
	// NamespaceSeparator is prepended to every logical name before it
	// reaches the OS.
	NamespaceSeparator = "/"
	// DefaultSegmentSize is the agreed segment size when none is configured.
	// Every participant must use the same value; mismatches are not detected.
	DefaultSegmentSize = 1 << 20

	defaultSegmentPerm   os.FileMode = 0600
	defaultMutexPerm     os.FileMode = 0666
	defaultAttachTimeout             = internalshm.DefaultAttachTimeout
	maxNameLen                       = 200
)

// Config holds the parameters shared by every object a Factory opens.
type Config struct {
	// Dir holds the backing files on Unix. Defaults to /dev/shm when
	// available. Ignored on Windows.
	Dir string `yaml:"dir"`
	// SegmentSize is the single size every segment is created with.
	SegmentSize int `yaml:"segment_size"`
	// SegmentPerm is the permission of newly created segments.
	SegmentPerm os.FileMode `yaml:"segment_perm"`
	// MutexPerm is the permission of newly created mutexes.
	MutexPerm os.FileMode `yaml:"mutex_perm"`
	// AttachTimeout bounds how long an attacher waits for the creator of a
	// segment to finish resizing it.
	AttachTimeout time.Duration `yaml:"attach_timeout"`

	// Meter and Tracer receive OpenTelemetry instrumentation. Nil means noop.
	Meter  metric.Meter `yaml:"-"`
	Tracer trace.Tracer `yaml:"-"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Dir:           internalshm.DefaultDir(),
		SegmentSize:   DefaultSegmentSize,
		SegmentPerm:   defaultSegmentPerm,
		MutexPerm:     defaultMutexPerm,
		AttachTimeout: defaultAttachTimeout,
	}
}

// VerifyConfig is used to check whether the config is valid.
func VerifyConfig(config *Config) error {
	if config == nil {
		return errors.New("config is nil")
	}
	if config.SegmentSize <= 0 {
		return fmt.Errorf("segment size must be positive, got %d", config.SegmentSize)
	}
	if uint64(config.SegmentSize) > 1<<40 {
		return fmt.Errorf("segment size %d is larger than 1 TiB", config.SegmentSize)
	}
	if config.SegmentPerm.Perm() == 0 || config.MutexPerm.Perm() == 0 {
		return errors.New("segment and mutex permissions must not be empty")
	}
	if config.AttachTimeout <= 0 {
		return fmt.Errorf("attach timeout must be positive, got %s", config.AttachTimeout)
	}
	if runtime.GOOS != "windows" && config.Dir == "" {
		return errors.New("dir must not be empty")
	}
	return nil
}

// LoadConfig reads a YAML config file on top of DefaultConfig, then applies
// the SHMSYNC_DIR, SHMSYNC_SEGMENT_SIZE and SHMSYNC_ATTACH_TIMEOUT
// environment overrides. An empty path skips the file.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	if err := applyEnv(config); err != nil {
		return nil, err
	}
	if err := VerifyConfig(config); err != nil {
		return nil, err
	}
	return config, nil
}

func applyEnv(config *Config) error {
	if v := os.Getenv("SHMSYNC_DIR"); v != "" {
		config.Dir = v
	}
	if v := os.Getenv("SHMSYNC_SEGMENT_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid SHMSYNC_SEGMENT_SIZE %q: %w", v, err)
		}
		config.SegmentSize = n
	}
	if v := os.Getenv("SHMSYNC_ATTACH_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid SHMSYNC_ATTACH_TIMEOUT %q: %w", v, err)
		}
		config.AttachTimeout = d
	}
	return nil
}

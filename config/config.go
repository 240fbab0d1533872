// Package config holds the engine-wide configuration options, loaded the
// way a YAML-backed program options struct would: unknown fields rejected,
// validation kept separate from parsing.
package config

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Default values for the tunables below.
const (
	DefaultTableCacheEntries = 1000
	DefaultMirrorMinBytes    = 65536
)

var (
	// ErrMirrorPathRequired is returned when mirroring is enabled without a
	// mirror directory to write to.
	ErrMirrorPathRequired = errors.New("mirror_path is required when mirror_enable is true")

	// ErrInvalidTableCacheEntries is returned for a non-positive LRU capacity.
	ErrInvalidTableCacheEntries = errors.New("table_cache_entries must be positive")

	// ErrInvalidMirrorMinBytes is returned for a negative size threshold.
	ErrInvalidMirrorMinBytes = errors.New("mirror_min_bytes must not be negative")
)

// Options is the full set of engine-wide knobs.
type Options struct {
	// MirrorEnable globally gates mirroring; when false all mirror paths are
	// bypassed.
	MirrorEnable bool `yaml:"mirror_enable"`

	// MirrorPath is the directory for the mirror copy, distinct from the
	// primary directory.
	MirrorPath string `yaml:"mirror_path"`

	// Prefetch enables iterator-level AIO prefetch on mirror reads (cprefetch).
	Prefetch bool `yaml:"cprefetch"`

	// UseOpqThread enables the asynchronous mirror pipeline; when false,
	// mirror ops run on the caller's thread instead of the background worker.
	UseOpqThread bool `yaml:"use_opq_thread"`

	// CompactReadOnSecondary instructs compaction to open SSTables for read
	// with mirror=true.
	CompactReadOnSecondary bool `yaml:"compact_read_on_secondary"`

	// TableCacheEntries is the per-partition LRU capacity.
	TableCacheEntries int `yaml:"table_cache_entries"`

	// MirrorMinBytes is the minimum file size below which mirror-read is not
	// attempted.
	MirrorMinBytes int64 `yaml:"mirror_min_bytes"`
}

// Default returns the engine's default configuration.
func Default() *Options {
	return &Options{
		MirrorEnable:           false,
		Prefetch:               false,
		UseOpqThread:           true,
		CompactReadOnSecondary: true,
		TableCacheEntries:      DefaultTableCacheEntries,
		MirrorMinBytes:         DefaultMirrorMinBytes,
	}
}

// Load reads and validates YAML configuration from path using fsys, starting
// from Default() for any field the file omits.
func Load(fsys afero.Fs, path string) (*Options, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config: %q (%w)", path, err)
	}
	defer f.Close()

	return Decode(f)
}

// Decode reads and validates YAML configuration from r, starting from
// Default() for any field the document omits.
func Decode(r io.Reader) (*Options, error) {
	opts := Default()

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	if err := dec.Decode(opts); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := opts.Validate(); err != nil {
		return nil, err
	}

	return opts, nil
}

// Validate checks the configuration for internal consistency.
func (o *Options) Validate() error {
	if o.MirrorEnable && o.MirrorPath == "" {
		return ErrMirrorPathRequired
	}

	if o.TableCacheEntries <= 0 {
		return ErrInvalidTableCacheEntries
	}

	if o.MirrorMinBytes < 0 {
		return ErrInvalidMirrorMinBytes
	}

	return nil
}

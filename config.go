package websqlite3

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/webquery/websqlite3/executor"
	"github.com/webquery/websqlite3/pool"
)

// Config is the user-facing, file-loadable configuration for a Client,
// mirroring spec §6's connection/pool/server schema. Time-like fields
// are expressed in float seconds, matching the original's
// configuration surface, and are translated into time.Duration for
// the pool and executor packages by poolConfig/executorConfig.
type Config struct {
	Connection ConnectionConfig `json:"connection" yaml:"connection" toml:"connection"`
	Pool       PoolSettings     `json:"pool" yaml:"pool" toml:"pool"`
	Server     ServerConfig     `json:"server" yaml:"server" toml:"server"`

	// Workers is not part of spec §6's schema — it is this port's
	// resolution of spec §9 Open Question 3 (worker count defaults to
	// pool.max_size when zero, see executorConfig).
	Workers int `json:"workers" yaml:"workers" toml:"workers"`
}

// ConnectionConfig configures the driver handle each Connection opens
// (spec §6 "connection" block).
type ConnectionConfig struct {
	// Database is the filesystem path or DSN passed to the driver, or
	// ":memory:" for an in-memory database.
	Database string `json:"database" yaml:"database" toml:"database"`
	// TimeoutSeconds is the default per-call deadline applied when a
	// caller submits a Query/Execute without an explicit WithTimeout.
	TimeoutSeconds float64 `json:"timeout" yaml:"timeout" toml:"timeout"`
	// CheckSameThread mirrors the source driver's thread-affinity
	// guard. It has no effect here: a Connection is never shared
	// across goroutines regardless of this setting (spec §4.1,
	// "used by at most one caller at a time"), so the field is only
	// carried for schema compatibility and config-file round trips.
	CheckSameThread bool `json:"check_same_thread" yaml:"check_same_thread" toml:"check_same_thread"`
	// IsolationLevel selects the BEGIN variant pool.Begin issues.
	IsolationLevel string `json:"isolation_level" yaml:"isolation_level" toml:"isolation_level"`
	// CachedStatements is carried for schema compatibility; this
	// module relies on the driver's own internal statement handling
	// rather than a caller-tunable cache size.
	CachedStatements int `json:"cached_statements" yaml:"cached_statements" toml:"cached_statements"`
	// URI is carried for schema compatibility and has no effect: every
	// Connection is opened with SQLITE_OPEN_URI whatever this field
	// holds, so Database may carry query parameters like
	// "file:data.db?mode=ro" even when URI is false.
	URI bool `json:"uri" yaml:"uri" toml:"uri"`
}

// PoolSettings configures the connection pool (spec §6 "pool" block).
type PoolSettings struct {
	MinSize    int     `json:"min_size" yaml:"min_size" toml:"min_size"`
	MaxSize    int     `json:"max_size" yaml:"max_size" toml:"max_size"`
	MaxQueries int64   `json:"max_queries" yaml:"max_queries" toml:"max_queries"`
	MaxIdleTimeSeconds float64 `json:"max_idle_time" yaml:"max_idle_time" toml:"max_idle_time"`
	// ConnectionTimeoutSeconds bounds how long Acquire waits for a free
	// Connection (spec §7's "Pool exhausted" trigger).
	ConnectionTimeoutSeconds float64 `json:"connection_timeout" yaml:"connection_timeout" toml:"connection_timeout"`
	// PoolRecycleSeconds recycles a Connection this old regardless of
	// use; zero disables age eviction.
	PoolRecycleSeconds int64 `json:"pool_recycle" yaml:"pool_recycle" toml:"pool_recycle"`
	// Echo logs each SQL statement at Debug level via the Client's
	// slog.Logger.
	Echo bool `json:"echo" yaml:"echo" toml:"echo"`
}

// ServerConfig is reserved: LoadConfig parses it and Save writes it
// back, but no component reads it and Client.Stats does not report it
// (spec §9 Open Question 1's "server.* remains cosmetic").
type ServerConfig struct {
	Host       string `json:"host" yaml:"host" toml:"host"`
	Port       int    `json:"port" yaml:"port" toml:"port"`
	Charset    string `json:"charset" yaml:"charset" toml:"charset"`
	Autocommit bool   `json:"autocommit" yaml:"autocommit" toml:"autocommit"`
}

// LoadConfig reads a Config from a JSON, YAML, or TOML file, chosen by
// the file's extension, the way the teacher's CLI accepts multiple
// config formats.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("websqlite3: load config: %w", err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		err = json.Unmarshal(data, &cfg)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	case ".toml":
		err = toml.Unmarshal(data, &cfg)
	default:
		return Config{}, fmt.Errorf("websqlite3: load config: unsupported extension %q", ext)
	}
	if err != nil {
		return Config{}, fmt.Errorf("websqlite3: load config: %w", err)
	}
	return cfg.withDefaults(), nil
}

// withDefaults fills in the fields spec §6 documents as "missing fields
// defaulted" — required only for a config built by hand or unmarshaled
// from a file that omits them. It only fills fields left at their zero
// value, so calling it more than once is harmless and a negative value
// is left for Validate to reject. A zero cannot be told apart from an
// omitted field, so an explicit zero (for example pool.min_size: 0) is
// replaced by the default as well.
func (c Config) withDefaults() Config {
	if c.Connection.TimeoutSeconds == 0 {
		c.Connection.TimeoutSeconds = 5.0
	}
	if c.Connection.CachedStatements == 0 {
		c.Connection.CachedStatements = 128
	}
	if c.Pool.MinSize == 0 {
		c.Pool.MinSize = 1
	}
	if c.Pool.MaxSize == 0 {
		c.Pool.MaxSize = 10
	}
	if c.Pool.MaxIdleTimeSeconds == 0 {
		c.Pool.MaxIdleTimeSeconds = 600
	}
	if c.Pool.ConnectionTimeoutSeconds == 0 {
		c.Pool.ConnectionTimeoutSeconds = 30
	}
	return c
}

// Save writes cfg to path in JSON, YAML, or TOML, chosen by the file's
// extension, so that LoadConfig(path) round-trips it (spec §8:
// "Config.from_file(write(c)) == c for any valid c").
func (c Config) Save(path string) error {
	var (
		data []byte
		err  error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		data, err = json.MarshalIndent(c, "", "  ")
	case ".yaml", ".yml":
		data, err = c.ToYAML()
	case ".toml":
		data, err = c.ToTOML()
	default:
		return fmt.Errorf("websqlite3: save config: unsupported extension %q", ext)
	}
	if err != nil {
		return fmt.Errorf("websqlite3: save config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("websqlite3: save config: %w", err)
	}
	return nil
}

// ToYAML marshals c the same way LoadConfig unmarshals a ".yaml" file.
func (c Config) ToYAML() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("websqlite3: config to yaml: %w", err)
	}
	return data, nil
}

// ToTOML marshals c the same way LoadConfig unmarshals a ".toml" file.
func (c Config) ToTOML() ([]byte, error) {
	var buf strings.Builder
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return nil, fmt.Errorf("websqlite3: config to toml: %w", err)
	}
	return []byte(buf.String()), nil
}

// Validate checks the fixed constraints spec §7 raises a
// ConfigurationError for. It is called by Open before anything is
// dialed, so a bad Config never gets as far as touching the driver.
func (c Config) Validate() error {
	if c.Connection.Database == "" {
		return newError(KindConfiguration, "validate", fmt.Errorf("connection.database is required"))
	}
	if c.Pool.MinSize < 0 {
		return newError(KindConfiguration, "validate", fmt.Errorf("pool.min_size must be >= 0, got %d", c.Pool.MinSize))
	}
	if c.Pool.MaxSize <= 0 {
		return newError(KindConfiguration, "validate", fmt.Errorf("pool.max_size must be > 0, got %d", c.Pool.MaxSize))
	}
	if c.Pool.MinSize > c.Pool.MaxSize {
		return newError(KindConfiguration, "validate", fmt.Errorf("pool.min_size (%d) must be <= pool.max_size (%d)", c.Pool.MinSize, c.Pool.MaxSize))
	}
	if c.Pool.MaxQueries < 0 {
		return newError(KindConfiguration, "validate", fmt.Errorf("pool.max_queries must be >= 0, got %d", c.Pool.MaxQueries))
	}
	if c.Pool.MaxIdleTimeSeconds < 0 {
		return newError(KindConfiguration, "validate", fmt.Errorf("pool.max_idle_time must be >= 0, got %g", c.Pool.MaxIdleTimeSeconds))
	}
	if c.Pool.ConnectionTimeoutSeconds < 0 {
		return newError(KindConfiguration, "validate", fmt.Errorf("pool.connection_timeout must be >= 0, got %g", c.Pool.ConnectionTimeoutSeconds))
	}
	if c.Pool.PoolRecycleSeconds < 0 {
		return newError(KindConfiguration, "validate", fmt.Errorf("pool.pool_recycle must be >= 0, got %d", c.Pool.PoolRecycleSeconds))
	}
	if c.Connection.TimeoutSeconds < 0 {
		return newError(KindConfiguration, "validate", fmt.Errorf("connection.timeout must be >= 0, got %g", c.Connection.TimeoutSeconds))
	}
	if c.Connection.CachedStatements < 0 {
		return newError(KindConfiguration, "validate", fmt.Errorf("connection.cached_statements must be >= 0, got %d", c.Connection.CachedStatements))
	}
	switch c.Connection.IsolationLevel {
	case "", "DEFERRED", "IMMEDIATE", "EXCLUSIVE":
	default:
		return newError(KindConfiguration, "validate", fmt.Errorf("connection.isolation_level must be one of DEFERRED, IMMEDIATE, EXCLUSIVE, or empty, got %q", c.Connection.IsolationLevel))
	}
	if c.Workers < 0 {
		return newError(KindConfiguration, "validate", fmt.Errorf("workers must be >= 0, got %d", c.Workers))
	}
	return nil
}

// poolConfig translates the user-facing float-seconds fields into a
// pool.Config with time.Duration fields.
func (c Config) poolConfig() pool.Config {
	return pool.Config{
		Path:           c.Connection.Database,
		MaxSize:        c.Pool.MaxSize,
		MinSize:        c.Pool.MinSize,
		MaxIdleTime:    secondsToDuration(c.Pool.MaxIdleTimeSeconds),
		MaxLifetime:    time.Duration(c.Pool.PoolRecycleSeconds) * time.Second,
		MaxQueries:     c.Pool.MaxQueries,
		AcquireTimeout: secondsToDuration(c.Pool.ConnectionTimeoutSeconds),
		IsolationLevel: c.Connection.IsolationLevel,
	}
}

func (c Config) executorConfig() executor.Config {
	workers := c.Workers
	if workers <= 0 {
		// Spec §9 Open Question 3: default worker count to the pool's
		// max_size when unset.
		workers = c.Pool.MaxSize
	}
	return executor.Config{Workers: workers}
}

// defaultTimeout returns the per-call deadline duration to apply when
// a caller does not pass WithTimeout, derived from connection.timeout.
// Zero means no default deadline.
func (c Config) defaultTimeout() time.Duration {
	return secondsToDuration(c.Connection.TimeoutSeconds)
}

func secondsToDuration(s float64) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	EnvDev  = "dev"
	EnvProd = "prod"

	envPrefix = "STORAGECORE"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"dev"`
	DataDir     string `envconfig:"DATA_DIR" default:"./data"`

	BufferPoolPages int `envconfig:"BUFFER_POOL_PAGES" default:"50"`
	PageSize        int `envconfig:"PAGE_SIZE" default:"4096"`

	LockWaitMin time.Duration `envconfig:"LOCK_WAIT_MIN" default:"0s"`
	LockWaitMax time.Duration `envconfig:"LOCK_WAIT_MAX" default:"2s"`

	Workers   int `envconfig:"WORKERS" default:"8"`
	TupleSize int `envconfig:"TUPLE_SIZE" default:"64"`
}

// Load reads the configuration from STORAGECORE_* environment variables.
// Files in dotenvFiles are loaded first and never override variables that
// are already set. Missing files are ignored.
func Load(dotenvFiles ...string) (Config, error) {
	for _, path := range dotenvFiles {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}

	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to process environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var err error
	if c.Environment != EnvDev && c.Environment != EnvProd {
		err = errors.Join(err, fmt.Errorf("unknown environment %q", c.Environment))
	}
	if c.BufferPoolPages <= 0 {
		err = errors.Join(err, fmt.Errorf("buffer pool must hold at least one page, got %d", c.BufferPoolPages))
	}
	if c.PageSize <= 0 {
		err = errors.Join(err, fmt.Errorf("page size must be positive, got %d", c.PageSize))
	}
	if c.TupleSize <= 0 || c.TupleSize > c.PageSize {
		err = errors.Join(err, fmt.Errorf("tuple size %d doesn't fit into a page of %d", c.TupleSize, c.PageSize))
	}
	if c.LockWaitMin < 0 || c.LockWaitMin > c.LockWaitMax {
		err = errors.Join(err, fmt.Errorf("invalid lock wait bounds [%v, %v)", c.LockWaitMin, c.LockWaitMax))
	}
	if c.Workers <= 0 {
		err = errors.Join(err, fmt.Errorf("workers must be positive, got %d", c.Workers))
	}
	return err
}

package config

import (
	"errors"
	"io"
	"os"
	"time"

	// Packages
	pg "github.com/mutablelogic/go-pgqmini"
	queue "github.com/mutablelogic/go-pgqmini/pkg/queue"
	schema "github.com/mutablelogic/go-pgqmini/pkg/queue/schema"
	yaml "gopkg.in/yaml.v3"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Config is the configuration file for the command line tool
type Config struct {
	Host            string        `yaml:"host"`
	Port            uint16        `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslmode"`
	ApplicationName string        `yaml:"application_name"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	Queue           string        `yaml:"queue"`
	Strict          bool          `yaml:"strict_provisioning"`

	// Worker pool
	Workers      int           `yaml:"workers"`
	RequeueAfter time.Duration `yaml:"requeue_after"`

	// Metrics listen address
	Metrics string `yaml:"metrics"`
}

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

const (
	DefaultHost = "localhost"
	DefaultPort = 5432
)

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// New returns a configuration with the defaults set
func New() *Config {
	return &Config{
		Host:  DefaultHost,
		Port:  DefaultPort,
		Queue: schema.DefaultQueue,
	}
}

// Load reads a configuration file. A missing file returns pg.ErrNotFound.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, pg.ErrNotFound.Withf("configuration file %q", path)
	} else if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}

// Read a configuration from YAML. Unknown fields are an error.
func Read(r io.Reader) (*Config, error) {
	self := New()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(self); err != nil && !errors.Is(err, io.EOF) {
		return nil, pg.ErrBadParameter.With(err)
	}
	if err := self.Validate(); err != nil {
		return nil, err
	}
	return self, nil
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Validate returns ErrBadParameter if the configuration cannot be used
func (c *Config) Validate() error {
	if c.Host == "" {
		return pg.ErrBadParameter.With("missing host")
	}
	if c.Port == 0 {
		return pg.ErrBadParameter.With("missing port")
	}
	if _, err := schema.QueueName(c.Queue).Normalize(); err != nil {
		return err
	}
	if c.Workers < 0 {
		return pg.ErrBadParameter.With("negative workers")
	}
	if c.ConnectTimeout < 0 || c.RequeueAfter < 0 {
		return pg.ErrBadParameter.With("negative duration")
	}
	return nil
}

// ConnOpts returns the connection options for the configuration, other
// than those which Connect takes as arguments
func (c *Config) ConnOpts() []pg.Opt {
	var opts []pg.Opt
	if c.SSLMode != "" {
		opts = append(opts, pg.WithSSLMode(c.SSLMode))
	}
	if c.ApplicationName != "" {
		opts = append(opts, pg.WithApplicationName(c.ApplicationName))
	}
	if c.ConnectTimeout > 0 {
		opts = append(opts, pg.WithConnectTimeout(c.ConnectTimeout))
	}
	return opts
}

// QueueOpts returns the queue options for the configuration
func (c *Config) QueueOpts() []queue.Opt {
	opts := []queue.Opt{
		queue.WithConnOpts(c.ConnOpts()...),
		queue.WithStrictProvisioning(c.Strict),
	}
	if c.Workers > 0 {
		opts = append(opts, queue.WithWorkers(c.Workers))
	}
	if c.RequeueAfter > 0 {
		opts = append(opts, queue.WithRequeue(c.RequeueAfter, queue.DefaultPeriod))
	}
	return opts
}

// Write the configuration as YAML, without the password
func (c *Config) Write(w io.Writer) error {
	other := *c
	if other.Password != "" {
		other.Password = "****"
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(other); err != nil {
		return err
	}
	return enc.Close()
}

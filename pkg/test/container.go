package test

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	// Packages
	dockertest "github.com/ory/dockertest/v3"
	docker "github.com/ory/dockertest/v3/docker"
	pg "github.com/mutablelogic/go-pgqmini"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Container is a docker container started for a test run
type Container struct {
	pool     *dockertest.Pool
	resource *dockertest.Resource
	env      map[string]string
}

// ContainerOpt sets options for a container before it is started
type ContainerOpt func(*containerOpts) error

type containerOpts struct {
	env     map[string]string
	cmd     []string
	timeout time.Duration
}

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

const (
	defaultMaxWait = 2 * time.Minute
	defaultExpiry  = 10 * time.Minute
)

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// NewContainer pulls the image if necessary and starts a container with the
// given name. The container is removed when it is closed, or automatically
// after ten minutes.
func NewContainer(ctx context.Context, name, image string, opts ...ContainerOpt) (*Container, error) {
	o := containerOpts{
		env:     make(map[string]string),
		timeout: defaultMaxWait,
	}
	for _, fn := range opts {
		if err := fn(&o); err != nil {
			return nil, err
		}
	}

	// Connect to docker
	pool, err := dockertest.NewPool("")
	if err != nil {
		return nil, pg.ErrNotAvailable.With(err)
	} else if err := pool.Client.Ping(); err != nil {
		return nil, pg.ErrNotAvailable.With(err)
	}
	pool.MaxWait = o.timeout

	// Repository and tag
	repository, tag, found := strings.Cut(image, ":")
	if !found {
		tag = "latest"
	}

	// Environment
	env := make([]string, 0, len(o.env))
	for k, v := range o.env {
		env = append(env, k+"="+v)
	}

	// Start the container
	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Name:       name,
		Repository: repository,
		Tag:        tag,
		Env:        env,
		Cmd:        o.cmd,
	}, func(config *docker.HostConfig) {
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		return nil, err
	}
	if err := resource.Expire(uint(defaultExpiry.Seconds())); err != nil {
		return nil, errors.Join(err, pool.Purge(resource))
	}

	// The host is the docker host, which is localhost unless docker is remote
	o.env["POSTGRES_HOST"] = hostname(resource)

	// Return success
	return &Container{pool: pool, resource: resource, env: o.env}, nil
}

// Close removes the container
func (c *Container) Close(ctx context.Context) error {
	if c.resource == nil {
		return nil
	}
	err := c.pool.Purge(c.resource)
	c.resource = nil
	return err
}

////////////////////////////////////////////////////////////////////////////////
// OPTIONS

// OptEnv sets an environment variable in the container
func OptEnv(key, value string) ContainerOpt {
	return func(o *containerOpts) error {
		if key == "" {
			return pg.ErrBadParameter.With("missing environment variable name")
		}
		o.env[key] = value
		return nil
	}
}

// OptPostgres sets the superuser credentials and the database created on
// first start
func OptPostgres(user, password, database string) ContainerOpt {
	return func(o *containerOpts) error {
		o.env["POSTGRES_USER"] = user
		o.env["POSTGRES_PASSWORD"] = password
		o.env["POSTGRES_DB"] = database
		return nil
	}
}

// OptPostgresSetting sets a server configuration parameter on the command line
func OptPostgresSetting(key, value string) ContainerOpt {
	return func(o *containerOpts) error {
		if len(o.cmd) == 0 {
			o.cmd = append(o.cmd, "postgres")
		}
		o.cmd = append(o.cmd, "-c", key+"="+value)
		return nil
	}
}

// OptTimeout sets how long to wait for the container to become ready
func OptTimeout(d time.Duration) ContainerOpt {
	return func(o *containerOpts) error {
		if d <= 0 {
			return pg.ErrBadParameter.With("timeout must be positive")
		}
		o.timeout = d
		return nil
	}
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// GetEnv returns an environment variable set on the container
func (c *Container) GetEnv(key string) (string, bool) {
	v, ok := c.env[key]
	return v, ok
}

// GetPort returns the host port mapped to a container port, such as 5432/tcp
func (c *Container) GetPort(id string) (uint16, error) {
	port, err := strconv.ParseUint(c.resource.GetPort(id), 10, 16)
	if err != nil {
		return 0, pg.ErrNotFound.Withf("port %q: %v", id, err)
	}
	return uint16(port), nil
}

// Retry calls fn until it succeeds, or the container wait time is exceeded
func (c *Container) Retry(fn func() error) error {
	return c.pool.Retry(fn)
}

func (c *Container) String() string {
	if c.resource == nil {
		return "<container>"
	}
	return fmt.Sprintf("<container name=%q id=%q>", strings.TrimPrefix(c.resource.Container.Name, "/"), c.resource.Container.ID)
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func hostname(resource *dockertest.Resource) string {
	hostport := resource.GetHostPort("5432/tcp")
	if host, _, found := strings.Cut(hostport, ":"); found && host != "" && host != "0.0.0.0" {
		return host
	}
	return "localhost"
}

package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	// Packages
	pg "github.com/mutablelogic/go-pgqmini"
	config "github.com/mutablelogic/go-pgqmini/pkg/config"
	assert "github.com/stretchr/testify/assert"
)

func Test_Config_001(t *testing.T) {
	assert := assert.New(t)

	t.Run("Defaults", func(t *testing.T) {
		c, err := config.Read(strings.NewReader(""))
		assert.NoError(err)
		assert.Equal("localhost", c.Host)
		assert.Equal(uint16(5432), c.Port)
		assert.Equal("queue", c.Queue)
		assert.Empty(c.ConnOpts())
	})

	t.Run("Read", func(t *testing.T) {
		c, err := config.Read(strings.NewReader(`
host: db.example.com
port: 6543
database: queues
user: worker
password: secret
sslmode: require
connect_timeout: 5s
queue: emails
strict_provisioning: true
workers: 4
requeue_after: 10m
metrics: ":9090"
`))
		assert.NoError(err)
		assert.Equal("db.example.com", c.Host)
		assert.Equal(uint16(6543), c.Port)
		assert.Equal("queues", c.Database)
		assert.Equal("worker", c.User)
		assert.Equal("secret", c.Password)
		assert.Equal(5*time.Second, c.ConnectTimeout)
		assert.Equal(10*time.Minute, c.RequeueAfter)
		assert.Equal("emails", c.Queue)
		assert.True(c.Strict)
		assert.Equal(4, c.Workers)
		assert.Equal(":9090", c.Metrics)
		assert.Len(c.ConnOpts(), 2)
		assert.Len(c.QueueOpts(), 4)
	})

	t.Run("UnknownField", func(t *testing.T) {
		_, err := config.Read(strings.NewReader("hostname: db\n"))
		assert.ErrorIs(err, pg.ErrBadParameter)
	})

	t.Run("InvalidQueue", func(t *testing.T) {
		_, err := config.Read(strings.NewReader("queue: 1-emails\n"))
		assert.ErrorIs(err, pg.ErrBadParameter)
	})

	t.Run("NegativeWorkers", func(t *testing.T) {
		_, err := config.Read(strings.NewReader("workers: -1\n"))
		assert.ErrorIs(err, pg.ErrBadParameter)
	})

	t.Run("Load", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "pgqmini.yaml")
		assert.NoError(os.WriteFile(path, []byte("queue: orders\n"), 0o600))
		c, err := config.Load(path)
		assert.NoError(err)
		assert.Equal("orders", c.Queue)
	})

	t.Run("LoadMissing", func(t *testing.T) {
		_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.ErrorIs(err, pg.ErrNotFound)
	})

	t.Run("Write", func(t *testing.T) {
		c := config.New()
		c.Password = "secret"
		var sb strings.Builder
		assert.NoError(c.Write(&sb))
		assert.NotContains(sb.String(), "secret")
		assert.Contains(sb.String(), "queue: queue")
	})
}

// Package testutil starts the throwaway backend containers used by the
// integration tests. Each container is started once per test binary and
// reaped by testcontainers when the binary exits.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	_ "github.com/jackc/pgx/v5/stdlib" // driver used by the readiness probe
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Give generous timeout in CI environments
const startTimeout = 3 * time.Minute

type sharedContainer struct {
	once     sync.Once
	endpoint string
	err      error
}

func (c *sharedContainer) get(t *testing.T, start func(ctx context.Context) (string, error)) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container-backed test in -short mode")
	}

	c.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), startTimeout)
		defer cancel()
		c.endpoint, c.err = start(ctx)
	})
	if c.err != nil {
		t.Skipf("container unavailable: %v", c.err)
	}
	return c.endpoint
}

var (
	postgres sharedContainer
	mongo    sharedContainer
	redis    sharedContainer
)

// PostgresDSN returns a pgx DSN for a shared postgres:16 container.
func PostgresDSN(t *testing.T) string {
	return postgres.get(t, func(ctx context.Context) (string, error) {
		dsn := func(hostPort string) string {
			return fmt.Sprintf("postgres://flowstate:flowstate@%s/flowstate_test?sslmode=disable", hostPort)
		}

		c, err := testcontainers.Run(
			ctx, "postgres:16",
			testcontainers.WithExposedPorts("5432/tcp"),
			testcontainers.WithWaitStrategy(
				wait.ForAll(
					wait.ForListeningPort("5432/tcp"),
					wait.ForLog("ready to accept connections"),
					wait.ForSQL("5432/tcp", "pgx", func(host string, port nat.Port) string {
						return dsn(fmt.Sprintf("%s:%s", host, port.Port()))
					}).WithQuery("SELECT 1"),
				).WithDeadline(2*time.Minute),
			),
			testcontainers.WithEnv(map[string]string{
				"POSTGRES_USER":     "flowstate",
				"POSTGRES_PASSWORD": "flowstate",
				"POSTGRES_DB":       "flowstate_test",
			}),
		)
		if err != nil {
			return "", err
		}

		endpoint, err := c.Endpoint(ctx, "")
		if err != nil {
			_ = c.Terminate(context.Background()) // best-effort cleanup
			return "", err
		}
		return dsn(endpoint), nil
	})
}

// MongoURI returns a connection URI for a shared mongo:7 container.
func MongoURI(t *testing.T) string {
	return mongo.get(t, func(ctx context.Context) (string, error) {
		c, err := testcontainers.Run(
			ctx, "mongo:7",
			testcontainers.WithExposedPorts("27017/tcp"),
			testcontainers.WithWaitStrategy(
				wait.ForListeningPort("27017/tcp"),
				wait.ForLog("Waiting for connections"),
			),
		)
		if err != nil {
			return "", err
		}

		endpoint, err := c.Endpoint(ctx, "")
		if err != nil {
			_ = c.Terminate(context.Background())
			return "", err
		}
		return fmt.Sprintf("mongodb://%s", endpoint), nil
	})
}

// RedisAddr returns host:port of a shared redis container.
func RedisAddr(t *testing.T) string {
	return redis.get(t, func(ctx context.Context) (string, error) {
		c, err := testcontainers.Run(
			ctx, "redis:7",
			testcontainers.WithExposedPorts("6379/tcp"),
			testcontainers.WithWaitStrategy(
				wait.ForListeningPort("6379/tcp"),
				wait.ForLog("Ready to accept connections"),
			),
		)
		if err != nil {
			return "", err
		}

		endpoint, err := c.Endpoint(ctx, "")
		if err != nil {
			_ = c.Terminate(context.Background())
			return "", err
		}
		return endpoint, nil
	})
}

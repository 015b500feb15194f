package redisclient

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type Client struct {
	redisdb *redis.Client
}

type Config struct {
	Addr     string
	Password string
	DB       int
}

// New returns nil when no address is configured; callers fall back to
// in-process implementations.
func New(cfg Config) *Client {
	if cfg.Addr == "" {
		return nil
	}

	redisdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	return &Client{redisdb: redisdb}
}

// Wrap adopts an existing go-redis client (tests, shared pools).
func Wrap(redisdb *redis.Client) *Client {
	return &Client{redisdb: redisdb}
}

func (c *Client) Ping(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.redisdb.Ping(ctx).Err()
}

func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	return c.redisdb.Close()
}

// Raw exposes the go-redis client for scripts.
func (c *Client) Raw() *redis.Client {
	if c == nil {
		return nil
	}
	return c.redisdb
}

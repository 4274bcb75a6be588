package statedb

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/lwfabric/fabtopo/pkg/util"
)

// DB is the Redis database index of STATE_DB.
const DB = 6

// Client reads and writes the fabric tables of STATE_DB.
type Client struct {
	client *redis.Client
	tunnel *SSHTunnel
}

// NewClient creates a client for the Redis server at addr.
func NewClient(addr string) *Client {
	return &Client{
		client: redis.NewClient(&redis.Options{
			Addr: addr,
			DB:   DB,
		}),
	}
}

// NewTunneledClient reaches Redis on a remote node through an SSH tunnel.
func NewTunneledClient(cfg TunnelConfig) (*Client, error) {
	t, err := NewSSHTunnel(cfg)
	if err != nil {
		return nil, err
	}
	c := NewClient(t.LocalAddr())
	c.tunnel = t
	return c, nil
}

// Connect tests the connection.
func (c *Client) Connect(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the connection and the tunnel, if any.
func (c *Client) Close() error {
	err := c.client.Close()
	if c.tunnel != nil {
		if terr := c.tunnel.Close(); err == nil {
			err = terr
		}
	}
	return err
}

// Load reads every fabric table into a snapshot.
func (c *Client) Load(ctx context.Context) (*Snapshot, error) {
	log := util.WithOperation("statedb")
	s := NewSnapshot()
	for _, table := range Tables {
		keys, err := scanKeys(ctx, c.client, table+"|*", 100)
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", table, err)
		}
		for _, key := range keys {
			vals, err := c.client.HGetAll(ctx, key).Result()
			if err != nil {
				return nil, fmt.Errorf("reading %s: %w", key, err)
			}
			if err := s.Apply(key, vals); err != nil {
				return nil, err
			}
		}
		log.Debugf("%s: %d keys", table, len(keys))
	}
	return s, nil
}

// Catalog loads a snapshot and builds a catalog from it.
func (c *Client) Catalog(ctx context.Context) (*Catalog, error) {
	s, err := c.Load(ctx)
	if err != nil {
		return nil, err
	}
	return NewCatalog(s)
}

// Store replaces the fabric tables with the snapshot's contents.
func (c *Client) Store(ctx context.Context, s *Snapshot) error {
	if err := c.Clear(ctx); err != nil {
		return err
	}
	pipe := c.client.Pipeline()
	for key, vals := range s.Hashes() {
		if len(vals) == 0 {
			continue
		}
		fields := make(map[string]interface{}, len(vals))
		for k, v := range vals {
			fields[k] = v
		}
		pipe.HSet(ctx, key, fields)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Clear deletes every fabric table key.
func (c *Client) Clear(ctx context.Context) error {
	for _, table := range Tables {
		keys, err := scanKeys(ctx, c.client, table+"|*", 100)
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
	}
	return nil
}

// scanKeys returns all keys matching pattern using cursor-based SCAN.
func scanKeys(ctx context.Context, client *redis.Client, pattern string, countHint int64) ([]string, error) {
	var cursor uint64
	var keys []string
	for {
		batch, next, err := client.Scan(ctx, cursor, pattern, countHint).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

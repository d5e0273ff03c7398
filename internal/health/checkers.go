package health

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
)

// RedisChecker pings the session/cache store. Critical: session continuity
// and embedding caching both depend on it.
type RedisChecker struct {
	Client *redis.Client
}

func (c *RedisChecker) Name() string   { return "redis" }
func (c *RedisChecker) Critical() bool { return true }
func (c *RedisChecker) Check(ctx context.Context) error {
	return c.Client.Ping(ctx).Err()
}

// PostgresChecker pings the recall store. Non-critical: recall lookups
// degrade to fresh research when it is down.
type PostgresChecker struct {
	DB *sqlx.DB
}

func (c *PostgresChecker) Name() string   { return "postgres" }
func (c *PostgresChecker) Critical() bool { return false }
func (c *PostgresChecker) Check(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

// GatewayChecker probes the model gateway's health endpoint.
type GatewayChecker struct {
	BaseURL string
	HTTP    *http.Client
}

func (c *GatewayChecker) Name() string   { return "llm_gateway" }
func (c *GatewayChecker) Critical() bool { return true }
func (c *GatewayChecker) Check(ctx context.Context) error {
	cli := c.HTTP
	if cli == nil {
		cli = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := cli.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("gateway returned %d", resp.StatusCode)
	}
	return nil
}

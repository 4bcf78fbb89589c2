package container

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"tradepulse/internal/application/port"
	"tradepulse/internal/infrastructure/config"
	"tradepulse/internal/infrastructure/exchange/okx"
	"tradepulse/internal/infrastructure/storage/composite"
	"tradepulse/internal/infrastructure/storage/postgres"
	redisstore "tradepulse/internal/infrastructure/storage/redis"
	sqliterepo "tradepulse/internal/infrastructure/storage/sqlite"
)

// Container 持有所有基础设施依赖，按后进先出顺序释放。
type Container struct {
	cfg         *config.Config
	redisClient *redis.Client
	repo        port.Repository
	sink        port.TickSink
	exchange    *okx.Client
	closeOnce   sync.Once
	closerChain []func() error
}

// New 创建新的容器实例
func New(cfg *config.Config) (*Container, error) {
	c := &Container{
		cfg:         cfg,
		sink:        port.NoopTickSink{},
		closerChain: make([]func() error, 0),
	}

	if err := c.initStorage(); err != nil {
		// 清理已初始化的资源
		_ = c.Close()
		return nil, err
	}
	c.initExchange()

	return c, nil
}

// initStorage 初始化存储层（Postgres、SQLite、Redis）
func (c *Container) initStorage() error {
	var repos []port.Repository

	if c.cfg.Storage.Postgres.Enabled {
		repo, err := postgres.New(c.cfg.Storage.Postgres.DSN)
		if err != nil {
			return fmt.Errorf("postgres init failed: %w", err)
		}
		repos = append(repos, repo)
		c.closerChain = append(c.closerChain, func() error {
			log.Info().Msg("closing postgres connection")
			return repo.Close()
		})
		log.Info().Msg("postgres initialized")
	}

	if c.cfg.Storage.SQLite.Enabled {
		repo, err := sqliterepo.New(c.cfg.Storage.SQLite.Path)
		if err != nil {
			return fmt.Errorf("sqlite init failed: %w", err)
		}
		repos = append(repos, repo)
		c.closerChain = append(c.closerChain, func() error {
			log.Info().Msg("closing sqlite connection")
			return repo.Close()
		})
		log.Info().Str("path", c.cfg.Storage.SQLite.Path).Msg("sqlite initialized")
	}

	c.repo = composite.New(repos...)

	if c.cfg.Storage.Redis.Enabled {
		if err := c.initRedis(); err != nil {
			return fmt.Errorf("redis init failed: %w", err)
		}
	}

	return nil
}

// initRedis 初始化 Redis 连接
func (c *Container) initRedis() error {
	rdb := redis.NewClient(&redis.Options{
		Addr: c.cfg.Storage.Redis.Addr,
	})

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}

	c.redisClient = rdb
	c.sink = redisstore.NewTickSink(rdb, c.cfg.Storage.Redis.Prefix, c.cfg.RedisTTL(), "", "")

	// 注册关闭回调
	c.closerChain = append(c.closerChain, func() error {
		log.Info().Msg("closing redis connection")
		return rdb.Close()
	})

	log.Info().
		Str("addr", c.cfg.Storage.Redis.Addr).
		Msg("redis initialized")

	return nil
}

func (c *Container) initExchange() {
	restURL := c.cfg.Exchange.OKX.RestURL
	if restURL == "" {
		restURL = okx.DefaultRestEndpoint
	}
	c.exchange = okx.NewClient(restURL, okx.NewCredentials(
		c.cfg.Exchange.OKX.APIKey,
		c.cfg.Exchange.OKX.APISecret,
		c.cfg.Exchange.OKX.Passphrase,
	))
}

// Config 获取配置
func (c *Container) Config() *config.Config {
	return c.cfg
}

// Repository 获取复合仓储
func (c *Container) Repository() port.Repository {
	return c.repo
}

// TickSink 获取行情落地端口（未启用 Redis 时为 noop）
func (c *Container) TickSink() port.TickSink {
	return c.sink
}

// Exchange 获取 OKX REST 客户端
func (c *Container) Exchange() *okx.Client {
	return c.exchange
}

// RedisClient 获取 Redis 客户端
func (c *Container) RedisClient() *redis.Client {
	return c.redisClient
}

// Close 关闭所有资源（按后进先出顺序）
func (c *Container) Close() error {
	var err error
	c.closeOnce.Do(func() {
		for i := len(c.closerChain) - 1; i >= 0; i-- {
			if e := c.closerChain[i](); e != nil {
				log.Error().Err(e).Msg("error closing resource")
				if err == nil {
					err = e
				}
			}
		}
		log.Info().Msg("container closed")
	})
	return err
}

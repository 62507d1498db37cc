// Package config loads a YAML description of the Redis deployment and cache
// defaults, and turns it into a registered cachehouse backend.
package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"

	"github.com/unkn0wn-root/cachehouse"
	"github.com/unkn0wn-root/cachehouse/codec"
	pr "github.com/unkn0wn-root/cachehouse/provider"
	"github.com/unkn0wn-root/cachehouse/provider/bigcache"
	rp "github.com/unkn0wn-root/cachehouse/provider/redis"
	"github.com/unkn0wn-root/cachehouse/provider/ristretto"
)

type Mode string

const (
	ModeSingle  Mode = "single"
	ModeCluster Mode = "cluster"
)

// Store selects what Open builds the backend on.
type Store string

const (
	StoreRedis     Store = "redis"
	StoreRistretto Store = "ristretto"
	StoreBigcache  Store = "bigcache"
)

var (
	ErrMissingAddr  = errors.New("config: redis.addr is required in single mode")
	ErrMissingAddrs = errors.New("config: redis.addrs is required in cluster mode")
)

type Config struct {
	Store Store       `yaml:"store,omitempty"`
	Redis RedisConfig `yaml:"redis"`
	Local LocalConfig `yaml:"local"`
	Cache CacheConfig `yaml:"cache"`
}

type RedisConfig struct {
	Mode     Mode     `yaml:"mode,omitempty"`
	Addr     string   `yaml:"addr,omitempty"`
	Addrs    []string `yaml:"addrs,omitempty"`
	Username string   `yaml:"username,omitempty"`
	Password string   `yaml:"password,omitempty"`
	DB       int      `yaml:"db,omitempty"`
	PoolSize int      `yaml:"pool_size,omitempty"`
	// OpTimeout bounds every cache command; 0 relies on the caller's context.
	OpTimeout Duration `yaml:"op_timeout,omitempty"`
}

// LocalConfig sizes the in-process stores. They serve a single process only.
type LocalConfig struct {
	MaxCostMB   int64 `yaml:"max_cost_mb,omitempty"` // ristretto
	NumCounters int64 `yaml:"num_counters,omitempty"`
	// LifeWindow is bigcache's fixed entry lifetime; per-call TTLs are ignored.
	LifeWindow Duration `yaml:"life_window,omitempty"`
	HardMaxMB  int      `yaml:"hard_max_mb,omitempty"` // bigcache
}

type CacheConfig struct {
	Namespace string   `yaml:"namespace,omitempty"`
	KeyPrefix string   `yaml:"key_prefix,omitempty"`
	Expire    Duration `yaml:"expire,omitempty"`
	Codec     string   `yaml:"codec,omitempty"`
	MaxDecode int      `yaml:"max_decode,omitempty"`
}

// Duration accepts Go durations, day/week forms such as "1d12h", or a bare
// number of seconds.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("config: line %d: duration must be a scalar", value.Line)
	}
	s := strings.TrimSpace(value.Value)
	if s == "" {
		*d = 0
		return nil
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	v, err := str2duration.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: line %d: invalid duration %q: %w", value.Line, s, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return str2duration.String(time.Duration(d)), nil
}

// Default is the configuration an empty file yields.
func Default() Config {
	return Config{
		Store: StoreRedis,
		Redis: RedisConfig{Mode: ModeSingle, Addr: "localhost:6379"},
		Local: LocalConfig{
			MaxCostMB:   64,
			NumCounters: 1e6,
			LifeWindow:  Duration(10 * time.Minute),
		},
		Cache: CacheConfig{
			Namespace: cachehouse.DefaultNamespace,
			KeyPrefix: cachehouse.DefaultKeyPrefix,
			Expire:    Duration(cachehouse.DefaultExpire),
			Codec:     "msgpack",
		},
	}
}

func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return Parse(data)
}

// Parse decodes data over Default and validates the result. Unknown keys are
// rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store {
	case StoreRedis, "":
	case StoreRistretto:
		if c.Local.MaxCostMB <= 0 || c.Local.NumCounters <= 0 {
			return errors.New("config: local.max_cost_mb and local.num_counters must be positive")
		}
	case StoreBigcache:
		if c.Local.LifeWindow <= 0 {
			return errors.New("config: local.life_window must be positive")
		}
	default:
		return fmt.Errorf("config: unknown store %q", c.Store)
	}
	switch c.Redis.Mode {
	case ModeSingle, "":
		if c.Redis.Addr == "" {
			return ErrMissingAddr
		}
	case ModeCluster:
		if len(c.Redis.Addrs) == 0 {
			return ErrMissingAddrs
		}
		if c.Redis.DB != 0 {
			return fmt.Errorf("config: redis.db must be 0 in cluster mode, got %d", c.Redis.DB)
		}
	default:
		return fmt.Errorf("config: unknown redis.mode %q", c.Redis.Mode)
	}
	if c.Redis.PoolSize < 0 {
		return fmt.Errorf("config: redis.pool_size must be >= 0, got %d", c.Redis.PoolSize)
	}
	if c.Redis.OpTimeout < 0 {
		return fmt.Errorf("config: redis.op_timeout must be >= 0, got %s", c.Redis.OpTimeout.Std())
	}
	if c.Cache.Expire < 0 {
		return fmt.Errorf("config: cache.expire must be >= 0, got %s", c.Cache.Expire.Std())
	}
	if c.Cache.MaxDecode < 0 {
		return fmt.Errorf("config: cache.max_decode must be >= 0, got %d", c.Cache.MaxDecode)
	}
	if _, err := codec.ByName(c.Cache.Codec); err != nil {
		return fmt.Errorf("config: cache.codec: %w", err)
	}
	return nil
}

// NewClient builds a *goredis.Client in single mode and a
// *goredis.ClusterClient in cluster mode. The caller owns the client.
func (c *Config) NewClient() (goredis.UniversalClient, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	r := c.Redis
	if r.Mode == ModeCluster {
		return goredis.NewClusterClient(&goredis.ClusterOptions{
			Addrs:    r.Addrs,
			Username: r.Username,
			Password: r.Password,
			PoolSize: r.PoolSize,
		}), nil
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     r.Addr,
		Username: r.Username,
		Password: r.Password,
		DB:       r.DB,
		PoolSize: r.PoolSize,
	}), nil
}

// Codec resolves cache.codec, wrapped in a decode size limit when
// cache.max_decode is set.
func (c *Config) Codec() (codec.Codec, error) {
	cd, err := codec.ByName(c.Cache.Codec)
	if err != nil {
		return nil, err
	}
	if c.Cache.MaxDecode > 0 {
		return codec.Limit{Inner: cd, MaxDecode: c.Cache.MaxDecode}, nil
	}
	return cd, nil
}

// Options maps the cache section onto backend options.
func (c *Config) Options() (cachehouse.Options, error) {
	cd, err := c.Codec()
	if err != nil {
		return cachehouse.Options{}, err
	}
	return cachehouse.Options{
		Namespace:  c.Cache.Namespace,
		KeyPrefix:  c.Cache.KeyPrefix,
		DefaultTTL: c.Cache.Expire.Std(),
		Codec:      cd,
		OpTimeout:  c.Redis.OpTimeout.Std(),
	}, nil
}

// NewBackend registers the backend variant matching client's concrete type
// in reg (the default registry when nil).
func (c *Config) NewBackend(client goredis.UniversalClient, reg *cachehouse.Registry, log cachehouse.Logger) (cachehouse.Backend, error) {
	opts, err := c.Options()
	if err != nil {
		return nil, err
	}
	opts.Registry = reg
	opts.Logger = log

	switch cl := client.(type) {
	case *goredis.ClusterClient:
		return cachehouse.NewRedisCluster(cl, opts)
	case *goredis.Client:
		return cachehouse.NewRedis(cl, opts)
	case nil:
		return nil, errors.New("config: nil redis client")
	default:
		return nil, fmt.Errorf("config: unsupported redis client %T", client)
	}
}

// Open builds the configured store and registers a backend that owns it:
// closing the backend closes the Redis client or the in-process cache.
// bigcache has one fixed lifetime for every entry: Open warns through log
// when cache.expire differs from local.life_window, and WithExpire on
// wrappers has no effect on that store.
func (c *Config) Open(ctx context.Context, reg *cachehouse.Registry, log cachehouse.Logger) (cachehouse.Backend, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	opts, err := c.Options()
	if err != nil {
		return nil, err
	}
	opts.Registry = reg
	opts.Logger = log

	var (
		p       pr.Provider
		variant = cachehouse.SingleNode
	)
	switch c.Store {
	case StoreRistretto:
		p, err = ristretto.New(ristretto.Config{
			NumCounters: c.Local.NumCounters,
			MaxCost:     c.Local.MaxCostMB << 20,
			BufferItems: 64,
		})
	case StoreBigcache:
		c.warnLifeWindow(log)
		p, err = bigcache.New(ctx, bigcache.Config{
			LifeWindow:         c.Local.LifeWindow.Std(),
			HardMaxCacheSizeMB: c.Local.HardMaxMB,
		})
	default:
		client, cerr := c.NewClient()
		if cerr != nil {
			return nil, cerr
		}
		if _, ok := client.(*goredis.ClusterClient); ok {
			variant = cachehouse.Clustered
		}
		p, err = rp.New(rp.Config{Client: client, CloseClient: true, OpTimeout: opts.OpTimeout})
		if err != nil {
			_ = client.Close()
		}
	}
	if err != nil {
		return nil, fmt.Errorf("config: open %s store: %w", c.storeName(), err)
	}

	be, err := cachehouse.NewBackend(variant, p, opts)
	if err != nil {
		_ = p.Close(ctx)
		return nil, err
	}
	return be, nil
}

// warnLifeWindow flags configurations where bigcache will keep entries for a
// different time than cache.expire asks for.
func (c *Config) warnLifeWindow(log cachehouse.Logger) {
	if log == nil {
		return
	}
	expire := c.Cache.Expire.Std()
	if expire == 0 {
		expire = cachehouse.DefaultExpire
	}
	if life := c.Local.LifeWindow.Std(); expire != life {
		log.Warn("bigcache ignores per-entry TTL; entries live for local.life_window", cachehouse.Fields{
			"expire":      expire.String(),
			"life_window": life.String(),
		})
	}
}

func (c *Config) storeName() string {
	if c.Store == "" {
		return string(StoreRedis)
	}
	return string(c.Store)
}

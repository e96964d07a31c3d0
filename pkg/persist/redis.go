package persist

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/rueidis"
)

// RedisPersister stores the snapshot in one Redis hash, one field per
// serialized key.
type RedisPersister struct {
	client rueidis.Client
	config RedisConfig
}

// RedisConfig holds the Redis connection settings.
type RedisConfig struct {
	// Addr is the server address for single node mode, e.g. localhost:6379
	Addr string `koanf:"addr"`

	// ClusterAddrs enables cluster mode when set
	ClusterAddrs []string `koanf:"cluster_addrs"`

	Username string `koanf:"username"`
	Password string `koanf:"password"`

	// DB is the database number. Cluster mode only supports 0.
	DB int `koanf:"db"`

	// Key is the hash holding the snapshot
	Key string `koanf:"key"`

	// TTL expires the whole snapshot (0 = never)
	TTL time.Duration `koanf:"ttl"`

	DialTimeout  time.Duration `koanf:"dial_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`

	// SentinelMasterSet and SentinelAddrs enable sentinel mode
	SentinelMasterSet string   `koanf:"sentinel_master_set"`
	SentinelAddrs     []string `koanf:"sentinel_addrs"`
}

// DefaultRedisConfig returns the default Redis settings. Addr is empty, so
// persistence stays disabled until it is configured.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Key:          "escola:query:snapshot",
		TTL:          time.Hour,
		DialTimeout:  5 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// Enabled reports whether an address is configured.
func (c RedisConfig) Enabled() bool {
	return c.Addr != "" || len(c.ClusterAddrs) > 0 || len(c.SentinelAddrs) > 0
}

// NewRedisPersister connects to Redis and pings it.
func NewRedisPersister(config RedisConfig) (*RedisPersister, error) {
	var initAddress []string
	switch {
	case len(config.ClusterAddrs) > 0:
		initAddress = config.ClusterAddrs
	case len(config.SentinelAddrs) > 0:
		initAddress = config.SentinelAddrs
	case config.Addr != "":
		initAddress = []string{config.Addr}
	default:
		return nil, ErrNotConfigured
	}
	if config.Key == "" {
		config.Key = DefaultRedisConfig().Key
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = DefaultRedisConfig().DialTimeout
	}

	opts := rueidis.ClientOption{
		InitAddress:      initAddress,
		Username:         config.Username,
		Password:         config.Password,
		SelectDB:         config.DB,
		ConnWriteTimeout: config.WriteTimeout,
	}
	if len(config.SentinelAddrs) > 0 {
		opts.Sentinel = rueidis.SentinelOption{MasterSet: config.SentinelMasterSet}
	}

	client, err := rueidis.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("persist: redis client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.DialTimeout)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("persist: redis ping: %w", err)
	}

	return &RedisPersister{client: client, config: config}, nil
}

// Save implements Persister. The previous snapshot is replaced atomically
// from a reader's point of view: delete, write and expire run in one
// MULTI/EXEC block.
func (r *RedisPersister) Save(ctx context.Context, records []Record) error {
	key := r.config.Key
	cmds := rueidis.Commands{
		r.client.B().Multi().Build(),
		r.client.B().Del().Key(key).Build(),
	}

	if len(records) > 0 {
		hset := r.client.B().Hset().Key(key).FieldValue()
		for _, rec := range records {
			data, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("persist: encode %s: %w", rec.Key, err)
			}
			hset = hset.FieldValue(rec.Key.String(), string(data))
		}
		cmds = append(cmds, hset.Build())
		if r.config.TTL > 0 {
			cmds = append(cmds, r.client.B().Expire().Key(key).Seconds(int64(r.config.TTL/time.Second)).Build())
		}
	}
	cmds = append(cmds, r.client.B().Exec().Build())

	var errs []error
	for _, resp := range r.client.DoMulti(ctx, cmds...) {
		if err := resp.Error(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("persist: redis save: %w", errors.Join(errs...))
	}
	return nil
}

// Load implements Persister. Records are returned ordered by key.
func (r *RedisPersister) Load(ctx context.Context) ([]Record, error) {
	resp := r.client.Do(ctx, r.client.B().Hgetall().Key(r.config.Key).Build())
	if err := resp.Error(); err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("persist: redis load: %w", err)
	}

	fields, err := resp.AsStrMap()
	if err != nil {
		return nil, fmt.Errorf("persist: redis load: failed to read response: %w", err)
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	records := make([]Record, 0, len(fields))
	var errs []error
	for _, name := range names {
		var rec Record
		if err := json.Unmarshal([]byte(fields[name]), &rec); err != nil {
			errs = append(errs, fmt.Errorf("field %s: %w", name, err))
			continue
		}
		records = append(records, rec)
	}
	return records, errors.Join(errs...)
}

// Clear implements Persister.
func (r *RedisPersister) Clear(ctx context.Context) error {
	if err := r.client.Do(ctx, r.client.B().Del().Key(r.config.Key).Build()).Error(); err != nil {
		return fmt.Errorf("persist: redis clear: %w", err)
	}
	return nil
}

// Ping checks the connection.
func (r *RedisPersister) Ping(ctx context.Context) error {
	if err := r.client.Do(ctx, r.client.B().Ping().Build()).Error(); err != nil {
		return fmt.Errorf("persist: redis ping: %w", err)
	}
	return nil
}

// Close implements Persister.
func (r *RedisPersister) Close() error {
	r.client.Close()
	return nil
}

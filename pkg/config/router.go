package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/leaguekv/leaguekv/pkg/models/topology"
)

type StoreType string

const (
	StoreTypeRedis = StoreType("redis")
	StoreTypeMem   = StoreType("mem")
)

const (
	QdbTypeMem  = "mem"
	QdbTypeEtcd = "etcd"
	QdbTypeBolt = "bolt"
)

const (
	defaultPingRetries = 3
	defaultPingBackoff = 200 * time.Millisecond
)

type Router struct {
	LogLevel      string `json:"log_level" toml:"log_level" yaml:"log_level"`
	PrettyLogging bool   `json:"pretty_logging" toml:"pretty_logging" yaml:"pretty_logging"`
	LogFile       string `json:"log_file" toml:"log_file" yaml:"log_file"`

	StoreType   StoreType            `json:"store_type" toml:"store_type" yaml:"store_type"`
	Shards      map[string]*ShardCfg `json:"shards" toml:"shards" yaml:"shards"`
	EntityStore EntityStoreCfg       `json:"entity_store" toml:"entity_store" yaml:"entity_store"`

	QdbType          string `json:"qdb_type" toml:"qdb_type" yaml:"qdb_type"`
	QdbAddr          string `json:"qdb_addr" toml:"qdb_addr" yaml:"qdb_addr"`
	MemqdbBackupPath string `json:"memqdb_backup_path" toml:"memqdb_backup_path" yaml:"memqdb_backup_path"`
	BoltqdbPath      string `json:"boltqdb_path" toml:"boltqdb_path" yaml:"boltqdb_path"`

	TimeQuantiles []float64     `json:"time_quantiles" toml:"time_quantiles" yaml:"time_quantiles"`
	PingRetries   uint64        `json:"ping_retries" toml:"ping_retries" yaml:"ping_retries"`
	PingBackoff   time.Duration `json:"ping_backoff" toml:"ping_backoff" yaml:"ping_backoff"`
}

var cfgRouter Router

// LoadRouterCfg loads the router configuration from the specified file path.
//
// Parameters:
//   - cfgPath (string): The path of the configuration file.
//
// Returns:
//   - string: JSON-formatted config
//   - error: An error if any occurred during the loading process.
func LoadRouterCfg(cfgPath string) (string, error) {
	var rcfg Router
	file, err := os.Open(cfgPath)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = file.Close()
	}()

	if err := initConfig(file, &rcfg); err != nil {
		return "", err
	}
	rcfg.setDefaults()
	if err := rcfg.Validate(); err != nil {
		return "", err
	}

	cfgRouter = rcfg

	configBytes, err := json.MarshalIndent(&cfgRouter, "", "  ")
	if err != nil {
		return "", err
	}
	return string(configBytes), nil
}

// RouterConfig returns a pointer to the loaded configuration.
func RouterConfig() *Router {
	return &cfgRouter
}

func (r *Router) setDefaults() {
	if r.StoreType == "" {
		r.StoreType = StoreTypeRedis
	}
	if r.QdbType == "" {
		r.QdbType = QdbTypeMem
	}
	if r.PingRetries == 0 {
		r.PingRetries = defaultPingRetries
	}
	if r.PingBackoff == 0 {
		r.PingBackoff = defaultPingBackoff
	}
	if r.LogLevel == "" {
		r.LogLevel = "info"
	}
}

// Validate checks the shape of the config. Whether the shard set covers every
// category is checked by the directory builder.
func (r *Router) Validate() error {
	switch r.StoreType {
	case StoreTypeRedis, StoreTypeMem:
	default:
		return fmt.Errorf("unknown store type %q, use %q or %q", r.StoreType, StoreTypeRedis, StoreTypeMem)
	}

	for name, sh := range r.Shards {
		if _, err := topology.ParseShardName(name); err != nil {
			return err
		}
		if sh == nil {
			return fmt.Errorf("shard %s has empty config", name)
		}
		if r.StoreType == StoreTypeRedis && sh.Primary() == nil {
			return fmt.Errorf("shard %s has no primary host", name)
		}
	}

	for entity, idx := range r.EntityStore.Databases {
		if idx < 0 {
			return fmt.Errorf("entity %s has negative database index %d", entity, idx)
		}
	}

	switch r.QdbType {
	case QdbTypeMem:
	case QdbTypeEtcd:
		if r.QdbAddr == "" {
			return fmt.Errorf("qdb_addr is required for qdb type %q", QdbTypeEtcd)
		}
	case QdbTypeBolt:
		if r.BoltqdbPath == "" {
			return fmt.Errorf("boltqdb_path is required for qdb type %q", QdbTypeBolt)
		}
	default:
		return fmt.Errorf("qdb implementation %s is invalid", r.QdbType)
	}

	for _, q := range r.TimeQuantiles {
		if q <= 0 || q > 1 {
			return fmt.Errorf("time quantile %v is out of (0, 1]", q)
		}
	}
	return nil
}

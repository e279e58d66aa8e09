package config

import (
	"crypto/tls"
	"fmt"
	"net"
)

type HostRole string

const (
	RolePrimary = HostRole("primary")
	RoleReplica = HostRole("replica")
)

type InstanceCFG struct {
	ConnAddr string   `json:"conn_addr" toml:"conn_addr" yaml:"conn_addr"`
	Role     HostRole `json:"role" toml:"role" yaml:"role"`
}

// IsReplica treats an empty role as primary.
func (i *InstanceCFG) IsReplica() bool {
	return i.Role == RoleReplica
}

// ShardCfg describes one logical shard: a database index on a set of endpoints.
type ShardCfg struct {
	Hosts  []*InstanceCFG `json:"hosts" toml:"hosts" yaml:"hosts"`
	DB     int            `json:"db" toml:"db" yaml:"db"`
	Passwd string         `json:"passwd" toml:"passwd" yaml:"passwd"`

	TLSCfg *TLSConfig `json:"tls,omitempty" yaml:"tls" toml:"tls"`

	TLSConfig *tls.Config `json:"-" yaml:"-" toml:"-"`
}

func (sh *ShardCfg) Primary() *InstanceCFG {
	for _, h := range sh.Hosts {
		if !h.IsReplica() {
			return h
		}
	}
	return nil
}

func (sh *ShardCfg) Replicas() []*InstanceCFG {
	var ret []*InstanceCFG
	for _, h := range sh.Hosts {
		if h.IsReplica() {
			ret = append(ret, h)
		}
	}
	return ret
}

func (sh *ShardCfg) InitShardTLS() error {
	host := ""
	if p := sh.Primary(); p != nil {
		host = p.ConnAddr
		if h, _, err := net.SplitHostPort(p.ConnAddr); err == nil {
			host = h
		}
	}
	shardTLSConfig, err := sh.TLSCfg.Init(host)
	if err != nil {
		return fmt.Errorf("init shard TLS: %w", err)
	}
	sh.TLSConfig = shardTLSConfig
	return nil
}

// EntityStoreCfg is the store used by the generic entity API: one endpoint,
// one database index per entity type.
type EntityStoreCfg struct {
	Hosts     []*InstanceCFG `json:"hosts" toml:"hosts" yaml:"hosts"`
	Passwd    string         `json:"passwd" toml:"passwd" yaml:"passwd"`
	Databases map[string]int `json:"databases" toml:"databases" yaml:"databases"`
}

// ShardFor returns the shard config of the database index assigned to entityType.
func (e *EntityStoreCfg) ShardFor(entityType string) (*ShardCfg, bool) {
	idx, ok := e.Databases[entityType]
	if !ok {
		return nil, false
	}
	return &ShardCfg{
		Hosts:  e.Hosts,
		DB:     idx,
		Passwd: e.Passwd,
	}, true
}

// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ASIK-R/my-budget-buddy-sub000/connectivity"
	"github.com/ASIK-R/my-budget-buddy-sub000/offqueue"
	"github.com/ASIK-R/my-budget-buddy-sub000/offstore"
)

const (
	configFileName = "config"
	configFileType = "yaml"
	envPrefix      = "OFFSYNC"

	cfgKeyDataPath          = "data_path"
	cfgKeyRemoteKind        = "remote.kind"
	cfgKeyRemoteURL         = "remote.url"
	cfgKeyRemoteJWTSecret   = "remote.jwt_secret"
	cfgKeyRemoteUserID      = "remote.user_id"
	cfgKeyRemoteDeviceID    = "remote.device_id"
	cfgKeyRemoteSchema      = "remote.schema"
	cfgKeyRemoteTimeout     = "remote.timeout"
	cfgKeyQueueMaxRetries   = "queue.max_retries"
	cfgKeyQueueBaseDelay    = "queue.base_delay"
	cfgKeyQueueMaxDelay     = "queue.max_delay"
	cfgKeyStoreMaxRetries   = "store.max_retries"
	cfgKeyStoreBaseDelay    = "store.base_delay"
	cfgKeyCacheCapacity     = "cache.capacity"
	cfgKeyCacheTTL          = "cache.ttl"
	cfgKeyConnectivityURL   = "connectivity.url"
	cfgKeyConnectivityPing  = "connectivity.ping_interval"
	cfgKeyConnectivityRetry = "connectivity.backoff_max"
)

const (
	remoteKindHTTP     = "http"
	remoteKindPostgres = "postgres"
)

// RemoteSettings selects and configures the service queued operations are
// replayed against.
type RemoteSettings struct {
	Kind      string // http | postgres
	URL       string // base URL or PostgreSQL connection string
	JWTSecret string
	UserID    string
	DeviceID  string // generated and kept in the settings collection when empty
	Schema    string
	Timeout   time.Duration
}

// Settings is the resolved CLI configuration.
type Settings struct {
	DataPath        string
	Remote          RemoteSettings
	Queue           *offqueue.Config
	Store           *offstore.Config
	CacheCapacity   int
	CacheTTL        time.Duration
	ConnectivityURL string
	Connectivity    *connectivity.Config
}

// loadConfig layers config.yaml from configDir, OFFSYNC_* environment
// variables and defaults. A missing config.yaml is not an error.
func loadConfig(configDir string) (*viper.Viper, error) {
	v := viper.New()
	v.SetDefault(cfgKeyDataPath, "offsync.db")
	v.SetDefault(cfgKeyRemoteKind, remoteKindHTTP)
	v.SetDefault(cfgKeyRemoteSchema, "public")
	v.SetDefault(cfgKeyRemoteTimeout, "30s")
	v.SetDefault(cfgKeyQueueMaxRetries, 3)
	v.SetDefault(cfgKeyQueueBaseDelay, "1s")
	v.SetDefault(cfgKeyQueueMaxDelay, "30s")
	v.SetDefault(cfgKeyStoreMaxRetries, 3)
	v.SetDefault(cfgKeyStoreBaseDelay, "100ms")
	v.SetDefault(cfgKeyCacheCapacity, 100)
	v.SetDefault(cfgKeyCacheTTL, "5m")
	v.SetDefault(cfgKeyConnectivityPing, "15s")
	v.SetDefault(cfgKeyConnectivityRetry, "60s")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configDir == "" {
		return v, nil
	}
	v.SetConfigName(configFileName)
	v.SetConfigType(configFileType)
	v.AddConfigPath(configDir)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return v, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	return v, nil
}

func settingsFrom(v *viper.Viper) (*Settings, error) {
	s := &Settings{
		DataPath: v.GetString(cfgKeyDataPath),
		Remote: RemoteSettings{
			Kind:      strings.ToLower(v.GetString(cfgKeyRemoteKind)),
			URL:       v.GetString(cfgKeyRemoteURL),
			JWTSecret: v.GetString(cfgKeyRemoteJWTSecret),
			UserID:    v.GetString(cfgKeyRemoteUserID),
			DeviceID:  v.GetString(cfgKeyRemoteDeviceID),
			Schema:    v.GetString(cfgKeyRemoteSchema),
			Timeout:   v.GetDuration(cfgKeyRemoteTimeout),
		},
		CacheCapacity:   v.GetInt(cfgKeyCacheCapacity),
		CacheTTL:        v.GetDuration(cfgKeyCacheTTL),
		ConnectivityURL: v.GetString(cfgKeyConnectivityURL),
	}

	s.Queue = offqueue.DefaultConfig()
	s.Queue.MaxRetries = v.GetInt(cfgKeyQueueMaxRetries)
	s.Queue.BaseDelay = v.GetDuration(cfgKeyQueueBaseDelay)
	s.Queue.MaxDelay = v.GetDuration(cfgKeyQueueMaxDelay)
	if s.Queue.MaxRetries < 1 {
		return nil, fmt.Errorf("%s must be at least 1, got %d", cfgKeyQueueMaxRetries, s.Queue.MaxRetries)
	}

	s.Store = offstore.DefaultConfig()
	s.Store.MaxRetries = v.GetInt(cfgKeyStoreMaxRetries)
	s.Store.BaseDelay = v.GetDuration(cfgKeyStoreBaseDelay)
	if s.Store.MaxRetries < 0 {
		return nil, fmt.Errorf("%s cannot be negative", cfgKeyStoreMaxRetries)
	}

	s.Connectivity = connectivity.DefaultConfig()
	s.Connectivity.PingInterval = v.GetDuration(cfgKeyConnectivityPing)
	s.Connectivity.BackoffMax = v.GetDuration(cfgKeyConnectivityRetry)

	switch s.Remote.Kind {
	case remoteKindHTTP, remoteKindPostgres:
	default:
		return nil, fmt.Errorf("unknown %s %q: must be %s or %s", cfgKeyRemoteKind, s.Remote.Kind, remoteKindHTTP, remoteKindPostgres)
	}
	return s, nil
}

// Package config loads service configuration from the environment.
package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	ListenAddr string `envconfig:"LISTEN_ADDR" default:":8080"`
	LogLevel   string `envconfig:"LOG_LEVEL" default:"info"`

	WALDir      string `envconfig:"WAL_DIR" default:"./data/journal"`
	OutboxDir   string `envconfig:"OUTBOX_DIR" default:"./data/outbox"`
	CustodyDir  string `envconfig:"CUSTODY_DIR" default:"./data/custody"`
	SnapshotDir string `envconfig:"SNAPSHOT_DIR" default:"./data/snapshot"`

	SegmentSize int64 `envconfig:"WAL_SEGMENT_SIZE" default:"2097152"`

	KafkaBrokers []string `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	KafkaTopic   string   `envconfig:"KAFKA_TOPIC" default:"njord.events"`

	// DirectPublish bypasses the outbox and produces events straight to
	// Kafka; crash-lossy but lower latency.
	DirectPublish bool `envconfig:"DIRECT_PUBLISH" default:"false"`

	BroadcastInterval time.Duration `envconfig:"BROADCAST_INTERVAL" default:"250ms"`
	SweepInterval     time.Duration `envconfig:"SWEEP_INTERVAL" default:"2s"`
	DepthInterval     time.Duration `envconfig:"DEPTH_INTERVAL" default:"500ms"`
	SnapshotInterval  time.Duration `envconfig:"SNAPSHOT_INTERVAL" default:"5m"`
}

func Load() (Config, error) {
	var c Config
	err := envconfig.Process("njord", &c)
	return c, err
}

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Trendyol/go-pq-replica/logger"
)

type Config struct {
	Logger          LoggerConfig    `json:"logger" yaml:"logger"`
	CatalogDSN      string          `json:"catalogDSN" yaml:"catalogDSN"`
	Database        string          `json:"database" yaml:"database"`
	OriginNodeID    int             `json:"originNodeID" yaml:"originNodeID"`
	TargetNodeID    int             `json:"targetNodeID" yaml:"targetNodeID"`
	ReplicationSets []string        `json:"replicationSets" yaml:"replicationSets"`
	Extension       ExtensionConfig `json:"extension" yaml:"extension"`
	Slot            SlotConfig      `json:"slot" yaml:"slot"`
	Tools           ToolsConfig     `json:"tools" yaml:"tools"`
	Metric          MetricConfig    `json:"metric" yaml:"metric"`
	DebugMode       bool            `json:"debugMode" yaml:"debugMode"`
}

type LoggerConfig struct {
	Logger   logger.Logger `json:"-" yaml:"-"`         // custom logger
	LogLevel slog.Level    `json:"level" yaml:"level"` // if custom logger is nil, set the slog log level
}

// ExtensionConfig names the schema the replication catalog views live in.
type ExtensionConfig struct {
	Schema string `json:"schema" yaml:"schema"`
}

type SlotConfig struct {
	Plugin string `json:"plugin" yaml:"plugin"`
}

// ToolsConfig locates the external dump/restore tools. BinDir empty means
// PATH lookup; ArtifactPath empty means the default temp file.
type ToolsConfig struct {
	BinDir       string `json:"binDir" yaml:"binDir"`
	ArtifactPath string `json:"artifactPath" yaml:"artifactPath"`
}

type MetricConfig struct {
	Port int `json:"port" yaml:"port"`
}

func (c *Config) SetDefault() {
	if c.Extension.Schema == "" {
		c.Extension.Schema = "pglogical"
	}

	if c.Slot.Plugin == "" {
		c.Slot.Plugin = "pglogical_output"
	}

	if c.Metric.Port == 0 {
		c.Metric.Port = 8080
	}

	if len(c.ReplicationSets) == 0 {
		c.ReplicationSets = []string{"default"}
	}

	if c.Logger.Logger == nil {
		c.Logger.Logger = logger.NewSlog(c.Logger.LogLevel)
	}
}

func (c *Config) Validate() error {
	var err error
	if isEmpty(c.CatalogDSN) {
		err = errors.Join(err, errors.New("catalogDSN cannot be empty"))
	}

	if isEmpty(c.Database) {
		err = errors.Join(err, errors.New("database cannot be empty"))
	}

	if c.OriginNodeID == 0 {
		err = errors.Join(err, errors.New("originNodeID must be set"))
	}

	if c.TargetNodeID == 0 {
		err = errors.Join(err, errors.New("targetNodeID must be set"))
	}

	if c.OriginNodeID == c.TargetNodeID {
		err = errors.Join(err, errors.New("origin and target node cannot be the same"))
	}

	for i, set := range c.ReplicationSets {
		if isEmpty(set) {
			err = errors.Join(err, fmt.Errorf("replication set [%d] cannot be empty", i))
		}
	}

	return err
}

func (c *Config) Print() {
	cfg := *c
	b, _ := json.Marshal(cfg)
	fmt.Println("used config: " + string(b))
}

func isEmpty(s string) bool {
	return strings.TrimSpace(s) == ""
}

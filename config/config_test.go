package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		CatalogDSN:   "host=localhost dbname=appdb",
		Database:     "appdb",
		OriginNodeID: 1,
		TargetNodeID: 2,
	}
}

func TestValidate(t *testing.T) {
	t.Run("should accept a complete config", func(t *testing.T) {
		cfg := validConfig()
		assert.NoError(t, cfg.Validate())
	})

	t.Run("should collect every missing field", func(t *testing.T) {
		cfg := Config{}

		err := cfg.Validate()

		require.Error(t, err)
		assert.Contains(t, err.Error(), "catalogDSN cannot be empty")
		assert.Contains(t, err.Error(), "database cannot be empty")
		assert.Contains(t, err.Error(), "originNodeID must be set")
		assert.Contains(t, err.Error(), "targetNodeID must be set")
	})

	t.Run("should reject origin and target being the same node", func(t *testing.T) {
		cfg := validConfig()
		cfg.TargetNodeID = cfg.OriginNodeID

		err := cfg.Validate()

		require.Error(t, err)
		assert.Contains(t, err.Error(), "origin and target node cannot be the same")
	})

	t.Run("should reject blank replication set names", func(t *testing.T) {
		cfg := validConfig()
		cfg.ReplicationSets = []string{"default", "  "}

		err := cfg.Validate()

		require.Error(t, err)
		assert.Contains(t, err.Error(), "replication set [1] cannot be empty")
	})
}

func TestSetDefault(t *testing.T) {
	t.Run("should fill the ambient defaults", func(t *testing.T) {
		cfg := validConfig()
		cfg.SetDefault()

		assert.Equal(t, "pglogical", cfg.Extension.Schema)
		assert.Equal(t, "pglogical_output", cfg.Slot.Plugin)
		assert.Equal(t, 8080, cfg.Metric.Port)
		assert.Equal(t, []string{"default"}, cfg.ReplicationSets)
		assert.NotNil(t, cfg.Logger.Logger)
	})

	t.Run("should keep explicit values", func(t *testing.T) {
		cfg := validConfig()
		cfg.Extension.Schema = "replication"
		cfg.Slot.Plugin = "test_decoding"
		cfg.Metric.Port = 2112
		cfg.ReplicationSets = []string{"orders"}
		cfg.SetDefault()

		assert.Equal(t, "replication", cfg.Extension.Schema)
		assert.Equal(t, "test_decoding", cfg.Slot.Plugin)
		assert.Equal(t, 2112, cfg.Metric.Port)
		assert.Equal(t, []string{"orders"}, cfg.ReplicationSets)
	})
}

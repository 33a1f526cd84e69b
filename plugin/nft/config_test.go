package nft

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rs-ent/starglow-sub015/plugin/common"
)

func TestNewConfig_Defaults(t *testing.T) {
	cfg, err := NewConfig()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, time.Hour, cfg.PermitTTL)
	assert.Equal(t, "1", cfg.DomainVersion)
	assert.True(t, cfg.WaitForReceipt)
	assert.Equal(t, common.InvalidationStrict, cfg.Policy())
}

func TestNewConfig_Validation(t *testing.T) {
	tests := []struct {
		name string
		opt  ConfigOption
	}{
		{"zero attempts", WithMaxAttempts(0)},
		{"inverted backoff", WithBackoff(time.Minute, time.Second)},
		{"negative batch size", WithMaxBatchSize(-1)},
		{"receipt wait without timeout", WithReceipts(true, 0, time.Second)},
		{"unknown invalidation policy", WithInvalidationPolicy("sometimes")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewConfig(tt.opt)
			assert.Error(t, err)
		})
	}
}

func TestWithFileConfig(t *testing.T) {
	dir := t.TempDir()
	content := `{
  "max_attempts": 3,
  "initial_interval": "250ms",
  "max_interval": "5s",
  "max_batch_size": 20,
  "wait_for_receipt": false,
  "domain_version": "2",
  "invalidation_policy": "best_effort"
}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nft.json"), []byte(content), 0o600))

	cfg, err := NewConfig(WithFileConfig(dir))
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.InitialInterval)
	assert.Equal(t, 5*time.Second, cfg.MaxInterval)
	assert.Equal(t, 20, cfg.MaxBatchSize)
	assert.False(t, cfg.WaitForReceipt)
	assert.Equal(t, "2", cfg.DomainVersion)
	assert.Equal(t, common.InvalidationBestEffort, cfg.Policy())
	assert.Equal(t, time.Hour, cfg.PermitTTL, "unset keys keep their defaults")
}

func TestWithFileConfig_Missing(t *testing.T) {
	_, err := NewConfig(WithFileConfig(t.TempDir()))
	assert.Error(t, err)
}

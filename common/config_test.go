package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
server:
  port: 9090
  jwt_secret: s3cret
database:
  dsn: postgres://localhost/fulfillment
redis:
  host: localhost
  port: "6379"
networks:
  polygon: https://polygon-rpc.example
escrow:
  custody_url: https://custody.example
reconciler:
  spec: "*/10 * * * *"
  grace_period: 5m
`

func TestReadConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fulfillment-test.yaml"), []byte(testConfig), 0o600))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := ReadConfig("fulfillment-test")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9090", cfg.Server.Addr())
	assert.Equal(t, "s3cret", cfg.Server.JWTSecret)
	assert.Equal(t, "postgres://localhost/fulfillment", cfg.Database.DSN)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
	assert.Equal(t, "https://polygon-rpc.example", cfg.Networks["polygon"])
	assert.Equal(t, 30*time.Second, cfg.Escrow.Timeout)
	assert.Equal(t, "cache:", cfg.Cache.Prefix)
	assert.Equal(t, 10, cfg.Worker.Concurrency)
	assert.Equal(t, "*/10 * * * *", cfg.Reconciler.Spec)
	assert.Equal(t, 5*time.Minute, cfg.Reconciler.GracePeriod)
}

func TestReadConfig_Missing(t *testing.T) {
	_, err := ReadConfig("does-not-exist")
	assert.ErrorContains(t, err, "fail to reading config file")
}

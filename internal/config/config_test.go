package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
server:
  port: 8080
storage:
  type: memory
jwt:
  secret: "0123456789abcdef0123456789abcdef"
`

func TestParse_AppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Storage.Type)
	assert.Equal(t, "local", cfg.Lock.Type)
	assert.Equal(t, 10*time.Second, cfg.Lock.TTL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, 30*time.Second, cfg.Pool.MatchTimeout)
	assert.Equal(t, 5, cfg.Pool.PaymentMaxAttempts)
	assert.Equal(t, 100, cfg.Pool.PaymentBatchSize)
	assert.Equal(t, "mock", cfg.Matching.Type)
	assert.Equal(t, "mock", cfg.Payment.Type)
	assert.Equal(t, 10*time.Second, cfg.Payment.Timeout)
	assert.Equal(t, "user-", cfg.Push.TopicPrefix)
	assert.Equal(t, float64(5), cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, "0 * * * * *", cfg.Scheduler.SweepExpiredPools)
	assert.Equal(t, "15 * * * * *", cfg.Scheduler.ExpireStalledMatches)
	assert.Equal(t, "30 */5 * * * *", cfg.Scheduler.RetryPaymentInstructions)
	assert.Equal(t, ":8080", cfg.GetServerAddress())
}

func TestParse_EnvironmentOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("POOL_MATCH_TIMEOUT", "45s")
	t.Setenv("MATCHING_TYPE", "grpc")
	t.Setenv("MATCHING_ADDRESS", "matcher:9101")
	t.Setenv("SCHEDULER_EMBEDDED", "true")

	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 45*time.Second, cfg.Pool.MatchTimeout)
	assert.Equal(t, "grpc", cfg.Matching.Type)
	assert.Equal(t, "matcher:9101", cfg.Matching.Address)
	assert.Equal(t, "mock", cfg.Payment.Type)
	assert.True(t, cfg.Scheduler.Embedded)
}

func TestParse_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "ShortSecret",
			yaml: "server: {port: 8080}\nstorage: {type: memory}\njwt: {secret: short}\n",
			want: "at least 32 characters",
		},
		{
			name: "MissingDatabase",
			yaml: "server: {port: 8080}\njwt: {secret: 0123456789abcdef0123456789abcdef}\n",
			want: "database host is required",
		},
		{
			name: "RedisWithoutAddress",
			yaml: "server: {port: 8080}\nstorage: {type: memory}\nlock: {type: redis}\njwt: {secret: 0123456789abcdef0123456789abcdef}\n",
			want: "redis address is required",
		},
		{
			name: "GrpcWithoutAddress",
			yaml: "server: {port: 8080}\nstorage: {type: memory}\npayment: {type: grpc}\njwt: {secret: 0123456789abcdef0123456789abcdef}\n",
			want: "payment address is required",
		},
		{
			name: "BadPort",
			yaml: "server: {port: 0}\n",
			want: "invalid server port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestGetDatabaseConnectionString(t *testing.T) {
	cfg := &Config{Database: DatabaseConfig{
		Host: "db", Port: 5432, User: "u", Password: "p", Database: "barterpool", SSLMode: "disable",
	}}
	assert.Equal(t, "postgres://u:p@db:5432/barterpool?sslmode=disable", cfg.GetDatabaseConnectionString())
}

func TestEndpointSecurity(t *testing.T) {
	assert.Equal(t, SecurityPublic, GetSecurityLevel("ListParticipants"))
	assert.Equal(t, SecurityService, GetSecurityLevel("MatchResult"))
	assert.Equal(t, SecurityAccess, GetSecurityLevel("Unknown"))
}

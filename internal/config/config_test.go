package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("postgres:\n  dsn: host=db\n"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, time.Minute, cfg.Scheduler.Tick)
	assert.Equal(t, 5*time.Minute, cfg.Scheduler.SweepInterval)
	assert.Equal(t, 10, cfg.Scheduler.SweepBatch)
	assert.Equal(t, 90, cfg.Scheduler.EventRetentionDays)
	assert.Equal(t, 3, *cfg.Scheduler.ExpireHourUTC)
	assert.Equal(t, 4, *cfg.Scheduler.PruneHourUTC)
	assert.Equal(t, 9, *cfg.Scheduler.ReportHourUTC)
	assert.Equal(t, "billing.notifications", cfg.Kafka.Topic)
}

func TestParse_HourZeroIsKept(t *testing.T) {
	cfg, err := Parse([]byte("scheduler:\n  expire_hour_utc: 0\n  prune_hour_utc: 31\n"))
	require.NoError(t, err)

	assert.Equal(t, 0, *cfg.Scheduler.ExpireHourUTC)
	assert.Equal(t, 4, *cfg.Scheduler.PruneHourUTC, "out of range hour falls back")
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv("POSTGRES_PASSWORD", "s3cret")
	t.Setenv("ADMIN_TOKEN", "ops")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Parse([]byte("postgres:\n  dsn: host=db\nscheduler:\n  sweep_interval: 30s\n"))
	require.NoError(t, err)

	assert.Equal(t, "host=db password=s3cret", cfg.Postgres.DSN)
	assert.Equal(t, "ops", cfg.Admin.Token)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.SweepInterval)
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("server: [unclosed"))
	assert.Error(t, err)
}

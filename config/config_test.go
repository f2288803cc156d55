package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MemoryStoreDefaults(t *testing.T) {
	t.Setenv("ENGINE_STORE", "memory")
	t.Setenv("STREAM_CONSUMER", "worker-1")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StoreMemory, cfg.Engine.Store)
	assert.Equal(t, 50, cfg.Engine.LessonXP)
	assert.Equal(t, 100, cfg.Engine.WindowBound)
	assert.Equal(t, 50, cfg.Engine.DefaultLimit)
	assert.Equal(t, 100, cfg.Engine.MaxLimit)
	assert.Equal(t, "Anonymous Learner", cfg.Engine.PlaceholderName)
	assert.Equal(t, 2*time.Second, cfg.Directory.Timeout)
	assert.Equal(t, time.UTC, cfg.App.Location)
	assert.Equal(t, "learning:events", cfg.Stream.Key)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("ENGINE_STORE", "Postgres")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_USER", "engine")
	t.Setenv("DB_PASSWORD", "pw")
	t.Setenv("APP_TIMEZONE", "Asia/Almaty")
	t.Setenv("ENGINE_HOT_TOPICS", "algebra, Geometry ,,")
	t.Setenv("ENGINE_LESSON_XP", "75")
	t.Setenv("DIRECTORY_RATE_LIMIT", "2.5")
	t.Setenv("LEADERBOARD_CACHE_TTL", "1m")
	t.Setenv("STREAM_CONSUMER", "worker-1")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StorePostgres, cfg.Engine.Store)
	assert.Equal(t, "postgres://engine:pw@db:5432/gamification?sslmode=disable", cfg.Database.URL)
	assert.Equal(t, "Asia/Almaty", cfg.App.Location.String())
	assert.Equal(t, []string{"algebra", "Geometry"}, cfg.Engine.HotTopics)
	assert.Equal(t, 75, cfg.Engine.LessonXP)
	assert.Equal(t, 2.5, cfg.Directory.RequestsPerSecond)
	assert.Equal(t, time.Minute, cfg.Engine.SnapshotTTL)
}

func TestLoad_InvalidTimezone(t *testing.T) {
	t.Setenv("ENGINE_STORE", "memory")
	t.Setenv("APP_TIMEZONE", "Mars/Olympus")

	_, err := Load()
	assert.ErrorContains(t, err, "APP_TIMEZONE")
}

func TestLoad_ReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("ENGINE_STORE=memory\nENGINE_WINDOW_BOUND=40\n"), 0o600))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	// godotenv never overrides variables that are already set
	t.Setenv("ENGINE_WINDOW_BOUND", "")
	require.NoError(t, os.Unsetenv("ENGINE_WINDOW_BOUND"))
	t.Setenv("ENGINE_STORE", "memory")
	t.Setenv("STREAM_CONSUMER", "worker-1")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 40, cfg.Engine.WindowBound)
}

func TestValidate_CollectsErrors(t *testing.T) {
	cfg := &Config{
		App:    AppConfig{Environment: EnvProduction},
		Engine: EngineConfig{Store: StoreMemory, LessonXP: 0, WindowBound: 100, DefaultRadius: -1, DefaultLimit: 200, MaxLimit: 100},
		Directory: DirectoryConfig{
			Timeout: time.Second,
		},
		Redis:         RedisConfig{Disabled: true},
		Observability: ObservabilityConfig{MetricsPort: 9090},
	}

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "configuration errors:")
	assert.Contains(t, msg, "ENGINE_STORE=memory is not allowed in production")
	assert.Contains(t, msg, "ENGINE_LESSON_XP must be positive")
	assert.Contains(t, msg, "ENGINE_DEFAULT_RADIUS must not be negative")
	assert.Contains(t, msg, "ENGINE_DEFAULT_LIMIT must not exceed ENGINE_MAX_LIMIT")
}

func TestValidate_PostgresNeedsURL(t *testing.T) {
	cfg := &Config{
		Engine:        EngineConfig{Store: StorePostgres, LessonXP: 50, WindowBound: 100, DefaultLimit: 50, MaxLimit: 100},
		Directory:     DirectoryConfig{Timeout: time.Second},
		Redis:         RedisConfig{Disabled: true},
		Observability: ObservabilityConfig{MetricsPort: 9090},
	}
	assert.ErrorContains(t, cfg.Validate(), "DATABASE_URL")

	cfg.Database.URL = "postgres://localhost/gamification"
	assert.NoError(t, cfg.Validate())

	cfg.Engine.Store = "sqlite"
	assert.ErrorContains(t, cfg.Validate(), `ENGINE_STORE must be "postgres" or "memory"`)
}

func TestGetEnvHelpers_FallBackOnGarbage(t *testing.T) {
	t.Setenv("X_INT", "ten")
	t.Setenv("X_BOOL", "maybe")
	t.Setenv("X_DUR", "soon")
	assert.Equal(t, 10, getEnvInt("X_INT", 10))
	assert.True(t, getEnvBool("X_BOOL", true))
	assert.Equal(t, time.Second, getEnvDuration("X_DUR", time.Second))
	assert.Nil(t, getEnvStringSlice("X_MISSING", nil))
}

func TestValidate_ReportsEveryViolationByEnvName(t *testing.T) {
	cfg := &Config{
		Engine:        EngineConfig{Store: StoreMemory, LessonXP: 50, WindowBound: 0, DefaultLimit: 50, MaxLimit: 100},
		Directory:     DirectoryConfig{Timeout: 0},
		Stream:        StreamConfig{Enabled: true},
		Scheduler:     SchedulerConfig{Enabled: true},
		Observability: ObservabilityConfig{MetricsPort: 70000},
	}

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "ENGINE_WINDOW_BOUND must be positive")
	assert.Contains(t, msg, "DIRECTORY_TIMEOUT must be positive")
	assert.Contains(t, msg, "METRICS_PORT must be at most 65535")
	assert.Contains(t, msg, "STREAM_KEY and STREAM_GROUP are required when the stream is enabled")
	assert.Contains(t, msg, "STREAM_CONSUMER is required when the host name is unknown")
	assert.Contains(t, msg, "SCHEDULER_LEADERBOARD_INTERVAL must be positive")
	assert.NotContains(t, msg, "ENGINE_STORE")

	cfg.Scheduler.LeaderboardCron = "*/5 * * * *"
	cfg.Redis.Disabled = true
	msg = cfg.Validate().Error()
	assert.NotContains(t, msg, "STREAM_")
	assert.NotContains(t, msg, "SCHEDULER_")
}

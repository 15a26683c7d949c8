package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(body), 0644))
	return dir
}

func TestLoad_WithValidConfigFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := writeConfig(t, `{
		"logLevel": "debug",
		"belt": { "speed": 0.12, "maxEntities": 8 },
		"db": { "host": "10.0.0.1", "port": "5433" }
	}`)

	require.NoError(t, Load(dir))

	assert.Equal(t, "debug", viper.GetString("logLevel"))
	assert.Equal(t, 0.12, viper.GetFloat64("belt.speed"))
	assert.Equal(t, 8, viper.GetInt("belt.maxEntities"))
	assert.Equal(t, "10.0.0.1", viper.GetString("db.host"))
	assert.Equal(t, "5433", viper.GetString("db.port"))
}

func TestLoad_DefaultValues(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(writeConfig(t, `{}`)))

	assert.Equal(t, "info", viper.GetString("logLevel"))
	assert.Equal(t, "./conveyorlogs", viper.GetString("logsDir"))
	assert.Equal(t, "sim", viper.GetString("actuator.type"))
	assert.Equal(t, "cylinder_inspection", viper.GetString("actuator.world"))
	assert.Equal(t, "memory", viper.GetString("storage.type"))
	assert.Equal(t, "conveyor", viper.GetString("db.database"))
	assert.Equal(t, false, viper.GetBool("graylog.enabled"))
	assert.Equal(t, false, viper.GetBool("influx.enabled"))
	assert.Equal(t, "conveyor", viper.GetString("otel.serviceName"))
}

func TestLoad_MissingFileKeepsDefaults(t *testing.T) {
	t.Cleanup(viper.Reset)

	err := Load("/nonexistent/path")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")

	assert.Equal(t, 20, GetBeltConfig().MaxEntities)
}

func TestLoad_EnvironmentOverride(t *testing.T) {
	t.Cleanup(viper.Reset)
	t.Setenv("CONVEYOR_BELT_SPEED", "0.25")
	t.Setenv("CONVEYOR_ACTUATOR_TYPE", "gz")

	require.NoError(t, Load(writeConfig(t, `{}`)))

	assert.Equal(t, 0.25, GetBeltConfig().Speed)
	assert.Equal(t, "gz", GetActuatorConfig().Type)
}

func TestGetBeltConfig_Defaults(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{}`)))

	bc := GetBeltConfig()
	assert.Equal(t, 4*time.Second, bc.SpawnInterval)
	assert.Equal(t, 300*time.Millisecond, bc.MoveInterval)
	assert.InDelta(t, -0.92, bc.SpawnX, 1e-9)
	assert.InDelta(t, 1.00, bc.ExitX, 1e-9)
	assert.InDelta(t, 0.60, bc.SpawnZ, 1e-9)
	assert.InDelta(t, 0.54, bc.SurfaceZ, 1e-9)
	assert.InDelta(t, 0.03, bc.LateralRange, 1e-9)
	assert.InDelta(t, 0.06, bc.Speed, 1e-9)
	assert.InDelta(t, 0.1, bc.DefectProbability, 1e-9)
	assert.Equal(t, 5, bc.FailureThreshold)
	assert.Equal(t, 20, bc.MaxEntities)
	assert.Equal(t, 120*time.Second, bc.StaleTimeout)
	assert.Equal(t, time.Duration(0), bc.StartupDelay)
	assert.True(t, bc.DrainOnStop)
	assert.NoError(t, bc.Validate())

	g := bc.Geometry()
	assert.InDelta(t, 32.0, g.TraverseTime().Seconds(), 1e-6)
}

func TestBeltConfig_Validate(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{}`)))
	valid := GetBeltConfig()

	tests := []struct {
		name   string
		mutate func(*BeltConfig)
	}{
		{"zero spawn interval", func(c *BeltConfig) { c.SpawnInterval = 0 }},
		{"negative move interval", func(c *BeltConfig) { c.MoveInterval = -time.Second }},
		{"zero speed", func(c *BeltConfig) { c.Speed = 0 }},
		{"exit before spawn", func(c *BeltConfig) { c.ExitX = c.SpawnX - 0.1 }},
		{"negative lateral range", func(c *BeltConfig) { c.LateralRange = -0.01 }},
		{"probability above one", func(c *BeltConfig) { c.DefectProbability = 1.5 }},
		{"zero threshold", func(c *BeltConfig) { c.FailureThreshold = 0 }},
		{"zero capacity", func(c *BeltConfig) { c.MaxEntities = 0 }},
		{"zero stale timeout", func(c *BeltConfig) { c.StaleTimeout = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			err := c.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestActuatorConfig_Validate(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{}`)))
	valid := GetActuatorConfig()
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*ActuatorConfig)
	}{
		{"zero spawn timeout", func(c *ActuatorConfig) { c.SpawnTimeout = 0 }},
		{"zero move timeout", func(c *ActuatorConfig) { c.MoveTimeout = 0 }},
		{"negative delete timeout", func(c *ActuatorConfig) { c.DeleteTimeout = -time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			assert.ErrorIs(t, c.Validate(), ErrInvalidConfig)
		})
	}
}

func TestGetActuatorConfig_Override(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := writeConfig(t, `{
		"actuator": {
			"type": "GZ",
			"world": "line_two",
			"moveTimeout": "750ms",
			"sim": { "failureRate": 0.5, "latency": "20ms", "seed": 7 }
		}
	}`)
	require.NoError(t, Load(dir))

	ac := GetActuatorConfig()
	assert.Equal(t, "gz", ac.Type)
	assert.Equal(t, "line_two", ac.World)
	assert.Equal(t, "gz", ac.Binary)
	assert.Equal(t, 5*time.Second, ac.SpawnTimeout)
	assert.Equal(t, 750*time.Millisecond, ac.MoveTimeout)
	assert.Equal(t, 0.5, ac.Sim.FailureRate)
	assert.Equal(t, 20*time.Millisecond, ac.Sim.Latency)
	assert.Equal(t, int64(7), ac.Sim.Seed)
}

func TestGetStorageConfig_Defaults(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{}`)))

	cfg := GetStorageConfig()
	assert.Equal(t, "memory", cfg.Type)
	assert.Equal(t, 2*time.Second, cfg.FlushInterval)
	assert.Equal(t, "./runs", cfg.Memory.OutputDir)
	assert.Equal(t, true, cfg.Memory.CompressOutput)
	assert.Equal(t, 3*time.Minute, cfg.SQLite.DumpInterval)
	assert.Equal(t, "ws://localhost:5000/api/conveyor", cfg.WebSocket.URL)
}

func TestGetStorageConfig_Override(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := writeConfig(t, `{
		"storage": {
			"type": "sqlite",
			"memory": { "outputDir": "/tmp/out", "compressOutput": false },
			"sqlite": { "dumpInterval": "10m", "dumpDir": "/tmp/db" }
		}
	}`)
	require.NoError(t, Load(dir))

	sc := GetStorageConfig()
	assert.Equal(t, "sqlite", sc.Type)
	assert.Equal(t, "/tmp/out", sc.Memory.OutputDir)
	assert.Equal(t, false, sc.Memory.CompressOutput)
	assert.Equal(t, 10*time.Minute, sc.SQLite.DumpInterval)
	assert.Equal(t, "/tmp/db", sc.SQLite.DumpDir)
}

func TestGetStatusAndOTelConfig(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := writeConfig(t, `{
		"status": { "interval": "1s", "file": "/tmp/belt.json" },
		"otel": { "enabled": true, "endpoint": "localhost:4318", "insecure": false }
	}`)
	require.NoError(t, Load(dir))

	st := GetStatusConfig()
	assert.Equal(t, time.Second, st.Interval)
	assert.Equal(t, "/tmp/belt.json", st.File)

	oc := GetOTelConfig()
	assert.True(t, oc.Enabled)
	assert.Equal(t, "conveyor", oc.ServiceName)
	assert.Equal(t, 5*time.Second, oc.BatchTimeout)
	assert.Equal(t, "localhost:4318", oc.Endpoint)
	assert.False(t, oc.Insecure)
}

func TestGetAPIConfig(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(writeConfig(t, `{}`)))
	ac := GetAPIConfig()
	assert.False(t, ac.Upload)
	assert.Equal(t, "http://localhost:5000", ac.ServerURL)
	assert.Equal(t, 30*time.Second, ac.Timeout)

	viper.Reset()
	require.NoError(t, Load(writeConfig(t, `{"api": {"upload": true, "apiKey": "k", "timeout": "5s"}}`)))
	ac = GetAPIConfig()
	assert.True(t, ac.Upload)
	assert.Equal(t, "k", ac.APIKey)
	assert.Equal(t, 5*time.Second, ac.Timeout)
}

func TestSettings_OnlyBeltAndActuator(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{}`)))

	s := Settings()
	assert.Equal(t, "0.06", s["belt.speed"])
	assert.Equal(t, "sim", s["actuator.type"])
	for k := range s {
		assert.NotContains(t, k, "db.")
	}
}

func TestGetters(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("testKey", "testValue")
	viper.Set("testInt", 42)
	viper.Set("testBool", true)
	assert.Equal(t, "testValue", GetString("testKey"))
	assert.Equal(t, 42, GetInt("testInt"))
	assert.Equal(t, true, GetBool("testBool"))
}

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/OCAP2/conveyor/pkg/core"
)

// ConfigFileName is the JSON file read from the config directory.
const ConfigFileName = "conveyor.cfg.json"

// EnvPrefix prefixes environment overrides, e.g. CONVEYOR_BELT_SPEED.
const EnvPrefix = "CONVEYOR"

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// BeltConfig holds belt geometry and the controller's timing and limits.
type BeltConfig struct {
	SpawnInterval     time.Duration `json:"spawnInterval" mapstructure:"spawnInterval"`
	MoveInterval      time.Duration `json:"moveInterval" mapstructure:"moveInterval"`
	SpawnX            float64       `json:"spawnX" mapstructure:"spawnX"`
	ExitX             float64       `json:"exitX" mapstructure:"exitX"`
	BeltY             float64       `json:"beltY" mapstructure:"beltY"`
	SpawnZ            float64       `json:"spawnZ" mapstructure:"spawnZ"`
	SurfaceZ          float64       `json:"surfaceZ" mapstructure:"surfaceZ"`
	LateralRange      float64       `json:"lateralRange" mapstructure:"lateralRange"`
	Speed             float64       `json:"speed" mapstructure:"speed"`
	DefectProbability float64       `json:"defectProbability" mapstructure:"defectProbability"`
	FailureThreshold  int           `json:"failureThreshold" mapstructure:"failureThreshold"`
	MaxEntities       int           `json:"maxEntities" mapstructure:"maxEntities"`
	StaleTimeout      time.Duration `json:"staleTimeout" mapstructure:"staleTimeout"`
	StartupDelay      time.Duration `json:"startupDelay" mapstructure:"startupDelay"`
	DrainOnStop       bool          `json:"drainOnStop" mapstructure:"drainOnStop"`
}

// Geometry returns the belt description used for position calculations.
func (c BeltConfig) Geometry() core.Belt {
	return core.Belt{
		SpawnX:   c.SpawnX,
		ExitX:    c.ExitX,
		BeltY:    c.BeltY,
		SpawnZ:   c.SpawnZ,
		SurfaceZ: c.SurfaceZ,
		Speed:    c.Speed,
	}
}

// Validate reports the first setting the controller cannot run with.
func (c BeltConfig) Validate() error {
	switch {
	case c.SpawnInterval <= 0:
		return fmt.Errorf("%w: spawnInterval must be positive", ErrInvalidConfig)
	case c.MoveInterval <= 0:
		return fmt.Errorf("%w: moveInterval must be positive", ErrInvalidConfig)
	case c.Speed <= 0:
		return fmt.Errorf("%w: speed must be positive", ErrInvalidConfig)
	case c.ExitX <= c.SpawnX:
		return fmt.Errorf("%w: exitX (%g) must be beyond spawnX (%g)", ErrInvalidConfig, c.ExitX, c.SpawnX)
	case c.LateralRange < 0:
		return fmt.Errorf("%w: lateralRange must not be negative", ErrInvalidConfig)
	case c.DefectProbability < 0 || c.DefectProbability > 1:
		return fmt.Errorf("%w: defectProbability must be within [0,1]", ErrInvalidConfig)
	case c.FailureThreshold < 1:
		return fmt.Errorf("%w: failureThreshold must be at least 1", ErrInvalidConfig)
	case c.MaxEntities < 1:
		return fmt.Errorf("%w: maxEntities must be at least 1", ErrInvalidConfig)
	case c.StaleTimeout <= 0:
		return fmt.Errorf("%w: staleTimeout must be positive", ErrInvalidConfig)
	}
	return nil
}

// ActuatorConfig selects and bounds the simulator channel.
type ActuatorConfig struct {
	Type          string        `json:"type" mapstructure:"type"`
	World         string        `json:"world" mapstructure:"world"`
	Binary        string        `json:"binary" mapstructure:"binary"`
	SpawnTimeout  time.Duration `json:"spawnTimeout" mapstructure:"spawnTimeout"`
	MoveTimeout   time.Duration `json:"moveTimeout" mapstructure:"moveTimeout"`
	DeleteTimeout time.Duration `json:"deleteTimeout" mapstructure:"deleteTimeout"`
	Sim           SimConfig     `json:"sim" mapstructure:"sim"`
}

// Validate rejects timeouts that would leave an actuator call unbounded.
func (c ActuatorConfig) Validate() error {
	switch {
	case c.SpawnTimeout <= 0:
		return fmt.Errorf("%w: actuator.spawnTimeout must be positive", ErrInvalidConfig)
	case c.MoveTimeout <= 0:
		return fmt.Errorf("%w: actuator.moveTimeout must be positive", ErrInvalidConfig)
	case c.DeleteTimeout <= 0:
		return fmt.Errorf("%w: actuator.deleteTimeout must be positive", ErrInvalidConfig)
	}
	return nil
}

// SimConfig holds in-process simulator settings
type SimConfig struct {
	FailureRate float64       `json:"failureRate" mapstructure:"failureRate"`
	Latency     time.Duration `json:"latency" mapstructure:"latency"`
	Seed        int64         `json:"seed" mapstructure:"seed"`
}

// MemoryConfig holds in-memory/JSON storage backend settings
type MemoryConfig struct {
	OutputDir      string `json:"outputDir" mapstructure:"outputDir"`
	CompressOutput bool   `json:"compressOutput" mapstructure:"compressOutput"`
}

// SQLiteConfig holds SQLite storage backend settings
type SQLiteConfig struct {
	DumpInterval time.Duration `json:"dumpInterval" mapstructure:"dumpInterval"`
	DumpDir      string        `json:"dumpDir" mapstructure:"dumpDir"`
}

// WebSocketConfig holds streaming backend settings
type WebSocketConfig struct {
	URL    string `json:"url" mapstructure:"url"`
	Secret string `json:"secret" mapstructure:"secret"`
}

// StorageConfig selects the storage backend
type StorageConfig struct {
	Type          string          `json:"type" mapstructure:"type"`
	FlushInterval time.Duration   `json:"flushInterval" mapstructure:"flushInterval"`
	Memory        MemoryConfig    `json:"memory" mapstructure:"memory"`
	SQLite        SQLiteConfig    `json:"sqlite" mapstructure:"sqlite"`
	WebSocket     WebSocketConfig `json:"websocket" mapstructure:"websocket"`
}

// StatusConfig controls the periodic status snapshot
type StatusConfig struct {
	Interval time.Duration `json:"interval" mapstructure:"interval"`
	File     string        `json:"file" mapstructure:"file"`
}

// APIConfig holds results server settings
type APIConfig struct {
	Upload    bool          `json:"upload" mapstructure:"upload"`
	ServerURL string        `json:"serverUrl" mapstructure:"serverUrl"`
	APIKey    string        `json:"apiKey" mapstructure:"apiKey"`
	Timeout   time.Duration `json:"timeout" mapstructure:"timeout"`
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled      bool          `json:"enabled" mapstructure:"enabled"`
	ServiceName  string        `json:"serviceName" mapstructure:"serviceName"`
	BatchTimeout time.Duration `json:"batchTimeout" mapstructure:"batchTimeout"`
	Endpoint     string        `json:"endpoint" mapstructure:"endpoint"`
	Insecure     bool          `json:"insecure" mapstructure:"insecure"`
}

// SetDefaults registers a default for every known key.
func SetDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./conveyorlogs")

	viper.SetDefault("belt.spawnInterval", "4s")
	viper.SetDefault("belt.moveInterval", "300ms")
	viper.SetDefault("belt.spawnX", -0.92)
	viper.SetDefault("belt.exitX", 1.00)
	viper.SetDefault("belt.beltY", 0.0)
	viper.SetDefault("belt.spawnZ", 0.60)
	viper.SetDefault("belt.surfaceZ", 0.54)
	viper.SetDefault("belt.lateralRange", 0.03)
	viper.SetDefault("belt.speed", 0.06)
	viper.SetDefault("belt.defectProbability", 0.1)
	viper.SetDefault("belt.failureThreshold", 5)
	viper.SetDefault("belt.maxEntities", 20)
	viper.SetDefault("belt.staleTimeout", "120s")
	viper.SetDefault("belt.startupDelay", "0s")
	viper.SetDefault("belt.drainOnStop", true)

	viper.SetDefault("actuator.type", "sim")
	viper.SetDefault("actuator.world", "cylinder_inspection")
	viper.SetDefault("actuator.binary", "gz")
	viper.SetDefault("actuator.spawnTimeout", "5s")
	viper.SetDefault("actuator.moveTimeout", "500ms")
	viper.SetDefault("actuator.deleteTimeout", "5s")
	viper.SetDefault("actuator.sim.failureRate", 0.0)
	viper.SetDefault("actuator.sim.latency", "0s")
	viper.SetDefault("actuator.sim.seed", 0)

	viper.SetDefault("storage.type", "memory")
	viper.SetDefault("storage.flushInterval", "2s")
	viper.SetDefault("storage.memory.outputDir", "./runs")
	viper.SetDefault("storage.memory.compressOutput", true)
	viper.SetDefault("storage.sqlite.dumpInterval", "3m")
	viper.SetDefault("storage.sqlite.dumpDir", "./runs")
	viper.SetDefault("storage.websocket.url", "ws://localhost:5000/api/conveyor")
	viper.SetDefault("storage.websocket.secret", "")

	viper.SetDefault("status.interval", "5s")
	viper.SetDefault("status.file", "")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "conveyor")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "supersecrettoken")
	viper.SetDefault("influx.org", "conveyor-metrics")
	viper.SetDefault("influx.backupPath", "./conveyorlogs/influx_backup.log.gz")

	viper.SetDefault("api.upload", false)
	viper.SetDefault("api.serverUrl", "http://localhost:5000")
	viper.SetDefault("api.apiKey", "")
	viper.SetDefault("api.timeout", "30s")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "conveyor")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)
}

// Load sets default values, enables environment overrides and reads the JSON
// config file from configDir. Defaults stay in effect when the file is missing,
// but the error is still returned so the caller can log it.
func Load(configDir string) error {
	SetDefaults()

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetConfigName(ConfigFileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}

	return nil
}

// GetBeltConfig returns the belt settings.
func GetBeltConfig() BeltConfig {
	return BeltConfig{
		SpawnInterval:     viper.GetDuration("belt.spawnInterval"),
		MoveInterval:      viper.GetDuration("belt.moveInterval"),
		SpawnX:            viper.GetFloat64("belt.spawnX"),
		ExitX:             viper.GetFloat64("belt.exitX"),
		BeltY:             viper.GetFloat64("belt.beltY"),
		SpawnZ:            viper.GetFloat64("belt.spawnZ"),
		SurfaceZ:          viper.GetFloat64("belt.surfaceZ"),
		LateralRange:      viper.GetFloat64("belt.lateralRange"),
		Speed:             viper.GetFloat64("belt.speed"),
		DefectProbability: viper.GetFloat64("belt.defectProbability"),
		FailureThreshold:  viper.GetInt("belt.failureThreshold"),
		MaxEntities:       viper.GetInt("belt.maxEntities"),
		StaleTimeout:      viper.GetDuration("belt.staleTimeout"),
		StartupDelay:      viper.GetDuration("belt.startupDelay"),
		DrainOnStop:       viper.GetBool("belt.drainOnStop"),
	}
}

// GetActuatorConfig returns the actuator settings.
func GetActuatorConfig() ActuatorConfig {
	return ActuatorConfig{
		Type:          strings.ToLower(viper.GetString("actuator.type")),
		World:         viper.GetString("actuator.world"),
		Binary:        viper.GetString("actuator.binary"),
		SpawnTimeout:  viper.GetDuration("actuator.spawnTimeout"),
		MoveTimeout:   viper.GetDuration("actuator.moveTimeout"),
		DeleteTimeout: viper.GetDuration("actuator.deleteTimeout"),
		Sim: SimConfig{
			FailureRate: viper.GetFloat64("actuator.sim.failureRate"),
			Latency:     viper.GetDuration("actuator.sim.latency"),
			Seed:        viper.GetInt64("actuator.sim.seed"),
		},
	}
}

// GetStorageConfig returns the storage settings.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type:          strings.ToLower(viper.GetString("storage.type")),
		FlushInterval: viper.GetDuration("storage.flushInterval"),
		Memory: MemoryConfig{
			OutputDir:      viper.GetString("storage.memory.outputDir"),
			CompressOutput: viper.GetBool("storage.memory.compressOutput"),
		},
		SQLite: SQLiteConfig{
			DumpInterval: viper.GetDuration("storage.sqlite.dumpInterval"),
			DumpDir:      viper.GetString("storage.sqlite.dumpDir"),
		},
		WebSocket: WebSocketConfig{
			URL:    viper.GetString("storage.websocket.url"),
			Secret: viper.GetString("storage.websocket.secret"),
		},
	}
}

// GetStatusConfig returns the status monitor settings.
func GetStatusConfig() StatusConfig {
	return StatusConfig{
		Interval: viper.GetDuration("status.interval"),
		File:     viper.GetString("status.file"),
	}
}

// GetAPIConfig returns the results server settings.
func GetAPIConfig() APIConfig {
	return APIConfig{
		Upload:    viper.GetBool("api.upload"),
		ServerURL: viper.GetString("api.serverUrl"),
		APIKey:    viper.GetString("api.apiKey"),
		Timeout:   viper.GetDuration("api.timeout"),
	}
}

// GetOTelConfig returns the OpenTelemetry settings.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

// Settings flattens the belt and actuator settings for run records.
func Settings() map[string]string {
	out := make(map[string]string)
	for _, key := range viper.AllKeys() {
		if strings.HasPrefix(key, "belt.") || strings.HasPrefix(key, "actuator.") {
			out[key] = viper.GetString(key)
		}
	}
	return out
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

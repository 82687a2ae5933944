package config

// Config is the daemon configuration (the service side of things).
// The dosing controller's own state (targets, pumps, PID gains, fault
// settings) lives in a separate state file; see StateConfig.Path.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging LoggingConfig `json:"logging"`
	Sensor  SensorConfig  `json:"sensor"`
	Pump    PumpConfig    `json:"pump"`

	// Storage mirrors dose events and sensor readings durably.
	// Nil means disabled.
	Storage *StorageConfig `json:"storage,omitempty"`

	Driver DriverConfig `json:"driver"`
	State  StateConfig  `json:"state"`
}

type LoggingConfig struct {
	Level   string      `json:"level" validate:"omitempty,oneof=trace debug info warn error"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path" validate:"required_if=Enabled true"`
}

// SensorConfig selects where readings come from.
//
// Sources:
//   - "sim":  built-in simulator (bench rig, no hardware)
//   - "http": sensor bridge speaking the /api/sensors JSON shape
type SensorConfig struct {
	Source string `json:"source" validate:"omitempty,oneof=sim http"`

	HTTP HTTPEndpoint `json:"http"`
	Sim  SimConfig    `json:"sim"`
}

type SimConfig struct {
	PH          float64 `json:"ph,omitempty" validate:"omitempty,gt=0,lt=14"`
	EC          float64 `json:"ec,omitempty" validate:"omitempty,gte=0,lte=5"`
	WaterTemp   float64 `json:"water_temp,omitempty"`
	Jitter      float64 `json:"jitter,omitempty" validate:"gte=0"`
	DropoutRate float64 `json:"dropout_rate,omitempty" validate:"gte=0,lte=1"`
	Seed        int64   `json:"seed,omitempty"`
}

// PumpConfig selects the actuator backend.
//
// Actuators:
//   - "dryrun": log the dispense and report success (bench rig)
//   - "http":   pump bridge speaking the /api/pumps/dispense JSON shape
type PumpConfig struct {
	Actuator string `json:"actuator" validate:"omitempty,oneof=dryrun http"`

	HTTP HTTPEndpoint `json:"http"`
}

type HTTPEndpoint struct {
	BaseURL string `json:"base_url,omitempty" validate:"omitempty,url"`
	Timeout string `json:"timeout,omitempty"`
}

type StorageConfig struct {
	Driver      string `json:"driver" validate:"omitempty,oneof=none file sqlite sqlite3"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only

	// RetainReadings bounds reading history in the sqlite backend.
	RetainReadings string `json:"retain_readings,omitempty"`
}

// DriverConfig tunes the evaluation driver around the engine.
type DriverConfig struct {
	// WatchdogTimeout bounds one dosing cycle; the sweep reclaims the
	// cycle lock past this deadline. Default "2m".
	WatchdogTimeout string `json:"watchdog_timeout,omitempty"`

	// SweepInterval is how often the watchdog sweep runs. Default "30s".
	SweepInterval string `json:"sweep_interval,omitempty"`

	// TriggerBuffer sizes the manual-evaluation queue. Default 4.
	TriggerBuffer int `json:"trigger_buffer,omitempty" validate:"gte=0"`
}

// StateConfig locates the persisted dosing state.
type StateConfig struct {
	Path string `json:"path" validate:"required"`
}

// Default returns the bench-rig configuration: simulated sensors,
// dry-run pumps, no durable storage.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
		Sensor:  SensorConfig{Source: "sim"},
		Pump:    PumpConfig{Actuator: "dryrun"},
		State:   StateConfig{Path: "./nutetra_state.json"},
	}
}

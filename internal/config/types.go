package config

import "time"

// Config holds every tunable named in the Config data model, extended
// with the process/listener concerns a real multi-process service needs.
type Config struct {
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Proxy       ProxyConfig       `yaml:"proxy" mapstructure:"proxy"`
	HealthCheck HealthCheckConfig `yaml:"health_check" mapstructure:"health_check"`
	Manager     ManagerConfig     `yaml:"manager" mapstructure:"manager"`
	Logging     LoggingConfig     `yaml:"logging" mapstructure:"logging"`
	Backends    []BackendConfig   `yaml:"backends" mapstructure:"backends"`
}

// BackendConfig names one statically configured upstream, seeded into
// the pool at startup and reconciled on config reload.
type BackendConfig struct {
	URL     string `yaml:"url" mapstructure:"url"`
	MapHost bool   `yaml:"map_host" mapstructure:"map_host"`
}

// ServerConfig holds the front (proxy) and admin listener addresses.
type ServerConfig struct {
	ProxyHost       string        `yaml:"proxy_host" mapstructure:"proxy_host"`
	ProxyPort       int           `yaml:"proxy_port" mapstructure:"proxy_port"`
	AdminHost       string        `yaml:"admin_host" mapstructure:"admin_host"`
	AdminPort       int           `yaml:"admin_port" mapstructure:"admin_port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// ProxyConfig carries the three independent upstream timeouts (connect,
// write, read) and the buffer size used by the response copy loop.
type ProxyConfig struct {
	ConnectTimeout   time.Duration `yaml:"connect_timeout" mapstructure:"connect_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	ReadTimeout      time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	StreamBufferSize int           `yaml:"stream_buffer_size" mapstructure:"stream_buffer_size"`
}

// HealthCheckConfig carries the probe interval, path and the
// consecutive-outcome thresholds that gate a state flip.
type HealthCheckConfig struct {
	Interval time.Duration `yaml:"interval" mapstructure:"interval"`
	URIPath  string        `yaml:"uri_path" mapstructure:"uri_path"`
	Failures uint64        `yaml:"failures" mapstructure:"failures"`
	Passes   uint64        `yaml:"passes" mapstructure:"passes"`
	Workers  int           `yaml:"workers" mapstructure:"workers"`
}

// ManagerConfig carries the supervisor/worker fan-out's process and
// backpressure tunables.
type ManagerConfig struct {
	WorkerCount           int           `yaml:"worker_count" mapstructure:"worker_count"`
	ControlAddress        string        `yaml:"control_address" mapstructure:"control_address"`
	SubscriberInFlightCap int           `yaml:"subscriber_in_flight_cap" mapstructure:"subscriber_in_flight_cap"`
	WorkerStartTimeout    time.Duration `yaml:"worker_start_timeout" mapstructure:"worker_start_timeout"`
	WorkerRestartBackoff  time.Duration `yaml:"worker_restart_backoff" mapstructure:"worker_restart_backoff"`
}

// LoggingConfig mirrors the teacher's logger.Config shape closely enough
// that Load can populate it directly from file/env.
type LoggingConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`
	FileOutput bool   `yaml:"file_output" mapstructure:"file_output"`
	LogDir     string `yaml:"log_dir" mapstructure:"log_dir"`
	MaxSize    int    `yaml:"max_size" mapstructure:"max_size"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
	MaxAge     int    `yaml:"max_age" mapstructure:"max_age"`
	Theme      string `yaml:"theme" mapstructure:"theme"`
}

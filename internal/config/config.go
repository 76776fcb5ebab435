package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	UDP     UDPConfig     `yaml:"udp"`
	HTTP    HTTPConfig    `yaml:"http"`
	Storage StorageConfig `yaml:"storage"`
	Feed    FeedConfig    `yaml:"feed"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Sim     SimConfig     `yaml:"sim"`
}

type UDPConfig struct {
	Listen string `yaml:"listen"`
	// ReadBuffer is the requested SO_RCVBUF in bytes; 0 keeps the kernel default.
	ReadBuffer int          `yaml:"read_buffer"`
	Record     RecordConfig `yaml:"record"`
}

type RecordConfig struct {
	Enable bool   `yaml:"enable"`
	Path   string `yaml:"path"`
}

type HTTPConfig struct {
	Listen          string        `yaml:"listen"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type StorageConfig struct {
	// Driver is sqlite3 or pgx. Inferred from DSN when empty.
	Driver       string        `yaml:"driver"`
	DSN          string        `yaml:"dsn"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	MaxIdleConns int           `yaml:"max_idle_conns"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// DrainTimeout bounds the wait for in-flight writes at shutdown.
	DrainTimeout time.Duration `yaml:"drain_timeout"`
}

type FeedConfig struct {
	Window       time.Duration `yaml:"window"`
	Recency      time.Duration `yaml:"recency"`
	QueryTimeout time.Duration `yaml:"query_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// BufferLines is the size of the in-memory tail served at /api/logs.
	BufferLines int `yaml:"buffer_lines"`
}

type MetricsConfig struct {
	Enable bool `yaml:"enable"`
}

type TracingConfig struct {
	Enable      bool    `yaml:"enable"`
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

type MQTTConfig struct {
	Enable      bool          `yaml:"enable"`
	Broker      string        `yaml:"broker"`
	ClientID    string        `yaml:"client_id"`
	TopicPrefix string        `yaml:"topic_prefix"`
	QoS         int           `yaml:"qos"`
	Retained    bool          `yaml:"retained"`
	Timeout     time.Duration `yaml:"timeout"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
}

// SimConfig drives cmd/avl-sim.
type SimConfig struct {
	Dest      string        `yaml:"dest"`
	Interval  time.Duration `yaml:"interval"`
	Vehicles  int           `yaml:"vehicles"`
	Prefix    string        `yaml:"prefix"`
	CenterLat float64       `yaml:"center_lat"`
	CenterLon float64       `yaml:"center_lon"`
	RadiusKm  float64       `yaml:"radius_km"`
	Period    time.Duration `yaml:"period"`
	Replay    ReplayConfig  `yaml:"replay"`
}

type ReplayConfig struct {
	Enable bool    `yaml:"enable"`
	Path   string  `yaml:"path"`
	Speed  float64 `yaml:"speed"`
	Loop   bool    `yaml:"loop"`
}

// Load reads path (optional; "" means defaults only), applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := ApplyEnv(&cfg, os.Getenv); err != nil {
		return Config{}, err
	}
	if err := DefaultAndValidate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overlays the deployment environment variables onto cfg.
func ApplyEnv(cfg *Config, getenv func(string) string) error {
	if v := getenv("DATABASE_URL"); v != "" {
		cfg.Storage.DSN = v
		cfg.Storage.Driver = ""
	}

	host := getenv("AVL_HOST")
	if p := getenv("AVL_UDP_PORT"); p != "" || host != "" {
		addr, err := overrideHostPort(cfg.UDP.Listen, defaultUDPListen, host, p)
		if err != nil {
			return fmt.Errorf("AVL_UDP_PORT: %w", err)
		}
		cfg.UDP.Listen = addr
	}
	if p := getenv("GTFS_RT_PORT"); p != "" {
		addr, err := overrideHostPort(cfg.HTTP.Listen, defaultHTTPListen, "", p)
		if err != nil {
			return fmt.Errorf("GTFS_RT_PORT: %w", err)
		}
		cfg.HTTP.Listen = addr
	}

	if v := getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	return nil
}

func overrideHostPort(current, fallback, host, port string) (string, error) {
	if current == "" {
		current = fallback
	}
	h, p, err := net.SplitHostPort(current)
	if err != nil {
		return "", err
	}
	if host != "" {
		h = host
	}
	if port != "" {
		n, err := strconv.Atoi(port)
		if err != nil || n < 0 || n > 65535 {
			return "", fmt.Errorf("invalid port %q", port)
		}
		p = port
	}
	return net.JoinHostPort(h, p), nil
}

const (
	defaultUDPListen  = "0.0.0.0:8080"
	defaultHTTPListen = "0.0.0.0:8081"
	defaultSQLiteDSN  = "file:avl.db?_busy_timeout=5000&_journal_mode=WAL"
)

// DefaultAndValidate fills zero values and rejects inconsistent settings.
func DefaultAndValidate(cfg *Config) error {
	if cfg.UDP.Listen == "" {
		cfg.UDP.Listen = defaultUDPListen
	}
	if _, _, err := net.SplitHostPort(cfg.UDP.Listen); err != nil {
		return fmt.Errorf("udp.listen: %w", err)
	}
	if cfg.UDP.ReadBuffer < 0 {
		return fmt.Errorf("udp.read_buffer must be >= 0")
	}
	if cfg.UDP.Record.Enable && cfg.UDP.Record.Path == "" {
		return fmt.Errorf("udp.record.path is required when udp.record.enable is true")
	}

	if cfg.HTTP.Listen == "" {
		cfg.HTTP.Listen = defaultHTTPListen
	}
	if cfg.HTTP.ReadTimeout <= 0 {
		cfg.HTTP.ReadTimeout = 10 * time.Second
	}
	if cfg.HTTP.WriteTimeout <= 0 {
		cfg.HTTP.WriteTimeout = 30 * time.Second
	}
	if cfg.HTTP.ShutdownTimeout <= 0 {
		cfg.HTTP.ShutdownTimeout = 5 * time.Second
	}

	if err := defaultStorage(&cfg.Storage); err != nil {
		return err
	}

	if cfg.Feed.Window <= 0 {
		cfg.Feed.Window = 15 * time.Second
	}
	if cfg.Feed.Recency <= 0 {
		cfg.Feed.Recency = 5 * time.Minute
	}
	if cfg.Feed.QueryTimeout <= 0 {
		cfg.Feed.QueryTimeout = 10 * time.Second
	}

	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	switch cfg.Log.Level {
	case "":
		cfg.Log.Level = "info"
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error")
	}
	cfg.Log.Format = strings.ToLower(cfg.Log.Format)
	switch cfg.Log.Format {
	case "":
		cfg.Log.Format = "text"
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be 'text' or 'json'")
	}
	if cfg.Log.BufferLines <= 0 {
		cfg.Log.BufferLines = 500
	}

	if cfg.Tracing.Enable {
		switch strings.ToLower(cfg.Tracing.Exporter) {
		case "":
			cfg.Tracing.Exporter = "stdout"
		case "stdout", "otlp", "otlpgrpc":
		default:
			return fmt.Errorf("tracing.exporter must be 'stdout' or 'otlp'")
		}
		if cfg.Tracing.SampleRatio == 0 {
			cfg.Tracing.SampleRatio = 1
		}
		if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
			return fmt.Errorf("tracing.sample_ratio must be within [0, 1]")
		}
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "avl-server"
	}

	if cfg.MQTT.Enable {
		if cfg.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker is required when mqtt.enable is true")
		}
		if cfg.MQTT.QoS < 0 || cfg.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
		}
	}
	if cfg.MQTT.Timeout <= 0 {
		cfg.MQTT.Timeout = 2 * time.Second
	}

	return defaultSim(&cfg.Sim, cfg.UDP.Listen)
}

func defaultStorage(s *StorageConfig) error {
	if s.DSN == "" {
		s.DSN = defaultSQLiteDSN
	}
	if s.Driver == "" {
		s.Driver = inferDriver(s.DSN)
	}
	switch s.Driver {
	case "sqlite", "sqlite3", "pgx", "postgres", "postgresql":
	default:
		return fmt.Errorf("storage.driver %q is not supported (sqlite3, pgx)", s.Driver)
	}
	if s.MaxOpenConns <= 0 {
		s.MaxOpenConns = 10
	}
	if s.MaxIdleConns <= 0 {
		s.MaxIdleConns = 2
	}
	if s.MaxIdleConns > s.MaxOpenConns {
		return fmt.Errorf("storage.max_idle_conns must be <= storage.max_open_conns")
	}
	if s.WriteTimeout <= 0 {
		s.WriteTimeout = 5 * time.Second
	}
	if s.DrainTimeout <= 0 {
		s.DrainTimeout = 10 * time.Second
	}
	return nil
}

func inferDriver(dsn string) string {
	lower := strings.ToLower(dsn)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return "pgx"
	}
	return "sqlite3"
}

func defaultSim(s *SimConfig, udpListen string) error {
	if s.Dest == "" {
		_, port, _ := net.SplitHostPort(udpListen)
		s.Dest = net.JoinHostPort("127.0.0.1", port)
	}
	if s.Interval <= 0 {
		s.Interval = 5 * time.Second
	}
	if s.Vehicles <= 0 {
		s.Vehicles = 3
	}
	if s.Prefix == "" {
		s.Prefix = "B"
	}
	if len(s.Prefix) > 3 {
		return fmt.Errorf("sim.prefix must be at most 3 characters")
	}
	if limit := pow10(4 - len(s.Prefix)); s.Vehicles >= limit {
		return fmt.Errorf("sim.vehicles must be < %d with prefix %q", limit, s.Prefix)
	}
	if s.CenterLat == 0 && s.CenterLon == 0 {
		s.CenterLat, s.CenterLon = 28.8053, -96.9853
	}
	if s.RadiusKm <= 0 {
		s.RadiusKm = 1.5
	}
	if s.Period <= 0 {
		s.Period = 10 * time.Minute
	}

	if s.Replay.Enable {
		if s.Replay.Path == "" {
			return fmt.Errorf("sim.replay.path is required when sim.replay.enable is true")
		}
		if s.Replay.Speed == 0 {
			s.Replay.Speed = 1
		}
		if s.Replay.Speed < 0 {
			return fmt.Errorf("sim.replay.speed must be > 0")
		}
	}
	return nil
}

func pow10(n int) int {
	v := 1
	for i := 0; i < n; i++ {
		v *= 10
	}
	return v
}

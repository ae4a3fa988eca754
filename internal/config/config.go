// Package config загружает настройки satscan: значения по умолчанию,
// YAML файл, .env файл и переменные окружения SATSCAN_*.
package config

import (
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/art-injener/satscan-go/internal/celestrak"
	"github.com/art-injener/satscan-go/internal/simulation"
	"github.com/art-injener/satscan-go/internal/tracker"
)

// Значения по умолчанию.
const (
	DefaultAddr            = ":8080"
	DefaultReadTimeout     = 10 * time.Second
	DefaultWriteTimeout    = 60 * time.Second
	DefaultShutdownTimeout = 15 * time.Second
	DefaultMaxSamples      = 100_000

	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"

	DefaultInterval      = 30.0
	DefaultRateUnit      = "s"
	DefaultDurationHours = 24.0

	// EnvPrefix префикс переменных окружения.
	EnvPrefix = "SATSCAN_"
)

// ErrInvalidConfig ошибка невалидной конфигурации.
var ErrInvalidConfig = errors.New("invalid config")

// Config содержит все настройки приложения.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
	Propagation PropagationConfig `yaml:"propagation"`
	Sampling    SamplingConfig    `yaml:"sampling"`
	Scan        ScanConfig        `yaml:"scan"`
	Celestrak   CelestrakConfig   `yaml:"celestrak"`

	// Workers размер пула воркеров прогона. 0 означает по числу CPU.
	Workers int `yaml:"workers"`
}

// ServerConfig настройки HTTP сервера.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxSamples ограничивает число отсчётов одного запроса к API.
	MaxSamples int `yaml:"max_samples"`
}

// LogConfig настройки логирования.
type LogConfig struct {
	// Level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format: text или json.
	Format string `yaml:"format"`
}

// PropagationConfig выбор модели движения.
type PropagationConfig struct {
	// Model: sgp4 или kepler.
	Model string `yaml:"model"`
	// Gravity: wgs84 или wgs72. Используется только SGP4.
	Gravity string `yaml:"gravity"`
}

// SamplingConfig параметры окна по умолчанию.
type SamplingConfig struct {
	Interval      float64 `yaml:"interval"`
	RateUnit      string  `yaml:"rate_unit"`
	DurationHours float64 `yaml:"duration_hours"` // 0 означает один отсчёт
	FromEpoch     bool    `yaml:"from_epoch"`

	// MaxSamples ограничивает число отсчётов одного прогона в CLI и API.
	MaxSamples int `yaml:"max_samples"`
}

// ScanConfig параметры зоны обзора.
type ScanConfig struct {
	// AreaKm сторона квадрата зоны обзора, км.
	AreaKm float64 `yaml:"area_km"`
}

// CelestrakConfig настройки загрузки TLE.
type CelestrakConfig struct {
	BaseURL    string        `yaml:"base_url"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	RateLimit  time.Duration `yaml:"rate_limit"`
	CacheDir   string        `yaml:"cache_dir"`
	MaxAge     time.Duration `yaml:"max_age"`
}

// Default возвращает конфигурацию со значениями по умолчанию.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            DefaultAddr,
			ReadTimeout:     DefaultReadTimeout,
			WriteTimeout:    DefaultWriteTimeout,
			ShutdownTimeout: DefaultShutdownTimeout,
			MaxSamples:      DefaultMaxSamples,
		},
		Log: LogConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Propagation: PropagationConfig{
			Model:   tracker.ModelSGP4.String(),
			Gravity: "wgs84",
		},
		Sampling: SamplingConfig{
			Interval:      DefaultInterval,
			RateUnit:      DefaultRateUnit,
			DurationHours: DefaultDurationHours,
			MaxSamples:    simulation.DefaultMaxSamples,
		},
		Scan: ScanConfig{
			AreaKm: simulation.DefaultAreaKm,
		},
		Celestrak: CelestrakConfig{
			BaseURL:    celestrak.BaseURL,
			Timeout:    celestrak.DefaultTimeout,
			MaxRetries: celestrak.DefaultMaxRetries,
			RateLimit:  celestrak.DefaultRateLimit,
			CacheDir:   celestrak.DefaultCacheDir,
			MaxAge:     celestrak.DefaultMaxAge,
		},
	}
}

// Load собирает конфигурацию: значения по умолчанию, затем YAML файл path,
// затем .env файл envFile, затем переменные окружения.
// Пустой path или envFile пропускается, отсутствующий envFile тоже.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "reading config %s", path)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "parsing config %s", path)
		}
	}

	dotenv := map[string]string{}
	if envFile != "" {
		env, err := godotenv.Read(envFile)
		switch {
		case err == nil:
			dotenv = env
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, errors.Wrapf(err, "reading env file %s", envFile)
		}
	}

	// Окружение процесса важнее .env файла
	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}

	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnv переопределяет поля значениями переменных SATSCAN_*.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"SERVER_ADDR":   &c.Server.Addr,
		"LOG_LEVEL":     &c.Log.Level,
		"LOG_FORMAT":    &c.Log.Format,
		"MODEL":         &c.Propagation.Model,
		"GRAVITY":       &c.Propagation.Gravity,
		"RATE_UNIT":     &c.Sampling.RateUnit,
		"CELESTRAK_URL": &c.Celestrak.BaseURL,
		"CACHE_DIR":     &c.Celestrak.CacheDir,
	}
	for key, dst := range strs {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = strings.TrimSpace(v)
		}
	}

	floats := map[string]*float64{
		"INTERVAL":       &c.Sampling.Interval,
		"DURATION_HOURS": &c.Sampling.DurationHours,
		"AREA_KM":        &c.Scan.AreaKm,
	}
	for key, dst := range floats {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			continue
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return errors.Wrapf(ErrInvalidConfig, "%s%s=%q: %v", EnvPrefix, key, v, err)
		}
		*dst = f
	}

	ints := map[string]*int{
		"WORKERS":           &c.Workers,
		"MAX_SAMPLES":       &c.Sampling.MaxSamples,
		"CELESTRAK_RETRIES": &c.Celestrak.MaxRetries,
	}
	for key, dst := range ints {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return errors.Wrapf(ErrInvalidConfig, "%s%s=%q: %v", EnvPrefix, key, v, err)
		}
		*dst = n
	}

	durations := map[string]*time.Duration{
		"CELESTRAK_TIMEOUT": &c.Celestrak.Timeout,
		"CACHE_MAX_AGE":     &c.Celestrak.MaxAge,
	}
	for key, dst := range durations {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return errors.Wrapf(ErrInvalidConfig, "%s%s=%q: %v", EnvPrefix, key, v, err)
		}
		*dst = d
	}

	if v, ok := lookup(EnvPrefix + "FROM_EPOCH"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return errors.Wrapf(ErrInvalidConfig, "%sFROM_EPOCH=%q: %v", EnvPrefix, v, err)
		}
		c.Sampling.FromEpoch = b
	}

	return nil
}

// Validate проверяет и корректирует конфигурацию.
// Пустые и неположительные числовые значения заменяются значениями по умолчанию;
// длительность окна 0 сохраняется, заменяется только отрицательная. Неизвестные имена моделей, единиц и уровней логирования возвращают ошибку.
func (c *Config) Validate() error {
	def := Default()

	if c.Server.Addr == "" {
		c.Server.Addr = def.Server.Addr
	}
	if c.Server.ReadTimeout <= 0 {
		c.Server.ReadTimeout = def.Server.ReadTimeout
	}
	if c.Server.WriteTimeout <= 0 {
		c.Server.WriteTimeout = def.Server.WriteTimeout
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = def.Server.ShutdownTimeout
	}
	if c.Server.MaxSamples <= 0 {
		c.Server.MaxSamples = def.Server.MaxSamples
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
	if c.Sampling.Interval <= 0 {
		c.Sampling.Interval = def.Sampling.Interval
	}
	if c.Sampling.DurationHours < 0 {
		c.Sampling.DurationHours = def.Sampling.DurationHours
	}
	if c.Sampling.MaxSamples <= 0 {
		c.Sampling.MaxSamples = def.Sampling.MaxSamples
	}
	if c.Scan.AreaKm <= 0 {
		c.Scan.AreaKm = def.Scan.AreaKm
	}
	if c.Workers < 0 {
		c.Workers = 0
	}
	if c.Celestrak.BaseURL == "" {
		c.Celestrak.BaseURL = def.Celestrak.BaseURL
	}
	if c.Celestrak.Timeout <= 0 {
		c.Celestrak.Timeout = def.Celestrak.Timeout
	}
	if c.Celestrak.MaxRetries < 0 {
		c.Celestrak.MaxRetries = def.Celestrak.MaxRetries
	}
	if c.Celestrak.RateLimit < 0 {
		c.Celestrak.RateLimit = def.Celestrak.RateLimit
	}
	if c.Celestrak.CacheDir == "" {
		c.Celestrak.CacheDir = def.Celestrak.CacheDir
	}
	if c.Celestrak.MaxAge <= 0 {
		c.Celestrak.MaxAge = def.Celestrak.MaxAge
	}

	if _, err := c.Log.level(); err != nil {
		return err
	}
	if f := c.Log.Format; f != "text" && f != "json" {
		return errors.Wrapf(ErrInvalidConfig, "log format %q (available: text, json)", f)
	}
	if _, err := tracker.ParseModel(c.Propagation.Model); err != nil {
		return errors.Wrap(ErrInvalidConfig, err.Error())
	}
	if _, err := tracker.ParseGravity(c.Propagation.Gravity); err != nil {
		return errors.Wrap(ErrInvalidConfig, err.Error())
	}
	if _, err := simulation.ParseRateUnit(c.Sampling.RateUnit); err != nil {
		return errors.Wrap(ErrInvalidConfig, err.Error())
	}

	return nil
}

// ParsedModel возвращает модель движения. Конфигурация должна пройти Validate.
func (p PropagationConfig) ParsedModel() tracker.Model {
	m, _ := tracker.ParseModel(p.Model)
	return m
}

// ParsedGravity возвращает модель гравитации. Конфигурация должна пройти Validate.
func (p PropagationConfig) ParsedGravity() tracker.GravityModel {
	g, _ := tracker.ParseGravity(p.Gravity)
	return g
}

// BaseRequest возвращает запрос прогона с параметрами окна по умолчанию.
// Поля TLE и начало окна заполняет вызывающий.
func (c *Config) BaseRequest() simulation.Request {
	unit, _ := simulation.ParseRateUnit(c.Sampling.RateUnit)

	return simulation.Request{
		FromEpoch:     c.Sampling.FromEpoch,
		Interval:      c.Sampling.Interval,
		RateUnit:      unit,
		DurationHours: c.Sampling.DurationHours,
		AreaKm:        c.Scan.AreaKm,
	}
}

// RunnerOptions возвращает опции simulation.Runner из конфигурации.
func (c *Config) RunnerOptions() []simulation.Option {
	return []simulation.Option{
		simulation.WithWorkers(c.Workers),
		simulation.WithMaxSamples(c.Sampling.MaxSamples),
		simulation.WithModel(c.Propagation.ParsedModel()),
		simulation.WithGravity(c.Propagation.ParsedGravity()),
	}
}

// CelestrakOptions возвращает опции celestrak.Client из конфигурации.
func (c *Config) CelestrakOptions() []celestrak.Option {
	return []celestrak.Option{
		celestrak.WithBaseURL(c.Celestrak.BaseURL),
		celestrak.WithTimeout(c.Celestrak.Timeout),
		celestrak.WithMaxRetries(c.Celestrak.MaxRetries),
		celestrak.WithRateLimit(c.Celestrak.RateLimit),
	}
}

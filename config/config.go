package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"railtrack.dev/railtrack/model"
)

// ScheduleSource is one static GTFS archive to import.
type ScheduleSource struct {
	Source model.Source `yaml:"source" validate:"required,oneof=amtrak via sanjoaquins"`
	URL    string       `yaml:"url" validate:"required,url"`
}

// RealtimeConfig contains the GTFS-RT trip update feeds. Station
// codes with three characters use LongHaulURL, others RegionalURL.
type RealtimeConfig struct {
	LongHaulURL string        `yaml:"longHaulURL" validate:"required,url"`
	RegionalURL string        `yaml:"regionalURL" validate:"required,url"`
	CacheTTL    time.Duration `yaml:"cacheTTL" validate:"gte=0"`

	// Trip IDs in the feed may carry a "<date>_<prefix>_<trip>" form
	CarrierPrefix string `yaml:"carrierPrefix" validate:"required"`

	// Routes whose feed lists an extra leading stop
	CorrectedRoutes []string `yaml:"correctedRoutes"`
}

type LiveConfig struct {
	URL         string        `yaml:"url" validate:"required,url"`
	Interval    time.Duration `yaml:"interval" validate:"gt=0"`
	MaxElapsed  time.Duration `yaml:"maxElapsed" validate:"gte=0"`
	PublishName string        `yaml:"publishSubject" validate:"required"`
}

type StorageConfig struct {
	Backend     string `yaml:"backend" validate:"oneof=memory sqlite postgres"`
	SQLiteDir   string `yaml:"sqliteDir"`
	PostgresURL string `yaml:"postgresURL" validate:"required_if=Backend postgres"`
}

type CacheConfig struct {
	Backend   string `yaml:"backend" validate:"oneof=memory filesystem redis"`
	Dir       string `yaml:"dir" validate:"required_if=Backend filesystem"`
	RedisAddr string `yaml:"redisAddr" validate:"required_if=Backend redis"`
}

type PublisherConfig struct {
	Backend      string `yaml:"backend" validate:"oneof=none nats kafka"`
	NATSURL      string `yaml:"natsURL" validate:"required_if=Backend nats"`
	KafkaBrokers string `yaml:"kafkaBrokers" validate:"required_if=Backend kafka"`
}

// Config is the root configuration structure
type Config struct {
	Sources         []ScheduleSource `yaml:"sources" validate:"required,min=1,dive"`
	ScheduleRefresh time.Duration    `yaml:"scheduleRefresh" validate:"gt=0"`
	ConnectTimeout  time.Duration    `yaml:"connectTimeout" validate:"gt=0"`
	ReadTimeout     time.Duration    `yaml:"readTimeout" validate:"gt=0"`

	// Zone the timeboard sorts in and offsets are measured against
	ReferenceZone string `yaml:"referenceZone" validate:"required"`

	// Zone service dates are formatted in. Empty means local time.
	DateZone string `yaml:"dateZone"`

	StationsPath string `yaml:"stationsPath"`

	Realtime    RealtimeConfig  `yaml:"realtime"`
	Live        LiveConfig      `yaml:"live"`
	Storage     StorageConfig   `yaml:"storage"`
	Cache       CacheConfig     `yaml:"cache"`
	Publisher   PublisherConfig `yaml:"publisher"`
	MetricsAddr string          `yaml:"metricsAddr"`
}

func Default() *Config {
	return &Config{
		Sources: []ScheduleSource{
			{Source: model.SourceAmtrak, URL: "https://content.amtrak.com/content/gtfs/GTFS.zip"},
			{Source: model.SourceVIA, URL: "https://www.viarail.ca/sites/all/files/gtfs/viarail.zip"},
			{Source: model.SourceSanJoaquins, URL: "https://d34tiw64n5z4oh.cloudfront.net/wp-content/uploads/SJJPA_03182025-1.zip"},
		},
		ScheduleRefresh: 12 * time.Hour,
		ConnectTimeout:  5 * time.Second,
		ReadTimeout:     10 * time.Second,
		ReferenceZone:   "America/New_York",
		Realtime: RealtimeConfig{
			LongHaulURL:     "https://asm-backend.transitdocs.com/gtfs/amtrak",
			RegionalURL:     "https://asm-backend.transitdocs.com/gtfs/via",
			CacheTTL:        30 * time.Second,
			CarrierPrefix:   "AMTK",
			CorrectedRoutes: []string{"SJ2"},
		},
		Live: LiveConfig{
			URL:         "https://asm-backend.transitdocs.com/map",
			Interval:    120 * time.Second,
			MaxElapsed:  30 * time.Second,
			PublishName: "railtrack.trains",
		},
		Storage: StorageConfig{
			Backend: "sqlite",
		},
		Cache: CacheConfig{
			Backend: "memory",
		},
		Publisher: PublisherConfig{
			Backend: "none",
		},
	}
}

// Load reads the YAML file at path on top of the defaults, then
// applies environment overrides (including those in a .env file).
// An empty path gives the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		err = yaml.Unmarshal(data, cfg)
		if err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()
	cfg.applyEnv()

	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("RAILTRACK_STORAGE_BACKEND"); v != "" {
		c.Storage.Backend = v
	}
	if v := os.Getenv("RAILTRACK_POSTGRES_URL"); v != "" {
		c.Storage.PostgresURL = v
	}
	if v := os.Getenv("RAILTRACK_REDIS_ADDR"); v != "" {
		c.Cache.Backend = "redis"
		c.Cache.RedisAddr = v
	}
	if v := os.Getenv("RAILTRACK_NATS_URL"); v != "" {
		c.Publisher.Backend = "nats"
		c.Publisher.NATSURL = v
	}
	if v := os.Getenv("RAILTRACK_METRICS_ADDR"); v != "" {
		c.MetricsAddr = v
	}
}

func (c *Config) Validate() error {
	err := validator.New().Struct(c)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	seen := map[model.Source]bool{}
	for _, s := range c.Sources {
		if seen[s.Source] {
			return fmt.Errorf("invalid config: source %s listed twice", s.Source)
		}
		seen[s.Source] = true
	}

	return nil
}

// RealtimeURL picks the trip update feed for a station code.
func (c *Config) RealtimeURL(stationCode string) string {
	if len(stationCode) == 3 {
		return c.Realtime.LongHaulURL
	}
	return c.Realtime.RegionalURL
}

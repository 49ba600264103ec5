package config

import (
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type (
	Config struct {
		HTTP      HTTP      `envPrefix:"HTTP_"`
		Logger    Logger    `envPrefix:"LOGGER_"`
		Telemetry Telemetry `envPrefix:"TELEMETRY_"`
		Cache     Cache     `envPrefix:"CACHE_"`
		Queue     Queue     `envPrefix:"QUEUE_"`
		Upstream  Upstream  `envPrefix:"UPSTREAM_"`
		NotFound  NotFound  `envPrefix:"NOTFOUND_"`
		Archive   Archive   `envPrefix:"ARCHIVE_"`
		Redis     Redis     `envPrefix:"REDIS_"`
		Memory    Memory    `envPrefix:"MEMORY_"`
	}

	HTTP struct {
		Server  Server        `envPrefix:"SERVER_"`
		Timeout time.Duration `env:"TIMEOUT" envDefault:"10s"`
	}

	Server struct {
		Port         string        `env:"PORT,required"`
		ReadTimeout  time.Duration `env:"READ_TIMEOUT" envDefault:"15s"`
		WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"15s"`
		IdleTimeout  time.Duration `env:"IDLE_TIMEOUT" envDefault:"60s"`
	}

	Logger struct {
		Level string `env:"LEVEL,required"`
	}

	Telemetry struct {
		Enabled        bool   `env:"ENABLED" envDefault:"false"`
		ServiceName    string `env:"SERVICE_NAME" envDefault:"guide-helper-tilecache"`
		ServiceVersion string `env:"SERVICE_VERSION" envDefault:"1.0.0"`
		Environment    string `env:"ENVIRONMENT" envDefault:"production"`
		OTLPEndpoint   string `env:"OTLP_ENDPOINT" envDefault:"otel-collector.observability.svc.cluster.local:4317"`
	}

	// Cache describes the on-disk tile store and the in-memory tile cache in
	// front of it. Sizes are bytes, MemoryTiles is a count and 0 disables it.
	Cache struct {
		Dir         string        `env:"DIR" envDefault:"./tiles"`
		Extension   string        `env:"EXTENSION" envDefault:".tile"`
		TTL         time.Duration `env:"TTL" envDefault:"300s"`
		MaxBytes    int64         `env:"MAX_BYTES" envDefault:"629145600"`
		TrimBytes   int64         `env:"TRIM_BYTES" envDefault:"524288000"`
		MemoryTiles int           `env:"MEMORY_TILES" envDefault:"256"`
	}

	Queue struct {
		PoolSize int `env:"POOL_SIZE" envDefault:"8"`
		Capacity int `env:"CAPACITY" envDefault:"40"`
	}

	Upstream struct {
		Enabled           bool          `env:"ENABLED" envDefault:"true"`
		Name              string        `env:"NAME" envDefault:"osm"`
		URLs              []string      `env:"URLS" envSeparator:"," envDefault:"https://tile.openstreetmap.org/"`
		Ending            string        `env:"ENDING" envDefault:".png"`
		MinZoom           int           `env:"MIN_ZOOM" envDefault:"0"`
		MaxZoom           int           `env:"MAX_ZOOM" envDefault:"19"`
		TileSize          int           `env:"TILE_SIZE" envDefault:"256"`
		UserAgent         string        `env:"USER_AGENT" envDefault:"GuideHelper/1.0 (https://github.com/jaennil/guide_helper)"`
		Timeout           time.Duration `env:"TIMEOUT" envDefault:"30s"`
		MaxTileBytes      int64         `env:"MAX_TILE_BYTES" envDefault:"4194304"`
		CheckConnectivity bool          `env:"CHECK_CONNECTIVITY" envDefault:"true"`
		DialTimeout       time.Duration `env:"DIAL_TIMEOUT" envDefault:"2s"`
		CheckInterval     time.Duration `env:"CHECK_INTERVAL" envDefault:"30s"`
	}

	NotFound struct {
		Window   time.Duration `env:"WINDOW" envDefault:"1h"`
		Capacity int           `env:"CAPACITY" envDefault:"2000"`
	}

	Archive struct {
		MBTiles []string `env:"MBTILES" envSeparator:","`
	}

	Redis struct {
		Enabled  bool   `env:"ENABLED" envDefault:"false"`
		Addr     string `env:"ADDR" envDefault:"localhost:6379"`
		Password string `env:"PASSWORD" envDefault:""`
		DB       int    `env:"DB" envDefault:"0"`
	}

	Memory struct {
		Enabled      bool          `env:"ENABLED" envDefault:"true"`
		MinAvailable uint64        `env:"MIN_AVAILABLE" envDefault:"67108864"`
		Interval     time.Duration `env:"INTERVAL" envDefault:"5s"`
	}
)

func New() (*Config, error) {
	err := godotenv.Load()
	if err != nil {
		log.Printf("NOTICE: .env file not found or cannot be loaded: %v\n", err)
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

package app

import (
	"time"

	"github.com/pupscan/pupscan-backend/internal/platform/envutil"
)

type Config struct {
	Port        string
	LogMode     string
	WallClock   time.Duration
	StartWorker bool
}

func LoadConfig() Config {
	return Config{
		Port:        envutil.String("PORT", "8080"),
		LogMode:     envutil.String("LOG_MODE", "development"),
		WallClock:   envutil.DurationSeconds("AGE_PROGRESSION_WALL_CLOCK_SECONDS", 600),
		StartWorker: envutil.Bool("START_TEMPORAL_WORKER", true),
	}
}

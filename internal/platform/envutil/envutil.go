package envutil

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mingainspire/prplx/internal/platform/logger"
)

func GetEnv(key, fallback string, log *logger.Logger) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		if log != nil && fallback != "" {
			log.Debug("env default applied", "key", key, "default", fallback)
		}
		return fallback
	}
	return v
}

func GetEnvAsInt(key string, fallback int, log *logger.Logger) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		if log != nil {
			log.Warn("env value not an int, using default", "key", key, "value", v, "default", fallback)
		}
		return fallback
	}
	return n
}

func GetEnvAsBool(key string, fallback bool, log *logger.Logger) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		if log != nil {
			log.Warn("env value not a bool, using default", "key", key, "value", v, "default", fallback)
		}
		return fallback
	}
	return b
}

func GetEnvAsDuration(key string, fallback time.Duration, log *logger.Logger) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		if log != nil {
			log.Warn("env value not a duration, using default", "key", key, "value", v, "default", fallback.String())
		}
		return fallback
	}
	return d
}

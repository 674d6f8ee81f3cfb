package config

import (
	"errors"
	"os"
	"strconv"
)

type Config struct {
	Port                   string
	Env                    string
	DataDir                string
	OllamaURL              string
	Model                  string
	FrontendURL            string
	RequestTimeoutSeconds  int
	SnapshotIntervalSecond int
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v, err := strconv.Atoi(getenv(key, strconv.Itoa(def)))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func Load() Config {
	return Config{
		Port:                   getenv("APP_PORT", "3001"),
		Env:                    getenv("APP_ENV", "dev"),
		DataDir:                getenv("DATA_DIR", "data"),
		OllamaURL:              getenv("OLLAMA_URL", "http://localhost:11434/api/generate"),
		Model:                  getenv("LLAMA3_MODEL", "llama3"),
		FrontendURL:            getenv("FRONTEND_URL", "http://localhost:3000"),
		RequestTimeoutSeconds:  getenvInt("REQUEST_TIMEOUT_SECONDS", 60),
		SnapshotIntervalSecond: getenvInt("SNAPSHOT_INTERVAL_SECONDS", 30),
	}
}

// Validate 在启动阶段做最基本的完整性检查。
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("port must not be empty")
	}
	if cfg.DataDir == "" {
		return errors.New("data dir must not be empty")
	}
	if cfg.OllamaURL == "" {
		return errors.New("ollama url must not be empty")
	}
	if cfg.Model == "" {
		return errors.New("model must not be empty")
	}
	return nil
}

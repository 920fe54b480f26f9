// Package config loads server settings from the environment and study
// settings from an optional yaml file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config aggregates every setting the process needs.
type Config struct {
	Server ServerConfig
	Study  StudyConfig
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

// StudyConfig describes study-specific paths and tuning.
type StudyConfig struct {
	DataDir        string
	OutputDir      string
	StorePath      string
	PublicDir      string
	Group          string
	BiasKinds      []string
	WriteQueueSize int
}

// Load builds the configuration from environment variables plus the optional
// study file named by STUDY_CONFIG.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	study, err := loadStudyConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, Study: study}, nil
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "3000"
	}

	if strings.Contains(port, ":") {
		// Allow ":3000" or "127.0.0.1:3000" directly.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// studyFile is the yaml shape of the study config file. Every field is
// optional; absent ones fall back to built-in defaults.
type studyFile struct {
	Group            string   `yaml:"group"`
	BiasInteractions []string `yaml:"bias_interactions"`
	WriteQueueSize   int      `yaml:"write_queue_size"`
}

func loadStudyConfig() (StudyConfig, error) {
	queueSize, err := parseOptionalIntEnv("WRITE_QUEUE_SIZE")
	if err != nil {
		return StudyConfig{}, err
	}

	cfg := StudyConfig{
		DataDir:        getEnvOrDefault("DATA_DIR", "data"),
		OutputDir:      getEnvOrDefault("OUTPUT_DIR", "output"),
		StorePath:      getEnvOrDefault("STORE_PATH", "lumos.db"),
		PublicDir:      getEnvOrDefault("PUBLIC_DIR", "public"),
		Group:          "lumos",
		WriteQueueSize: 256,
	}
	if queueSize != nil {
		cfg.WriteQueueSize = *queueSize
	}

	path := getEnvOrDefault("STUDY_CONFIG", "study.yaml")
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return StudyConfig{}, fmt.Errorf("read study config %s: %w", path, err)
	}

	var file studyFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return StudyConfig{}, fmt.Errorf("parse study config %s: %w", path, err)
	}

	if file.Group != "" {
		cfg.Group = file.Group
	}
	if len(file.BiasInteractions) > 0 {
		cfg.BiasKinds = file.BiasInteractions
	}
	if file.WriteQueueSize > 0 {
		cfg.WriteQueueSize = file.WriteQueueSize
	}
	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

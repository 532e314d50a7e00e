package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFile 从 YAML 文件读取配置，文件中未出现的字段保留默认值。
func LoadFile(filename string) (SimulationConfig, error) {
	cfg := Default()
	dict, err := os.ReadFile(filename)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", filename, err)
	}
	if err := yaml.Unmarshal(dict, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", filename, err)
	}
	return cfg, nil
}

// WriteFile 将配置序列化为 YAML 并写入文件。
func WriteFile(filename string, cfg SimulationConfig) error {
	bytes, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return os.WriteFile(filename, bytes, 0o644)
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// Config 通用配置接口
type Config interface {
	Validate() error
}

// EnvOverrider 可由环境变量覆盖的配置
type EnvOverrider interface {
	ApplyEnv()
}

// LoadConfig 从文件加载配置
// path 为空时只应用环境变量并校验
func LoadConfig(path string, cfg Config) error {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parsing config file: %w", err)
		}
	}

	if o, ok := cfg.(EnvOverrider); ok {
		o.ApplyEnv()
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	return nil
}

// fileExists 判断配置文件是否存在
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, fs.ErrNotExist)
}

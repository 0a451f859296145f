package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/out/memory"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-bank-ledger/pkg/logger"
	"github.com/JoeShih716/go-bank-ledger/pkg/mysql"
)

// StoreType 使用哪種儲存層
type StoreType string

const (
	StoreMySQL  StoreType = "mysql"
	StoreMemory StoreType = "memory"
)

// Config 程式啟動時載入一次，之後以參數傳給各元件
type Config struct {
	Store  StoreType      `yaml:"store"`
	MySQL  mysql.Config   `yaml:"mysql"`
	Memory memory.Config  `yaml:"memory"`
	Ledger usecase.Config `yaml:"ledger"`
	Log    logger.Config  `yaml:"log"`
}

// Default 回傳預設設定
func Default() Config {
	return Config{
		Store:  StoreMySQL,
		Memory: memory.Config{FirstAccountNumber: 1001, LockWaitTimeout: 50 * time.Second},
		Ledger: usecase.DefaultConfig(),
		Log:    logger.DefaultConfig(),
	}
}

// Load 讀取 YAML 設定檔，沒寫的欄位沿用預設值
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse 解析 YAML 內容並驗證
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	// 補全 MySQL 預設配置 (如果 yaml 沒寫)
	cfg.MySQL.SetDefaults()
	if cfg.Ledger.DefaultAccountName == "" {
		cfg.Ledger.DefaultAccountName = usecase.DefaultAccountName
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate 檢查列舉欄位
func (c *Config) Validate() error {
	switch c.Store {
	case StoreMySQL, StoreMemory:
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	if _, err := domain.ParseLockOrder(c.Ledger.LockOrder); err != nil {
		return err
	}
	if c.Ledger.OperationTimeout < 0 {
		return fmt.Errorf("operation_timeout must not be negative")
	}
	return nil
}

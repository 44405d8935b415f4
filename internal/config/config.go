// Package config содержит логику чтения конфигурации POS-системы.
package config

import (
	"flag"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации POS-системы.
type Config struct {
	RunAddress            string `env:"RUN_ADDRESS"`
	DatabaseURI           string `env:"DATABASE_URI"`
	ReceiptPrinterAddress string `env:"RECEIPT_PRINTER_ADDRESS"`
	AuthSecret            string `env:"AUTH_SECRET"`
	AllowNegativeStock    bool   `env:"ALLOW_NEGATIVE_STOCK"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envPrinterAddress := cfg.ReceiptPrinterAddress
	envAuthSecret := cfg.AuthSecret
	envAllowNegative := cfg.AllowNegativeStock
	_, allowNegativeSet := os.LookupEnv("ALLOW_NEGATIVE_STOCK")

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.ReceiptPrinterAddress, "r", "", "receipt printer service address")
	flag.StringVar(&cfg.AuthSecret, "s", "khatapos-secret", "secret key for auth cookies")
	flag.BoolVar(&cfg.AllowNegativeStock, "n", false, "allow stock to go negative on sale")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envPrinterAddress != "" {
		cfg.ReceiptPrinterAddress = envPrinterAddress
	}
	if envAuthSecret != "" {
		cfg.AuthSecret = envAuthSecret
	}
	if allowNegativeSet {
		cfg.AllowNegativeStock = envAllowNegative
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	return cfg, nil
}

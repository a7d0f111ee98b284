package main

import (
	"fmt"

	"github.com/zulandar/waybill/internal/config"
	"github.com/zulandar/waybill/internal/db"
	"gorm.io/gorm"
)

const defaultConfigPath = "waybill.yaml"

// connectFromConfig loads the config file and opens the ticket store.
func connectFromConfig(configPath string) (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	gormDB, err := db.Connect(cfg.Store)
	if err != nil {
		return nil, nil, err
	}
	return cfg, gormDB, nil
}

package config_test

import (
	"fmt"

	"github.com/tiltlab/tilt/pkg/config"
)

// Example demonstrates how to use the config package.
func Example() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		return
	}

	fmt.Printf("Server running on port: %s\n", cfg.Port)
	fmt.Printf("Environment: %s\n", cfg.Env)
	fmt.Printf("Database: %s\n", cfg.Database.Name)
	fmt.Printf("Strategy file: %s\n", cfg.StrategyPath)
}

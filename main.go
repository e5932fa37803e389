package main

import (
	"log"

	"drivingschool/server/cmd"
	"drivingschool/server/internal/config"
	"drivingschool/server/internal/logger"

	"github.com/joho/godotenv"
)

func main() {
	// .env is optional, production sets real environment variables
	if err := godotenv.Load(); err != nil {
		log.Printf(".env not found, using process environment")
	}

	cfg := config.Load()
	if err := logger.Setup(cfg.GetLoggerConfig()); err != nil {
		log.Printf("invalid logger configuration (%v), using defaults", err)
		if err := logger.Setup(logger.DefaultConfig()); err != nil {
			log.Fatalf("failed to initialize logger: %v", err)
		}
	}

	cmd.Execute(cfg)
}

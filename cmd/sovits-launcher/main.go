// main package for the sovits-launcher
package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/voiceforge/sovits-service/internal/launcher"
)

func main() {
	// A .env file may carry VIRTUAL_ENV and overrides for local setups;
	// its absence is not an error.
	_ = godotenv.Load()

	cfg := launcher.NewConfig(os.Getenv("VIRTUAL_ENV"))

	if dir := os.Getenv("SOVITS_DIR"); dir != "" {
		cfg.SoVITSDir = dir
	}

	boot := launcher.New(cfg, launcher.NewExecLauncher(), os.Stdout)

	os.Exit(boot.Run())
}

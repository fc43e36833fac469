package testutil

import (
	"os"
	"path/filepath"

	"github.com/cloudsignup/backend/src/utils"
	"github.com/joho/godotenv"
)

// LoadEnv loads the project .env file when one exists.
func LoadEnv() {
	path := filepath.Join(utils.FindProjectRoot(), ".env")
	if _, err := os.Stat(path); err != nil {
		return
	}
	if err := godotenv.Load(path); err != nil {
		panic("Error loading .env file")
	}
}

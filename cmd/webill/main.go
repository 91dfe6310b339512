package main

import (
	"fmt"
	"os"
	"path/filepath"
)

func main() {
	loadEnv()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadEnv loads the first .env found near the working directory
func loadEnv() {
	// Load .env file - flexible path for both Linux (pods/containers) and Windows
	envPaths := []string{
		".env",       // Current working directory (works in pods/containers)
		"../../.env", // If running from bin/ subdirectory
	}

	if workDir, err := os.Getwd(); err == nil {
		parentDir := filepath.Dir(workDir)
		grandParentDir := filepath.Dir(parentDir)

		envPaths = append(envPaths,
			filepath.Join(workDir, ".env"),
			filepath.Join(parentDir, ".env"),
			filepath.Join(grandParentDir, ".env"),
		)
	}

	for _, envPath := range envPaths {
		if _, err := os.Stat(envPath); err != nil {
			continue
		}
		if err := loadEnvFile(envPath); err == nil {
			absPath, _ := filepath.Abs(envPath)
			fmt.Fprintf(os.Stderr, "Loaded environment from: %s\n", absPath)
			return
		}
	}

	fmt.Fprintln(os.Stderr, "No .env file found, using system environment variables (OK for pods/containers)")
}

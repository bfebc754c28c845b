package main

import (
	"os"
	"path/filepath"
)

// defaultSpecPath prefers a spec in the working directory, falling back
// to ~/.outrider/outrider.yaml.
func defaultSpecPath() string {
	if _, err := os.Stat("outrider.yaml"); err == nil {
		return "outrider.yaml"
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "outrider.yaml"
	}
	return filepath.Join(home, ".outrider", "outrider.yaml")
}

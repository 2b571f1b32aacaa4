package jobmanager

import (
	"os"
	"path/filepath"
)

func readFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func dirOf(path string) string {
	return filepath.Dir(path)
}

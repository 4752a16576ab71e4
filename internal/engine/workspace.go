package engine

import (
	"os"
	"path/filepath"
	"strings"
)

// CurrentWorkspace reports the terraform workspace selected in dir. The
// engine records the selection in .terraform/environment; a missing or
// unreadable file means the default workspace.
func CurrentWorkspace(dir string) string {
	data, err := os.ReadFile(filepath.Join(dir, ".terraform", "environment"))
	if err != nil {
		return "default"
	}
	name := strings.TrimSpace(string(data))
	if name == "" {
		return "default"
	}
	return name
}

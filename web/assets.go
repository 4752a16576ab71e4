// Package web provides the embedded status page served by the share
// server.
//
// The page is embedded at build time. During development, if the web/
// directory exists on the filesystem, it is used instead, so the page can
// be edited without rebuilding the binary.
package web

import (
	"embed"
	"io/fs"
	"os"
	"path/filepath"
)

// assets holds the embedded status page.
//
//go:embed index.html
var assets embed.FS

// GetAssets returns a filesystem containing the status page. In
// development mode (when the page exists on the filesystem relative to
// the working directory), it returns the live filesystem for hot
// reloading. In production, it returns the embedded copy.
//
// The devPath parameter specifies the directory to check for development
// mode. If empty, it defaults to "./web" (relative to the working
// directory).
func GetAssets(devPath string) fs.FS {
	if devPath == "" {
		devPath = "./web"
	}

	// Development: serve from the filesystem when the page is present.
	if stat, err := os.Stat(filepath.Join(devPath, "index.html")); err == nil && !stat.IsDir() {
		return os.DirFS(devPath)
	}

	return assets
}

// GetAssetsWithBase returns a filesystem for the status page, checking
// for development mode at web/ under the given base directory.
func GetAssetsWithBase(baseDir string) fs.FS {
	return GetAssets(filepath.Join(baseDir, "web"))
}

// Package web bundles the operator dashboard.
package web

import (
	"embed"
	"io/fs"
)

//go:embed static/*
var staticFiles embed.FS

// Static returns a filesystem rooted at the bundled dashboard assets.
func Static() (fs.FS, error) {
	return fs.Sub(staticFiles, "static")
}

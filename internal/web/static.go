package web

import (
	"embed"
	"io/fs"
)

// staticFiles holds the booth page (index.html with inline CSS and JS).
//
//go:embed static/*
var staticFiles embed.FS

// StaticFS returns the embedded page rooted at static/.
func StaticFS() (fs.FS, error) {
	return fs.Sub(staticFiles, "static")
}

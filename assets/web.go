// Package assets embeds the static files served by areastats.
package assets

import (
	"embed"
	"io/fs"
)

//go:embed web
var webFS embed.FS

// Web returns the demo UI rooted at its index.html.
func Web() fs.FS {
	sub, err := fs.Sub(webFS, "web")
	if err != nil {
		panic(err)
	}
	return sub
}

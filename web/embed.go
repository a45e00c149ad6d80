// Package web embeds the chat page served at the site root.
package web

import (
	"bytes"
	_ "embed"
	"net/http"
	"time"
)

//go:embed index.html
var indexHTML []byte

var loadedAt = time.Now()

// IndexHandler serves the single chat page.
func IndexHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache")
		http.ServeContent(w, r, "index.html", loadedAt, bytes.NewReader(indexHTML))
	})
}

// Index returns the raw page.
func Index() []byte {
	return indexHTML
}

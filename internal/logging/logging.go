// Package logging sets up process-wide dual logging to stdout and a file.
package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/gluk-w/claworc/sshgate/internal/config"
)

// Init sets up dual logging to stdout and a log file.
// Must be called after config.Load().
func Init() {
	path := config.Cfg.LogPath
	if path == "" {
		path = "/app/data/sshgate.log"
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		log.Printf("WARNING: cannot create log directory: %v", err)
		return
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		log.Printf("WARNING: cannot open log file %s: %v", path, err)
		return
	}

	mw := io.MultiWriter(os.Stdout, f)
	log.SetOutput(mw)
	log.Printf("Logging to file: %s", path)
}

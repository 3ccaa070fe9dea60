package logging

import (
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
)

func init() {
	log.SetFormatter(&log.JSONFormatter{})
	log.SetOutput(os.Stdout)
}

// Setup applies the configured level. Unknown levels fall back to info.
func Setup(level string) {
	parsed, err := log.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		parsed = log.InfoLevel
	}
	log.SetLevel(parsed)
}

// For returns a logger tagged with the owning component.
func For(component string) *log.Entry {
	return log.WithField("component", component)
}

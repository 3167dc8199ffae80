package config

import (
	"log"

	"github.com/kelseyhightower/envconfig"
)

// Settings holds top-level process configuration, resolved once at startup.
type Settings struct {
	// HostsFile is the path to the YAML document describing the host
	// roster and transfer recipes (see internal/hostregistry).
	HostsFile string `envconfig:"HOSTS_FILE" default:"./hosts.yaml"`

	// ListenAddr is the address the HTTP/WebSocket server binds to.
	ListenAddr string `envconfig:"LISTEN_ADDR" default:":8080"`

	// LogPath is the file logs are duplicated to, in addition to stdout.
	LogPath string `envconfig:"LOG_PATH" default:"/app/data/sshgate.log"`

	// DatabasePath is the SQLite file backing the workflow-history sink.
	DatabasePath string `envconfig:"DATABASE_PATH" default:"/app/data/sshgate.db"`

	// HistoryRetentionDays controls how long workflow-history rows are
	// kept before the retention job purges them. 0 disables purging.
	HistoryRetentionDays int `envconfig:"HISTORY_RETENTION_DAYS" default:"90"`

	// ProbeIntervalSeconds and ProbeTimeoutSeconds configure the Health
	// Monitor (spec.md §4.2 defaults: 30s interval, 5s timeout).
	ProbeIntervalSeconds int `envconfig:"PROBE_INTERVAL_SECONDS" default:"30"`
	ProbeTimeoutSeconds  int `envconfig:"PROBE_TIMEOUT_SECONDS" default:"5"`

	// FailureThreshold and SuccessThreshold configure health hysteresis
	// (spec.md §4.2 defaults: 2 and 1).
	FailureThreshold int `envconfig:"FAILURE_THRESHOLD" default:"2"`
	SuccessThreshold int `envconfig:"SUCCESS_THRESHOLD" default:"1"`
}

// Cfg is the process-wide resolved settings, populated by Load.
var Cfg Settings

// Load resolves Settings from environment variables prefixed SSHGATE_.
// It is fatal on malformed values, matching the teacher's fail-fast
// startup behavior.
func Load() {
	if err := envconfig.Process("SSHGATE", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
}

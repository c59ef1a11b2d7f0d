package obs

import (
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Build identifies the running gateway binary.
type Build struct {
	Version   string
	Commit    string
	GoVersion string
}

var (
	gatewayBuildOnce sync.Once

	gatewayBuild = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "admin_gateway_build_info",
			Help: "Always 1; labels identify the running admin gateway build.",
		},
		[]string{"version", "commit", "go_version"},
	)
)

// RecordBuild publishes admin_gateway_build_info and returns what was published.
// A missing or "dev" commit falls back to the VCS revision stamped by the Go
// toolchain.
func RecordBuild(version, commit string) Build {
	b := Build{Version: version, Commit: commit, GoVersion: runtime.Version()}
	if b.Version == "" {
		b.Version = "unknown"
	}
	if b.Commit == "" || b.Commit == "dev" {
		b.Commit = vcsRevision(b.Commit)
	}

	gatewayBuildOnce.Do(func() {
		prometheus.MustRegister(gatewayBuild)
	})
	gatewayBuild.Reset()
	gatewayBuild.WithLabelValues(b.Version, b.Commit, b.GoVersion).Set(1)
	return b
}

func vcsRevision(fallback string) string {
	if fallback == "" {
		fallback = "unknown"
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return fallback
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && s.Value != "" {
			if len(s.Value) > 12 {
				return s.Value[:12]
			}
			return s.Value
		}
	}
	return fallback
}

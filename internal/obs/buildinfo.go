package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfoOnce sync.Once

	// buildInfo: gauge со значением 1 и метками версии/коммита.
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Telemetra API build information.",
		},
		[]string{"version", "commit"},
	)
)

// InitBuildInfo registers telemetra_build_info once and sets it for the
// given version and commit.
func InitBuildInfo(version, commit string) {
	buildInfoOnce.Do(func() {
		registerOnce(buildInfo)
	})
	buildInfo.WithLabelValues(version, commit).Set(1)
}

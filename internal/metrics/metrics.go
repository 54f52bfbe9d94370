package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ActivationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "latchkey_activations_total",
			Help: "Activation attempts partitioned by outcome.",
		},
		[]string{"status", "reason"},
	)

	VerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "latchkey_verifications_total",
			Help: "Offline token verification requests partitioned by outcome.",
		},
		[]string{"valid", "reason"},
	)

	HeartbeatsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "latchkey_heartbeats_total",
			Help: "Accepted heartbeat requests.",
		},
	)
)

// Handler exposes the default registry for the /metrics route.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

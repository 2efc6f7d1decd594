package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	// Register should be safe to call multiple times
	Register()
	Register()

	assert.NotPanics(t, func() {
		IncEnqueued("products", "high")
		IncFinished("products", "completed")
		ObserveJobDuration("products", 3*time.Second)
		WorkerStarted()
		WorkerStopped()
		IncMappings("manual")
		IncHTTP("/api/v1/sync/jobs")
	})
}

package observability

import (
	"testing"
	"time"

	"github.com/danmuck/rangectl/internal/logging"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	logging.ConfigureTests()

	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("rangectl", "GET", "/healthz", 200, 12*time.Millisecond)
	RecordSnippetRequest("device.initiator", "startUwbRanging", 24*time.Millisecond, true)
	RecordEventWait("device.initiator", "Started", "ok", 140*time.Millisecond)
	SetActiveSessions("device.initiator", 1)
	SetActiveSessions("device.initiator", 0)
}

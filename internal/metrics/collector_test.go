package metrics

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

var collectorNamespaceSeq uint64

func nextTestNamespace() string {
	seq := atomic.AddUint64(&collectorNamespaceSeq, 1)
	return fmt.Sprintf("test_%d", seq)
}

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestNewCollector(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.httpRequestsTotal)
	assert.NotNil(t, collector.delegationsTotal)
	assert.NotNil(t, collector.routerExecutionsTotal)
	assert.NotNil(t, collector.agentLoad)
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordHTTPRequest("GET", "/healthz", 200, 10*time.Millisecond)
	collector.RecordHTTPRequest("GET", "/healthz", 503, 10*time.Millisecond)

	assert.Equal(t, float64(1), testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("GET", "/healthz", "2xx")))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("GET", "/healthz", "5xx")))
}

func TestCollector_RecordDelegation(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordDelegation("completed", 100*time.Millisecond)
	collector.RecordDelegation("completed", 200*time.Millisecond)
	collector.RecordDelegation("timed_out", 10*time.Second)

	assert.Equal(t, float64(2), testutil.ToFloat64(collector.delegationsTotal.WithLabelValues("completed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.delegationsTotal.WithLabelValues("timed_out")))
	assert.Greater(t, testutil.CollectAndCount(collector.delegationDuration), 0)
}

func TestCollector_RecordExecutionAndFallback(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordExecution("best_fit", "local", true, time.Millisecond)
	collector.RecordExecution("best_fit", "remote", false, time.Millisecond)
	collector.RecordFallback("best_fit")

	assert.Equal(t, float64(1), testutil.ToFloat64(collector.routerExecutionsTotal.WithLabelValues("best_fit", "local", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.routerExecutionsTotal.WithLabelValues("best_fit", "remote", "failure")))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.routerFallbacksTotal.WithLabelValues("best_fit")))
}

func TestCollector_LoadGauges(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.SetSystemLoad(0.91, true)
	assert.Equal(t, 0.91, testutil.ToFloat64(collector.systemLoad))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.sheddingActive))

	collector.SetSystemLoad(0.5, false)
	assert.Equal(t, float64(0), testutil.ToFloat64(collector.sheddingActive))

	collector.SetAgentLoad("a1", 0.4)
	collector.SetAgentLoad("a2", 0.6)
	assert.Equal(t, 2, testutil.CollectAndCount(collector.agentLoad))
	collector.ForgetAgent("a1")
	assert.Equal(t, 1, testutil.CollectAndCount(collector.agentLoad))

	collector.SetRegistryDevices(map[string]int{"online": 3, "stale": 1})
	assert.Equal(t, float64(3), testutil.ToFloat64(collector.registryDevices.WithLabelValues("online")))

	collector.RecordMessage("in", "task-delegate")
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.transportMessages.WithLabelValues("in", "task-delegate")))
}

func TestCollector_NilSafe(t *testing.T) {
	var collector *Collector

	assert.NotPanics(t, func() {
		collector.RecordHTTPRequest("GET", "/", 200, time.Millisecond)
		collector.RecordDelegation("completed", time.Millisecond)
		collector.RecordExecution("local_only", "local", true, time.Millisecond)
		collector.RecordFallback("local_first")
		collector.SetSystemLoad(0.1, false)
		collector.SetAgentLoad("a", 0.1)
		collector.ForgetAgent("a")
		collector.SetRegistryDevices(map[string]int{"online": 1})
		collector.RecordMessage("out", "agent-heartbeat")
	})
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func(id int) {
			collector.RecordDelegation("completed", time.Millisecond)
			collector.SetAgentLoad(fmt.Sprintf("agent-%d", id), 0.5)
			done <- true
		}(i)
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	assert.Equal(t, float64(10), testutil.ToFloat64(collector.delegationsTotal.WithLabelValues("completed")))
	assert.Equal(t, 10, testutil.CollectAndCount(collector.agentLoad))
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, "2xx", statusCode(204))
	assert.Equal(t, "3xx", statusCode(302))
	assert.Equal(t, "4xx", statusCode(404))
	assert.Equal(t, "5xx", statusCode(500))
	assert.Equal(t, "unknown", statusCode(100))
}

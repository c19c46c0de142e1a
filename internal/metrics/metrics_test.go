package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObservePipeline(t *testing.T) {
	before := testutil.ToFloat64(pipelineRequests.WithLabelValues(OutcomeOK))
	ObservePipeline(OutcomeOK, 2*time.Second)
	assert.Equal(t, before+1, testutil.ToFloat64(pipelineRequests.WithLabelValues(OutcomeOK)))
}

func TestAddRelayChunks(t *testing.T) {
	primary := testutil.ToFloat64(relayChunks.WithLabelValues("primary"))
	critic := testutil.ToFloat64(relayChunks.WithLabelValues("critic"))

	AddRelayChunks(3, 2)

	assert.Equal(t, primary+3, testutil.ToFloat64(relayChunks.WithLabelValues("primary")))
	assert.Equal(t, critic+2, testutil.ToFloat64(relayChunks.WithLabelValues("critic")))
}

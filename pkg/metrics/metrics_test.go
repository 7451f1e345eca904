package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector(t *testing.T) {
	c := NewCollector("test-collector", DirectionWrite)
	c.RecordRecords(10, nil)
	c.RecordRecords(2, errors.New("boom"))
	c.RecordRecords(0, nil)
	c.RecordBytes(128)
	c.ObserveBatch("write", 20*time.Millisecond)
	c.RecordRetry("upload")
	c.RecordConversionError("encode")

	assert.Equal(t, int64(10), c.Records())
	assert.Equal(t, int64(128), c.Bytes())
	assert.Equal(t, 10.0, testutil.ToFloat64(RecordsProcessed.WithLabelValues("test-collector", "write", "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(RecordsProcessed.WithLabelValues("test-collector", "write", "failure")))
	assert.Equal(t, 128.0, testutil.ToFloat64(BytesProcessed.WithLabelValues("test-collector", "write")))
	assert.Equal(t, 1.0, testutil.ToFloat64(Retries.WithLabelValues("test-collector", "upload")))
	assert.Equal(t, 1.0, testutil.ToFloat64(ConversionErrors.WithLabelValues("test-collector", "encode")))

	all := c.GetAll()
	assert.Equal(t, "test-collector", all["connector"])
	assert.Equal(t, int64(2), all["records_failed"])
	assert.Equal(t, int64(1), all["batches"])
}

func TestThroughputTracker(t *testing.T) {
	tracker := NewThroughputTracker("src-test", "dst-test")
	tracker.Increment(100)
	time.Sleep(10 * time.Millisecond)
	rps := tracker.GetAndReset()
	assert.Greater(t, rps, 0.0)
	assert.Equal(t, rps, testutil.ToFloat64(Throughput.WithLabelValues("src-test", "dst-test")))
}

func TestTimer(t *testing.T) {
	timer := NewTimer("op")
	time.Sleep(time.Millisecond)
	assert.GreaterOrEqual(t, timer.Stop(), time.Millisecond)
	assert.Equal(t, "op", timer.Name())
}

func TestProcessSampler(t *testing.T) {
	s, err := NewProcessSampler(nil)
	require.NoError(t, err)
	s.Sample(context.Background())
	assert.Greater(t, testutil.ToFloat64(ProcessRSSBytes), 0.0)
}

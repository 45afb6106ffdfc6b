package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilCollectorsAreNoops(t *testing.T) {
	var c *Collectors
	c.ListWrite("create", nil)
	c.AuthEvent("signin", errors.New("boom"))
	c.WatchOpened()
	c.WatchClosed()
	c.SnapshotSent()
	c.ObserveHTTP("GET", "/api/health", 200, time.Millisecond)
	assert.Nil(t, c.Registry())
}

func TestListWritesByOutcome(t *testing.T) {
	c := New()
	c.ListWrite("create", nil)
	c.ListWrite("create", nil)
	c.ListWrite("rename", errors.New("denied"))

	assert.Equal(t, 2.0, testutil.ToFloat64(c.listWrites.WithLabelValues("create", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.listWrites.WithLabelValues("rename", "error")))
}

func TestWatchGauge(t *testing.T) {
	c := New()
	c.WatchOpened()
	c.WatchOpened()
	c.WatchClosed()
	assert.Equal(t, 1.0, testutil.ToFloat64(c.activeWatches))
}

func TestHandlerExposesCollectors(t *testing.T) {
	c := New()
	c.SnapshotSent()

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "trailpack_list_snapshots_total 1"))
}

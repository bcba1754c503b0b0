package dex_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/jlrickert/wikidex/pkg/backend"
	"github.com/jlrickert/wikidex/pkg/dex"
	"github.com/jlrickert/wikidex/pkg/keys"
)

func TestRegisterMetricsTwice(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	require.NoError(t, dex.RegisterMetrics(reg))
	require.NoError(t, dex.RegisterMetrics(reg))
}

func TestWritesAreCounted(t *testing.T) {
	f := NewFixture(t)
	counter := dex.IndexWrites.WithLabelValues(keys.AllRevs, "index", "sync")
	before := testutil.ToFloat64(counter)

	f.Put(backend.NewID(), "foo", 1, "x", false)
	require.Equal(t, before+1, testutil.ToFloat64(counter))
}

package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_RecordScan(t *testing.T) {
	recorder := NewRecorder()

	recorder.RecordScan("flux-system/podinfo", "Succeeded", 200*time.Millisecond, 42, true)
	recorder.RecordScan("flux-system/podinfo", "CredentialNotYetAvailable", time.Millisecond, 0, false)

	assert.Equal(t, float64(1), testutil.ToFloat64(recorder.scansTotal.WithLabelValues("flux-system/podinfo", "Succeeded")))
	assert.Equal(t, float64(1), testutil.ToFloat64(recorder.scansTotal.WithLabelValues("flux-system/podinfo", "CredentialNotYetAvailable")))
	// a failed scan keeps the last tag count
	assert.Equal(t, float64(42), testutil.ToFloat64(recorder.tags.WithLabelValues("flux-system/podinfo")))
	assert.Equal(t, 1, testutil.CollectAndCount(recorder.scanDuration))

	recorder.ForgetRepository("flux-system/podinfo")
	assert.Equal(t, 0, testutil.CollectAndCount(recorder.tags))
}

func TestRecorder_SetResolved(t *testing.T) {
	recorder := NewRecorder()

	recorder.SetResolved("flux-system/podinfo", "ghcr.io/stefanprodan/podinfo", "6.5.0")
	recorder.SetResolved("flux-system/podinfo", "ghcr.io/stefanprodan/podinfo", "6.6.0")
	recorder.SetResolved("flux-system/backend", "registry/backend", "12")

	expected := `
# HELP image_promoter_policy_resolved_info Currently resolved image reference of a policy, always 1.
# TYPE image_promoter_policy_resolved_info gauge
image_promoter_policy_resolved_info{image="ghcr.io/stefanprodan/podinfo",policy="flux-system/podinfo",tag="6.6.0"} 1
image_promoter_policy_resolved_info{image="registry/backend",policy="flux-system/backend",tag="12"} 1
`
	require.NoError(t, testutil.CollectAndCompare(recorder.resolved, strings.NewReader(expected)))

	recorder.ForgetPolicy("flux-system/backend")
	recorder.SetResolved("flux-system/podinfo", "", "")
	assert.Equal(t, 0, testutil.CollectAndCount(recorder.resolved))
}

func TestRecorder_RecordRun(t *testing.T) {
	recorder := NewRecorder()

	recorder.RecordRun("flux-system/apps", "Committed", true)
	recorder.RecordRun("flux-system/apps", "NoChange", false)
	recorder.RecordRun("flux-system/apps", "NoChange", false)

	assert.Equal(t, float64(2), testutil.ToFloat64(recorder.runsTotal.WithLabelValues("flux-system/apps", "NoChange")))
	assert.Equal(t, float64(1), testutil.ToFloat64(recorder.commitsTotal.WithLabelValues("flux-system/apps")))

	families, err := recorder.Registry().Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["image_promoter_update_runs_total"])
	assert.True(t, names["go_goroutines"])
}

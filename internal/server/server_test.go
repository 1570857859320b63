package server_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/types"

	"github.com/openmcp-project/image-promoter/internal/metrics"
	"github.com/openmcp-project/image-promoter/internal/server"
	"github.com/openmcp-project/image-promoter/internal/state"
)

type readiness bool

func (r *readiness) Ready() bool { return bool(*r) }

func TestRouter(t *testing.T) {
	store := state.NewStore()
	store.Repository(types.NamespacedName{Namespace: "flux-system", Name: "podinfo"}).Store(state.RepositoryStatus{
		TagSet:         &state.TagSet{Image: "ghcr.io/stefanprodan/podinfo", Tags: []string{"6.5.0", "6.6.0"}, ScannedAt: time.Now()},
		LastScanResult: 2,
	})
	store.Policy(types.NamespacedName{Namespace: "flux-system", Name: "podinfo"}).Store(state.PolicyStatus{
		Image:       "ghcr.io/stefanprodan/podinfo",
		ResolvedTag: "6.6.0",
	})

	recorder := metrics.NewRecorder()
	recorder.RecordRun("flux-system/apps", "Committed", true)

	ready := readiness(false)
	router := server.NewRouter(store, &ready, recorder.Handler())

	get := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w
	}

	assert.Equal(t, http.StatusOK, get("/healthz").Code)

	assert.Equal(t, http.StatusServiceUnavailable, get("/readyz").Code)
	ready = true
	assert.Equal(t, http.StatusOK, get("/readyz").Code)

	w := get("/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `image_promoter_commits_total{automation="flux-system/apps"} 1`)

	w = get("/status")
	require.Equal(t, http.StatusOK, w.Code)
	var overview struct {
		Repositories []struct {
			Name     string `json:"name"`
			Image    string `json:"image"`
			TagCount int    `json:"tagCount"`
		} `json:"imageRepositories"`
		Policies []struct {
			Name      string `json:"name"`
			LatestRef string `json:"latestRef"`
		} `json:"imagePolicies"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &overview))
	require.Len(t, overview.Repositories, 1)
	assert.Equal(t, "flux-system/podinfo", overview.Repositories[0].Name)
	assert.Equal(t, 2, overview.Repositories[0].TagCount)
	require.Len(t, overview.Policies, 1)
	assert.Equal(t, "ghcr.io/stefanprodan/podinfo:6.6.0", overview.Policies[0].LatestRef)

	assert.Equal(t, http.StatusNotFound, get("/unknown").Code)
}

package webapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/couchbase/crushmap/common/crushmap"
	"github.com/couchbase/crushmap/common/mapsource"
	"github.com/couchbase/crushmap/crushd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T, load bool) (*httptest.Server, *zap.AtomicLevel) {
	data, err := os.ReadFile("../../common/crushmap/testdata/crushmap.json")
	require.NoError(t, err)

	m, err := crushmap.Load(data, crushmap.FormatJSON)
	require.NoError(t, err)

	provider, err := mapsource.NewStaticProvider(mapsource.StaticProviderOptions{Map: m})
	require.NoError(t, err)

	logger, err := zap.NewDevelopment()
	require.NoError(t, err)

	sys, err := crushd.NewSystem(&crushd.SystemOptions{
		Logger:   logger,
		Provider: provider,
		Strict:   true,
	})
	require.NoError(t, err)

	if load {
		require.NoError(t, sys.Load(context.Background()))
	}

	logLevel := zap.NewAtomicLevel()
	w := NewWebServer(WebServerOptions{
		Logger:   logger,
		LogLevel: &logLevel,
		System:   sys,
	})

	srv := httptest.NewServer(w.Handler())
	t.Cleanup(srv.Close)

	return srv, &logLevel
}

func getJson(t *testing.T, srv *httptest.Server, path string, out any) *http.Response {
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestHealth(t *testing.T) {
	t.Run("NotLoaded", func(t *testing.T) {
		srv, _ := newTestServer(t, false)

		var health healthJson
		resp := getJson(t, srv, "/health", &health)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		assert.Equal(t, "starting", health.Status)
	})

	t.Run("Loaded", func(t *testing.T) {
		srv, _ := newTestServer(t, true)

		var health healthJson
		resp := getJson(t, srv, "/health", &health)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "ok", health.Status)
		assert.Equal(t, "static", health.Source)
		assert.Equal(t, []uint64{1}, health.Revision)
		assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))
	})
}

func TestRequestID(t *testing.T) {
	srv, _ := newTestServer(t, true)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/v1/types", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-Id", "caller-chosen-id")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "caller-chosen-id", resp.Header.Get("X-Request-Id"))
}

func TestTunables(t *testing.T) {
	srv, _ := newTestServer(t, true)

	var tunables map[string]any
	resp := getJson(t, srv, "/v1/tunables", &tunables)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, tunables, 11)
	assert.Equal(t, "jewel", tunables["profile"])

	var tunable tunableJson
	resp = getJson(t, srv, "/v1/tunables/choose_total_tries", &tunable)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(50), tunable.Value)

	var errResp errorJson
	resp = getJson(t, srv, "/v1/tunables/nope", &errResp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, errResp.Error, "nope")
}

func TestTypesAndBuckets(t *testing.T) {
	srv, _ := newTestServer(t, true)

	var types []TypeJson
	resp := getJson(t, srv, "/v1/types", &types)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, types, 5)

	var buckets []BucketJson
	resp = getJson(t, srv, "/v1/buckets", &buckets)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, buckets, 7)

	resp = getJson(t, srv, "/v1/buckets?type=zone", &buckets)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, buckets, 2)
	assert.Equal(t, "performance_zone", buckets[0].Name)

	resp = getJson(t, srv, "/v1/buckets?type=nonexistent", &buckets)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, buckets)

	var devices []DeviceJson
	resp = getJson(t, srv, "/v1/buckets/ceph02_hdd/devices", &devices)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []DeviceJson{
		{ID: 6, Name: "osd.6", Class: "hdd"},
		{ID: 7, Name: "osd.7", Class: "hdd"},
	}, devices)

	resp = getJson(t, srv, "/v1/buckets/-10/devices", &devices)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, devices, 4)

	resp = getJson(t, srv, "/v1/buckets/nowhere/devices", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = getJson(t, srv, "/v1/devices", &devices)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, devices, 8)
}

func TestRulesAndStorageGroups(t *testing.T) {
	srv, _ := newTestServer(t, true)

	var rules []RuleJson
	resp := getJson(t, srv, "/v1/rules", &rules)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, rules, 5)
	assert.Equal(t, "capacity", rules[2].Name)
	assert.Equal(t, "set_chooseleaf_tries", rules[2].Steps[0].Op)
	require.NotNil(t, rules[2].Steps[1].Item)
	assert.Equal(t, -11, *rules[2].Steps[1].Item)

	var res ResolutionJson
	resp = getJson(t, srv, "/v1/rules/value/storage-groups", &res)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "value", res.Rule)
	require.Len(t, res.StorageGroups, 2)
	assert.Len(t, res.StorageGroups[0].Devices, 4)
	assert.Equal(t, 4, res.StorageGroups[1].Devices[0].ID)

	resp = getJson(t, srv, "/v1/rules/missing/storage-groups", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var all []ResolutionJson
	resp = getJson(t, srv, "/v1/storage-groups", &all)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, all, 5)
}

func TestNotReadyMapsTo503(t *testing.T) {
	srv, _ := newTestServer(t, false)

	for _, path := range []string{"/v1/tunables", "/v1/types", "/v1/rules/value/storage-groups", "/v1/buckets/default/devices"} {
		var errResp errorJson
		resp := getJson(t, srv, path, &errResp)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode, path)
		assert.NotEmpty(t, errResp.Error)
	}
}

func TestStatusForError(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusForError(&crushmap.NotFoundError{Kind: "rule", Key: "x"}))
	assert.Equal(t, http.StatusUnprocessableEntity, statusForError(crushmap.IntegrityErrorf("cycle")))
	assert.Equal(t, http.StatusUnprocessableEntity, statusForError(crushmap.RuleFormatErrorf("emit without take")))
	assert.Equal(t, http.StatusServiceUnavailable, statusForError(crushd.ErrNotReady))
	assert.Equal(t, http.StatusInternalServerError, statusForError(context.DeadlineExceeded))
}

func TestLogLevel(t *testing.T) {
	srv, logLevel := newTestServer(t, true)

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/log-level", strings.NewReader(`{"level":"debug"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "debug", logLevel.String())
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, true)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

package webapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/couchbase/crushmap/common/crushmap"
	"github.com/couchbase/crushmap/crushd"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type errorJson struct {
	Error string `json:"error"`
}

type healthJson struct {
	Status   string   `json:"status"`
	Source   string   `json:"source,omitempty"`
	Revision []uint64 `json:"revision,omitempty"`
	LoadedAt string   `json:"loaded_at,omitempty"`
}

type tunableJson struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, crushmap.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, crushmap.ErrInvalidRuleFormat), errors.Is(err, crushmap.ErrIntegrity):
		return http.StatusUnprocessableEntity
	case errors.Is(err, crushd.ErrNotReady):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (w *WebServer) writeJson(rw http.ResponseWriter, status int, body any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)

	err := json.NewEncoder(rw).Encode(body)
	if err != nil {
		w.logger.Debug("failed to write json response", zap.Error(err))
	}
}

func (w *WebServer) writeError(rw http.ResponseWriter, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		w.logger.Warn("web request failed", zap.Error(err))
	}

	w.writeJson(rw, status, errorJson{Error: err.Error()})
}

func (w *WebServer) currentMap(rw http.ResponseWriter) *crushmap.CrushMap {
	m, err := w.system.Map()
	if err != nil {
		w.writeError(rw, err)
		return nil
	}
	return m
}

func (w *WebServer) handleHealth(rw http.ResponseWriter, r *http.Request) {
	snap := w.system.Snapshot()
	if snap == nil {
		w.writeJson(rw, http.StatusServiceUnavailable, healthJson{Status: "starting"})
		return
	}

	w.writeJson(rw, http.StatusOK, healthJson{
		Status:   "ok",
		Source:   snap.Source,
		Revision: snap.Revision,
		LoadedAt: w.system.LoadedAt().UTC().Format(time.RFC3339),
	})
}

func (w *WebServer) handleTunables(rw http.ResponseWriter, r *http.Request) {
	m := w.currentMap(rw)
	if m == nil {
		return
	}

	w.writeJson(rw, http.StatusOK, m.Tunables())
}

func (w *WebServer) handleTunable(rw http.ResponseWriter, r *http.Request) {
	m := w.currentMap(rw)
	if m == nil {
		return
	}

	name := mux.Vars(r)["name"]
	value, err := m.Tunable(name)
	if err != nil {
		w.writeError(rw, err)
		return
	}

	w.writeJson(rw, http.StatusOK, tunableJson{Name: name, Value: value})
}

func (w *WebServer) handleTypes(rw http.ResponseWriter, r *http.Request) {
	m := w.currentMap(rw)
	if m == nil {
		return
	}

	w.writeJson(rw, http.StatusOK, TypesToJson(m.Types()))
}

func (w *WebServer) handleDevices(rw http.ResponseWriter, r *http.Request) {
	m := w.currentMap(rw)
	if m == nil {
		return
	}

	w.writeJson(rw, http.StatusOK, DevicesToJson(m.Devices()))
}

func (w *WebServer) handleBuckets(rw http.ResponseWriter, r *http.Request) {
	m := w.currentMap(rw)
	if m == nil {
		return
	}

	buckets := m.Buckets()
	if typeName := r.URL.Query().Get("type"); typeName != "" {
		buckets = m.BucketsByType(typeName)
	}

	w.writeJson(rw, http.StatusOK, BucketsToJson(buckets))
}

func (w *WebServer) handleBucketDevices(rw http.ResponseWriter, r *http.Request) {
	devices, err := w.system.ExpandBucket(r.Context(), mux.Vars(r)["ref"])
	if err != nil {
		w.writeError(rw, err)
		return
	}

	w.writeJson(rw, http.StatusOK, DevicesToJson(devices))
}

func (w *WebServer) handleRules(rw http.ResponseWriter, r *http.Request) {
	m := w.currentMap(rw)
	if m == nil {
		return
	}

	w.writeJson(rw, http.StatusOK, RulesToJson(m.Rules()))
}

func (w *WebServer) handleRuleStorageGroups(rw http.ResponseWriter, r *http.Request) {
	res, err := w.system.Resolve(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		w.writeError(rw, err)
		return
	}

	w.writeJson(rw, http.StatusOK, ResolutionToJson(res))
}

func (w *WebServer) handleAllStorageGroups(rw http.ResponseWriter, r *http.Request) {
	all, err := w.system.ResolveAll(r.Context())
	if err != nil {
		w.writeError(rw, err)
		return
	}

	out := make([]ResolutionJson, len(all))
	for resIdx, res := range all {
		out[resIdx] = ResolutionToJson(res)
	}

	w.writeJson(rw, http.StatusOK, out)
}

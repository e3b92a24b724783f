package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"funding-depth-monitor/internal/alertstore"
	"funding-depth-monitor/internal/core/model"
	"funding-depth-monitor/internal/core/store"
)

type memStore struct{ alerts []model.Alert }

func (m *memStore) Load(context.Context) ([]model.Alert, error) { return m.alerts, nil }
func (m *memStore) Save(_ context.Context, alerts []model.Alert) error {
	m.alerts = alerts
	return nil
}

func newTestServer(t *testing.T) (*httptest.Server, *store.Store, *alertstore.Registry) {
	t.Helper()
	latest := store.New()
	reg, err := alertstore.NewRegistry(context.Background(), &memStore{}, zap.NewNop())
	require.NoError(t, err)

	promReg := prometheus.NewRegistry()
	promauto.With(promReg).NewCounter(prometheus.CounterOpts{Name: "fdm_test_total", Help: "test"}).Inc()

	s := New(0, Deps{Book: latest, Alerts: reg, Gatherer: promReg, Logger: zap.NewNop()})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv, latest, reg
}

func doJSON(t *testing.T, method, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var m map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&m)
	return resp, m
}

func TestHealth(t *testing.T) {
	srv, latest, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.NotContains(t, body, "seq")

	_ = latest.Publish(context.Background(), &model.Update{Seq: 4})
	_, body = doJSON(t, http.MethodGet, srv.URL+"/health", "")
	assert.Equal(t, float64(4), body["seq"])
}

func TestBook(t *testing.T) {
	srv, latest, _ := newTestServer(t)

	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/api/book", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	_ = latest.Publish(context.Background(), &model.Update{
		Seq:     2,
		Display: &model.BookView{Precision: 3, Bids: []model.Bucket{{Rate: 0.02, TotalAmount: 5, Cumulative: 5}}, Asks: []model.Bucket{}},
	})
	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/book", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, float64(2), body["seq"])
	display := body["display"].(map[string]any)
	assert.Len(t, display["bids"], 1)
}

func TestAlertsCRUD(t *testing.T) {
	srv, _, reg := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/alerts", `{"name":"usd","threshold_rate":0.05,"target_amount":1.5}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := body["id"].(string)
	assert.Equal(t, "usd", body["name"])
	require.Len(t, reg.Alerts(), 1)

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/alerts", `{"name":"USD","threshold_rate":0.04,"target_amount":1}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/alerts", `{"name":"neg","threshold_rate":-1,"target_amount":1}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/alerts", `{"name":"missing"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/alerts", `{"name":"x","threshold_rate":1,"target_amount":1,"extra":true}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/alerts", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	listResp, err := http.Get(srv.URL + "/api/alerts")
	require.NoError(t, err)
	var list []model.Alert
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&list))
	_ = listResp.Body.Close()
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID.String())

	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/api/alerts/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/api/alerts/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/api/alerts/"+id, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, reg.Alerts())
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), "fdm_test_total 1")
}

func TestOptionalRoutes(t *testing.T) {
	s := New(0, Deps{})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/alerts", `{}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.NotEmpty(t, body["error"])
}

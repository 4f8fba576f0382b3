package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aibozo/codeurv2/pkg/bus"
	"github.com/aibozo/codeurv2/pkg/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeStore struct {
	created []models.ChangeRequest
	byID    map[string]models.ChangeRequest
}

func newFakeStore() *fakeStore {
	return &fakeStore{byID: map[string]models.ChangeRequest{}}
}

func (f *fakeStore) Create(_ context.Context, cr models.ChangeRequest) error {
	f.created = append(f.created, cr)
	f.byID[cr.ID] = cr
	return nil
}

func (f *fakeStore) Get(_ context.Context, id string) (models.ChangeRequest, error) {
	cr, ok := f.byID[id]
	if !ok {
		return models.ChangeRequest{}, ErrNotFound
	}
	return cr, nil
}

type fakeFSMReader struct {
	byID map[string]models.FSMState
}

func (f *fakeFSMReader) Load(_ context.Context, requestID string) (models.FSMState, error) {
	snap, ok := f.byID[requestID]
	if !ok {
		return models.FSMState{}, assert.AnError
	}
	return snap, nil
}

type fakeBus struct {
	published []struct {
		topic, key string
		data       []byte
	}
}

func (f *fakeBus) Publish(_ context.Context, topic, key string, data []byte) error {
	f.published = append(f.published, struct {
		topic, key string
		data       []byte
	}{topic, key, data})
	return nil
}

func (f *fakeBus) Subscribe(_ context.Context, _, _ string) (bus.Iterator, error) {
	return nil, assert.AnError
}

func (f *fakeBus) Close() error { return nil }

func newTestServer() (*Server, *fakeStore, *fakeBus) {
	store := newFakeStore()
	fsms := &fakeFSMReader{byID: map[string]models.FSMState{}}
	b := &fakeBus{}
	s := &Server{engine: gin.New(), store: store, fsms: fsms, bus: b}
	s.routes()
	return s, store, b
}

func TestCreateChangeRequestPersistsAndPublishes(t *testing.T) {
	s, store, b := newTestServer()

	body, err := json.Marshal(models.CreateChangeRequestInput{
		Requester:   "alice",
		Repo:        "https://example.com/r.git",
		Branch:      "main",
		Description: "add a health check",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/change-requests", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, store.created, 1)
	require.Len(t, b.published, 1)
	assert.Equal(t, "change.request.in", b.published[0].topic)
	assert.Equal(t, store.created[0].ID, b.published[0].key)
}

func TestCreateChangeRequestRejectsMissingFields(t *testing.T) {
	s, _, _ := newTestServer()

	req := httptest.NewRequest(http.MethodPost, "/change-requests", bytes.NewReader([]byte(`{"requester":"alice"}`)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetChangeRequestReturnsNotFoundForUnknownID(t *testing.T) {
	s, _, _ := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/change-requests/missing", nil)
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetChangeRequestReturnsPersistedRowAndFSMState(t *testing.T) {
	s, store, _ := newTestServer()
	cr := models.ChangeRequest{ID: "cr-1", Requester: "alice", Repo: "r", Branch: "main", Description: "d"}
	require.NoError(t, store.Create(context.Background(), cr))
	s.fsms.(*fakeFSMReader).byID["cr-1"] = models.FSMState{RequestID: "cr-1", State: models.StateCode}

	req := httptest.NewRequest(http.MethodGet, "/change-requests/cr-1", nil)
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	fsm := decoded["fsm"].(map[string]any)
	assert.Equal(t, "CODE", fsm["state"])
}

package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressBatchUpload(t *testing.T) {
	ts := newTestServer(t)
	token := ts.createAPIUser(t, "reader", "pass", false)

	body := map[string]any{
		"updates": []map[string]any{
			{"document": "doc-1", "progress": "p1", "percentage": 10, "device": "Kobo"},
			{"document": "doc-2", "progress": "p2", "percentage": 20, "device": "Kobo"},
			{"document": "", "progress": "p3", "percentage": 30},
		},
	}
	req := jsonRequest(t, http.MethodPost, "/api/syncs/progress/batch", body)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := ts.do(t, req)

	require.Equal(t, http.StatusOK, rec.Code)
	out := decodeJSON(t, rec)
	assert.EqualValues(t, 2, out["accepted"])
	assert.EqualValues(t, 1, out["rejected"])
}

func TestProgressListAndDelete(t *testing.T) {
	ts := newTestServer(t)
	token := ts.createAPIUser(t, "reader", "pass", false)

	body := map[string]any{
		"updates": []map[string]any{
			{"document": "doc-1", "progress": "p1", "percentage": 10, "device": "Kobo"},
		},
	}
	req := jsonRequest(t, http.MethodPost, "/api/syncs/progress/batch", body)
	req.Header.Set("Authorization", "Bearer "+token)
	require.Equal(t, http.StatusOK, ts.do(t, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/api/syncs/progress", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := ts.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code)

	out := decodeJSON(t, rec)
	require.EqualValues(t, 1, out["total"])
	id := out["data"].([]any)[0].(map[string]any)["id"].(float64)

	req = httptest.NewRequest(http.MethodDelete, "/api/syncs/progress/"+itoa(id), nil)
	req.Header.Set("Authorization", "Bearer "+token)
	require.Equal(t, http.StatusOK, ts.do(t, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/api/syncs/progress", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = ts.do(t, req)
	assert.EqualValues(t, 0, decodeJSON(t, rec)["total"])
}

func TestProgressIsScopedPerUser(t *testing.T) {
	ts := newTestServer(t)
	tokenA := ts.createAPIUser(t, "alice", "pass-a", false)
	tokenB := ts.createAPIUser(t, "bob", "pass-b", false)

	body := map[string]any{
		"updates": []map[string]any{
			{"document": "doc-1", "progress": "p1", "percentage": 10},
		},
	}
	req := jsonRequest(t, http.MethodPost, "/api/syncs/progress/batch", body)
	req.Header.Set("Authorization", "Bearer "+tokenA)
	require.Equal(t, http.StatusOK, ts.do(t, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/api/syncs/progress", nil)
	req.Header.Set("Authorization", "Bearer "+tokenB)
	rec := ts.do(t, req)
	assert.EqualValues(t, 0, decodeJSON(t, rec)["total"])
}

func TestDeviceRegisterAndStatus(t *testing.T) {
	ts := newTestServer(t)
	token := ts.createAPIUser(t, "reader", "pass", false)

	req := jsonRequest(t, http.MethodPost, "/api/devices",
		map[string]string{"device_id": "kobo-001", "device_name": "Kobo Libra 2"})
	req.Header.Set("Authorization", "Bearer "+token)
	rec := ts.do(t, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	// Syncing from the device links documents to it.
	body := map[string]any{
		"updates": []map[string]any{
			{"document": "doc-1", "progress": "p1", "percentage": 10,
				"device": "Kobo Libra 2", "device_id": "kobo-001"},
		},
	}
	req = jsonRequest(t, http.MethodPost, "/api/syncs/progress/batch", body)
	req.Header.Set("Authorization", "Bearer "+token)
	require.Equal(t, http.StatusOK, ts.do(t, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/api/syncs/devices/status", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = ts.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code)

	list := decodeJSON(t, rec)["devices"].([]any)
	require.Len(t, list, 1)
	status := list[0].(map[string]any)
	assert.Equal(t, "Kobo Libra 2", status["device_name"])
	assert.EqualValues(t, 1, status["documents"])
}

func TestDeviceRegisterRequiresName(t *testing.T) {
	ts := newTestServer(t)
	token := ts.createAPIUser(t, "reader", "pass", false)

	req := jsonRequest(t, http.MethodPost, "/api/devices",
		map[string]string{"device_id": "kobo-001"})
	req.Header.Set("Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, req).Code)
}

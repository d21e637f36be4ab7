// ABOUTME: Tests for the operator API client against an httptest server
// ABOUTME: Verifies request shapes, auth headers and error decoding

package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/fleetd/internal/api"
)

func TestClient_ListDevicesSendsToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/devices", r.URL.Path)
		assert.Equal(t, "Bearer op-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]api.Device{{ID: "d1", Hostname: "build-01", Approved: true}})
	}))
	defer srv.Close()

	c := New(srv.URL+"/", WithToken("op-token"))
	devices, err := c.ListDevices(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "build-01", devices[0].Hostname)
}

func TestClient_DispatchJob(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/jobs", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req api.DispatchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "d1", req.DeviceID)
		assert.Equal(t, "Echo", req.Command)
		assert.Equal(t, "message=hi", req.Arguments)

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(api.DispatchResponse{
			Job:      api.Job{ID: "j1", DeviceID: "d1", Command: "Echo", Status: "running"},
			Delivery: "pushed",
		})
	}))
	defer srv.Close()

	res, err := New(srv.URL).DispatchJob(context.Background(), api.DispatchRequest{
		DeviceID:  "d1",
		Command:   "Echo",
		Arguments: "message=hi",
	})
	require.NoError(t, err)
	assert.Equal(t, "j1", res.Job.ID)
	assert.Equal(t, "pushed", res.Delivery)
}

func TestClient_ErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(api.Error{Error: "not found"})
	}))
	defer srv.Close()

	_, err := New(srv.URL).GetDevice(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "not found", apiErr.Message)
}

func TestClient_ErrorResponsePlainText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := New(srv.URL).ListSessions(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "upstream exploded", apiErr.Message)
	assert.False(t, IsNotFound(err))
}

func TestClient_ListDeviceJobsLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/devices/d1/jobs", r.URL.Path)
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		json.NewEncoder(w).Encode([]api.Job{{ID: "j1"}, {ID: "j2"}})
	}))
	defer srv.Close()

	jobs, err := New(srv.URL).ListDeviceJobs(context.Background(), "d1", 5)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}

func TestClient_WaitJob(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := "running"
		if calls.Add(1) >= 3 {
			status = "completed"
		}
		json.NewEncoder(w).Encode(api.Job{ID: "j1", Status: status})
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	job, err := New(srv.URL).WaitJob(ctx, "j1", 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "completed", job.Status)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_WaitJobContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(api.Job{ID: "j1", Status: "pending"})
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := New(srv.URL).WaitJob(ctx, "j1", 10*time.Millisecond)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

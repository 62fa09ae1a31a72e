package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/callinsights/hub/internal/models"
	"github.com/callinsights/hub/internal/service"
)

func TestParseCallIDs(t *testing.T) {
	a := uuid.Must(uuid.NewV7())
	b := uuid.Must(uuid.NewV7())

	t.Run("flags and file merged in order without duplicates", func(t *testing.T) {
		file := strings.NewReader("# header\n\n" + b.String() + "\n" + a.String() + "\n")

		ids, err := parseCallIDs([]string{a.String()}, file)
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{a, b}, ids)
	})

	t.Run("invalid line reports its number", func(t *testing.T) {
		_, err := parseCallIDs(nil, strings.NewReader(a.String()+"\nnot-a-uuid\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "line 2")
	})

	t.Run("invalid flag value", func(t *testing.T) {
		_, err := parseCallIDs([]string{"nope"}, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "--ids")
	})
}

func TestBuildRequest(t *testing.T) {
	id := uuid.Must(uuid.NewV7())

	t.Run("valid", func(t *testing.T) {
		req, err := buildRequest(&options{jobType: "embedding", ids: []string{id.String()}, forceRegenerate: true, concurrency: 4})
		require.NoError(t, err)
		assert.Equal(t, models.JobTypeEmbedding, req.JobType)
		assert.Equal(t, []uuid.UUID{id}, req.CallIDs)
		assert.True(t, req.ForceRegenerate)
		assert.Equal(t, 4, req.Concurrency)
	})

	t.Run("unknown job type", func(t *testing.T) {
		_, err := buildRequest(&options{jobType: "summary", ids: []string{id.String()}})
		require.Error(t, err)
	})

	t.Run("no calls", func(t *testing.T) {
		_, err := buildRequest(&options{jobType: "insights"})
		require.ErrorIs(t, err, errNoCalls)
	})
}

func TestHTTPRunner(t *testing.T) {
	jobID := uuid.Must(uuid.NewV7())
	callID := uuid.Must(uuid.NewV7())

	var got service.BulkRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/enrichments/bulk", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "acme", r.Header.Get("X-Owner-ID"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(service.BulkResult{
			Items:    []service.BulkItem{{CallID: callID, JobID: &jobID, Status: models.JobStatusPending}},
			Accepted: 1,
		})
	}))
	defer server.Close()

	req := service.BulkRequest{CallIDs: []uuid.UUID{callID}, JobType: models.JobTypeInsights}

	result, err := newHTTPRunner(server.URL+"/", "secret").Run(context.Background(), "acme", req)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Accepted)
	assert.Equal(t, &jobID, result.Items[0].JobID)
	assert.Equal(t, req.CallIDs, got.CallIDs)
	assert.Equal(t, models.JobTypeInsights, got.JobType)
}

func TestHTTPRunner_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"title":"Bad Request"}`, http.StatusBadRequest)
	}))
	defer server.Close()

	_, err := newHTTPRunner(server.URL, "k").Run(context.Background(), "acme", service.BulkRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}

func TestWriteReport(t *testing.T) {
	jobID := uuid.Must(uuid.NewV7())
	ok := uuid.Must(uuid.NewV7())
	bad := uuid.Must(uuid.NewV7())

	result := &service.BulkResult{
		Items: []service.BulkItem{
			{CallID: ok, JobID: &jobID, Status: models.JobStatusCompleted, Cached: true},
			{CallID: bad, Error: "call not found"},
		},
		Cached: 1,
		Failed: 1,
	}

	path := filepath.Join(t.TempDir(), "report.xlsx")
	require.NoError(t, writeReport(path, service.BulkRequest{JobType: models.JobTypeEmbedding}, result))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)

	defer f.Close()

	rows, err := f.GetRows(resultsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"call_id", "job_id", "status", "cached", "error"}, rows[0])
	assert.Equal(t, ok.String(), rows[1][0])
	assert.Equal(t, jobID.String(), rows[1][1])
	assert.Equal(t, "call not found", rows[2][4])

	summary, err := f.GetRows(summarySheet)
	require.NoError(t, err)
	assert.Equal(t, []string{"job_type", "embedding"}, summary[0])
	assert.Equal(t, []string{"failed", "1"}, summary[5])
}

func TestPrintSummary(t *testing.T) {
	var out bytes.Buffer

	printSummary(&out, &service.BulkResult{
		Items:    []service.BulkItem{{CallID: uuid.Nil, Error: "boom"}},
		Failed:   1,
		Accepted: 0,
	})

	assert.Contains(t, out.String(), "boom")
	assert.Contains(t, out.String(), "failed: 1")
}

package e2e

import (
	"fmt"
	"net/http"
	"testing"
)

func TestBatchStart(t *testing.T) {
	ta := setupApp(t)

	body := `{"totalCount": 7, "chunkSize": 5}`
	resp, err := doRequest(ta.app, http.MethodPost, "/api/batches/", body)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusAccepted)

	result := parseJSON(t, resp)
	if result["batchId"] == "" || result["batchId"] == nil {
		t.Error("expected 'batchId' in response")
	}
	if result["status"] != "queued" {
		t.Errorf("expected status 'queued', got %v", result["status"])
	}
}

func TestBatchStart_InvalidBody(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodPost, "/api/batches/", `{not json`)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusBadRequest)
}

func TestBatchStart_MissingTotalCount(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodPost, "/api/batches/", `{"chunkSize": 5}`)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusBadRequest)

	result := parseJSON(t, resp)
	errObj, ok := result["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected error envelope, got %v", result)
	}
	if errObj["code"] != "VALIDATION_ERROR" {
		t.Errorf("expected VALIDATION_ERROR, got %v", errObj["code"])
	}
}

func TestBatchStart_CountTooLarge(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodPost, "/api/batches/", `{"totalCount": 100000}`)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusBadRequest)
}

func TestBatchStatus(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodPost, "/api/batches/", `{"totalCount": 3}`)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusAccepted)
	batchID := parseJSON(t, resp)["batchId"].(string)

	resp, err = doRequest(ta.app, http.MethodGet, "/api/batches/"+batchID, "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)

	status := parseJSON(t, resp)
	if status["batchId"] != batchID {
		t.Errorf("expected batchId %s, got %v", batchID, status["batchId"])
	}
	if status["totalItems"] != float64(3) {
		t.Errorf("expected totalItems 3, got %v", status["totalItems"])
	}
	if status["currentPhase"] != "planning" {
		t.Errorf("expected phase 'planning', got %v", status["currentPhase"])
	}
}

func TestBatchStatus_NotFound(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodGet, "/api/batches/nonexistent-batch-id", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusNotFound)
}

func TestBatchCancel(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodPost, "/api/batches/", `{"totalCount": 3}`)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusAccepted)
	batchID := parseJSON(t, resp)["batchId"].(string)

	resp, err = doRequest(ta.app, http.MethodPost, fmt.Sprintf("/api/batches/%s/cancel", batchID), "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)

	result := parseJSON(t, resp)
	if result["canceled"] != true {
		t.Errorf("expected canceled true, got %v", result["canceled"])
	}

	// A second cancel is a no-op on an already terminal batch.
	resp, err = doRequest(ta.app, http.MethodPost, fmt.Sprintf("/api/batches/%s/cancel", batchID), "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)
	result = parseJSON(t, resp)
	if result["canceled"] != false {
		t.Errorf("expected canceled false on second cancel, got %v", result["canceled"])
	}
}

func TestBatchCancel_Unknown(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodPost, "/api/batches/unknown-id/cancel", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusOK)
	result := parseJSON(t, resp)
	if result["canceled"] != false {
		t.Errorf("expected canceled false, got %v", result["canceled"])
	}
}

func TestBatchMetrics(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodGet, "/api/batches/metrics", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusOK)

	metrics := parseJSON(t, resp)
	for _, name := range []string{"planner", "generator", "validator", "persister", "imager", "uploader"} {
		if _, ok := metrics[name]; !ok {
			t.Errorf("expected metrics for agent %q", name)
		}
	}
}

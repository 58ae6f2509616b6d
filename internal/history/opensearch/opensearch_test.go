package opensearch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/loykin/pmgr/internal/history"
	"github.com/loykin/pmgr/internal/registry"
)

func TestOpenSearchSink_Send(t *testing.T) {
	var receivedBody []byte
	var receivedPath, receivedMethod, user, pass string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedMethod = r.Method
		receivedPath = r.URL.Path
		user, pass, _ = r.BasicAuth()
		receivedBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"_id":"test","result":"created"}`))
	}))
	defer server.Close()

	sink := New(server.URL+"/", "test-index").WithBasicAuth("admin", "secret")
	rec := registry.Record{Name: "test-process", PID: 12345, Status: registry.StatusRunning}
	if err := sink.Send(context.Background(), history.NewEvent(history.EventStart, rec)); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if receivedMethod != http.MethodPost {
		t.Errorf("Expected POST method, got: %s", receivedMethod)
	}
	if receivedPath != "/test-index/_doc" {
		t.Errorf("Expected path /test-index/_doc, got: %s", receivedPath)
	}
	if user != "admin" || pass != "secret" {
		t.Errorf("basic auth = %q/%q", user, pass)
	}

	var got map[string]any
	if err := json.Unmarshal(receivedBody, &got); err != nil {
		t.Fatalf("Failed to parse received JSON: %v", err)
	}
	if got["type"] != string(history.EventStart) {
		t.Errorf("Expected type %s, got: %v", history.EventStart, got["type"])
	}
	record, ok := got["record"].(map[string]any)
	if !ok {
		t.Fatalf("Expected record in event, got: %v", got)
	}
	if record["name"] != "test-process" || record["pid"] != float64(12345) {
		t.Errorf("unexpected record payload: %v", record)
	}
}

func TestOpenSearchSink_SendError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad request"}`))
	}))
	defer server.Close()

	err := New(server.URL, "test-index").Send(context.Background(), history.NewEvent(history.EventStop, registry.Record{Name: "x"}))
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if !strings.Contains(err.Error(), "opensearch sink status 400") {
		t.Errorf("Expected status error message, got: %v", err)
	}
}

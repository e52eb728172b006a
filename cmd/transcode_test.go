package cmd

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTranscodeEnableCmdSetsForceQueryParam(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()
	pointConfigAtDaemon(t, srv)

	cmd := transcodeEnableCmd()
	if err := cmd.Flags().Set("force", "true"); err != nil {
		t.Fatalf("set flag: %v", err)
	}
	if err := cmd.RunE(cmd, nil); err != nil {
		t.Fatalf("RunE: %v", err)
	}
	if gotQuery != "force=true" {
		t.Errorf("query = %q, want force=true", gotQuery)
	}
}

func TestTranscodeDisableCmdHitsDisableRoute(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()
	pointConfigAtDaemon(t, srv)

	cmd := transcodeDisableCmd()
	if err := cmd.RunE(cmd, nil); err != nil {
		t.Fatalf("RunE: %v", err)
	}
	if gotPath != "/api/transcoding/disable" {
		t.Errorf("path = %q, want /api/transcoding/disable", gotPath)
	}
}

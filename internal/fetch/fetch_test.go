package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
)

func testClient() *Client {
	c := NewClient()
	c.newBackOff = func() backoff.BackOff {
		return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 3)
	}
	return c
}

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/airpollution/no2col/no2_200502.asc.gz" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	got, err := testClient().Download(context.Background(), srv.URL+"/airpollution/no2col/no2_200502.asc.gz", dir)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	want := filepath.Join(dir, "no2_200502.asc.gz")
	if got != want {
		t.Errorf("path = %s, want %s", got, want)
	}
	b, err := os.ReadFile(got)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(b) != "payload" {
		t.Errorf("content = %q, want payload", b)
	}
}

func TestDownloadRetriesServerErrors(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	_, err := testClient().Download(context.Background(), srv.URL+"/f.asc", t.TempDir())
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDownloadNotFoundIsPermanent(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.NotFound(w, r)
	}))
	defer srv.Close()

	dir := t.TempDir()
	_, err := testClient().Download(context.Background(), srv.URL+"/missing.asc", dir)
	if err == nil {
		t.Fatal("Download succeeded on 404")
	}
	if !strings.Contains(err.Error(), "status 404") {
		t.Errorf("err = %v, want status 404", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retries on 404)", calls)
	}

	entries, rerr := os.ReadDir(dir)
	if rerr != nil {
		t.Fatalf("ReadDir: %v", rerr)
	}
	if len(entries) != 0 {
		t.Errorf("failed download left files behind: %v", entries)
	}
}

func TestDownloadRejectsBareURL(t *testing.T) {
	if _, err := testClient().Download(context.Background(), "http://example.com/", t.TempDir()); err == nil {
		t.Fatal("Download accepted a URL with no filename")
	}
}

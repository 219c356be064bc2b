package upload

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"ChatX/tools/errs"
)

func TestUploadRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("bad multipart: %v", err)
		}
		w.Write([]byte(`{"url":"http://cdn.local/a.png"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 1<<20)
	url, err := c.Upload(context.Background(), "a.png", []byte("png-bytes"))
	if err != nil {
		t.Fatal(err)
	}
	if url != "http://cdn.local/a.png" {
		t.Fatalf("bad url %q", url)
	}
	if calls.Load() != 3 {
		t.Fatalf("want 3 attempts, got %d", calls.Load())
	}
}

func TestUploadGivesUpAsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 0)
	_, err := c.Upload(context.Background(), "a.png", []byte("x"))
	if !errs.IsCode(err, errs.CodeUnavailable) {
		t.Fatalf("want Unavailable, got %v", err)
	}
}

func TestUploadValidatesInput(t *testing.T) {
	c := NewClient("http://unused", 4)
	if _, err := c.Upload(context.Background(), "a.png", nil); !errs.IsCode(err, errs.CodeInvalidArgument) {
		t.Fatalf("empty file: want InvalidArgument, got %v", err)
	}
	if _, err := c.Upload(context.Background(), "a.png", []byte("12345")); !errs.IsCode(err, errs.CodeInvalidArgument) {
		t.Fatalf("oversize file: want InvalidArgument, got %v", err)
	}
}

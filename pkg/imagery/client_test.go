package imagery

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/HatiCode/agroyield/pkg/change"
	"github.com/HatiCode/agroyield/pkg/errs"
)

const rasterJSON = `{
	"width": 2, "height": 1,
	"bands": [[0.1, 0.1], [0.2, 0.2], [0.1, 0.1], [0.6, 0.6]],
	"transform": {"origin_x": 0, "origin_y": 1, "pixel_width": 1, "pixel_height": -1}
}`

func newClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := New(Config{BaseURL: url, Token: "secret"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestNew_MissingCredentials(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"no base url", Config{Token: "x"}},
		{"no token", Config{BaseURL: "http://imagery"}},
		{"relative base", Config{BaseURL: "imagery", Token: "x"}},
		{"bad time format", Config{BaseURL: "http://imagery", Token: "x", TimeFormat: "iso"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, nil)
			if !errs.Is(err, errs.CodeConfiguration) {
				t.Errorf("New() error = %v, want configuration", err)
			}
		})
	}
}

func TestClient_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		if r.URL.Path != "/rasters/a.json" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, rasterJSON)
	}))
	defer srv.Close()

	c := newClient(t, srv.URL)
	img, err := c.Fetch(context.Background(), change.Reference{ID: "a", URI: "rasters/a.json"})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if img.Width != 2 || len(img.Bands) != 4 {
		t.Errorf("image = %dx%d with %d bands", img.Width, img.Height, len(img.Bands))
	}

	if _, err := c.Fetch(context.Background(), change.Reference{ID: "a", URI: srv.URL + "/rasters/a.json"}); err != nil {
		t.Errorf("Fetch(absolute, same host) error = %v", err)
	}
}

func TestClient_FetchForeignHost(t *testing.T) {
	var leaked atomic.Bool
	foreign := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			leaked.Store(true)
		}
		fmt.Fprint(w, rasterJSON)
	}))
	defer foreign.Close()

	home := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, rasterJSON)
	}))
	defer home.Close()

	c := newClient(t, home.URL)
	tests := []struct {
		name string
		uri  string
	}{
		{"absolute", foreign.URL + "/steal"},
		{"scheme relative", "//" + strings.TrimPrefix(foreign.URL, "http://") + "/steal"},
		{"other scheme", strings.Replace(home.URL, "http://", "https://", 1) + "/r.json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Fetch(context.Background(), change.Reference{ID: "x", URI: tt.uri})
			if !errs.Is(err, errs.CodeInvalidInput) {
				t.Errorf("Fetch() error = %v, want invalid_input", err)
			}
		})
	}
	if leaked.Load() {
		t.Error("foreign host received the imagery token")
	}
}

func TestClient_FetchErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/broken":
			fmt.Fprint(w, `{"width": 2, "height": 2, "bands": [[1]]}`)
		case "/garbage":
			fmt.Fprint(w, `not json`)
		default:
			http.Error(w, "gone", http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := newClient(t, srv.URL)
	for _, uri := range []string{"broken", "garbage", "missing", ""} {
		t.Run("uri="+uri, func(t *testing.T) {
			if _, err := c.Fetch(context.Background(), change.Reference{ID: uri, URI: uri}); err == nil {
				t.Error("Fetch() error = nil")
			}
		})
	}
}

func TestClient_History(t *testing.T) {
	var gotBefore string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/farms/F1/images" {
			http.NotFound(w, r)
			return
		}
		gotBefore = r.URL.Query().Get("before")
		fmt.Fprint(w, `{"images": [
			{"id": "b", "acquired_at": "2024-03-01T00:00:00Z", "uri": "rasters/b.json"},
			{"id": "a", "acquired_at": "2024-01-01T00:00:00Z", "uri": "rasters/a.json"},
			{"id": "late", "acquired_at": "2024-06-01T00:00:00Z", "uri": "rasters/late.json"}
		]}`)
	}))
	defer srv.Close()

	before := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	refs, err := newClient(t, srv.URL).History(context.Background(), "F1", before)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if gotBefore != "2024-05-01T00:00:00Z" {
		t.Errorf("before query = %q", gotBefore)
	}
	if len(refs) != 2 || refs[0].ID != "a" || refs[1].ID != "b" {
		t.Fatalf("refs = %+v, want [a b]", refs)
	}
	if refs[1].URI != "rasters/b.json" {
		t.Errorf("uri = %q", refs[1].URI)
	}
}

func TestClient_HistoryCustomPaths(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data": {"ids": ["x"], "ts": [1704067200000], "links": ["/r/x"]}}`)
	}))
	defer srv.Close()

	c, err := New(Config{
		BaseURL:     srv.URL,
		Token:       "t",
		HistoryPath: "/scenes/{{.FarmID}}",
		IDPath:      "data.ids",
		TimePath:    "data.ts",
		URIPath:     "data.links",
		TimeFormat:  "unix_milli",
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	refs, err := c.History(context.Background(), "F1", time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	want := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if len(refs) != 1 || !refs[0].AcquiredAt.Equal(want) {
		t.Errorf("refs = %+v", refs)
	}
}

func TestClient_HistoryMismatchedArrays(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"images": [{"id": "a", "uri": "x"}]}`)
	}))
	defer srv.Close()

	_, err := newClient(t, srv.URL).History(context.Background(), "F1", time.Now())
	if err == nil || !strings.Contains(err.Error(), "disagree") {
		t.Errorf("History() error = %v, want array mismatch", err)
	}
}

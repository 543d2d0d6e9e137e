package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/acescout/acescout/internal/extractor"
	"github.com/acescout/acescout/internal/store"
)

const testID = "deadbeefdeadbeefdeadbeefdeadbeefdeadbeef"

func testOptions() Options {
	return Options{Timeout: 2 * time.Second, Retries: 3}
}

func TestDirectProcessHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><a href="acestream://` + testID + `">Chan</a></html>`))
	}))
	defer srv.Close()

	d := NewDirect(extractor.New(nil), testOptions())
	ids, err := d.Process(context.Background(), store.Source{Location: srv.URL, Kind: store.SourceDirect})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(ids) != 1 || ids[0].RawID != testID || ids[0].Name != "Chan" {
		t.Fatalf("unexpected identifiers: %+v", ids)
	}
}

func TestDirectProcessPlaylistByExtension(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("#EXTINF:-1,Chan One\nhttp://h/x?id=" + testID + "\n"))
	}))
	defer srv.Close()

	d := NewDirect(extractor.New(nil), testOptions())
	ids, err := d.Process(context.Background(), store.Source{Location: srv.URL + "/list.m3u"})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(ids) != 1 || ids[0].Name != "Chan One" {
		t.Fatalf("unexpected identifiers: %+v", ids)
	}
}

func TestDirectRetriesTransient(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("acestream://" + testID))
	}))
	defer srv.Close()

	d := NewDirect(extractor.New(nil), testOptions())
	ids, err := d.Process(context.Background(), store.Source{Location: srv.URL})
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("expected 1 identifier, got %d", len(ids))
	}
	if got := hits.Load(); got != 2 {
		t.Fatalf("expected 2 fetch attempts, got %d", got)
	}
}

func TestDirectPermanentNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	d := NewDirect(extractor.New(nil), testOptions())
	_, err := d.Process(context.Background(), store.Source{Location: srv.URL})
	if err == nil {
		t.Fatalf("expected error for 404")
	}
	if IsTransient(err) {
		t.Fatalf("404 must be permanent, got transient: %v", err)
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("permanent error must not be retried, got %d attempts", got)
	}
}

func TestDirectMalformedLocation(t *testing.T) {
	d := NewDirect(extractor.New(nil), testOptions())
	_, err := d.Process(context.Background(), store.Source{Location: "not a url"})
	if err == nil || IsTransient(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestZeronetIframeHop(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/1SiteAddr/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<script>iframe_src = "/inner/list.html"</script>`))
	})
	mux.HandleFunc("/inner/list.html", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<a href="acestream://` + testID + `">Hop Chan</a>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	opts := testOptions()
	opts.Gateway = srv.URL
	z := NewZeronet(extractor.New(nil), opts)
	ids, err := z.Process(context.Background(), store.Source{Location: "zero://1SiteAddr/", Kind: store.SourceZeronet})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(ids) != 1 || ids[0].Name != "Hop Chan" {
		t.Fatalf("unexpected identifiers: %+v", ids)
	}
	if ids[0].SourceURL != "zero://1SiteAddr/" {
		t.Fatalf("source ref must keep the original location, got %q", ids[0].SourceURL)
	}
}

func TestZeronetResolve(t *testing.T) {
	z := NewZeronet(extractor.New(nil), Options{Gateway: "http://127.0.0.1:43110"})
	tests := []struct {
		in   string
		want string
		err  bool
	}{
		{in: "zero://1Abc/list.m3u", want: "http://127.0.0.1:43110/1Abc/list.m3u"},
		{in: "1Abc/page.html", want: "http://127.0.0.1:43110/1Abc/page.html"},
		{in: "http://otherhost:43110/1Abc/x", want: "http://127.0.0.1:43110/1Abc/x"},
		{in: "http://otherhost:43110/", err: true},
		{in: "", err: true},
	}
	for _, tt := range tests {
		got, err := z.resolve(tt.in)
		if tt.err {
			if err == nil {
				t.Fatalf("resolve(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("resolve(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("resolve(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFactoryKinds(t *testing.T) {
	f := NewFactory(extractor.New(nil), testOptions(), testOptions())
	if _, err := f.For(store.SourceDirect); err != nil {
		t.Fatalf("direct: %v", err)
	}
	if _, err := f.For(store.SourceZeronet); err != nil {
		t.Fatalf("zeronet: %v", err)
	}
	if _, err := f.For(store.SourceKind("bogus")); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}

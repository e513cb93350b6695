package wiki

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nugget/hearth/internal/httpkit"
)

func TestSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/w/api.php" {
			t.Errorf("path = %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("srsearch") != "tidal locking" || q.Get("srlimit") != "2" || q.Get("list") != "search" {
			t.Errorf("query = %v", q)
		}
		w.Write([]byte(`{"query":{"search":[
			{"title":"Tidal locking","snippet":"<span class=\"searchmatch\">Tidal</span> locking &amp; synchronous rotation"},
			{"title":"Tidal force","snippet":""}]}}`))
	}))
	defer srv.Close()

	c := New(httpkit.NewClient(), "en", srv.URL, nil)
	hits, err := c.Search(context.Background(), "tidal locking", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Fatalf("hits = %+v", hits)
	}
	if hits[0].Snippet != "Tidal locking & synchronous rotation" {
		t.Errorf("snippet = %q", hits[0].Snippet)
	}
}

func TestSummary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.EscapedPath() {
		case "/api/rest_v1/page/summary/Ada_Lovelace":
			w.Write([]byte(`{"title":"Ada Lovelace","extract":"English mathematician.","content_urls":{"desktop":{"page":"https://en.wikipedia.org/wiki/Ada_Lovelace"}}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(httpkit.NewClient(), "en", srv.URL, nil)
	s, err := c.Summary(context.Background(), "Ada Lovelace")
	if err != nil {
		t.Fatal(err)
	}
	if s.Extract != "English mathematician." || !strings.HasSuffix(s.URL, "/Ada_Lovelace") {
		t.Errorf("summary = %+v", s)
	}

	if _, err := c.Summary(context.Background(), "No Such Page"); err == nil || err.Error() != "no such article" {
		t.Errorf("missing page err = %v", err)
	}
}

func TestStripHTML(t *testing.T) {
	tests := map[string]string{
		"plain":                               "plain",
		"<b>bold</b>  and\n<i>italic</i>":     "bold and italic",
		"caf&eacute; &lt;3":                   "café <3",
		`<span class="searchmatch">x</span>y`: "xy",
	}
	for in, want := range tests {
		if got := StripHTML(in); got != want {
			t.Errorf("StripHTML(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNew_DefaultsToLanguageHost(t *testing.T) {
	c := New(httpkit.NewClient(), "de", "", nil)
	if c.baseURL != "https://de.wikipedia.org" {
		t.Errorf("baseURL = %q", c.baseURL)
	}
}

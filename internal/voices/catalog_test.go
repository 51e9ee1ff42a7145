package voices

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const catalogJSON = `{"voices":[
  {"name":"en-US-Chirp-HD-F","languageCodes":["en-US"],"ssmlGender":"FEMALE"},
  {"name":"en-US-Wavenet-D","languageCodes":["en-US"],"ssmlGender":"MALE"},
  {"name":"en-GB-Chirp-HD-D","languageCodes":["en-GB"],"ssmlGender":"MALE"},
  {"name":"de-DE-Chirp-HD-F","languageCodes":["de-DE"],"ssmlGender":"FEMALE"},
  {"name":"en-AU-Chirp3-HD-Aoede","languageCodes":["en-AU"]}
]}`

func TestHTTPCatalogFilterAndGroup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(catalogJSON))
	}))
	defer srv.Close()

	all, err := NewHTTPCatalog(srv.URL, "", time.Second).List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("expected 5 voices, got %d", len(all))
	}

	filtered := Policy{LanguagePrefix: "en-", NamePattern: "Chirp"}.Filter(all)
	if len(filtered) != 3 {
		t.Fatalf("expected 3 english chirp voices, got %d", len(filtered))
	}

	groups := GroupByPrimaryLanguage(filtered)
	want := []string{"en-AU", "en-GB", "en-US"}
	if len(groups) != len(want) {
		t.Fatalf("unexpected groups %+v", groups)
	}
	for i, g := range groups {
		if g.Language != want[i] {
			t.Fatalf("group %d is %s, want %s", i, g.Language, want[i])
		}
	}
	if got := groups[0].Voices[0].Label(); got != "en-AU-Chirp3-HD-Aoede (Neutral)" {
		t.Fatalf("unexpected label %q", got)
	}
}

func TestHTTPCatalogError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()
	if _, err := NewHTTPCatalog(srv.URL, "", time.Second).List(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestEmptyPolicyAllowsAll(t *testing.T) {
	v := Voice{Name: "x", LanguageCodes: []string{"fr-FR"}}
	if !(Policy{}).Allows(v) {
		t.Fatal("empty policy should allow every voice")
	}
}

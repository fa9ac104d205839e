package web

import (
	"net/http"
	"testing"
)

func TestWebfingerUser(t *testing.T) {
	tests := []struct {
		resource string
		want     string
		ok       bool
	}{
		{"acct:alice@video.example", "alice", true},
		{"acct:peertube@VIDEO.example", "peertube", true},
		{"acct:user_123@video.example", "user_123", true},
		{"acct:alice@elsewhere.example", "", false},
		{"acct:@video.example", "", false},
		{"acct:alice", "", false},
		{"https://video.example/ap/account/alice", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.resource, func(t *testing.T) {
			got, ok := webfingerUser(tt.resource, testDomain)
			if got != tt.want || ok != tt.ok {
				t.Errorf("webfingerUser(%q) = %q, %v; want %q, %v", tt.resource, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestWebfinger(t *testing.T) {
	env := newTestEnv(t)
	env.addAccount(t, "alice")

	tests := []struct {
		name     string
		resource string
		status   int
		href     string
	}{
		{"account", "acct:alice@video.example", http.StatusOK, "https://video.example/ap/account/alice"},
		{"instance actor", "acct:peertube@video.example", http.StatusOK, "https://video.example/ap"},
		{"unknown account", "acct:bob@video.example", http.StatusNotFound, ""},
		{"foreign domain", "acct:alice@elsewhere.example", http.StatusNotFound, ""},
		{"missing resource", "", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := env.getJSON(t, "/.well-known/webfinger?resource="+tt.resource, tt.status)
			if tt.status != http.StatusOK {
				if doc["detail"] != "Not Found" {
					t.Errorf("Expected Not Found detail, got %v", doc)
				}
				return
			}
			if doc["subject"] != tt.resource {
				t.Errorf("Expected subject %s, got %v", tt.resource, doc["subject"])
			}
			links, _ := doc["links"].([]any)
			if len(links) != 1 {
				t.Fatalf("Expected one link, got %v", doc["links"])
			}
			link := links[0].(map[string]any)
			if link["rel"] != "self" || link["type"] != "application/activity+json" || link["href"] != tt.href {
				t.Errorf("Unexpected self link %v", link)
			}
		})
	}
}

func TestWebfingerContentType(t *testing.T) {
	env := newTestEnv(t)
	w := env.get(t, "/.well-known/webfinger?resource=acct:peertube@video.example")
	if ct := w.Header().Get("Content-Type"); ct != "application/jrd+json; charset=utf-8" {
		t.Errorf("Unexpected content type %q", ct)
	}
}

package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/deemkeen/vidfed/activitypub"
	"github.com/deemkeen/vidfed/util"
)

// remoteActor is a single remote account that signs its deliveries and
// records what it receives.
type remoteActor struct {
	srv      *httptest.Server
	identity *activitypub.Identity

	mu       sync.Mutex
	received []map[string]any
}

func newRemoteActor(t *testing.T) *remoteActor {
	t.Helper()
	r := &remoteActor{}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /accounts/x", func(w http.ResponseWriter, _ *http.Request) {
		id := r.ID()
		w.Header().Set("Content-Type", activitypub.ContentType)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"@context": activitypub.DefaultContext(),
			"id":       id,
			"type":     "Person",
			"inbox":    id + "/inbox",
			"publicKey": map[string]any{
				"id":           r.identity.KeyID,
				"owner":        id,
				"publicKeyPem": r.identity.PublicKeyPem,
			},
		})
	})
	mux.HandleFunc("POST /accounts/x/inbox", func(w http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(req.Body)
		var activity map[string]any
		_ = json.Unmarshal(body, &activity)
		r.mu.Lock()
		r.received = append(r.received, activity)
		r.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	r.srv = httptest.NewServer(mux)
	t.Cleanup(r.srv.Close)

	keys, err := util.GeneratePemKeypair()
	if err != nil {
		t.Fatalf("Failed to generate keys: %v", err)
	}
	r.identity, err = activitypub.NewIdentity(keys, r.ID())
	if err != nil {
		t.Fatalf("NewIdentity failed: %v", err)
	}
	return r
}

func (r *remoteActor) ID() string { return r.srv.URL + "/accounts/x" }

func (r *remoteActor) inbox() []map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]map[string]any(nil), r.received...)
}

// deliver POSTs body to path on the local server, signed by identity.
func (r *remoteActor) deliver(t *testing.T, env *testEnv, identity *activitypub.Identity, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	headers, err := activitypub.SignedHeaders(body, "https://"+testDomain+path, identity)
	if err != nil {
		t.Fatalf("SignedHeaders failed: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header = headers.Clone()
	req.Host = headers.Get("Host")
	return env.do(t, req)
}

func TestInboxFollowScenario(t *testing.T) {
	env := newTestEnv(t)
	remote := newRemoteActor(t)
	ctx := context.Background()

	follow := map[string]any{
		"id":     remote.srv.URL + "/follows/1",
		"type":   "Follow",
		"actor":  remote.ID(),
		"object": env.fed.URLs.Instance(),
	}
	body, _ := json.Marshal(follow)

	w := remote.deliver(t, env, remote.identity, "/ap/inbox", body)
	if w.Code != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d (%s)", w.Code, w.Body.String())
	}
	if env.queue.Len() != 1 {
		t.Fatalf("Expected the delivery to be queued, got %d tasks", env.queue.Len())
	}

	task, err := env.queue.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if err := env.fed.Inbox.HandleTask(ctx, task); err != nil {
		t.Fatalf("HandleTask failed: %v", err)
	}

	follower, err := env.db.ReadFollowerByActor(ctx, remote.ID())
	if err != nil {
		t.Fatalf("Expected a follower row: %v", err)
	}
	if follower.Inbox != remote.ID()+"/inbox" {
		t.Errorf("Unexpected follower inbox %q", follower.Inbox)
	}

	received := remote.inbox()
	if len(received) != 1 || received[0]["type"] != "Accept" {
		t.Fatalf("Expected one Accept, got %v", received)
	}
	echoed, _ := received[0]["object"].(map[string]any)
	if echoed["id"] != follow["id"] || echoed["actor"] != remote.ID() {
		t.Errorf("Accept must echo the Follow, got %v", echoed)
	}
}

func TestInboxRejectsBadSignatures(t *testing.T) {
	env := newTestEnv(t)
	remote := newRemoteActor(t)

	body := []byte(`{"type":"Follow","actor":"` + remote.ID() + `","object":"https://video.example/ap"}`)

	keys, err := util.GeneratePemKeypair()
	if err != nil {
		t.Fatalf("Failed to generate keys: %v", err)
	}
	impostor, err := activitypub.NewIdentity(keys, remote.ID())
	if err != nil {
		t.Fatalf("NewIdentity failed: %v", err)
	}

	tests := []struct {
		name string
		send func() *httptest.ResponseRecorder
	}{
		{"unsigned", func() *httptest.ResponseRecorder {
			return env.do(t, httptest.NewRequest(http.MethodPost, "/ap/inbox", bytes.NewReader(body)))
		}},
		{"wrong key", func() *httptest.ResponseRecorder {
			return remote.deliver(t, env, impostor, "/ap/inbox", body)
		}},
		{"signed for another inbox", func() *httptest.ResponseRecorder {
			headers, err := activitypub.SignedHeaders(body, "https://"+testDomain+"/ap/account/alice/inbox", remote.identity)
			if err != nil {
				t.Fatalf("SignedHeaders failed: %v", err)
			}
			req := httptest.NewRequest(http.MethodPost, "/ap/inbox", bytes.NewReader(body))
			req.Header = headers.Clone()
			req.Host = headers.Get("Host")
			return env.do(t, req)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := tt.send(); w.Code != http.StatusUnauthorized {
				t.Errorf("Expected 401, got %d", w.Code)
			}
		})
	}
	if env.queue.Len() != 0 {
		t.Errorf("Rejected deliveries must not be queued, got %d", env.queue.Len())
	}
}

func TestAccountInbox(t *testing.T) {
	env := newTestEnv(t)
	remote := newRemoteActor(t)

	body := []byte(`{"type":"Undo","actor":"` + remote.ID() + `","object":"` + remote.srv.URL + `/follows/1"}`)
	w := remote.deliver(t, env, remote.identity, "/ap/account/alice/inbox", body)
	if w.Code != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d (%s)", w.Code, w.Body.String())
	}
	if env.queue.Len() != 1 {
		t.Errorf("Expected one queued task, got %d", env.queue.Len())
	}
}

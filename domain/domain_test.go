package domain

import (
	"errors"
	"testing"
)

func TestFollowingStatusNext(t *testing.T) {
	tests := []struct {
		name    string
		from    FollowingStatus
		event   FollowEvent
		want    FollowingStatus
		wantErr bool
	}{
		{"send from none", FollowingNone, EventFollowSent, FollowingRequested, false},
		{"resend from accepted", FollowingAccepted, EventFollowSent, FollowingRequested, false},
		{"resend from refused", FollowingRefused, EventFollowSent, FollowingRequested, false},
		{"accept requested", FollowingRequested, EventAcceptReceived, FollowingAccepted, false},
		{"second accept is no-op", FollowingAccepted, EventAcceptReceived, FollowingAccepted, false},
		{"reject requested", FollowingRequested, EventRejectReceived, FollowingRefused, false},
		{"second reject is no-op", FollowingRefused, EventRejectReceived, FollowingRefused, false},
		{"accept without request", FollowingNone, EventAcceptReceived, FollowingNone, true},
		{"accept after refusal", FollowingRefused, EventAcceptReceived, FollowingRefused, true},
		{"reject after acceptance", FollowingAccepted, EventRejectReceived, FollowingAccepted, true},
		{"reject without request", FollowingNone, EventRejectReceived, FollowingNone, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.from.Next(tt.event)
			if got != tt.want {
				t.Errorf("Next() = %s, want %s", got, tt.want)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTransition) {
					t.Errorf("Expected ErrInvalidTransition, got %v", err)
				}
			} else if err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}

func TestParseFollowingStatus(t *testing.T) {
	for _, s := range []FollowingStatus{FollowingNone, FollowingRequested, FollowingAccepted, FollowingRefused} {
		parsed, err := ParseFollowingStatus(s.String())
		if err != nil {
			t.Fatalf("ParseFollowingStatus(%s) failed: %v", s, err)
		}
		if parsed != s {
			t.Errorf("Expected %s, got %s", s, parsed)
		}
	}
	if _, err := ParseFollowingStatus("pending"); err == nil {
		t.Error("Expected error for unknown status")
	}
}

func TestOrigin(t *testing.T) {
	tests := []struct {
		iri     string
		want    string
		wantErr bool
	}{
		{"https://peertube.example/accounts/peertube", "https://peertube.example", false},
		{"HTTPS://PeerTube.Example:8443/a", "https://peertube.example:8443", false},
		{"http://localhost:9000", "http://localhost:9000", false},
		{"/relative/path", "", true},
		{"::not a url", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.iri, func(t *testing.T) {
			got, err := Origin(tt.iri)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Origin(%q) error = %v, wantErr %v", tt.iri, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Origin(%q) = %q, want %q", tt.iri, got, tt.want)
			}
		})
	}
}

func TestVideoEventBroadcast(t *testing.T) {
	tests := []struct {
		name  string
		event VideoEvent
		want  BroadcastKind
	}{
		{"becomes public", VideoEvent{WasPublic: false, IsPublic: true}, BroadcastAnnounce},
		{"public update", VideoEvent{WasPublic: true, IsPublic: true}, BroadcastUpdate},
		{"made restricted", VideoEvent{WasPublic: true, IsPublic: false}, BroadcastDelete},
		{"private edit", VideoEvent{WasPublic: false, IsPublic: false}, BroadcastNone},
		{"public deleted", VideoEvent{WasPublic: true, Deleted: true}, BroadcastDelete},
		{"private deleted", VideoEvent{WasPublic: false, Deleted: true}, BroadcastNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.event.Broadcast(); got != tt.want {
				t.Errorf("Broadcast() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestVideoIsPublic(t *testing.T) {
	v := Video{}
	if !v.IsPublic() {
		t.Error("Unrestricted encoded video should be public")
	}
	v.EncodingInProgress = true
	if v.IsPublic() {
		t.Error("Video still encoding should not be public")
	}
	v.EncodingInProgress = false
	v.IsRestricted = true
	if v.IsPublic() {
		t.Error("Restricted video should not be public")
	}
}

func TestRemoteActorPreferredInbox(t *testing.T) {
	ra := RemoteActor{InboxURI: "https://a.example/inbox"}
	if ra.PreferredInbox() != "https://a.example/inbox" {
		t.Errorf("Expected personal inbox, got %s", ra.PreferredInbox())
	}
	ra.SharedInbox = "https://a.example/shared"
	if ra.PreferredInbox() != "https://a.example/shared" {
		t.Errorf("Expected shared inbox, got %s", ra.PreferredInbox())
	}
}

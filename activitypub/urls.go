package activitypub

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// URLs builds the public IRIs of local objects from the instance base URL.
type URLs struct {
	base string
}

func NewURLs(baseURL string) *URLs {
	return &URLs{base: strings.TrimRight(baseURL, "/")}
}

func (u *URLs) Base() string { return u.base }

// Instance is the Application actor that follows and is followed by remote instances.
func (u *URLs) Instance() string    { return u.base + "/ap" }
func (u *URLs) InstanceKey() string { return u.Instance() + "#main-key" }
func (u *URLs) Inbox() string       { return u.base + "/ap/inbox" }
func (u *URLs) Outbox() string      { return u.base + "/ap/outbox" }
func (u *URLs) Following() string   { return u.base + "/ap/following" }
func (u *URLs) Followers() string   { return u.base + "/ap/followers" }

func (u *URLs) Account(username string) string { return u.base + "/ap/account/" + username }

func (u *URLs) AccountInbox(username string) string {
	return u.Account(username) + "/inbox"
}

func (u *URLs) AccountOutbox(username string) string {
	return u.Account(username) + "/outbox"
}

func (u *URLs) AccountFollowing(username string) string {
	return u.Account(username) + "/following"
}

func (u *URLs) AccountFollowers(username string) string {
	return u.Account(username) + "/followers"
}

// AccountChannel is the default channel every account owns implicitly.
func (u *URLs) AccountChannel(username string) string {
	return u.Account(username) + "/channel"
}

// Actor returns the instance actor for an empty username.
func (u *URLs) Actor(username string) string {
	if username == "" {
		return u.Instance()
	}
	return u.Account(username)
}

func (u *URLs) OutboxOf(username string) string {
	if username == "" {
		return u.Outbox()
	}
	return u.AccountOutbox(username)
}

func (u *URLs) FollowersOf(username string) string {
	if username == "" {
		return u.Followers()
	}
	return u.AccountFollowers(username)
}

func (u *URLs) FollowingOf(username string) string {
	if username == "" {
		return u.Following()
	}
	return u.AccountFollowing(username)
}

func (u *URLs) InboxOf(username string) string {
	if username == "" {
		return u.Inbox()
	}
	return u.AccountInbox(username)
}

func (u *URLs) Video(slug string) string { return u.base + "/ap/video/" + slug }

// VideoSub addresses the likes, dislikes, shares, comments and chapters collections.
func (u *URLs) VideoSub(slug, collection string) string {
	return u.Video(slug) + "/" + collection
}

// VideoPage is the human facing watch page.
func (u *URLs) VideoPage(slug string) string { return u.base + "/video/" + slug + "/" }

func (u *URLs) Channel(slug string) string { return u.base + "/ap/channel/" + slug }

func (u *URLs) FollowActivity(followingID uuid.UUID) string {
	return u.Following() + "/" + followingID.String()
}

func (u *URLs) AcceptActivity(followerID uuid.UUID) string {
	return u.base + "/accepts/follows/" + followerID.String()
}

func (u *URLs) Announce(slug string) string { return u.Video(slug) + "/announces/1" }

func (u *URLs) NodeInfo() string { return u.base + "/nodeinfo/2.0.json" }

func (u *URLs) Feed() string { return u.base + "/feed" }

func Page(collection string, page int) string {
	return fmt.Sprintf("%s?page=%d", collection, page)
}

// IsLocal reports whether iri belongs to this instance.
func (u *URLs) IsLocal(iri string) bool {
	return iri == u.base || strings.HasPrefix(iri, u.base+"/")
}

// LocalActor reports whether iri names a local actor and returns its username,
// empty for the instance actor.
func (u *URLs) LocalActor(iri string) (string, bool) {
	if iri == u.Instance() {
		return "", true
	}
	prefix := u.base + "/ap/account/"
	if !strings.HasPrefix(iri, prefix) {
		return "", false
	}
	name := strings.TrimPrefix(iri, prefix)
	if name == "" || strings.Contains(name, "/") {
		return "", false
	}
	return name, true
}

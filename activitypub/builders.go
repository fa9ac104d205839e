package activitypub

import (
	"fmt"

	"github.com/deemkeen/vidfed/domain"
	"github.com/google/uuid"
)

// NewFollow asks the remote Application actor object to accept this instance
// as a follower. Its id is stable per Following so a re-sent Follow replaces
// the previous one on the remote side.
func NewFollow(urls *URLs, followingID uuid.UUID, object string) map[string]any {
	return map[string]any{
		"@context": DefaultContext(),
		"id":       urls.FollowActivity(followingID),
		"type":     "Follow",
		"actor":    urls.Instance(),
		"object":   object,
		"to":       []string{object},
	}
}

// NewAccept answers a remote Follow. The accepting actor is the local actor
// that was followed and the object echoes the original Follow.
func NewAccept(urls *URLs, followerID uuid.UUID, follow *Follow) map[string]any {
	return map[string]any{
		"@context": DefaultContext(),
		"id":       urls.AcceptActivity(followerID),
		"type":     "Accept",
		"actor":    follow.Object,
		"object": map[string]any{
			"type":   "Follow",
			"id":     follow.ID,
			"actor":  follow.Actor,
			"object": follow.Object,
		},
		"to": []string{follow.Actor},
	}
}

// NewAnnounce shares a local video on behalf of username, or of the instance
// actor when username is empty. Outbox pages list the same stub.
func NewAnnounce(urls *URLs, username, slug string) map[string]any {
	return map[string]any{
		"id":     urls.Announce(slug),
		"type":   "Announce",
		"actor":  urls.Actor(username),
		"object": urls.Video(slug),
		"to":     []string{PublicCollection},
		"cc":     []string{urls.FollowersOf(username)},
	}
}

// NewUpdate carries the full, current representation of a public video.
func NewUpdate(urls *URLs, video map[string]any, updated int64) map[string]any {
	id, _ := video["id"].(string)
	return map[string]any{
		"@context": withContext(peertubeVideoContext()),
		"id":       fmt.Sprintf("%s/updates/%d", id, updated),
		"type":     "Update",
		"actor":    urls.Instance(),
		"object":   video,
		"to":       []string{PublicCollection},
		"cc":       []string{urls.Followers()},
	}
}

// NewDelete retracts a video by reference only.
func NewDelete(urls *URLs, slug string) map[string]any {
	return map[string]any{
		"@context": DefaultContext(),
		"id":       urls.Video(slug) + "/delete",
		"type":     "Delete",
		"actor":    urls.Instance(),
		"object":   urls.Video(slug),
		"to":       []string{PublicCollection},
		"cc":       []string{urls.Followers()},
	}
}

// broadcastActivity builds the activity a video event fans out as, nil when
// the event needs no broadcast.
func broadcastActivity(urls *URLs, s *Serializer, ev *domain.VideoEvent, video *domain.Video) map[string]any {
	switch ev.Broadcast() {
	case domain.BroadcastAnnounce:
		announce := NewAnnounce(urls, "", ev.Slug)
		announce["@context"] = DefaultContext()
		return announce
	case domain.BroadcastUpdate:
		if video == nil {
			return nil
		}
		return NewUpdate(urls, s.Video(video), video.UpdatedAt.UnixNano())
	case domain.BroadcastDelete:
		return NewDelete(urls, ev.Slug)
	default:
		return nil
	}
}

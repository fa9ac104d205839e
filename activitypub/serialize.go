package activitypub

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/deemkeen/vidfed/domain"
	"github.com/deemkeen/vidfed/util"
)

// InstanceActorName is the preferredUsername of the Application actor.
// PeerTube only pairs with instance actors named this way.
const InstanceActorName = "peertube"

const magnetMediaType = "application/x-bittorrent;x-scheme-handler/magnet"

// licences maps local licence codes to PeerTube's numeric identifiers.
var licences = map[string]struct {
	ID   int
	Name string
}{
	"by":       {1, "Attribution"},
	"by-sa":    {2, "Attribution - Share Alike"},
	"by-nd":    {3, "Attribution - No Derivatives"},
	"by-nc":    {4, "Attribution - Non Commercial"},
	"by-nc-sa": {5, "Attribution - Non Commercial - Share Alike"},
	"by-nc-nd": {6, "Attribution - Non Commercial - No Derivatives"},
	"cc0":      {7, "Public Domain Dedication"},
}

// Serializer renders local accounts, channels and videos as ActivityPub
// objects with the PeerTube extensions remote instances require.
type Serializer struct {
	urls         *URLs
	secret       string
	langs        util.Languages
	publicKeyPem string
}

func NewSerializer(urls *URLs, secret, publicKeyPem string, langs util.Languages) *Serializer {
	return &Serializer{urls: urls, secret: secret, langs: langs, publicKeyPem: publicKeyPem}
}

func (s *Serializer) publicKey() map[string]any {
	return map[string]any{
		"id":           s.urls.InstanceKey(),
		"owner":        s.urls.Instance(),
		"publicKeyPem": s.publicKeyPem,
	}
}

// Actor renders the instance Application actor for a nil account and a
// Person otherwise. Every actor publishes the instance key.
func (s *Serializer) Actor(acc *domain.Account) map[string]any {
	username := ""
	if acc != nil {
		username = acc.Username
	}
	id := s.urls.Actor(username)
	doc := map[string]any{
		"@context":  DefaultContext(),
		"id":        id,
		"type":      "Application",
		"url":       id,
		"following": s.urls.FollowingOf(username),
		"followers": s.urls.FollowersOf(username),
		"inbox":     s.urls.InboxOf(username),
		"outbox":    s.urls.OutboxOf(username),
		"endpoints": map[string]any{
			"sharedInbox": s.urls.InboxOf(username),
		},
		"publicKey":         s.publicKey(),
		"preferredUsername": InstanceActorName,
		"name":              InstanceActorName,
	}
	if acc == nil {
		return doc
	}

	doc["@context"] = withContext(peertubeChannelContext())
	doc["type"] = "Person"
	doc["preferredUsername"] = acc.Username
	doc["name"] = acc.Username
	if acc.DisplayName != "" {
		doc["name"] = acc.DisplayName
	}
	if acc.Summary != "" {
		doc["summary"] = acc.Summary
	}
	return doc
}

// Channel renders a channel as a Group owned by its account.
func (s *Serializer) Channel(ch *domain.Channel) map[string]any {
	id := s.urls.Channel(ch.Slug)
	doc := s.group(id, ch.Slug, ch.Title, ch.Owner)
	if ch.Description != "" {
		doc["summary"] = ch.Description
	}
	if !ch.CreatedAt.IsZero() {
		doc["published"] = ch.CreatedAt.UTC().Format(time.RFC3339)
	}
	return doc
}

// AccountChannel renders the implicit default channel of an account.
func (s *Serializer) AccountChannel(acc *domain.Account) map[string]any {
	name := acc.Username
	if acc.DisplayName != "" {
		name = acc.DisplayName
	}
	return s.group(s.urls.AccountChannel(acc.Username), acc.Username+"_channel", name, acc.Username)
}

func (s *Serializer) group(id, preferredUsername, name, owner string) map[string]any {
	return map[string]any{
		"@context":          withContext(peertubeChannelContext()),
		"id":                id,
		"type":              "Group",
		"url":               id,
		"preferredUsername": preferredUsername,
		"name":              name,
		"following":         s.urls.Following(),
		"followers":         s.urls.Followers(),
		"inbox":             s.urls.Inbox(),
		"outbox":            s.urls.AccountOutbox(owner),
		"endpoints":         map[string]any{"sharedInbox": s.urls.Inbox()},
		"publicKey":         s.publicKey(),
		"attributedTo": []map[string]any{
			{"type": "Person", "id": s.urls.Account(owner)},
		},
	}
}

// VideoDocument is Video with its JSON-LD context, as served over HTTP.
func (s *Serializer) VideoDocument(v *domain.Video) map[string]any {
	doc := s.Video(v)
	doc["@context"] = withContext(peertubeVideoContext())
	return doc
}

// Video renders a local video. PeerTube rejects videos missing uuid, tags,
// attributions, likes, shares or comments, so those are always present.
func (s *Serializer) Video(v *domain.Video) map[string]any {
	id := s.urls.Video(v.Slug)
	updated := v.UpdatedAt
	if updated.IsZero() {
		updated = v.DateAdded
	}

	doc := map[string]any{
		"id":              id,
		"type":            "Video",
		"to":              []string{PublicCollection},
		"cc":              []string{s.urls.AccountFollowers(v.Owner)},
		"name":            v.Title,
		"duration":        fmt.Sprintf("PT%dS", v.Duration),
		"uuid":            util.StableUUID(v.Id.String(), s.secret).String(),
		"views":           v.Viewcount,
		"waitTranscoding": v.EncodingInProgress,
		"commentsEnabled": !v.DisableComment,
		"comments":        s.urls.VideoSub(v.Slug, "comments"),
		"downloadEnabled": v.AllowDownloading,
		"published":       v.DateAdded.UTC().Format(time.RFC3339),
		"updated":         updated.UTC().Format(time.RFC3339),
		"tag":             s.hashtags(v.Tags),
		"url":             s.videoLinks(v),
		"attributedTo":    s.attributions(v),
		"sensitive":       false,
		"likes":           s.urls.VideoSub(v.Slug, "likes"),
		"dislikes":        s.urls.VideoSub(v.Slug, "dislikes"),
		"shares":          s.urls.VideoSub(v.Slug, "shares"),
	}

	if len(v.Tracks) > 0 {
		subtitles := make([]map[string]any, 0, len(v.Tracks))
		for _, t := range v.Tracks {
			subtitles = append(subtitles, map[string]any{
				"identifier": t.Lang,
				"name":       s.langs.Name(t.Lang),
				"url":        t.URL,
			})
		}
		doc["subtitleLanguage"] = subtitles
	}
	if len(v.Chapters) > 0 {
		doc["hasParts"] = s.urls.VideoSub(v.Slug, "chapters")
	}
	if l, ok := licences[v.Licence]; ok {
		doc["licence"] = map[string]any{"identifier": strconv.Itoa(l.ID), "name": l.Name}
	}
	if v.MainLang != "" {
		doc["language"] = map[string]any{"identifier": v.MainLang, "name": s.langs.Name(v.MainLang)}
	}
	if v.Description != "" {
		doc["mediaType"] = "text/markdown"
		doc["content"] = v.Description
	}
	if v.Thumbnail.URL != "" {
		// PeerTube only accepts image/jpeg icons
		doc["icon"] = []map[string]any{{
			"type":      "Image",
			"url":       v.Thumbnail.URL,
			"width":     v.Thumbnail.Width,
			"height":    v.Thumbnail.Height,
			"mediaType": "image/jpeg",
		}}
	}
	return doc
}

func (s *Serializer) hashtags(tags []string) []map[string]any {
	out := make([]map[string]any, 0, len(tags))
	for _, t := range tags {
		if slug := slugify(t); slug != "" {
			out = append(out, map[string]any{"type": "Hashtag", "name": slug})
		}
	}
	return out
}

// videoLinks lists the watch page, every mp4 rendition, and a magnet link
// per rendition.
func (s *Serializer) videoLinks(v *domain.Video) []map[string]any {
	links := []map[string]any{{
		"type":      "Link",
		"mediaType": "text/html",
		"href":      s.urls.VideoPage(v.Slug),
	}}
	var magnets []map[string]any
	for _, r := range v.Renditions {
		format := r.Format
		if format == "" {
			format = "video/mp4"
		}
		links = append(links, map[string]any{
			"type":      "Link",
			"mediaType": format,
			"href":      s.absolute(r.Src),
			"height":    r.Height,
			"width":     r.Width,
			"size":      r.Size,
		})
		magnets = append(magnets, map[string]any{
			"type":      "Link",
			"mediaType": magnetMediaType,
			"href":      s.magnet(v, r.Height),
			"height":    r.Height,
			"width":     r.Width,
		})
	}
	return append(links, magnets...)
}

// magnet builds the magnet URI PeerTube expects next to every mp4 link. The
// info hash is derived from the video uuid and height so it is stable.
func (s *Serializer) magnet(v *domain.Video, height int) string {
	id := util.StableUUID(v.Id.String(), s.secret).String()
	sum := sha1.Sum([]byte(id + strconv.Itoa(height)))

	wsBase := strings.Replace(s.urls.Base(), "https://", "wss://", 1)
	wsBase = strings.Replace(wsBase, "http://", "ws://", 1)

	params := url.Values{}
	params.Set("dn", v.Slug)
	params.Add("tr", s.urls.Base()+"/tracker/announce")
	params.Add("tr", wsBase+"/tracker/socket")
	params.Set("ws", fmt.Sprintf("%s/static/streaming-playlists/hls/%s-%d-fragmented.mp4", s.urls.Base(), id, height))
	params.Set("xs", fmt.Sprintf("%s/lazy-static/torrents/%s-%d-hls.torrent", s.urls.Base(), id, height))
	params.Set("xt", "urn:btih:"+hex.EncodeToString(sum[:]))
	return "magnet:?" + params.Encode()
}

func (s *Serializer) attributions(v *domain.Video) []map[string]any {
	out := []map[string]any{
		{"type": "Person", "id": s.urls.Account(v.Owner)},
		{"type": "Group", "id": s.urls.AccountChannel(v.Owner)},
	}
	for _, slug := range v.Channels {
		out = append(out, map[string]any{"type": "Group", "id": s.urls.Channel(slug)})
	}
	return out
}

func (s *Serializer) absolute(src string) string {
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		return src
	}
	return s.urls.Base() + "/" + strings.TrimLeft(src, "/")
}

// Chapters renders the hasParts document of a video.
func (s *Serializer) Chapters(v *domain.Video) map[string]any {
	parts := make([]map[string]any, 0, len(v.Chapters))
	for _, c := range v.Chapters {
		parts = append(parts, map[string]any{
			"name":        c.Title,
			"startOffset": c.Start,
			"endOffset":   c.End,
		})
	}
	return map[string]any{
		"@context": withContext(peertubeChaptersContext()),
		"id":       s.urls.VideoSub(v.Slug, "chapters"),
		"hasPart":  parts,
	}
}

// Collection is the empty OrderedCollection stub served for followers,
// following and video sub-collections.
func Collection(id string, total int) map[string]any {
	return map[string]any{
		"@context":   DefaultContext(),
		"id":         id,
		"type":       "OrderedCollection",
		"totalItems": total,
	}
}

func slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}

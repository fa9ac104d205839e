package activitypub

import (
	_ "embed"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/piprate/json-gold/ld"
)

const (
	ActivityStreamsContext = "https://www.w3.org/ns/activitystreams"
	SecurityContext        = "https://w3id.org/security/v1"
	PublicCollection       = "https://www.w3.org/ns/activitystreams#Public"

	ContentType     = "application/activity+json"
	AcceptHeader    = "application/activity+json, application/ld+json"
	NodeInfoSchema  = "http://nodeinfo.diaspora.software/ns/schema/2.0"
	ApplicationLink = "https://www.w3.org/ns/activitystreams#Application"
)

//go:embed contexts/activitystreams.jsonld
var activityStreamsDoc []byte

//go:embed contexts/security-v1.jsonld
var securityDoc []byte

// DefaultContext is the @context of every activity this server emits.
func DefaultContext() []any {
	return []any{
		ActivityStreamsContext,
		SecurityContext,
		map[string]any{"RsaSignature2017": "https://w3id.org/security#RsaSignature2017"},
	}
}

func withContext(extra map[string]any) []any {
	return append(DefaultContext(), extra)
}

func peertubeVideoContext() map[string]any {
	return map[string]any{
		"pt":               "https://joinpeertube.org/ns#",
		"sc":               "http://schema.org/",
		"Hashtag":          "as:Hashtag",
		"uuid":             "sc:identifier",
		"category":         "sc:category",
		"licence":          "sc:license",
		"subtitleLanguage": "sc:subtitleLanguage",
		"sensitive":        "as:sensitive",
		"language":         "sc:inLanguage",
		"identifier":       "sc:identifier",
		"hasParts":         "sc:hasParts",
		"views":            map[string]any{"@type": "sc:Number", "@id": "pt:views"},
		"size":             map[string]any{"@type": "sc:Number", "@id": "pt:size"},
		"fps":              map[string]any{"@type": "sc:Number", "@id": "pt:fps"},
		"waitTranscoding":  map[string]any{"@type": "sc:Boolean", "@id": "pt:waitTranscoding"},
		"commentsEnabled":  map[string]any{"@type": "sc:Boolean", "@id": "pt:commentsEnabled"},
		"downloadEnabled":  map[string]any{"@type": "sc:Boolean", "@id": "pt:downloadEnabled"},
		"dislikes":         map[string]any{"@id": "as:dislikes", "@type": "@id"},
		"comments":         map[string]any{"@id": "as:comments", "@type": "@id"},
	}
}

func peertubeChannelContext() map[string]any {
	return map[string]any{
		"pt":        "https://joinpeertube.org/ns#",
		"sc":        "http://schema.org/",
		"playlists": map[string]any{"@id": "pt:playlists", "@type": "@id"},
		"support":   "sc:support",
		"icons":     "as:icon",
	}
}

func peertubeChaptersContext() map[string]any {
	return map[string]any{
		"pt":          "https://joinpeertube.org/ns#",
		"sc":          "http://schema.org/",
		"name":        "sc:name",
		"hasPart":     "sc:hasPart",
		"endOffset":   "sc:endOffset",
		"startOffset": "sc:startOffset",
	}
}

var (
	loaderOnce sync.Once
	loader     *ld.CachingDocumentLoader
)

// documentLoader serves the ActivityStreams and security contexts from memory
// and falls back to HTTP for anything else.
func documentLoader() ld.DocumentLoader {
	loaderOnce.Do(func() {
		loader = ld.NewCachingDocumentLoader(ld.NewDefaultDocumentLoader(&http.Client{Timeout: 10 * time.Second}))
		for url, raw := range map[string][]byte{
			ActivityStreamsContext:                 activityStreamsDoc,
			"http://www.w3.org/ns/activitystreams": activityStreamsDoc,
			SecurityContext:                        securityDoc,
		} {
			var doc any
			if err := json.Unmarshal(raw, &doc); err != nil {
				panic("activitypub: embedded context " + url + " is invalid: " + err.Error())
			}
			loader.AddDocument(url, doc)
		}
	})
	return loader
}

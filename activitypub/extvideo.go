package activitypub

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/deemkeen/vidfed/domain"
	"github.com/deemkeen/vidfed/util"
)

var durationPattern = regexp.MustCompile(`^PT(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?$`)

// ExternalVideoFromPayload maps a remote Video object onto a mirror record.
// The source instance is left for the caller to set.
func ExternalVideoFromPayload(payload map[string]any, langs util.Languages) (*domain.ExternalVideo, error) {
	if t := stringField(payload, "type"); t != "Video" {
		return nil, violation("expected a Video, got %q", t)
	}
	apID := idOf(payload["id"])
	if apID == "" {
		return nil, violation("Video has no id")
	}

	v := &domain.ExternalVideo{
		APID:      apID,
		Title:     stringField(payload, "name"),
		Videos:    mp4Renditions(payload),
		Thumbnail: thumbnail(payload["icon"]),
		Viewcount: intField(payload, "views"),
	}

	if d := stringField(payload, "duration"); d != "" {
		seconds, err := parseDuration(d)
		if err != nil {
			return nil, err
		}
		v.Duration = seconds
	}

	if published := stringField(payload, "published"); published != "" {
		t, err := time.Parse(time.RFC3339, published)
		if err != nil {
			return nil, violation("bad published date %q", published)
		}
		v.DateAdded = t.UTC()
	} else {
		v.DateAdded = time.Now().UTC()
	}

	if lang, ok := payload["language"].(map[string]any); ok {
		if code := stringField(lang, "identifier"); code != "" && langs.Has(code) {
			v.MainLang = code
		}
	}
	v.Description = stringField(payload, "content")
	return v, nil
}

// mp4Renditions collects the video/mp4 links of url[]. Some PeerTube versions
// only list them nested in the tag[] of streaming playlist links.
func mp4Renditions(payload map[string]any) []domain.Rendition {
	links, _ := payload["url"].([]any)
	out := renditionsOf(links)
	if len(out) > 0 {
		return out
	}
	var nested []any
	for _, l := range links {
		link, ok := l.(map[string]any)
		if !ok {
			continue
		}
		if tags, ok := link["tag"].([]any); ok {
			nested = append(nested, tags...)
		}
	}
	return renditionsOf(nested)
}

func renditionsOf(links []any) []domain.Rendition {
	var out []domain.Rendition
	for _, l := range links {
		link, ok := l.(map[string]any)
		if !ok || stringField(link, "mediaType") != "video/mp4" {
			continue
		}
		href := stringField(link, "href")
		if href == "" {
			continue
		}
		out = append(out, domain.Rendition{
			Type:   "video/mp4",
			Src:    href,
			Size:   int64(intField(link, "size")),
			Width:  intField(link, "width"),
			Height: intField(link, "height"),
		})
	}
	return out
}

func thumbnail(icon any) string {
	var icons []any
	switch i := icon.(type) {
	case []any:
		icons = i
	case map[string]any:
		icons = []any{i}
	}
	for _, raw := range icons {
		img, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if u := stringField(img, "url"); strings.Contains(u, "thumbnails") {
			return u
		}
	}
	return ""
}

// parseDuration reads an xsd:duration limited to hours, minutes and seconds.
func parseDuration(s string) (int, error) {
	m := durationPattern.FindStringSubmatch(s)
	if m == nil || s == "PT" {
		return 0, violation("unsupported duration %q", s)
	}
	total := 0
	for i, unit := range []int{3600, 60, 1} {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return 0, violation("unsupported duration %q", s)
		}
		total += n * unit
	}
	return total, nil
}

// intField reads a JSON number, tolerating numbers sent as strings.
func intField(obj map[string]any, key string) int {
	switch n := obj[key].(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	case string:
		i, _ := strconv.Atoi(n)
		return i
	}
	return 0
}

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Rendition is one playable file of a mirrored video.
type Rendition struct {
	Type   string `json:"type"`
	Src    string `json:"src"`
	Size   int64  `json:"size"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// ExternalVideo is a local mirror of a video hosted by a followed instance,
// keyed by its ActivityPub id.
type ExternalVideo struct {
	Id             uuid.UUID
	APID           string
	Title          string
	Description    string
	DateAdded      time.Time
	Duration       int
	Viewcount      int
	Thumbnail      string
	Videos         []Rendition
	MainLang       string
	SourceInstance uuid.UUID
	UpdatedAt      time.Time
}

type Image struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type VideoFile struct {
	Src    string `json:"src"`
	Size   int64  `json:"size"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Format string `json:"format"`
}

type Track struct {
	Lang string `json:"lang"`
	URL  string `json:"url"`
}

type Chapter struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Title string `json:"title"`
}

// Video is a video of the local catalog. The catalog belongs to the hosting
// platform; federation only reads it and reacts to its visibility changes.
type Video struct {
	Id                 uuid.UUID
	Slug               string
	Title              string
	Description        string
	Owner              string
	DateAdded          time.Time
	Duration           int
	Viewcount          int
	Thumbnail          Image
	Tags               []string
	Renditions         []VideoFile
	MainLang           string
	Licence            string
	IsRestricted       bool
	AllowDownloading   bool
	DisableComment     bool
	EncodingInProgress bool
	Channels           []string
	Tracks             []Track
	Chapters           []Chapter
	UpdatedAt          time.Time
}

// IsPublic reports whether the video may be federated.
func (v *Video) IsPublic() bool {
	return !v.IsRestricted && !v.EncodingInProgress
}

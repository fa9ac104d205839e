package web

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/deemkeen/vidfed/activitypub"
	"github.com/deemkeen/vidfed/db"
	"github.com/deemkeen/vidfed/domain"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"
	"github.com/gorilla/feeds"
)

const feedSize = 50

var errUnknownAccount = errors.New("unknown account")

// GetRSS renders the newest public videos of the catalog, or of one account,
// as RSS 2.0.
func GetRSS(ctx context.Context, database *db.DB, urls *activitypub.URLs, instanceName, username string) (string, error) {
	title := fmt.Sprintf("%s videos", instanceName)
	link := urls.Feed()
	author := instanceName

	if username != "" {
		acc, err := database.ReadAccByUsername(ctx, username)
		if errors.Is(err, sql.ErrNoRows) {
			return "", errUnknownAccount
		}
		if err != nil {
			return "", err
		}
		author = acc.Username
		if acc.DisplayName != "" {
			author = acc.DisplayName
		}
		title = fmt.Sprintf("%s - %s", title, author)
		link = fmt.Sprintf("%s?username=%s", link, acc.Username)
	}

	videos, err := database.ReadPublicVideos(ctx, username, feedSize, 0)
	if err != nil {
		return "", err
	}

	feed := &feeds.Feed{
		Title:       title,
		Link:        &feeds.Link{Href: link},
		Description: fmt.Sprintf("Public videos published on %s", urls.Base()),
		Author:      &feeds.Author{Name: author},
		Created:     time.Now(),
	}
	for i := range videos {
		feed.Items = append(feed.Items, feedItem(urls, &videos[i]))
	}
	return feed.ToRss()
}

func feedItem(urls *activitypub.URLs, v *domain.Video) *feeds.Item {
	item := &feeds.Item{
		Id:          urls.Video(v.Slug),
		Title:       v.Title,
		Link:        &feeds.Link{Href: urls.VideoPage(v.Slug)},
		Description: v.Description,
		Author:      &feeds.Author{Name: v.Owner},
		Created:     v.DateAdded,
		Updated:     v.UpdatedAt,
	}
	if len(v.Renditions) > 0 {
		best := v.Renditions[0]
		for _, r := range v.Renditions[1:] {
			if r.Height > best.Height {
				best = r
			}
		}
		item.Enclosure = &feeds.Enclosure{
			Url:    absoluteURL(urls, best.Src),
			Length: strconv.FormatInt(best.Size, 10),
			Type:   "video/" + cmp.Or(best.Format, "mp4"),
		}
	}
	return item
}

func absoluteURL(urls *activitypub.URLs, src string) string {
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		return src
	}
	return urls.Base() + "/" + strings.TrimLeft(src, "/")
}

func (s *Server) getFeed(c *gin.Context) {
	rss, err := GetRSS(c.Request.Context(), s.db, s.urls, s.conf.Server.InstanceName, c.Query("username"))
	if errors.Is(err, errUnknownAccount) {
		c.Render(http.StatusNotFound, render.String{Format: ""})
		return
	}
	if err != nil {
		s.internalError(c, "Rendering feed failed", err)
		return
	}
	c.Header("Content-Type", "application/xml; charset=utf-8")
	c.Render(http.StatusOK, render.String{Format: rss})
}

package web

import (
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"github.com/deemkeen/vidfed/activitypub"
	"github.com/deemkeen/vidfed/util"
	"github.com/gin-gonic/gin"
)

// webfingerUser extracts the user part of an acct: resource addressed to
// domain. ok is false for any other resource.
func webfingerUser(resource, domain string) (user string, ok bool) {
	acct, found := strings.CutPrefix(resource, "acct:")
	if !found {
		return "", false
	}
	user, host, found := strings.Cut(acct, "@")
	if !found || user == "" || !strings.EqualFold(host, domain) {
		return "", false
	}
	return user, true
}

func webfingerDocument(subject, href string) gin.H {
	return gin.H{
		"subject": subject,
		"aliases": []string{href},
		"links": []gin.H{
			{
				"rel":  "self",
				"type": activitypub.ContentType,
				"href": href,
			},
		},
	}
}

func (s *Server) getWebfinger(c *gin.Context) {
	resource := c.Query("resource")
	user, ok := webfingerUser(resource, s.conf.Server.Domain)
	if !ok {
		notFound(c)
		return
	}

	href := s.urls.Instance()
	if user != activitypub.InstanceActorName {
		acc, err := s.db.ReadAccByUsername(c.Request.Context(), user)
		if errors.Is(err, sql.ErrNoRows) {
			notFound(c)
			return
		}
		if err != nil {
			s.internalError(c, "Webfinger lookup failed", err)
			return
		}
		href = s.urls.Account(acc.Username)
	}

	c.Header("Content-Type", "application/jrd+json; charset=utf-8")
	c.JSON(http.StatusOK, webfingerDocument(resource, href))
}

func (s *Server) getNodeInfoLinks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"links": []gin.H{
			{"rel": activitypub.NodeInfoSchema, "href": s.urls.NodeInfo()},
			{"rel": activitypub.ApplicationLink, "href": s.urls.Instance()},
		},
	})
}

func (s *Server) getNodeInfo(c *gin.Context) {
	ctx := c.Request.Context()
	users, err := s.db.CountAccounts(ctx)
	if err != nil {
		s.internalError(c, "Counting accounts failed", err)
		return
	}
	videos, err := s.db.CountPublicVideos(ctx, "")
	if err != nil {
		s.internalError(c, "Counting videos failed", err)
		return
	}

	c.Header("Content-Type", `application/json; profile="`+activitypub.NodeInfoSchema+`#"`)
	c.JSON(http.StatusOK, gin.H{
		"version": "2.0",
		"software": gin.H{
			"name":    util.Name,
			"version": util.GetVersion(),
		},
		"protocols": []string{"activitypub"},
		"services": gin.H{
			"inbound":  []string{},
			"outbound": []string{"rss2.0"},
		},
		"openRegistrations": false,
		"usage": gin.H{
			"users":      gin.H{"total": users},
			"localPosts": videos,
		},
		"metadata": gin.H{
			"nodeName": s.conf.Server.InstanceName,
		},
	})
}

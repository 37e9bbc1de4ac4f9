package web

import (
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/3o14-com/backend/activitypub"
	"github.com/3o14-com/backend/util"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const activityJSON = "application/activity+json; charset=utf-8"

// handleParam strips the leading @ of an account path segment. Local
// account pages live under /@handle.
func handleParam(c *gin.Context) (string, bool) {
	param := c.Param("handle")
	if !strings.HasPrefix(param, "@") {
		return "", false
	}
	return strings.TrimPrefix(param, "@"), true
}

// Router serves the federation surface and the RSS feed.
func Router(conf *util.AppConfig, handler *activitypub.Handler) error {
	log.Printf("Starting server on %s:%d", conf.Conf.Host, conf.Conf.HttpPort)
	g := gin.Default()
	g.Use(gzip.Gzip(gzip.DefaultCompression))

	// Global rate limiter: 10 requests per second per IP, burst of 20
	globalLimiter := NewRateLimiter(rate.Limit(10), 20)
	g.Use(RateLimitMiddleware(globalLimiter))

	g.GET("/feed", func(c *gin.Context) {
		c.Header("Content-Type", "application/xml; charset=utf-8")
		rss, err := GetRSS(handler, c.Query("handle"))
		if err != nil {
			c.Render(http.StatusNotFound, render.String{Format: ""})
			return
		}
		c.Render(http.StatusOK, render.String{Format: rss})
	})

	if conf.Conf.WithAp {
		// Stricter limit and a 1MB body cap for federation endpoints.
		apLimiter := NewRateLimiter(rate.Limit(5), 10)
		maxBodySize := MaxBytesMiddleware(1 * 1024 * 1024)

		g.POST("/inbox", RateLimitMiddleware(apLimiter), maxBodySize, func(c *gin.Context) {
			HandleInbox(handler, c)
		})

		g.POST("/:handle/inbox", RateLimitMiddleware(apLimiter), maxBodySize, func(c *gin.Context) {
			if _, ok := handleParam(c); !ok {
				c.Status(http.StatusNotFound)
				return
			}
			// Per-account inboxes feed the same pipeline as the shared one;
			// the engine routes by activity content.
			HandleInbox(handler, c)
		})

		g.GET("/:handle", func(c *gin.Context) {
			handle, ok := handleParam(c)
			if !ok {
				c.Status(http.StatusNotFound)
				return
			}
			c.Header("Content-Type", activityJSON)
			err, doc := ActorDoc(handler, handle)
			if err != nil {
				c.JSON(http.StatusNotFound, gin.H{"error": "Account not found"})
				return
			}
			c.Render(http.StatusOK, render.String{Format: "%s", Data: []any{doc}})
		})

		g.GET("/:handle/outbox", func(c *gin.Context) {
			handle, ok := handleParam(c)
			if !ok {
				c.Status(http.StatusNotFound)
				return
			}
			c.Header("Content-Type", activityJSON)
			err, doc := OutboxDoc(handler, handle, 20)
			if err != nil {
				c.JSON(http.StatusNotFound, gin.H{"error": "Account not found"})
				return
			}
			c.Render(http.StatusOK, render.String{Format: "%s", Data: []any{doc}})
		})

		for _, which := range []string{"followers", "following"} {
			which := which
			g.GET("/:handle/"+which, func(c *gin.Context) {
				handle, ok := handleParam(c)
				if !ok {
					c.Status(http.StatusNotFound)
					return
				}
				c.Header("Content-Type", activityJSON)
				err, doc := FollowerCountDoc(handler, handle, which)
				if err != nil {
					c.JSON(http.StatusNotFound, gin.H{"error": "Account not found"})
					return
				}
				c.Render(http.StatusOK, render.String{Format: "%s", Data: []any{doc}})
			})
		}

		g.GET("/:handle/:id", func(c *gin.Context) {
			handle, ok := handleParam(c)
			if !ok {
				c.Status(http.StatusNotFound)
				return
			}
			postId, err := uuid.Parse(c.Param("id"))
			if err != nil {
				c.JSON(http.StatusNotFound, gin.H{"error": "Invalid post ID"})
				return
			}
			c.Header("Content-Type", activityJSON)
			err, doc := ObjectDoc(handler, handle, postId, requesterIdentity(handler, c))
			if err != nil {
				c.JSON(http.StatusNotFound, gin.H{"error": "Post not found"})
				return
			}
			c.Render(http.StatusOK, render.String{Format: "%s", Data: []any{doc}})
		})

		g.GET("/.well-known/webfinger", func(c *gin.Context) {
			c.Header("Content-Type", "application/jrd+json; charset=utf-8")
			resource := c.Query("resource")
			if resource == "" || !strings.HasPrefix(resource, "acct:") {
				c.Render(http.StatusNotFound, render.String{Format: WebfingerNotFound()})
				return
			}
			err, doc := Webfinger(handler, resource)
			if err != nil {
				c.Render(http.StatusNotFound, render.String{Format: WebfingerNotFound()})
				return
			}
			c.Render(http.StatusOK, render.String{Format: "%s", Data: []any{doc}})
		})
	}

	return g.Run(fmt.Sprintf("%s:%d", conf.Conf.Host, conf.Conf.HttpPort))
}

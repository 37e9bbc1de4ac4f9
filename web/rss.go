package web

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/3o14-com/backend/activitypub"
	"github.com/3o14-com/backend/domain"
	"github.com/3o14-com/backend/util"
	"github.com/gorilla/feeds"
)

const feedLimit = 50

// GetRSS renders the public posts of one local account, or of the whole
// instance when handle is empty, as an RSS feed.
func GetRSS(h *activitypub.Handler, handle string) (string, error) {
	var err error
	var posts []domain.Post
	var title string
	var author string

	link := fmt.Sprintf("%s/feed", h.Conf.Origin())

	if handle != "" {
		err, owner := h.DB.ReadOwnerByHandle(handle)
		if err != nil {
			return "", errors.New("unknown account")
		}
		err, posts = h.DB.ReadPublicPostsByAccount(owner.Id, feedLimit)
		if err != nil {
			log.Printf("Feed: Could not read posts of %s: %v", handle, err)
			return "", errors.New("error retrieving posts")
		}
		title = fmt.Sprintf("%s - %s", util.Name, handle)
		author = handle
		link = fmt.Sprintf("%s?handle=%s", link, handle)
	} else {
		err, posts = h.DB.ReadRecentPublicPosts(feedLimit)
		if err != nil {
			log.Printf("Feed: Could not read posts: %v", err)
			return "", errors.New("error retrieving posts")
		}
		title = fmt.Sprintf("%s - all posts", util.Name)
		author = "everyone"
	}

	feed := &feeds.Feed{
		Title:       title,
		Link:        &feeds.Link{Href: link},
		Description: fmt.Sprintf("public posts on %s", h.Conf.Conf.Domain),
		Author:      &feeds.Author{Name: author, Email: fmt.Sprintf("%s@%s", author, h.Conf.Conf.Domain)},
		Created:     time.Now(),
	}

	for _, post := range posts {
		feed.Items = append(feed.Items, feedItem(h, &post))
	}
	return feed.ToRss()
}

func feedItem(h *activitypub.Handler, post *domain.Post) *feeds.Item {
	created := post.Updated
	if post.Published != nil {
		created = *post.Published
	}
	authorName := ""
	if err, acc := h.DB.ReadAccountById(post.AccountId); err == nil {
		authorName = acc.Username()
	}
	return &feeds.Item{
		Id:      post.Iri,
		Title:   created.Format(util.DateTimeFormat()),
		Link:    &feeds.Link{Href: post.Url},
		Content: post.ContentHtml,
		Author:  &feeds.Author{Name: authorName},
		Created: created,
	}
}

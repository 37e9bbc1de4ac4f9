package web

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/3o14-com/backend/activitypub"
)

type webfingerLink struct {
	Rel  string `json:"rel"`
	Type string `json:"type,omitempty"`
	Href string `json:"href,omitempty"`
}

type webfingerResponse struct {
	Subject string          `json:"subject"`
	Aliases []string        `json:"aliases,omitempty"`
	Links   []webfingerLink `json:"links"`
}

// Webfinger resolves an "acct:user@domain" resource to the local account's
// actor IRI.
func Webfinger(h *activitypub.Handler, resource string) (error, []byte) {
	name := strings.TrimPrefix(resource, "acct:")
	name = strings.TrimSuffix(name, "@"+h.Conf.Conf.Domain)
	name = strings.TrimPrefix(name, "@")

	err, owner := h.DB.ReadOwnerByHandle(name)
	if err != nil {
		return err, nil
	}
	err, acc := h.DB.ReadAccountById(owner.Id)
	if err != nil {
		return err, nil
	}

	resp := webfingerResponse{
		Subject: fmt.Sprintf("acct:%s@%s", owner.Handle, h.Conf.Conf.Domain),
		Aliases: []string{acc.Iri},
		Links: []webfingerLink{
			{
				Rel:  "self",
				Type: "application/activity+json",
				Href: acc.Iri,
			},
			{
				Rel:  "http://webfinger.net/rel/profile-page",
				Type: "text/html",
				Href: acc.Url,
			},
		},
	}
	doc, err := json.Marshal(&resp)
	return err, doc
}

// WebfingerNotFound is the body served for unknown resources.
func WebfingerNotFound() string {
	return `{"detail":"Not Found"}`
}

package web

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/3o14-com/backend/activitypub"
	"github.com/gin-gonic/gin"
)

// HandleInbox verifies the HTTP signature of an inbound delivery and hands
// the activity to the federation handler. The signing key is taken from a
// fresh fetch of the signer's actor document.
//
// In closed federation mode only actors already known to the instance are
// accepted.
func HandleInbox(h *activitypub.Handler, c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		log.Printf("Inbox: Failed to read body: %v", err)
		c.Status(http.StatusBadRequest)
		return
	}

	var probe struct {
		Actor activitypub.IRI `json:"actor"`
		Type  string          `json:"type"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		c.Status(http.StatusBadRequest)
		return
	}

	if h.Conf.Conf.Closed {
		err, known := h.DB.ReadAccountByIri(probe.Actor.String())
		if err != nil || known == nil {
			log.Printf("Inbox: Rejecting %s from unknown actor %s (closed federation)", probe.Type, probe.Actor)
			c.Status(http.StatusForbidden)
			return
		}
	}

	signerIri, err := activitypub.KeyOwner(c.Request)
	if err != nil {
		log.Printf("Inbox: Unsigned %s from %s: %v", probe.Type, probe.Actor, err)
		c.Status(http.StatusUnauthorized)
		return
	}

	signer, err := h.FetchActor(c.Request.Context(), signerIri)
	if err != nil || signer.PublicKey.PublicKeyPem == "" {
		// A Delete often arrives after the actor document is gone; there is
		// nothing left to verify or to do.
		if probe.Type == "Delete" {
			c.Status(http.StatusAccepted)
			return
		}
		log.Printf("Inbox: Could not fetch signer key %s: %v", signerIri, err)
		c.Status(http.StatusUnauthorized)
		return
	}

	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	verified, err := activitypub.VerifyRequest(c.Request, signer.PublicKey.PublicKeyPem)
	if err != nil {
		log.Printf("Inbox: Signature verification failed for %s: %v", signerIri, err)
		c.Status(http.StatusUnauthorized)
		return
	}

	// Forwarded activities carry their author in the actor field but the
	// forwarding server's signature; both are acceptable.
	if probe.Actor.String() != verified {
		log.Printf("Inbox: %s by %s forwarded by %s", probe.Type, probe.Actor, verified)
	}

	if err := h.HandleActivity(c.Request.Context(), body); err != nil {
		log.Printf("Inbox: Processing %s from %s failed: %v", probe.Type, probe.Actor, err)
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Status(http.StatusAccepted)
}

// requesterIdentity returns the verified actor IRI behind a signed request,
// or "" when the request is unsigned or the signature does not check out.
// Object dereferencing uses it to gate non-public posts.
func requesterIdentity(h *activitypub.Handler, c *gin.Context) string {
	signerIri, err := activitypub.KeyOwner(c.Request)
	if err != nil {
		return ""
	}
	signer, err := h.FetchActor(c.Request.Context(), signerIri)
	if err != nil || signer.PublicKey.PublicKeyPem == "" {
		return ""
	}
	verified, err := activitypub.VerifyRequest(c.Request, signer.PublicKey.PublicKeyPem)
	if err != nil {
		return ""
	}
	return verified
}

package activitypub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/3o14-com/backend/util"
)

const (
	acceptHeader = `application/activity+json, application/ld+json; profile="https://www.w3.org/ns/activitystreams"`

	// maxDocumentBytes caps how much of a remote document gets read.
	maxDocumentBytes = 1 << 20

	// maxCollectionPages bounds paged collection traversal so a hostile or
	// broken server cannot keep the engine walking forever.
	maxCollectionPages = 5
)

// Fetcher dereferences a remote IRI into its raw JSON document. Tests
// substitute a map-backed implementation.
type Fetcher interface {
	Fetch(ctx context.Context, iri string) ([]byte, error)
}

// HTTPFetcher fetches ActivityStreams documents over the network.
type HTTPFetcher struct {
	Client *http.Client
}

func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{Client: &http.Client{Timeout: 15 * time.Second}}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, iri string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, iri, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("User-Agent", util.GetNameAndVersion())

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch %s: remote returned status %d", iri, resp.StatusCode)
	}

	return io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
}

// FetchActor dereferences and decodes a remote actor document.
func (h *Handler) FetchActor(ctx context.Context, iri string) (*Actor, error) {
	body, err := h.Fetcher.Fetch(ctx, iri)
	if err != nil {
		return nil, err
	}
	var actor Actor
	if err := json.Unmarshal(body, &actor); err != nil {
		return nil, fmt.Errorf("decode actor %s: %w", iri, err)
	}
	return &actor, nil
}

// fetchObject dereferences and decodes a remote post object.
func (h *Handler) fetchObject(ctx context.Context, iri string) (*Object, error) {
	body, err := h.Fetcher.Fetch(ctx, iri)
	if err != nil {
		return nil, err
	}
	var obj Object
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, fmt.Errorf("decode object %s: %w", iri, err)
	}
	return &obj, nil
}

// eachCollectionItem walks a remote collection page by page, calling fn for
// every item. Traversal is bounded and error-tolerant: an unreachable page
// ends the walk without failing what was already processed.
func (h *Handler) eachCollectionItem(ctx context.Context, col *Collection, fn func(item json.RawMessage)) {
	if col == nil {
		return
	}
	page := col
	for i := 0; i < maxCollectionPages; i++ {
		items := page.PageItems()
		for _, item := range items {
			fn(item)
		}

		var nextRef string
		switch {
		case len(items) == 0 && len(page.First) > 0:
			if first := decodeCollectionRef(page.First); first != nil {
				page = first
				continue
			}
			nextRef = rawIRI(page.First)
		case i == 0 && len(items) == 0 && page.ID != "":
			// Bare collection reference: dereference the collection itself.
			nextRef = page.ID
		case len(page.Next) > 0:
			nextRef = rawIRI(page.Next)
		}
		if nextRef == "" {
			return
		}

		body, err := h.Fetcher.Fetch(ctx, nextRef)
		if err != nil {
			return
		}
		var next Collection
		if err := json.Unmarshal(body, &next); err != nil {
			return
		}
		page = &next
	}
}

// decodeCollectionRef decodes an embedded collection page, returning nil
// when the reference is a bare IRI string.
func decodeCollectionRef(raw json.RawMessage) *Collection {
	if len(raw) == 0 || raw[0] != '{' {
		return nil
	}
	var col Collection
	if err := json.Unmarshal(raw, &col); err != nil {
		return nil
	}
	return &col
}

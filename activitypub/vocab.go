package activitypub

import (
	"encoding/json"
	"time"
)

const (
	// ActivityContext is the JSON-LD context for ActivityStreams documents.
	ActivityContext = "https://www.w3.org/ns/activitystreams"

	// PublicCollection is the special addressee marking a public post.
	PublicCollection = "https://www.w3.org/ns/activitystreams#Public"
)

// IRI is an identifier field that remote servers serialize either as a bare
// string or as an embedded object carrying "id" or "href".
type IRI string

func (i *IRI) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*i = IRI(s)
		return nil
	}
	var obj struct {
		ID   string `json:"id"`
		Href string `json:"href"`
	}
	if err := json.Unmarshal(data, &obj); err == nil {
		if obj.ID != "" {
			*i = IRI(obj.ID)
		} else {
			*i = IRI(obj.Href)
		}
		return nil
	}
	*i = ""
	return nil
}

func (i IRI) String() string {
	return string(i)
}

// StringList is an addressing field that may arrive as a single string or
// as an array; non-string array members are skipped.
type StringList []string

func (l *StringList) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*l = StringList{s}
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		*l = nil
		return nil
	}
	var out StringList
	for _, item := range raw {
		var iri IRI
		if err := json.Unmarshal(item, &iri); err == nil && iri != "" {
			out = append(out, iri.String())
		}
	}
	*l = out
	return nil
}

func (l StringList) Contains(s string) bool {
	for _, item := range l {
		if item == s {
			return true
		}
	}
	return false
}

// Activity is the generic envelope of an inbound or outbound activity.
type Activity struct {
	Context   json.RawMessage `json:"@context,omitempty"`
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Actor     IRI             `json:"actor"`
	Object    json.RawMessage `json:"object,omitempty"`
	Target    json.RawMessage `json:"target,omitempty"`
	To        StringList      `json:"to,omitempty"`
	CC        StringList      `json:"cc,omitempty"`
	Content   string          `json:"content,omitempty"`
	Published string          `json:"published,omitempty"`
}

// ObjectIRI returns the identifier of the activity's object, whether the
// object is an IRI reference or an embedded document.
func (a *Activity) ObjectIRI() string {
	return rawIRI(a.Object)
}

// TargetIRI returns the identifier of the activity's target.
func (a *Activity) TargetIRI() string {
	return rawIRI(a.Target)
}

// EmbeddedActivity decodes the wrapped activity of an Undo/Accept/Reject,
// or nil when the object is a bare IRI reference.
func (a *Activity) EmbeddedActivity() *Activity {
	if len(a.Object) == 0 || a.Object[0] != '{' {
		return nil
	}
	var wrapped Activity
	if err := json.Unmarshal(a.Object, &wrapped); err != nil {
		return nil
	}
	return &wrapped
}

func rawIRI(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var iri IRI
	if err := json.Unmarshal(raw, &iri); err != nil {
		return ""
	}
	return iri.String()
}

// Tag is a mention or link tag attached to a post object.
type Tag struct {
	Type      string `json:"type"`
	Name      string `json:"name,omitempty"`
	Href      string `json:"href,omitempty"`
	MediaType string `json:"mediaType,omitempty"`
}

// Attachment is a media attachment node.
type Attachment struct {
	Type      string `json:"type"`
	MediaType string `json:"mediaType,omitempty"`
	URL       IRI    `json:"url"`
	Name      string `json:"name,omitempty"`
	Summary   string `json:"summary,omitempty"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
}

// Collection is a (possibly paged) remote collection; remote servers may
// also serialize it as a bare IRI, which decodes to just the ID.
type Collection struct {
	ID           string            `json:"id,omitempty"`
	Type         string            `json:"type,omitempty"`
	TotalItems   int               `json:"totalItems,omitempty"`
	Items        []json.RawMessage `json:"items,omitempty"`
	OrderedItems []json.RawMessage `json:"orderedItems,omitempty"`
	First        json.RawMessage   `json:"first,omitempty"`
	Next         json.RawMessage   `json:"next,omitempty"`
}

func (c *Collection) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = Collection{ID: s}
		return nil
	}
	type collection Collection
	var inner collection
	if err := json.Unmarshal(data, &inner); err != nil {
		return err
	}
	*c = Collection(inner)
	return nil
}

// PageItems returns the items of one collection page regardless of whether
// the server uses plain or ordered collections.
func (c *Collection) PageItems() []json.RawMessage {
	if len(c.OrderedItems) > 0 {
		return c.OrderedItems
	}
	return c.Items
}

// Object is a post document (Note or Article) in either direction.
type Object struct {
	Context      json.RawMessage `json:"@context,omitempty"`
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	AttributedTo IRI             `json:"attributedTo,omitempty"`
	InReplyTo    IRI             `json:"inReplyTo,omitempty"`
	QuoteUrl     string          `json:"quoteUrl,omitempty"`
	Content      string          `json:"content,omitempty"`
	Summary      string          `json:"summary,omitempty"`
	Sensitive    bool            `json:"sensitive,omitempty"`
	URL          IRI             `json:"url,omitempty"`
	To           StringList      `json:"to,omitempty"`
	CC           StringList      `json:"cc,omitempty"`
	Tag          []Tag           `json:"tag,omitempty"`
	Attachment   []Attachment    `json:"attachment,omitempty"`
	Replies      *Collection     `json:"replies,omitempty"`
	Shares       *Collection     `json:"shares,omitempty"`
	Likes        *Collection     `json:"likes,omitempty"`
	Published    string          `json:"published,omitempty"`
	Updated      string          `json:"updated,omitempty"`
}

// PublishedTime parses the published timestamp, or nil.
func (o *Object) PublishedTime() *time.Time {
	return parseTime(o.Published)
}

// UpdatedTime parses the updated timestamp, or nil.
func (o *Object) UpdatedTime() *time.Time {
	return parseTime(o.Updated)
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}

// Actor is a remote actor document.
type Actor struct {
	Context           json.RawMessage `json:"@context,omitempty"`
	ID                string          `json:"id"`
	Type              string          `json:"type"`
	PreferredUsername string          `json:"preferredUsername"`
	Name              string          `json:"name,omitempty"`
	Summary           string          `json:"summary,omitempty"`
	URL               IRI             `json:"url,omitempty"`
	Inbox             string          `json:"inbox"`
	Outbox            string          `json:"outbox,omitempty"`
	Followers         string          `json:"followers,omitempty"`
	Following         string          `json:"following,omitempty"`
	Endpoints         struct {
		SharedInbox string `json:"sharedInbox,omitempty"`
	} `json:"endpoints,omitempty"`
	Icon struct {
		Type      string `json:"type,omitempty"`
		MediaType string `json:"mediaType,omitempty"`
		URL       string `json:"url,omitempty"`
	} `json:"icon,omitempty"`
	PublicKey struct {
		ID           string `json:"id,omitempty"`
		Owner        string `json:"owner,omitempty"`
		PublicKeyPem string `json:"publicKeyPem,omitempty"`
	} `json:"publicKey,omitempty"`
	ManuallyApprovesFollowers bool       `json:"manuallyApprovesFollowers,omitempty"`
	AlsoKnownAs               StringList `json:"alsoKnownAs,omitempty"`
	MovedTo                   string     `json:"movedTo,omitempty"`
	Published                 string     `json:"published,omitempty"`
}

// IsPostType reports whether an object type is one of the post kinds the
// engine persists.
func IsPostType(t string) bool {
	switch t {
	case "Note", "Article", "Question", "ChatMessage":
		return true
	}
	return false
}

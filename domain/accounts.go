package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// AccountType is the ActivityStreams actor type of an account.
type AccountType string

const (
	AccountPerson       AccountType = "Person"
	AccountService      AccountType = "Service"
	AccountApplication  AccountType = "Application"
	AccountGroup        AccountType = "Group"
	AccountOrganization AccountType = "Organization"
)

// IsActorType reports whether t names a known actor type.
func IsActorType(t string) bool {
	switch AccountType(t) {
	case AccountPerson, AccountService, AccountApplication, AccountGroup, AccountOrganization:
		return true
	}
	return false
}

// Account is an identity record, local or remote. The iri is the sole
// deduplication key across federation: two documents referencing the same
// iri collapse to one row.
type Account struct {
	Id             uuid.UUID
	Iri            string
	Type           AccountType
	Name           string
	Handle         string // full handle, "@user@host"
	BioHtml        string
	Url            string
	Protected      bool
	AvatarUrl      string
	InboxUrl       string
	SharedInboxUrl string
	FollowersUrl   string
	FollowingCount int64
	FollowersCount int64
	PostsCount     int64
	SuccessorId    *uuid.UUID
	Aliases        []string
	InstanceHost   string
	Published      *time.Time
	Updated        time.Time
}

// Username returns the bare username part of the full handle.
func (a *Account) Username() string {
	handle := strings.TrimPrefix(a.Handle, "@")
	if idx := strings.Index(handle, "@"); idx >= 0 {
		return handle[:idx]
	}
	return handle
}

// AccountOwner is the local-credentials extension of an Account; its
// presence marks the account as local.
type AccountOwner struct {
	Id            uuid.UUID // same id as the owned Account
	Handle        string    // bare username
	PrivateKeyPem string
	PublicKeyPem  string
	Bio           string
	Visibility    Visibility
	Language      string
	Discoverable  bool
}

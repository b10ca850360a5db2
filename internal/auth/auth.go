// Package auth resolves the acting principal for checkout operations.
// Credential issuance lives outside this subsystem; the edge forwards the
// authenticated identity in headers and every orchestrator operation takes
// the resulting Actor as an explicit parameter.
package auth

import (
	"errors"
	"net/http"
)

type Scope string

const (
	ScopeSelf  Scope = "self"
	ScopeAdmin Scope = "admin"
)

var ErrUnauthenticated = errors.New("missing user identity")

type Actor struct {
	UserID string
	Scope  Scope
}

func (a Actor) Admin() bool { return a.Scope == ScopeAdmin }

// CanAccess reports whether the actor may touch a resource owned by ownerID.
func (a Actor) CanAccess(ownerID string) bool {
	return a.Admin() || a.UserID == ownerID
}

func FromRequest(r *http.Request) (Actor, error) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		return Actor{}, ErrUnauthenticated
	}

	scope := ScopeSelf
	if r.Header.Get("X-User-Role") == "admin" {
		scope = ScopeAdmin
	}

	return Actor{UserID: userID, Scope: scope}, nil
}

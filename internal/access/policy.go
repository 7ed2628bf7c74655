// Package access holds the ownership rule shared by orders and products:
// ADMIN may act on every record, USER only on records it owns.
package access

import (
	"marketplace-service/internal/apperr"
	"marketplace-service/internal/models"
	"marketplace-service/internal/util"

	"github.com/google/uuid"
)

// Action is an operation gated by the policy
type Action string

const (
	ActionRead   Action = "read"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionList   Action = "list"
)

// Resource names a gated record family
type Resource string

const (
	ResourceOrder   Resource = "order"
	ResourceProduct Resource = "product"
)

// Allowed reports whether p may perform an action on a record owned by ownerID
func Allowed(p models.Principal, ownerID uuid.UUID) bool {
	if p.IsAdmin() {
		return true
	}
	return p.Role == models.RoleUser && p.ID != uuid.Nil && p.ID == ownerID
}

// Authorize returns a Forbidden error when p may not perform action on a
// resource owned by ownerID.
func Authorize(p models.Principal, resource Resource, ownerID uuid.UUID, action Action) error {
	if Allowed(p, ownerID) {
		return nil
	}
	util.AccessDeniedTotal.WithLabelValues(string(resource), string(action)).Inc()
	return apperr.Forbidden("you are not authorized to %s this %s", action, resource)
}

// Scope returns the owner filter for list operations: nil for ADMIN, the
// caller's own id otherwise.
func Scope(p models.Principal) *uuid.UUID {
	if p.IsAdmin() {
		return nil
	}
	id := p.ID
	return &id
}

// AuthorizeUserListing gates an explicit request for the records of userID.
// Unlike Scope it denies instead of silently filtering.
func AuthorizeUserListing(p models.Principal, resource Resource, userID uuid.UUID) error {
	if Allowed(p, userID) {
		return nil
	}
	util.AccessDeniedTotal.WithLabelValues(string(resource), string(ActionList)).Inc()
	return apperr.Forbidden("you are not authorized to access these %ss", resource)
}

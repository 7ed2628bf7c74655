package access

import (
	"testing"

	"marketplace-service/internal/apperr"
	"marketplace-service/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthorize(t *testing.T) {
	owner := uuid.New()
	admin := models.Principal{ID: uuid.New(), Role: models.RoleAdmin}
	self := models.Principal{ID: owner, Role: models.RoleUser}
	other := models.Principal{ID: uuid.New(), Role: models.RoleUser}

	for _, action := range []Action{ActionRead, ActionUpdate, ActionDelete} {
		assert.NoError(t, Authorize(admin, ResourceOrder, owner, action))
		assert.NoError(t, Authorize(self, ResourceOrder, owner, action))

		err := Authorize(other, ResourceOrder, owner, action)
		require.Error(t, err)
		assert.True(t, apperr.Is(err, apperr.KindForbidden))
	}
}

func TestAuthorizeRejectsUnknownRole(t *testing.T) {
	owner := uuid.New()
	err := Authorize(models.Principal{ID: owner, Role: "GUEST"}, ResourceProduct, owner, ActionRead)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))
}

func TestScope(t *testing.T) {
	admin := models.Principal{ID: uuid.New(), Role: models.RoleAdmin}
	user := models.Principal{ID: uuid.New(), Role: models.RoleUser}

	assert.Nil(t, Scope(admin))
	require.NotNil(t, Scope(user))
	assert.Equal(t, user.ID, *Scope(user))
}

func TestAuthorizeUserListing(t *testing.T) {
	target := uuid.New()
	assert.NoError(t, AuthorizeUserListing(models.Principal{ID: uuid.New(), Role: models.RoleAdmin}, ResourceOrder, target))
	assert.NoError(t, AuthorizeUserListing(models.Principal{ID: target, Role: models.RoleUser}, ResourceOrder, target))

	err := AuthorizeUserListing(models.Principal{ID: uuid.New(), Role: models.RoleUser}, ResourceProduct, target)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))
}

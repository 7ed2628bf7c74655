package api

import (
	"testing"
	"time"

	"marketplace-service/internal/models"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(t *testing.T, build func(b *jwt.Builder) *jwt.Builder) string {
	t.Helper()
	tok, err := build(jwt.NewBuilder()).Build()
	require.NoError(t, err)
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, []byte(testSecret)))
	require.NoError(t, err)
	return string(signed)
}

func TestParse(t *testing.T) {
	auth := NewAuthenticator(testSecret, "marketplace")
	id := uuid.New()

	token := sign(t, func(b *jwt.Builder) *jwt.Builder {
		return b.Subject(id.String()).Issuer("marketplace").Claim("role", "admin")
	})
	p, err := auth.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, models.Principal{ID: id, Role: models.RoleAdmin}, p)
}

func TestParseRejects(t *testing.T) {
	auth := NewAuthenticator(testSecret, "marketplace")
	id := uuid.New().String()

	cases := map[string]func(b *jwt.Builder) *jwt.Builder{
		"expired": func(b *jwt.Builder) *jwt.Builder {
			return b.Subject(id).Issuer("marketplace").Claim("role", "USER").Expiration(time.Now().Add(-time.Hour))
		},
		"wrong issuer": func(b *jwt.Builder) *jwt.Builder {
			return b.Subject(id).Issuer("elsewhere").Claim("role", "USER")
		},
		"subject not a uuid": func(b *jwt.Builder) *jwt.Builder {
			return b.Subject("alice").Issuer("marketplace").Claim("role", "USER")
		},
		"missing role": func(b *jwt.Builder) *jwt.Builder {
			return b.Subject(id).Issuer("marketplace")
		},
		"unknown role": func(b *jwt.Builder) *jwt.Builder {
			return b.Subject(id).Issuer("marketplace").Claim("role", "ROOT")
		},
		"role not a string": func(b *jwt.Builder) *jwt.Builder {
			return b.Subject(id).Issuer("marketplace").Claim("role", 7)
		},
	}
	for name, build := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := auth.Parse(sign(t, build))
			assert.Error(t, err)
		})
	}
}

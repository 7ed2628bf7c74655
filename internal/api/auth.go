package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"marketplace-service/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

const principalKey = "principal"

// Authenticator resolves the caller from an HS256 bearer token. The subject
// is the user id and the role claim carries ADMIN or USER.
type Authenticator struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewAuthenticator creates an authenticator. An empty issuer is not checked.
func NewAuthenticator(secret, issuer string) *Authenticator {
	return &Authenticator{secret: []byte(secret), issuer: issuer, now: time.Now}
}

// Middleware rejects requests without a valid token and stores the principal
// on the gin context
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			abortUnauthenticated(c, "missing bearer token")
			return
		}

		principal, err := a.Parse(strings.TrimSpace(token))
		if err != nil {
			abortUnauthenticated(c, "invalid token")
			return
		}

		c.Set(principalKey, principal)
		c.Next()
	}
}

// Parse verifies a signed token and returns its principal
func (a *Authenticator) Parse(token string) (models.Principal, error) {
	parsed, err := jwt.ParseString(token, jwt.WithKey(jwa.HS256, a.secret), jwt.WithValidate(false))
	if err != nil {
		return models.Principal{}, err
	}

	options := []jwt.ValidateOption{
		jwt.WithClock(jwt.ClockFunc(a.now)),
		jwt.WithAcceptableSkew(30 * time.Second),
	}
	if a.issuer != "" {
		options = append(options, jwt.WithIssuer(a.issuer))
	}
	if err := jwt.Validate(parsed, options...); err != nil {
		return models.Principal{}, err
	}

	id, err := uuid.Parse(parsed.Subject())
	if err != nil {
		return models.Principal{}, fmt.Errorf("invalid subject: %w", err)
	}

	raw, ok := parsed.Get("role")
	if !ok {
		return models.Principal{}, errors.New("missing role claim")
	}
	roleName, ok := raw.(string)
	if !ok {
		return models.Principal{}, errors.New("role claim is not a string")
	}
	role := models.Role(strings.ToUpper(roleName))
	if !role.Valid() {
		return models.Principal{}, fmt.Errorf("unknown role %q", roleName)
	}

	return models.Principal{ID: id, Role: role}, nil
}

func principalFrom(c *gin.Context) models.Principal {
	v, ok := c.Get(principalKey)
	if !ok {
		return models.Principal{}
	}
	p, _ := v.(models.Principal)
	return p
}

func abortUnauthenticated(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody("UNAUTHENTICATED", message))
}

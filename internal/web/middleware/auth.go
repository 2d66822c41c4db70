package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"homehub/auth"
)

const principalKey = "principal"

// BearerVerifier validates an Authorization header.
type BearerVerifier interface {
	VerifyBearer(header string) (auth.Principal, error)
}

type MiddlewareManager struct {
	auth   BearerVerifier
	logger *logrus.Entry
}

func NewMiddlewareManager(verifier BearerVerifier, logger *logrus.Entry) *MiddlewareManager {
	return &MiddlewareManager{auth: verifier, logger: logger}
}

func (m *MiddlewareManager) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, err := m.auth.VerifyBearer(c.GetHeader("Authorization"))
		if err != nil {
			m.logger.WithError(err).WithField("path", c.FullPath()).Debug("authentication failed")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}

		c.Set(principalKey, principal)
		c.Next()
	}
}

// Principal returns the identity stored by RequireAuth.
func Principal(c *gin.Context) auth.Principal {
	p, _ := c.Get(principalKey)
	principal, _ := p.(auth.Principal)
	return principal
}

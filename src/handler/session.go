package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const sessionCookie = "token"

// setSessionCookie stores the login jwt. The cookie lives as long as the jwt
// when its exp claim can be read, otherwise for the browser session.
func setSessionCookie(c *gin.Context, token string) {
	maxAge := 0
	if exp, ok := tokenExpiry(token); ok {
		if remaining := int(time.Until(exp).Seconds()); remaining > 0 {
			maxAge = remaining
		}
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(sessionCookie, token, maxAge, "/", "", isSecureRequest(c), true)
}

// tokenExpiry reads the exp claim without verifying the signature; the
// Accounts API is the issuer and the value only sizes the cookie.
func tokenExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}

	return exp.Time, true
}

func isSecureRequest(c *gin.Context) bool {
	return c.Request.TLS != nil || c.GetHeader("X-Forwarded-Proto") == "https"
}

package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// RefreshCookie describes the HTTP-only cookie that carries the refresh secret for browser
// clients. A zero value disables the cookie.
type RefreshCookie struct {
	Name     string
	Path     string
	Domain   string
	Secure   bool
	SameSite http.SameSite
}

// ParseSameSite maps a config value onto http.SameSite, defaulting to strict.
func ParseSameSite(value string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteStrictMode
	}
}

func (rc RefreshCookie) enabled() bool {
	return strings.TrimSpace(rc.Name) != ""
}

func (rc RefreshCookie) set(c *gin.Context, secret string, expiresAt, now time.Time) {
	if !rc.enabled() {
		return
	}
	maxAge := int(expiresAt.Sub(now) / time.Second)
	if maxAge <= 0 {
		maxAge = -1
	}
	c.SetSameSite(rc.SameSite)
	c.SetCookie(rc.Name, secret, maxAge, rc.Path, rc.Domain, rc.Secure, true)
}

func (rc RefreshCookie) clear(c *gin.Context) {
	if !rc.enabled() {
		return
	}
	c.SetSameSite(rc.SameSite)
	c.SetCookie(rc.Name, "", -1, rc.Path, rc.Domain, rc.Secure, true)
}

func (rc RefreshCookie) read(c *gin.Context) string {
	if !rc.enabled() {
		return ""
	}
	value, err := c.Cookie(rc.Name)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(value)
}

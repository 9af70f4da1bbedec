package guard

import (
	"net/http"
	"strings"
	"time"
)

// CookieConfig describes one surface's session cookie.
type CookieConfig struct {
	Name     string
	Path     string
	Domain   string
	Secure   bool
	SameSite http.SameSite
}

func (c CookieConfig) withDefaults() CookieConfig {
	if strings.TrimSpace(c.Name) == "" {
		c.Name = "vigil_session"
	}
	if c.Path == "" {
		c.Path = "/"
	}
	if c.SameSite == 0 {
		c.SameSite = http.SameSiteLaxMode
	}
	return c
}

// SetCookie stores handle in the surface cookie until exp.
func (g *Guard) SetCookie(w http.ResponseWriter, handle string, exp time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     g.cookie.Name,
		Value:    handle,
		Path:     g.cookie.Path,
		Domain:   g.cookie.Domain,
		Expires:  exp.UTC(),
		HttpOnly: true,
		Secure:   g.cookie.Secure,
		SameSite: g.cookie.SameSite,
	})
}

// ClearCookie expires the surface cookie on the client.
func (g *Guard) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     g.cookie.Name,
		Value:    "",
		Path:     g.cookie.Path,
		Domain:   g.cookie.Domain,
		Expires:  time.Unix(0, 0).UTC(),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   g.cookie.Secure,
		SameSite: g.cookie.SameSite,
	})
}

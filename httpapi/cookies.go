package httpapi

import (
	"net/http"
	"time"

	otpcore "github.com/MrEthical07/otpcore"
)

// setSessionCookies writes the token pair as HttpOnly cookies. Max-Age
// follows each token's own lifetime; the refresh cookie dies with the
// chain's absolute ceiling.
func (s *Server) setSessionCookies(w http.ResponseWriter, pair *otpcore.TokenPair) {
	now := time.Now()
	s.setCookie(w, accessCookieName, pair.AccessToken, int(pair.AccessExpiresAt.Sub(now).Seconds()))
	s.setCookie(w, refreshCookieName, pair.RefreshToken, int(pair.RefreshExpiresAt.Sub(now).Seconds()))
}

func (s *Server) clearSessionCookies(w http.ResponseWriter) {
	s.setCookie(w, accessCookieName, "", -1)
	s.setCookie(w, refreshCookieName, "", -1)
}

func (s *Server) setCookie(w http.ResponseWriter, name, value string, maxAge int) {
	sameSite := http.SameSiteLaxMode
	if s.secureCookies {
		// Cross-site embedding requires None, which in turn requires
		// Secure.
		sameSite = http.SameSiteNoneMode
	}

	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: sameSite,
	})
}

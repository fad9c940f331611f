package auth

import (
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/pkg/errors"

	"github.com/trezcool/chuo/core"
)

// SessionCookie carries the session id to browsers. The value is HMAC-signed so
// a forged or altered id is rejected before the session store is consulted.
type SessionCookie struct {
	name   string
	maxAge time.Duration
	secure bool
	codec  *securecookie.SecureCookie
}

func NewSessionCookie(conf core.SessionConfig, secret string) *SessionCookie {
	codec := securecookie.New([]byte(secret), nil)
	codec.MaxAge(int(conf.MaxAge / time.Second))
	codec.SetSerializer(securecookie.JSONEncoder{})
	return &SessionCookie{
		name:   conf.CookieName,
		maxAge: conf.MaxAge,
		secure: conf.Secure,
		codec:  codec,
	}
}

func (sc *SessionCookie) Name() string { return sc.name }

// Write sets the cookie holding sessionID on w.
func (sc *SessionCookie) Write(w http.ResponseWriter, sessionID string) error {
	value, err := sc.codec.Encode(sc.name, sessionID)
	if err != nil {
		return errors.Wrap(err, "encoding session cookie")
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sc.name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(sc.maxAge / time.Second),
		Expires:  nowFunc().Add(sc.maxAge),
		HttpOnly: true,
		Secure:   sc.secure,
		SameSite: http.SameSiteStrictMode,
	})
	return nil
}

// Read returns the session id carried by r. It returns http.ErrNoCookie if there is none.
func (sc *SessionCookie) Read(r *http.Request) (string, error) {
	cookie, err := r.Cookie(sc.name)
	if err != nil {
		return "", http.ErrNoCookie
	}
	var sessionID string
	if err = sc.codec.Decode(sc.name, cookie.Value, &sessionID); err != nil {
		return "", errors.Wrap(err, "decoding session cookie")
	}
	return sessionID, nil
}

// Clear expires the cookie on the client.
func (sc *SessionCookie) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sc.name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   sc.secure,
		SameSite: http.SameSiteStrictMode,
	})
}

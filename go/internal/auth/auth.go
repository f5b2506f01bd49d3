package auth

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

// ErrNotSignedIn is returned when an action requires a signed-in user and
// none is present. Callers surface it as a blocking prompt rather than
// retrying silently.
var ErrNotSignedIn = errors.New("not signed in")

// UserFromRequest resolves the viewer identity bound to an HTTP request.
// Identity comes from the X-User-ID header or the user_id query
// parameter; session and token verification live outside this module.
// An absent identity is not an error: it yields uuid.Nil, the signed-out
// viewer, and the room enforces sign-in per action.
func UserFromRequest(r *http.Request) (uuid.UUID, error) {
	raw := r.Header.Get("X-User-ID")
	if raw == "" {
		raw = r.URL.Query().Get("user_id")
	}
	if raw == "" {
		return uuid.Nil, nil
	}

	userID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid user id %q: %w", raw, err)
	}
	return userID, nil
}

package websocket

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

// tokenSubprotocol lets browsers, which cannot set headers on a websocket
// handshake, offer "access_token, <jwt>" as subprotocols.
const tokenSubprotocol = "access_token"

// TokenVerifier resolves a bearer credential to a subject identifier.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// TokenFromRequest extracts the bearer credential from the handshake: the
// query parameter first, then the Authorization header, then the
// subprotocol pair. It returns "" when none is present.
func TokenFromRequest(r *http.Request, queryParam string) string {
	if queryParam != "" {
		if tok := r.URL.Query().Get(queryParam); tok != "" {
			return tok
		}
	}

	if h := r.Header.Get("Authorization"); h != "" {
		scheme, tok, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			if tok = strings.TrimSpace(tok); tok != "" {
				return tok
			}
		}
	}

	protocols := websocket.Subprotocols(r)
	for i, p := range protocols {
		if p == tokenSubprotocol && i+1 < len(protocols) {
			return protocols[i+1]
		}
	}
	return ""
}

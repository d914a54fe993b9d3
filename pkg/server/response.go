package server

import (
	"encoding/json"
	"net/http"

	sserr "github.com/StricklySoft/stricklysoft-jwtbearer/pkg/errors"
	"github.com/StricklySoft/stricklysoft-jwtbearer/pkg/models"
)

// TokenResponse is the successful token endpoint body (RFC 6749
// section 5.1).
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope,omitempty"`
}

// ErrorResponse is the token endpoint error body (RFC 6749 section 5.2).
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// errorDescriptions holds one fixed description per OAuth2 error, so a
// response never reveals which check rejected the assertion.
var errorDescriptions = map[string]string{
	sserr.OAuthInvalidRequest:         "The request is missing a required parameter or is otherwise malformed.",
	sserr.OAuthInvalidGrant:           "The provided authorization grant is invalid.",
	sserr.OAuthInvalidClient:          "Client authentication failed.",
	sserr.OAuthInvalidScope:           "The requested scope is invalid or unknown.",
	sserr.OAuthUnsupportedGrantType:   "The authorization grant type is not supported by the authorization server.",
	sserr.OAuthServerError:            "The authorization server encountered an unexpected condition.",
	sserr.OAuthTemporarilyUnavailable: "The authorization server is temporarily unable to handle the request.",
}

func newTokenResponse(tok *models.AccessToken) TokenResponse {
	return TokenResponse{
		AccessToken: tok.Value.Value(),
		TokenType:   models.TokenTypeBearer,
		ExpiresIn:   int64(tok.TTL().Seconds()),
		Scope:       tok.ScopeString(),
	}
}

// newErrorResponse maps err to its HTTP status and OAuth2 body. Errors
// without a code are server errors.
func newErrorResponse(err error) (int, ErrorResponse) {
	e := sserr.FromError(err)
	oauth := e.Code.OAuthError()
	return e.HTTPStatus(), ErrorResponse{
		Error:            oauth,
		ErrorDescription: errorDescriptions[oauth],
	}
}

// writeJSON writes body with the headers every token endpoint response
// carries (RFC 6749 section 5.1).
func writeJSON(w http.ResponseWriter, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json;charset=UTF-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5/middleware"

	sserr "github.com/StricklySoft/stricklysoft-jwtbearer/pkg/errors"
	"github.com/StricklySoft/stricklysoft-jwtbearer/pkg/grant"
)

// Request metadata keys passed to grants and their events.
const (
	MetadataRemoteAddr = "remote_addr"
	MetadataRequestID  = "request_id"
	MetadataUserAgent  = "user_agent"
)

const formContentType = "application/x-www-form-urlencoded"

// TokenHandler handles POST /oauth/token.
func (s *AuthorizationServer) TokenHandler(w http.ResponseWriter, r *http.Request) {
	start := s.now()
	ctx := r.Context()

	req, err := s.parseTokenRequest(w, r)
	label := unknownGrantType
	if _, ok := s.grant(req.GrantType); ok {
		label = req.GrantType
	}

	var resp *grant.Response
	if err == nil {
		resp, err = s.RespondToAccessTokenRequest(ctx, req)
	}
	s.metrics.observe(label, err, s.now().Sub(start))

	if err != nil {
		status, body := newErrorResponse(err)
		if status >= http.StatusInternalServerError {
			s.logger.ErrorContext(ctx, "token request failed",
				"grant_type", label,
				"reason", sserr.FromError(err).Code,
				"request_id", req.Metadata[MetadataRequestID],
				"error", err,
			)
		} else {
			s.logger.DebugContext(ctx, "token request rejected",
				"grant_type", label,
				"reason", sserr.GetCode(err),
				"request_id", req.Metadata[MetadataRequestID],
			)
		}
		writeJSON(w, status, body)
		return
	}
	writeJSON(w, http.StatusOK, newTokenResponse(resp.AccessToken))
}

// parseTokenRequest reads the form-encoded body. The returned request
// carries the transport metadata even when parsing fails.
func (s *AuthorizationServer) parseTokenRequest(w http.ResponseWriter, r *http.Request) (grant.TokenRequest, error) {
	md := map[string]string{
		MetadataRemoteAddr: r.RemoteAddr,
		MetadataRequestID:  middleware.GetReqID(r.Context()),
		MetadataUserAgent:  r.UserAgent(),
	}
	empty := grant.TokenRequest{}.WithMetadata(md)

	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mt != formContentType {
		return empty, sserr.New(sserr.CodeInvalidRequest, "server: token requests must be form encoded")
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	if err := r.ParseForm(); err != nil {
		return empty, sserr.Wrap(err, sserr.CodeInvalidRequest, "server: cannot parse token request")
	}

	req, err := grant.ParseTokenRequest(r.PostForm)
	if err != nil {
		return empty, err
	}
	return req.WithMetadata(md), nil
}

// JWKSHandler handles GET /.well-known/jwks.json.
func (s *AuthorizationServer) JWKSHandler(w http.ResponseWriter, r *http.Request) {
	if s.jwks == nil {
		http.NotFound(w, r)
		return
	}
	data, err := json.Marshal(s.jwks.PublicJWKS())
	if err != nil {
		s.logger.Error("failed to encode JWKS", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	_, _ = w.Write(data)
}

// HealthResponse is the /healthz body. Checks maps each dependency to
// "ok" or the code of its failure.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Health status values.
const (
	HealthOK          = "ok"
	HealthUnavailable = "unavailable"
)

// HealthHandler handles GET /healthz. It answers 503 when any check
// fails.
func (s *AuthorizationServer) HealthHandler(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: HealthOK, Checks: make(map[string]string, len(s.checks))}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, c := range s.checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := s.runCheck(r.Context(), c)
			mu.Lock()
			defer mu.Unlock()
			resp.Checks[c.name] = result
			if result != HealthOK {
				resp.Status = HealthUnavailable
			}
		}()
	}
	wg.Wait()

	status := http.StatusOK
	if resp.Status != HealthOK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (s *AuthorizationServer) runCheck(ctx context.Context, c namedCheck) string {
	ctx, cancel := context.WithTimeout(ctx, s.healthTimeout)
	defer cancel()

	err := c.checker.Health(ctx)
	if err == nil {
		return HealthOK
	}
	s.logger.WarnContext(ctx, "health check failed", "check", c.name, "error", err)
	if code := sserr.GetCode(err); code != "" {
		return code.String()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return sserr.CodeTimeout.String()
	}
	return sserr.CodeInternal.String()
}

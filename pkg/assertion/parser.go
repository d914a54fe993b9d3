package assertion

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	sserr "github.com/StricklySoft/stricklysoft-jwtbearer/pkg/errors"
)

// MaxTokenSize is the largest assertion accepted, in bytes. Larger input
// is rejected before any decoding.
const MaxTokenSize = 8192

// segmentDecoder decodes unpadded base64url and rejects non-canonical
// trailing bits.
var segmentDecoder = jwt.NewParser(jwt.WithStrictDecoding())

var (
	errNotObject    = errors.New("value is not a JSON object")
	errTrailingData = errors.New("unexpected data after JSON object")
)

// Token is a compact token split into its decoded segments. It carries
// no trust: the signature has not been checked and the payload has not
// been interpreted.
type Token struct {
	signingInput string
	header       map[string]any
	payload      []byte
	signature    []byte
}

// Parse splits a compact serialized token into header, payload, and
// signature. It fails with [sserr.CodeMalformedToken] when the segment
// count is not three, a segment is not valid base64url, or the header is
// not a JSON object. The payload is kept as raw bytes.
func Parse(raw string) (*Token, error) {
	if raw == "" {
		return nil, malformed("token is empty")
	}
	if len(raw) > MaxTokenSize {
		return nil, malformed("token exceeds maximum size")
	}

	headerSeg, rest, ok := strings.Cut(raw, ".")
	if !ok {
		return nil, malformed("token must have three segments")
	}
	payloadSeg, sigSeg, ok := strings.Cut(rest, ".")
	if !ok || strings.Contains(sigSeg, ".") {
		return nil, malformed("token must have three segments")
	}

	headerJSON, err := segmentDecoder.DecodeSegment(headerSeg)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeMalformedToken, "assertion: header is not base64url")
	}
	payload, err := segmentDecoder.DecodeSegment(payloadSeg)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeMalformedToken, "assertion: payload is not base64url")
	}
	signature, err := segmentDecoder.DecodeSegment(sigSeg)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeMalformedToken, "assertion: signature is not base64url")
	}

	header, err := decodeObject(headerJSON)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeMalformedToken, "assertion: header is not a JSON object")
	}

	return &Token{
		signingInput: raw[:len(headerSeg)+1+len(payloadSeg)],
		header:       header,
		payload:      payload,
		signature:    signature,
	}, nil
}

// SigningInput returns the header and payload segments exactly as they
// appeared in the serialized token, joined by ".".
func (t *Token) SigningInput() string { return t.signingInput }

// Header returns a copy of the decoded header.
func (t *Token) Header() map[string]any { return copyMap(t.header) }

// HeaderValue returns a single header parameter.
func (t *Token) HeaderValue(name string) (any, bool) {
	v, ok := t.header[name]
	return copyValue(v), ok
}

// Payload returns a copy of the raw payload bytes.
func (t *Token) Payload() []byte { return bytes.Clone(t.payload) }

// Signature returns a copy of the raw signature bytes.
func (t *Token) Signature() []byte { return bytes.Clone(t.signature) }

func malformed(msg string) *sserr.Error {
	return sserr.New(sserr.CodeMalformedToken, "assertion: "+msg)
}

// decodeObject decodes exactly one JSON object. Numbers are kept as
// json.Number so claim timestamps are not rounded through float64.
func decodeObject(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, errNotObject
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errTrailingData
	}
	return obj, nil
}

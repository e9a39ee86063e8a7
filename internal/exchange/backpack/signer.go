package backpack

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

const signatureWindowMs = 5000

// instruction names the API action being signed; Backpack requires it as
// the first component of the signing payload.
var instructions = map[string]string{
	"GET /api/v1/order":    "orderQuery",
	"GET /api/v1/orders":   "orderQueryAll",
	"POST /api/v1/order":   "orderExecute",
	"DELETE /api/v1/order": "orderCancel",
	"GET /api/v1/position": "positionQuery",
	"GET /api/v1/capital":  "balanceQuery",
}

// Signer signs REST requests with the account's ED25519 key pair. The API
// key is the base64 verifying key; the secret is the base64 seed.
type Signer struct {
	apiKey     string
	privateKey ed25519.PrivateKey
	now        func() time.Time
}

// NewSigner decodes the base64 ED25519 seed and builds a request signer.
func NewSigner(apiKey, secretKey string) (*Signer, error) {
	seed, err := base64.StdEncoding.DecodeString(secretKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode secret key: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("secret key must be a %d-byte ED25519 seed", ed25519.SeedSize)
	}
	return &Signer{
		apiKey:     apiKey,
		privateKey: ed25519.NewKeyFromSeed(seed),
		now:        time.Now,
	}, nil
}

// SignRequest attaches the X-API-Key, X-Signature, X-Timestamp and X-Window
// headers. Public endpoints (no instruction mapping) pass through unsigned.
func (s *Signer) SignRequest(req *http.Request) error {
	instruction, ok := instructions[req.Method+" "+req.URL.Path]
	if !ok {
		return nil
	}

	params, err := requestParams(req)
	if err != nil {
		return err
	}

	timestamp := s.now().UnixMilli()
	payload := signingPayload(instruction, params, timestamp)
	signature := ed25519.Sign(s.privateKey, []byte(payload))

	req.Header.Set("X-API-Key", s.apiKey)
	req.Header.Set("X-Signature", base64.StdEncoding.EncodeToString(signature))
	req.Header.Set("X-Timestamp", fmt.Sprintf("%d", timestamp))
	req.Header.Set("X-Window", fmt.Sprintf("%d", signatureWindowMs))
	return nil
}

// Sign produces a detached signature for the given instruction, used by the
// private stream subscription.
func (s *Signer) Sign(instruction string, timestamp int64) string {
	payload := signingPayload(instruction, nil, timestamp)
	return base64.StdEncoding.EncodeToString(ed25519.Sign(s.privateKey, []byte(payload)))
}

// APIKey returns the base64 verifying key.
func (s *Signer) APIKey() string {
	return s.apiKey
}

// requestParams flattens the query string and JSON body into one key/value
// map for signing.
func requestParams(req *http.Request) (map[string]string, error) {
	params := make(map[string]string)
	for k, vs := range req.URL.Query() {
		if len(vs) > 0 {
			params[k] = vs[0]
		}
	}

	if req.Body != nil && req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("failed to reread request body: %w", err)
		}
		data, err := io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
		if len(bytes.TrimSpace(data)) > 0 {
			var fields map[string]interface{}
			if err := json.Unmarshal(data, &fields); err != nil {
				return nil, fmt.Errorf("failed to parse request body for signing: %w", err)
			}
			for k, v := range fields {
				params[k] = paramString(v)
			}
		}
	}

	return params, nil
}

func paramString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case json.Number:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}

// signingPayload builds "instruction=<i>&<sorted params>&timestamp=<ts>&window=<w>".
func signingPayload(instruction string, params map[string]string, timestamp int64) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("instruction=")
	b.WriteString(instruction)
	for _, k := range keys {
		b.WriteString("&")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(params[k])
	}
	fmt.Fprintf(&b, "&timestamp=%d&window=%d", timestamp, signatureWindowMs)
	return b.String()
}

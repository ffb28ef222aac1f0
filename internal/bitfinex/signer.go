package bitfinex

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"sync/atomic"
	"time"
)

const (
	headerAPIKey    = "X-BFX-APIKEY"
	headerPayload   = "X-BFX-PAYLOAD"
	headerSignature = "X-BFX-SIGNATURE"
)

// Signer produces authenticated v1 request headers.
//
// The body is the JSON object {"request": path, "nonce": "<ms>", ...params};
// the payload is its standard base64 encoding and the signature is the hex
// HMAC-SHA384 of the payload keyed by the API secret.
type Signer struct {
	key       string
	secret    []byte
	lastNonce atomic.Uint64
	now       func() time.Time
}

type signedRequest struct {
	body    []byte
	headers map[string]string
	nonce   uint64
}

func NewSigner(key, secret string) (*Signer, error) {
	if key == "" || secret == "" {
		return nil, errors.New("api key and secret are required")
	}
	return &Signer{key: key, secret: []byte(secret), now: time.Now}, nil
}

// Seed raises the nonce floor, e.g. from a value persisted by a previous run.
func (s *Signer) Seed(nonce uint64) {
	for {
		prev := s.lastNonce.Load()
		if prev >= nonce || s.lastNonce.CompareAndSwap(prev, nonce) {
			return
		}
	}
}

func (s *Signer) LastNonce() uint64 {
	return s.lastNonce.Load()
}

func (s *Signer) nextNonce() uint64 {
	now := uint64(s.now().UnixMilli())
	for {
		prev := s.lastNonce.Load()
		next := now
		if prev >= next {
			next = prev + 1
		}
		if s.lastNonce.CompareAndSwap(prev, next) {
			return next
		}
	}
}

func (s *Signer) sign(path string, params map[string]any) (signedRequest, error) {
	nonce := s.nextNonce()
	data := make(map[string]any, len(params)+2)
	for k, v := range params {
		data[k] = v
	}
	data["request"] = path
	data["nonce"] = strconv.FormatUint(nonce, 10)
	body, err := json.Marshal(data)
	if err != nil {
		return signedRequest{}, err
	}
	payload := base64.StdEncoding.EncodeToString(body)
	mac := hmac.New(sha512.New384, s.secret)
	mac.Write([]byte(payload))
	return signedRequest{
		body: body,
		headers: map[string]string{
			headerAPIKey:    s.key,
			headerPayload:   payload,
			headerSignature: hex.EncodeToString(mac.Sum(nil)),
		},
		nonce: nonce,
	}, nil
}

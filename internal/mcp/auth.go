package mcp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	headerClientID  = "x-client-id"
	headerTS        = "x-ts"
	headerSignature = "x-signature"
	headerNonce     = "x-nonce"
)

// signatureWindowMS bounds clock skew between client and server.
const signatureWindowMS = 300_000

// canonicalString is the legacy (pre-nonce) signing input.
func canonicalString(ts, method, path string, body []byte) string {
	return strings.Join([]string{ts, strings.ToUpper(method), path, string(body)}, "\n")
}

// canonicalStringV2 binds the client id and a nonce into the signature.
func canonicalStringV2(ts, method, path, clientID, nonce string, body []byte) string {
	return strings.Join([]string{
		ts, strings.ToUpper(method), path,
		strings.TrimSpace(clientID), strings.TrimSpace(nonce),
		string(body),
	}, "\n")
}

func signHMAC(secret []byte, canonical string) string {
	h := hmac.New(sha256.New, secret)
	_, _ = h.Write([]byte(canonical))
	return hex.EncodeToString(h.Sum(nil))
}

// credentials is the verified identity of one request. The signature
// doubles as the replay-guard key for its validity window.
type credentials struct {
	ClientID  string
	Signature string
}

// verifyHMAC authenticates one request. Every failure maps to 401; the
// error text is safe to return to the client.
func verifyHMAC(r *http.Request, rawBody, secret []byte, now time.Time) (credentials, error) {
	clientID := strings.TrimSpace(r.Header.Get(headerClientID))
	tsStr := strings.TrimSpace(r.Header.Get(headerTS))
	sig := strings.ToLower(strings.TrimSpace(r.Header.Get(headerSignature)))
	nonce := strings.TrimSpace(r.Header.Get(headerNonce))
	switch {
	case clientID == "":
		return credentials{}, errors.New("missing " + headerClientID)
	case tsStr == "":
		return credentials{}, errors.New("missing " + headerTS)
	case sig == "":
		return credentials{}, errors.New("missing " + headerSignature)
	}
	legacy := allowLegacyHMAC()
	if nonce == "" && !legacy {
		return credentials{}, errors.New("missing " + headerNonce)
	}

	ts, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return credentials{}, errors.New("bad " + headerTS)
	}
	if d := now.UnixMilli() - ts; d > signatureWindowMS || d < -signatureWindowMS {
		return credentials{}, errors.New(headerTS + " outside window")
	}

	var accepted []string
	if nonce != "" {
		accepted = append(accepted,
			signHMAC(secret, canonicalStringV2(tsStr, r.Method, r.URL.Path, clientID, nonce, rawBody)))
	}
	if legacy {
		accepted = append(accepted,
			signHMAC(secret, canonicalString(tsStr, r.Method, r.URL.Path, rawBody)))
	}
	for _, want := range accepted {
		if hmac.Equal([]byte(sig), []byte(want)) {
			return credentials{ClientID: clientID, Signature: sig}, nil
		}
	}
	return credentials{}, errors.New("bad signature")
}

// allowLegacyHMAC gates the pre-nonce signature format. Off in staging
// and production unless MC_MCP_HMAC_ALLOW_LEGACY overrides.
func allowLegacyHMAC() bool {
	if v := strings.TrimSpace(os.Getenv("MC_MCP_HMAC_ALLOW_LEGACY")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	}
	return true
}

// requireLoopback guards unauthenticated deployments.
func requireLoopback(r *http.Request) error {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	switch strings.Trim(host, "[]") {
	case "127.0.0.1", "::1", "localhost":
		return nil
	}
	return errors.New("forbidden: non-loopback client")
}

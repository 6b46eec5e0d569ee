// Package auth issues and checks HMAC-signed API keys and gates HTTP
// handlers behind them.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMissingKey       = errors.New("missing api key")
	ErrMalformedKey     = errors.New("invalid api key format")
	ErrInvalidSignature = errors.New("invalid api key signature")
)

// IssueAPIKey generates an API key for clientID signed with secret.
// Format: clientID.signature
func IssueAPIKey(clientID string, secret []byte) string {
	return clientID + "." + sign(clientID, secret)
}

// VerifyAPIKey checks apiKey against secret and returns the client id it was
// issued for. Client ids may contain dots; the signature never does.
func VerifyAPIKey(apiKey string, secret []byte) (string, error) {
	if apiKey == "" {
		return "", ErrMissingKey
	}
	i := strings.LastIndexByte(apiKey, '.')
	if i <= 0 || i == len(apiKey)-1 {
		return "", ErrMalformedKey
	}
	clientID, providedSig := apiKey[:i], apiKey[i+1:]

	if !hmac.Equal([]byte(providedSig), []byte(sign(clientID, secret))) {
		return "", fmt.Errorf("%w for client %q", ErrInvalidSignature, clientID)
	}
	return clientID, nil
}

func sign(clientID string, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(clientID))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

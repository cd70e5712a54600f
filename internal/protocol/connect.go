package protocol

import (
	"encoding/base64"
	"encoding/json"
	"strings"
)

// ConnectParams is the decoded payload of a CONNECT frame.
type ConnectParams struct {
	Username          string
	Hostname          string
	Port              int
	ShareKey          string
	Fingerprint       string
	Reusable          bool
	PrivateKey        []byte // raw key bytes, already base64-decoded if needed
	Passphrase        string
	Password          string
	TryKeyboard       bool
}

// ParseConnect decodes and validates a CONNECT payload.
//
// Constraints: passphrase requires privateKey; privateKeyEncoded requires
// privateKey. If privateKeyEncoded, the private key is base64-decoded to
// raw bytes before being returned.
func ParseConnect(payload []byte) (ConnectParams, error) {
	var raw struct {
		Username          string `json:"username"`
		Hostname          string `json:"hostname"`
		Port              *int   `json:"port"`
		ShareKey          string `json:"shareKey"`
		Fingerprint       string `json:"fingerprint"`
		Reusable          bool   `json:"reusable"`
		PrivateKey        string `json:"privateKey"`
		PrivateKeyEncoded bool   `json:"privateKeyEncoded"`
		Passphrase        string `json:"passphrase"`
		Password          string `json:"password"`
		TryKeyboard       bool   `json:"tryKeyboard"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return ConnectParams{}, fieldErr("", "invalid JSON: "+err.Error())
	}

	if raw.Username == "" {
		return ConnectParams{}, fieldErr("username", "must not be empty")
	}
	if raw.Hostname == "" {
		return ConnectParams{}, fieldErr("hostname", "must not be empty")
	}

	port := 22
	if raw.Port != nil {
		port = *raw.Port
	}
	if err := validatePort(port); err != nil {
		return ConnectParams{}, err
	}

	if raw.Passphrase != "" && raw.PrivateKey == "" {
		return ConnectParams{}, fieldErr("passphrase", "requires privateKey")
	}
	if raw.PrivateKeyEncoded && raw.PrivateKey == "" {
		return ConnectParams{}, fieldErr("privateKeyEncoded", "requires privateKey")
	}

	var keyBytes []byte
	if raw.PrivateKey != "" {
		if raw.PrivateKeyEncoded {
			decoded, err := base64.StdEncoding.DecodeString(raw.PrivateKey)
			if err != nil {
				return ConnectParams{}, fieldErr("privateKey", "invalid base64: "+err.Error())
			}
			keyBytes = decoded
		} else {
			keyBytes = []byte(raw.PrivateKey)
		}
	}

	return ConnectParams{
		Username:    raw.Username,
		Hostname:    strings.ToLower(raw.Hostname),
		Port:        port,
		ShareKey:    raw.ShareKey,
		Fingerprint: raw.Fingerprint,
		Reusable:    raw.Reusable,
		PrivateKey:  keyBytes,
		Passphrase:  raw.Passphrase,
		Password:    raw.Password,
		TryKeyboard: raw.TryKeyboard,
	}, nil
}

// HasCredentials reports whether the caller supplied any direct credential.
func (p ConnectParams) HasCredentials() bool {
	return len(p.PrivateKey) > 0 || p.Password != ""
}

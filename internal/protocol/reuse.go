package protocol

import (
	"encoding/json"
	"strings"
)

// ReuseParams is the decoded payload of a REUSE frame.
type ReuseParams struct {
	Username string `json:"username"`
	Hostname string `json:"hostname"`
	Port     int    `json:"port,omitempty"`
	ShareKey string `json:"shareKey,omitempty"`
}

// ParseReuse decodes and validates a REUSE payload. Hostname is lowercased;
// port defaults to 22 when the field is absent; an explicit 0 is rejected.
func ParseReuse(payload []byte) (ReuseParams, error) {
	var raw struct {
		Username string `json:"username"`
		Hostname string `json:"hostname"`
		Port     *int   `json:"port"`
		ShareKey string `json:"shareKey"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return ReuseParams{}, fieldErr("", "invalid JSON: "+err.Error())
	}

	if raw.Username == "" {
		return ReuseParams{}, fieldErr("username", "must not be empty")
	}
	if raw.Hostname == "" {
		return ReuseParams{}, fieldErr("hostname", "must not be empty")
	}

	port := 22
	if raw.Port != nil {
		port = *raw.Port
	}
	if err := validatePort(port); err != nil {
		return ReuseParams{}, err
	}

	return ReuseParams{
		Username: raw.Username,
		Hostname: strings.ToLower(raw.Hostname),
		Port:     port,
		ShareKey: raw.ShareKey,
	}, nil
}

func validatePort(port int) error {
	if port < 1 || port > 65535 {
		return fieldErr("port", "must be between 1 and 65535")
	}
	return nil
}

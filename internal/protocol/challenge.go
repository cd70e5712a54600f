package protocol

import "encoding/json"

// Challenge is the payload of a CHALLENGE frame, mirroring the
// keyboard-interactive callback shape of the SSH protocol.
type Challenge struct {
	Title        string   `json:"title"`
	Instructions string   `json:"instructions"`
	Language     string   `json:"language"`
	Prompts      []string `json:"prompts"`
}

// ChallengeResponse is the decoded payload of a CHALLENGE_RESPONSE frame.
type ChallengeResponse struct {
	Responses []string `json:"responses"`
}

// ParseChallengeResponse decodes a CHALLENGE_RESPONSE payload.
func ParseChallengeResponse(payload []byte) (ChallengeResponse, error) {
	var resp ChallengeResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return ChallengeResponse{}, fieldErr("", "invalid JSON: "+err.Error())
	}
	if resp.Responses == nil {
		return ChallengeResponse{}, fieldErr("responses", "must be present")
	}
	return resp, nil
}

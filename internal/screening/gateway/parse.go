package gateway

import (
	"encoding/json"
	"math"
	"regexp"

	"jobsieve/internal/core/domain"
)

// parsedReply mirrors the JSON object the classifier is asked to produce.
type parsedReply struct {
	Score      float64  `json:"score"`
	Acceptable *bool    `json:"acceptable"`
	Reasoning  string   `json:"reasoning"`
	Tags       []string `json:"tags"`
}

var (
	fencedJSONRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(\\{.*?\\})\\s*\\n?```")
	bareJSONRe   = regexp.MustCompile(`(?s)(\{.*\})`)
)

// extractJSON pulls a JSON object out of possibly noisy model output,
// handling markdown code fences and surrounding prose.
func extractJSON(text string) string {
	if matches := fencedJSONRe.FindStringSubmatch(text); len(matches) > 1 {
		return matches[1]
	}
	if matches := bareJSONRe.FindStringSubmatch(text); len(matches) > 1 {
		return matches[1]
	}
	return ""
}

// parseReply validates the raw classifier output into a structured reply.
func parseReply(raw string) (*parsedReply, error) {
	jsonText := extractJSON(raw)
	if jsonText == "" {
		return nil, domain.NewParseError("no JSON object in classifier reply", raw)
	}

	var reply parsedReply
	if err := json.Unmarshal([]byte(jsonText), &reply); err != nil {
		return nil, domain.NewParseError("malformed JSON in classifier reply: "+err.Error(), raw)
	}

	if math.IsNaN(reply.Score) || reply.Score < 0 || reply.Score > 1 {
		return nil, domain.NewParseError("score outside [0, 1]", raw)
	}

	return &reply, nil
}

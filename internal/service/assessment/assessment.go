// Package assessment parses the model's scam judgment and maps scores to
// alert categories.
package assessment

import (
	"encoding/json"
	"strings"
)

// Assessment is one parsed judgment, e.g. {"response":"Possible Scam","score":6}.
type Assessment struct {
	Label string
	Score int
}

type payload struct {
	Response *string `json:"response"`
	Score    *int    `json:"score"`
}

// Parse extracts an Assessment from a model transcript. Anything that is not
// a JSON object with a string "response" and an integer "score" yields false.
func Parse(text string) (Assessment, bool) {
	text = stripFence(strings.TrimSpace(text))
	if !strings.HasPrefix(text, "{") {
		return Assessment{}, false
	}

	var p payload
	if err := json.Unmarshal([]byte(text), &p); err != nil {
		return Assessment{}, false
	}
	if p.Response == nil || p.Score == nil {
		return Assessment{}, false
	}
	return Assessment{Label: strings.TrimSpace(*p.Response), Score: *p.Score}, true
}

// stripFence removes a surrounding markdown code fence such as ```json ... ```.
func stripFence(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[i+1:]
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

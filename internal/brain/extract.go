package brain

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Payload is the structured shape the model is asked to emit.
type Payload struct {
	Reply  string `json:"reply"`
	Action string `json:"action,omitempty"`
}

// fencedJSON matches a ```json code fence and captures the object inside.
var fencedJSON = regexp.MustCompile("(?s)```json\\s*(\\{.*?\\})\\s*```")

// ExtractJSON recovers a structured payload from model output. Models wrap
// JSON in prose and code fences unpredictably, so recovery runs in tiers:
// the whole output as JSON, then the first ```json fence, then the outermost
// brace span. Output that yields no object with a reply field is treated as
// a plain conversational reply and nil is returned.
func ExtractJSON(raw string) *Payload {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}

	if p := tryParse(s); p != nil {
		return p
	}

	if m := fencedJSON.FindStringSubmatch(s); m != nil {
		if p := tryParse(m[1]); p != nil {
			return p
		}
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		if p := tryParse(s[start : end+1]); p != nil {
			return p
		}
	}

	return nil
}

// tryParse accepts only JSON objects carrying a reply, the signal that the
// payload is ours rather than JSON the user happened to paste.
func tryParse(s string) *Payload {
	var p Payload
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return nil
	}
	if p.Reply == "" && p.Action == "" {
		return nil
	}
	return &p
}

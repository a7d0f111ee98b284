package brain

import (
	"fmt"
	"strings"
)

// proposeVerb is the only action verb the interview loop understands.
const proposeVerb = "propose_ticket"

// Proposal is a parsed propose_ticket action: the fields the model wants to
// put on the draft.
type Proposal struct {
	Title       string
	Urgency     string
	Description string
}

// ParseProposal parses a pipe-delimited action string of the form
//
//	propose_ticket | <title> | <urgency> | <description>
//
// The description may itself contain pipes; only the first three delimiters
// split.
func ParseProposal(action string) (*Proposal, error) {
	parts := strings.SplitN(action, "|", 4)
	if len(parts) != 4 {
		return nil, fmt.Errorf("brain: action has %d field(s), want 4", len(parts))
	}

	verb := strings.TrimSpace(parts[0])
	if verb != proposeVerb {
		return nil, fmt.Errorf("brain: unknown action verb %q", verb)
	}

	p := &Proposal{
		Title:       strings.TrimSpace(parts[1]),
		Urgency:     strings.TrimSpace(parts[2]),
		Description: strings.TrimSpace(parts[3]),
	}
	if p.Title == "" {
		return nil, fmt.Errorf("brain: proposal title is empty")
	}
	if p.Description == "" {
		return nil, fmt.Errorf("brain: proposal description is empty")
	}
	if p.Urgency == "" {
		p.Urgency = "Medium"
	}
	return p, nil
}

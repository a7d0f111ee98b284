// Package brain turns ticket conversations into replies and structured
// proposals using a language model.
package brain

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"
)

const (
	// maxRetries is the max number of retries for rate-limited model calls.
	maxRetries = 3
	// baseBackoff is the initial backoff duration between retries.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff.
	maxBackoff = 2 * time.Minute
)

// FallbackReply is shown when the model fails outright or no model is
// configured at all. Raw provider errors never reach the requester.
const FallbackReply = "Sorry, I'm having trouble thinking right now. Please try again in a moment, or type !wb submit to hand your ticket straight to the team."

// Completer produces one model completion for a conversation. history holds
// prior turns oldest first, formatted "User: ..." / "Bot: ...".
type Completer interface {
	Complete(ctx context.Context, system string, history []string, userMessage string) (string, error)
}

// RateLimitError marks a completion failure as retryable.
type RateLimitError struct {
	Err error
}

func (e *RateLimitError) Error() string { return fmt.Sprintf("brain: rate limited: %v", e.Err) }
func (e *RateLimitError) Unwrap() error { return e.Err }

// Result is one engine turn: a reply for the channel and, when the model
// committed to a proposal, the parsed ticket fields.
type Result struct {
	Reply    string
	Proposal *Proposal
}

// Engine drives the draft interview loop.
type Engine struct {
	completer   Completer
	maxRetries  int
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

// EngineOpts holds parameters for creating an Engine.
type EngineOpts struct {
	Completer   Completer
	MaxRetries  int
	BaseBackoff time.Duration
}

// NewEngine creates a proposal engine.
func NewEngine(opts EngineOpts) (*Engine, error) {
	if opts.Completer == nil {
		return nil, fmt.Errorf("brain: completer is required")
	}
	e := &Engine{
		completer:   opts.Completer,
		maxRetries:  opts.MaxRetries,
		baseBackoff: opts.BaseBackoff,
		maxBackoff:  maxBackoff,
	}
	if e.maxRetries <= 0 {
		e.maxRetries = maxRetries
	}
	if e.baseBackoff <= 0 {
		e.baseBackoff = baseBackoff
	}
	return e, nil
}

// Respond runs one interview turn. Model failures degrade to an apologetic
// reply with no proposal; the caller never sees an error for provider
// trouble, only for context cancellation.
func (e *Engine) Respond(ctx context.Context, history []string, userMessage string) (*Result, error) {
	raw, err := e.complete(ctx, history, userMessage)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Printf("brain: completion failed: %v", err)
		return &Result{Reply: FallbackReply}, nil
	}
	return parseResponse(raw), nil
}

// complete calls the model, retrying with exponential backoff on rate limits.
func (e *Engine) complete(ctx context.Context, history []string, userMessage string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		raw, err := e.completer.Complete(ctx, systemPrompt, history, userMessage)
		if err == nil {
			return raw, nil
		}
		lastErr = err

		var rl *RateLimitError
		if !errors.As(err, &rl) {
			return "", err
		}
		if attempt == e.maxRetries {
			return "", err
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * e.baseBackoff
		if wait > e.maxBackoff {
			wait = e.maxBackoff
		}
		log.Printf("brain: rate limited (attempt %d/%d), retrying in %v", attempt+1, e.maxRetries, wait)

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(wait):
		}
	}
	return "", lastErr
}

// parseResponse turns the raw model output into a Result. A structured
// payload wins; otherwise the whole output is the reply.
func parseResponse(raw string) *Result {
	payload := ExtractJSON(raw)
	if payload == nil {
		return &Result{Reply: strings.TrimSpace(raw)}
	}

	res := &Result{Reply: strings.TrimSpace(payload.Reply)}
	if payload.Action != "" {
		p, err := ParseProposal(payload.Action)
		if err != nil {
			log.Printf("brain: discarding malformed action %q: %v", payload.Action, err)
		} else {
			res.Proposal = p
		}
	}
	if res.Reply == "" && res.Proposal != nil {
		res.Reply = fmt.Sprintf("I've drafted your ticket: **%s**. Type !wb submit to file it, or keep talking to refine it.", res.Proposal.Title)
	}
	return res
}

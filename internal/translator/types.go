package translator

import (
	"context"
	"fmt"

	"golang.org/x/text/language"
)

// Unit is one translation unit: a full sentence or a stand-alone entry
// text. IDs are ordinals assigned by the caller and echoed back in
// results.
type Unit struct {
	ID   int
	Text string
}

// Result carries the translation for one unit.
type Result struct {
	ID   int
	Text string
}

// Exchange is a previously translated unit shown to the provider as
// context so terminology and tone stay consistent across calls.
type Exchange struct {
	Source     string
	Translated string
}

// Request is one provider call.
type Request struct {
	Units   []Unit
	Context []Exchange
	Source  language.Tag // language.Und when auto-detection failed
	Target  language.Tag
}

// Provider translates a batch of units in a single call. The contract
// is strict: a successful call returns exactly one result per unit, in
// unit order. Anything else is a ProviderError and the whole call is
// discarded.
type Provider interface {
	Name() string
	Translate(ctx context.Context, req Request) ([]Result, error)
}

// ProviderError reports a failed or malformed provider call.
type ProviderError struct {
	Provider string
	Reason   string
	Expected int // unit count, 0 when not a count mismatch
	Got      int
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Expected > 0 && e.Expected != e.Got {
		return fmt.Sprintf("provider %s: %s: expected %d translations, got %d", e.Provider, e.Reason, e.Expected, e.Got)
	}
	if e.Err != nil {
		return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Reason, e.Err)
	}
	return fmt.Sprintf("provider %s: %s", e.Provider, e.Reason)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

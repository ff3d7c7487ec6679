package extract

import "errors"

// TruncationMarker is appended to truncated text.
const TruncationMarker = "..."

// ErrNoContent is wrapped by Content.Err when no text could be extracted.
var ErrNoContent = errors.New("no extractable content")

// Tier identifies which extraction rule produced the text.
type Tier int

const (
	// TierNone means extraction failed.
	TierNone Tier = iota
	// TierSelector is a structural main-content selector match.
	TierSelector
	// TierParagraph is the paragraph and heading aggregate.
	TierParagraph
	// TierFallback is all visible body text.
	TierFallback
)

// String implements fmt.Stringer.
func (t Tier) String() string {
	switch t {
	case TierSelector:
		return "selector"
	case TierParagraph:
		return "paragraph"
	case TierFallback:
		return "fallback"
	default:
		return "none"
	}
}

// Content is the result of one extraction. It is never mutated after creation.
type Content struct {
	Text        string `json:"text"`
	Length      int    `json:"length"`
	Truncated   bool   `json:"truncated"`
	Tier        Tier   `json:"-"`
	Interrupted bool   `json:"interrupted,omitempty"`
	Err         error  `json:"-"`
}

// Empty reports whether no text was extracted.
func (c Content) Empty() bool {
	return c.Text == ""
}

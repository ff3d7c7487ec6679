// Package extract turns rendered page markup into readable text.
//
// Extraction strips non-content elements and noise containers, then tries
// three tiers in order until one clears the quality bar: structural content
// selectors, paragraph and heading aggregation, and finally all visible body
// text. The result is whitespace-collapsed and truncated to a rune budget.
package extract

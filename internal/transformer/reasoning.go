package transformer

// reasoningEffortFromThinking maps Anthropic's thinking token budget to
// OpenAI's reasoning_effort tiers — the reverse of the teacher's
// buildThinking, which maps OpenAI's reasoning_effort to Anthropic's
// thinking budget (1024/8192/24576 for low/medium/high). Budgets that
// don't land exactly on a tier are rounded up to the lowest tier whose
// budget covers them (up to 1024 is low, up to 8192 is medium, anything
// larger is high) rather than dropped, so thinking requests still reach
// the upstream as some reasoning effort instead of silently becoming none.
func reasoningEffortFromThinking(t *ThinkingConfig) string {
	if t == nil || t.Type != "enabled" {
		return ""
	}

	switch {
	case t.BudgetTokens <= 0:
		return ""
	case t.BudgetTokens <= 1024:
		return "low"
	case t.BudgetTokens <= 8192:
		return "medium"
	default:
		return "high"
	}
}

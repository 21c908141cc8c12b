// Package extraction turns free text into deadline candidates.
//
// A Chain holds interpreters in order of quality and cost:
//
//   - cloud: a hosted model (Groq by default, Anthropic optionally)
//   - local: a model served by Ollama
//   - pattern: fixed date regular expressions, always available
//
// The chain commits to the first interpreter that does not fail. An empty
// candidate list is a valid answer and does not trigger fallback. Only when
// every interpreter fails does Extract return ErrAllInterpretersFailed.
//
// Usage:
//
//	chain, err := extraction.NewChainFromConfig(cfg.Extraction, logger)
//	if err != nil {
//	    return err
//	}
//	res, err := chain.Extract(ctx, "Assignment due on January 20, 2024 at 11:59 PM")
//	for _, c := range res.Candidates {
//	    due, _ := c.DueAt(time.Local)
//	}
//
// Text sent to a model is scrubbed of credentials and truncated to 1000
// runes. Model replies are searched for the first JSON array; almost-JSON
// is repaired before it is declared malformed.
package extraction

// Package assist talks to an OpenAI-compatible chat completions endpoint on
// behalf of assist commands. Every call is routed through the resilience
// layer under the assistant feature; document drafting requests are
// deferrable, and their answers pass through sanitation before they reach
// the workflow document store.
package assist

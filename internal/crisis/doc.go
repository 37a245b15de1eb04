// Package crisis screens free text for self-harm or suicidal intent and hands
// positive results to an escalation channel.
//
// Detection runs in two tiers. A lexical pass over a fixed list of patterns
// catches explicit wording in linear time. When an embedding provider is
// configured, a semantic pass compares sliding word windows of the input
// against reference phrases by cosine similarity. Both tiers fail open: any
// error inside detection degrades to "no crisis" instead of reaching the caller.
//
// The Service wraps a Detector with the request-facing behaviour: it assigns
// ids, returns the supportive reply and dispatches escalation on a detached
// goroutine so the caller never waits on alert delivery.
package crisis

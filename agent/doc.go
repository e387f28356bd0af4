// Package agent implements the agent state machine: a named state, an
// ordered execution context, declared transitions and background behaviors,
// all driven by messages from an unbounded mailbox.
//
// Transitions run synchronously inside the agent loop; the state has always
// advanced by the time the next message is processed. Behaviors run in
// background goroutines and feed their results back through the mailbox, so
// behavior output becomes visible only when the agent processes the merge
// message.
package agent

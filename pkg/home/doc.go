/*
Package home resolves a bamboo agent's identity from its installation
directory (the "bamboo-agent-home") and, when the agent is still
pending, performs the authentication handshake against the server.

Two marker files are inspected, both read-only for this package:

	bamboo-agent.cfg.xml    <agentUuid>…</agentUuid>, <id>…</id>
	uuid-temp.properties    agentUuid=…

Resolution outcomes map to the error taxonomy: NotInstalled (no
marker, fatal), NotYetVisible (server has not observed the agent or
registration is still propagating, retryable), AuthFailed (the
authentication call was rejected).

Resolve is a single pass; the reconciler wraps it in a bounded poll
driven by IsRetryable. The authoritative persisted identity lives in
the agent's own config file, which the agent process rewrites after
approval; this package never writes it.
*/
package home

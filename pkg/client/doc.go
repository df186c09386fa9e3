/*
Package client provides a typed HTTP client for the subset of the
Bamboo control plane needed for agent lifecycle reconciliation.

Two endpoint families are covered:

  - REST (/rest/api/latest/agent/...): pending-agent listing, agent
    authentication, the agent list, assignment listing/addition/
    removal, and the assignable-entity search.
  - Admin form actions (/admin/agent/*.action): enable, disable,
    rename, remove. These respond with HTTP 302 on success; the
    client never follows redirects so the 302 stays observable.

Every request carries HTTP Basic authentication and the
"X-Atlassian-Token: no-check" header that the form actions require.

# Error Handling

Failures are typed: *Error carries a FailureKind (unauthorized,
not_found, server_error, unreachable, malformed_response,
unexpected_status) plus method, path and status code. Callers match
with errors.As or the IsKind/IsNotFound helpers:

	agents, err := c.ListAgents(ctx)
	if client.IsKind(err, client.KindUnauthorized) {
		// credentials rejected
	}

The client performs no retries; retry policy belongs to the
reconciler, which knows which conditions are transient.

# Expected Status Codes

	reads                      200
	agent authentication (PUT) 204
	assignment addition (POST) 200
	assignment removal (DELETE) 204
	admin form actions (POST)  302
*/
package client

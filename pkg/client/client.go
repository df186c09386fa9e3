package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/stefanhoelzl/bamboo-agent-reconciler/pkg/log"
	"github.com/stefanhoelzl/bamboo-agent-reconciler/pkg/metrics"
	"github.com/stefanhoelzl/bamboo-agent-reconciler/pkg/types"
)

// Client issues authenticated requests against the Bamboo control
// plane: the REST API for reads/authentication/assignments and the
// admin form actions for enable/disable/rename/remove.
type Client struct {
	host       string
	creds      types.Credentials
	httpClient *http.Client
	logger     zerolog.Logger
}

// New creates a Bamboo client. The admin form actions answer with a
// redirect on success, so the underlying HTTP client never follows
// redirects.
func New(host string, creds types.Credentials, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = types.DefaultHTTPTimeout
	}

	return &Client{
		host:  strings.TrimRight(host, "/"),
		creds: creds,
		httpClient: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: log.WithComponent("client"),
	}
}

// Host returns the configured base URL.
func (c *Client) Host() string {
	return c.host
}

// do issues one request and decodes the JSON body into out when out
// is non-nil. Any status other than expect yields a typed *Error.
func (c *Client) do(ctx context.Context, method, path string, expect int, out interface{}) error {
	timer := metrics.NewTimer()

	req, err := http.NewRequestWithContext(ctx, method, c.host+path, nil)
	if err != nil {
		return &Error{Kind: KindUnreachable, Method: method, Path: path, Message: err.Error(), Err: err}
	}
	req.SetBasicAuth(c.creds.User, c.creds.Password)
	req.Header.Set("X-Atlassian-Token", "no-check")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.APIRequestsTotal.WithLabelValues(method, "error").Inc()
		return &Error{Kind: KindUnreachable, Method: method, Path: path, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	metrics.APIRequestsTotal.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()
	timer.ObserveDurationVec(metrics.APIRequestDuration, method)

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Msg("request")

	if resp.StatusCode != expect {
		return &Error{
			Kind:       classify(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Method:     method,
			Path:       path,
			Message:    fmt.Sprintf("expected HTTP %d", expect),
		}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &Error{Kind: KindMalformedResponse, Method: method, Path: path, Message: err.Error(), Err: err}
		}
	}
	return nil
}

// PendingAgent is an installed agent awaiting authentication.
type PendingAgent struct {
	UUID     string `json:"uuid"`
	IP       string `json:"ip"`
	Approved bool   `json:"approved"`
}

// PendingAgents lists agents that contacted the server but are not
// yet authenticated.
func (c *Client) PendingAgents(ctx context.Context) ([]PendingAgent, error) {
	var pending []PendingAgent
	err := c.do(ctx, http.MethodGet, "/rest/api/latest/agent/authentication?pending=true", http.StatusOK, &pending)
	if err != nil {
		return nil, err
	}
	return pending, nil
}

// AuthenticateAgent approves a pending agent by its temporary UUID.
func (c *Client) AuthenticateAgent(ctx context.Context, uuid string) error {
	path := "/rest/api/latest/agent/authentication/" + url.PathEscape(uuid)
	return c.do(ctx, http.MethodPut, path, http.StatusNoContent, nil)
}

// AgentInfo is one entry of the server's agent list.
type AgentInfo struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Type    string `json:"type"`
	Enabled bool   `json:"enabled"`
	Busy    bool   `json:"busy"`
	Active  bool   `json:"active"`
}

// ListAgents returns all registered agents.
func (c *Client) ListAgents(ctx context.Context) ([]AgentInfo, error) {
	var agents []AgentInfo
	if err := c.do(ctx, http.MethodGet, "/rest/api/latest/agent/", http.StatusOK, &agents); err != nil {
		return nil, err
	}
	return agents, nil
}

// GetAgent returns the agent with the given ID, or a KindNotFound
// error when the server does not list it.
func (c *Client) GetAgent(ctx context.Context, agentID int64) (*AgentInfo, error) {
	agents, err := c.ListAgents(ctx)
	if err != nil {
		return nil, err
	}
	for i := range agents {
		if agents[i].ID == agentID {
			return &agents[i], nil
		}
	}
	return nil, &Error{
		Kind:    KindNotFound,
		Method:  http.MethodGet,
		Path:    "/rest/api/latest/agent/",
		Message: fmt.Sprintf("agent %d not listed", agentID),
	}
}

// AgentAssignment is one dedication of an agent to an executable
// entity, as reported by the assignment list endpoint.
type AgentAssignment struct {
	EntityID int64
	Type     types.AssignmentType
}

type assignmentRecord struct {
	ExecutableID   int64  `json:"executableId"`
	ExecutableType string `json:"executableType"`
}

// AgentAssignments lists the current assignments of an agent.
func (c *Client) AgentAssignments(ctx context.Context, agentID int64) ([]AgentAssignment, error) {
	path := fmt.Sprintf("/rest/api/latest/agent/assignment?executorType=AGENT&executorId=%d", agentID)
	var records []assignmentRecord
	if err := c.do(ctx, http.MethodGet, path, http.StatusOK, &records); err != nil {
		return nil, err
	}
	assignments := make([]AgentAssignment, 0, len(records))
	for _, r := range records {
		assignments = append(assignments, AgentAssignment{
			EntityID: r.ExecutableID,
			Type:     types.AssignmentType(r.ExecutableType),
		})
	}
	return assignments, nil
}

func assignmentPath(agentID int64, atype types.AssignmentType, entityID int64) string {
	return fmt.Sprintf(
		"/rest/api/latest/agent/assignment?executorType=AGENT&executorId=%d&assignmentType=%s&entityId=%d",
		agentID, atype, entityID,
	)
}

// AddAssignment dedicates an agent to an entity.
func (c *Client) AddAssignment(ctx context.Context, agentID int64, atype types.AssignmentType, entityID int64) error {
	return c.do(ctx, http.MethodPost, assignmentPath(agentID, atype, entityID), http.StatusOK, nil)
}

// RemoveAssignment removes a dedication of an agent to an entity.
func (c *Client) RemoveAssignment(ctx context.Context, agentID int64, atype types.AssignmentType, entityID int64) error {
	return c.do(ctx, http.MethodDelete, assignmentPath(agentID, atype, entityID), http.StatusNoContent, nil)
}

// SearchResult maps an assignable entity key to its internal ID.
type SearchResult struct {
	Key      string
	EntityID int64
}

type searchResponse struct {
	SearchResults []struct {
		ID           string `json:"id"`
		SearchEntity struct {
			ID int64 `json:"id"`
		} `json:"searchEntity"`
	} `json:"searchResults"`
}

// SearchAssignableEntities lists all entities of the given type an
// agent can be assigned to.
func (c *Client) SearchAssignableEntities(ctx context.Context, atype types.AssignmentType) ([]SearchResult, error) {
	path := fmt.Sprintf("/rest/api/latest/agent/assignment/search?searchTerm=&executorType=AGENT&entityType=%s", atype)
	var resp searchResponse
	if err := c.do(ctx, http.MethodGet, path, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	results := make([]SearchResult, 0, len(resp.SearchResults))
	for _, r := range resp.SearchResults {
		results = append(results, SearchResult{Key: r.ID, EntityID: r.SearchEntity.ID})
	}
	return results, nil
}

// SetAgentName updates the agent's display name through the admin
// form action (success is a 302 redirect).
func (c *Client) SetAgentName(ctx context.Context, agentID int64, name string) error {
	params := url.Values{}
	params.Set("agentId", strconv.FormatInt(agentID, 10))
	params.Set("agentName", name)
	params.Set("save", "Update")
	return c.do(ctx, http.MethodPost, "/admin/agent/updateAgentDetails.action?"+params.Encode(), http.StatusFound, nil)
}

// EnableAgent enables the agent.
func (c *Client) EnableAgent(ctx context.Context, agentID int64) error {
	return c.adminAction(ctx, "enableAgent", agentID)
}

// DisableAgent disables the agent.
func (c *Client) DisableAgent(ctx context.Context, agentID int64) error {
	return c.adminAction(ctx, "disableAgent", agentID)
}

// RemoveAgent deletes the agent from the server.
func (c *Client) RemoveAgent(ctx context.Context, agentID int64) error {
	return c.adminAction(ctx, "removeAgent", agentID)
}

func (c *Client) adminAction(ctx context.Context, action string, agentID int64) error {
	path := fmt.Sprintf("/admin/agent/%s.action?agentId=%d", action, agentID)
	return c.do(ctx, http.MethodPost, path, http.StatusFound, nil)
}

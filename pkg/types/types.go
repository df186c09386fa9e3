package types

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AssignmentType identifies the kind of entity an agent can be
// dedicated to. Bamboo exposes projects and build plans.
type AssignmentType string

const (
	AssignmentTypeProject AssignmentType = "PROJECT"
	AssignmentTypePlan    AssignmentType = "PLAN"
)

// ParseAssignmentType converts the operator-facing lowercase form
// ("project", "plan") into the server-facing constant.
func ParseAssignmentType(s string) (AssignmentType, error) {
	switch strings.ToUpper(s) {
	case string(AssignmentTypeProject):
		return AssignmentTypeProject, nil
	case string(AssignmentTypePlan):
		return AssignmentTypePlan, nil
	}
	return "", fmt.Errorf("unknown assignment type %q (want project or plan)", s)
}

// Assignment is a desired project/plan dedication identified by its
// Bamboo entity key (e.g. "PR" or "PR-PLAN").
type Assignment struct {
	Type AssignmentType
	Key  string
}

func (a Assignment) String() string {
	return fmt.Sprintf("%s %s", strings.ToLower(string(a.Type)), a.Key)
}

// Credentials authenticate against the Bamboo server (HTTP Basic).
type Credentials struct {
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// Timings bounds the polling loops and HTTP requests of a
// reconciliation run. Zero BusyTimeout means wait indefinitely.
type Timings struct {
	HTTPTimeout           Duration `yaml:"httpTimeout"`
	AuthenticationTimeout Duration `yaml:"authenticationTimeout"`
	BusyTimeout           Duration `yaml:"busyTimeout"`
	BusyPollingInterval   Duration `yaml:"busyPollingInterval"`
}

// Default timing values, matching the Bamboo server's observed
// convergence characteristics.
const (
	DefaultHTTPTimeout           = 10 * time.Second
	DefaultAuthenticationTimeout = 240 * time.Second
	DefaultBusyPollingInterval   = 60 * time.Second
)

// DesiredConfig is the operator-declared target state for one remote
// agent. Optional fields (Name, Enabled, Assignments) are only
// reconciled when set; Assignments, when present, is the complete
// desired set (entries missing from it are removed from the server).
type DesiredConfig struct {
	Host           string       `yaml:"host"`
	Home           string       `yaml:"home"`
	Name           *string      `yaml:"name"`
	Enabled        *bool        `yaml:"enabled"`
	Assignments    []Assignment `yaml:"-"`
	BlockWhileBusy bool         `yaml:"blockWhileBusy"`
	Deleted        bool         `yaml:"deleted"`
	Credentials    Credentials  `yaml:"credentials"`
	Timings        Timings      `yaml:"timings"`

	// HasAssignments distinguishes "manage assignments, want none"
	// from "assignments not managed". A YAML `assignments: []` sets it.
	HasAssignments bool `yaml:"-"`
}

// desiredConfigYAML is the on-disk shape; assignments need custom
// handling to keep the present-but-empty distinction.
type desiredConfigYAML struct {
	Host           string           `yaml:"host"`
	Home           string           `yaml:"home"`
	Name           *string          `yaml:"name"`
	Enabled        *bool            `yaml:"enabled"`
	Assignments    []assignmentYAML `yaml:"assignments"`
	BlockWhileBusy bool             `yaml:"blockWhileBusy"`
	Deleted        bool             `yaml:"deleted"`
	Credentials    Credentials      `yaml:"credentials"`
	Timings        Timings          `yaml:"timings"`
}

type assignmentYAML struct {
	Type string `yaml:"type"`
	Key  string `yaml:"key"`
}

// UnmarshalYAML decodes the operator document, translating assignment
// types and recording whether the assignments list was present.
func (c *DesiredConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw desiredConfigYAML
	if err := value.Decode(&raw); err != nil {
		return err
	}
	c.Host = raw.Host
	c.Home = raw.Home
	c.Name = raw.Name
	c.Enabled = raw.Enabled
	c.BlockWhileBusy = raw.BlockWhileBusy
	c.Deleted = raw.Deleted
	c.Credentials = raw.Credentials
	c.Timings = raw.Timings

	c.Assignments = nil
	c.HasAssignments = false
	for i := 0; i+1 < len(value.Content); i += 2 {
		if value.Content[i].Value == "assignments" {
			c.HasAssignments = true
			break
		}
	}
	for _, a := range raw.Assignments {
		atype, err := ParseAssignmentType(a.Type)
		if err != nil {
			return err
		}
		c.Assignments = append(c.Assignments, Assignment{Type: atype, Key: a.Key})
	}
	return nil
}

// LoadDesiredConfig reads and validates an operator configuration
// file. The BAMBOO_PASSWORD environment variable overrides the
// credential from the file so secrets can stay out of version control.
func LoadDesiredConfig(path string) (*DesiredConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg DesiredConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if pw := os.Getenv("BAMBOO_PASSWORD"); pw != "" {
		cfg.Credentials.Password = pw
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills unset timings with their defaults.
func (c *DesiredConfig) ApplyDefaults() {
	if c.Timings.HTTPTimeout == 0 {
		c.Timings.HTTPTimeout = Duration(DefaultHTTPTimeout)
	}
	if c.Timings.AuthenticationTimeout == 0 {
		c.Timings.AuthenticationTimeout = Duration(DefaultAuthenticationTimeout)
	}
	if c.Timings.BusyPollingInterval == 0 {
		c.Timings.BusyPollingInterval = Duration(DefaultBusyPollingInterval)
	}
}

// Validate checks the configuration for required fields and
// internal consistency.
func (c *DesiredConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Home == "" {
		return fmt.Errorf("home is required")
	}
	if c.Credentials.User == "" {
		return fmt.Errorf("credentials.user is required")
	}
	if c.Credentials.Password == "" {
		return fmt.Errorf("credentials.password is required (or set BAMBOO_PASSWORD)")
	}
	seen := make(map[Assignment]bool)
	for _, a := range c.Assignments {
		if a.Key == "" {
			return fmt.Errorf("assignment key is required")
		}
		if seen[a] {
			return fmt.Errorf("duplicate assignment %s", a)
		}
		seen[a] = true
	}
	return nil
}

// AssignmentRecord is an assignment as reported by the server:
// resolved to the internal entity ID, with the key filled in when
// it could be recovered from the assignable-entity search.
type AssignmentRecord struct {
	Type     AssignmentType
	Key      string
	EntityID int64
}

func (r AssignmentRecord) String() string {
	if r.Key != "" {
		return fmt.Sprintf("%s %s", strings.ToLower(string(r.Type)), r.Key)
	}
	return fmt.Sprintf("%s #%d", strings.ToLower(string(r.Type)), r.EntityID)
}

// CurrentState is the server-side snapshot for a registered agent.
// Recomputed on every run, never cached across runs.
type CurrentState struct {
	AgentID     int64
	Name        string
	Enabled     bool
	Busy        bool
	Active      bool
	Assignments []AssignmentRecord
}

// SortedAssignments returns the assignment records ordered by type
// then key then entity ID, for stable rendering.
func (s *CurrentState) SortedAssignments() []AssignmentRecord {
	out := make([]AssignmentRecord, len(s.Assignments))
	copy(out, s.Assignments)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		if out[i].Key != out[j].Key {
			return out[i].Key < out[j].Key
		}
		return out[i].EntityID < out[j].EntityID
	})
	return out
}

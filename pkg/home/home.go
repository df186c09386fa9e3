package home

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	googleuuid "github.com/google/uuid"
)

// Marker files the bamboo agent maintains under its home directory.
// Before authentication only the temporary properties file exists;
// once the server accepts the agent, the config file holds the
// assigned numeric ID. This package only ever reads them.
const (
	ConfigFileName   = "bamboo-agent.cfg.xml"
	UUIDTempFileName = "uuid-temp.properties"
)

var (
	uuidConfigPattern = regexp.MustCompile(`<agentUuid>([A-Za-z0-9-]+)</agentUuid>`)
	idConfigPattern   = regexp.MustCompile(`<id>([0-9]+)</id>`)
	uuidTempPattern   = regexp.MustCompile(`(?m)^agentUuid=([A-Za-z0-9-]+)\s*$`)
)

// Identity is what the local installation knows about the agent. An
// identity is pending (temporary UUID only), registered (server
// assigned an ID), or both during the authentication transition.
type Identity struct {
	UUID    string
	AgentID int64
}

// Registered reports whether the server has assigned an agent ID.
func (i Identity) Registered() bool {
	return i.AgentID != 0
}

// Pending reports whether only the temporary UUID is known.
func (i Identity) Pending() bool {
	return i.UUID != "" && i.AgentID == 0
}

func (i Identity) String() string {
	switch {
	case i.Registered():
		return fmt.Sprintf("agent %d", i.AgentID)
	case i.Pending():
		return fmt.Sprintf("pending agent %s", i.UUID)
	default:
		return "unknown agent"
	}
}

// ReadIdentity inspects the agent home directory. It returns a
// NotInstalled resolution error when neither marker file exists.
func ReadIdentity(dir string) (Identity, error) {
	var identity Identity

	config, err := os.ReadFile(filepath.Join(dir, ConfigFileName))
	switch {
	case err == nil:
		if m := uuidConfigPattern.FindSubmatch(config); m != nil {
			identity.UUID = string(m[1])
		}
		if m := idConfigPattern.FindSubmatch(config); m != nil {
			id, err := strconv.ParseInt(string(m[1]), 10, 64)
			if err != nil {
				return Identity{}, fmt.Errorf("invalid agent id in %s: %w", ConfigFileName, err)
			}
			identity.AgentID = id
		}
	case !os.IsNotExist(err):
		return Identity{}, fmt.Errorf("failed to read %s: %w", ConfigFileName, err)
	}

	if identity.UUID == "" && identity.AgentID == 0 {
		props, err := os.ReadFile(filepath.Join(dir, UUIDTempFileName))
		switch {
		case err == nil:
			if m := uuidTempPattern.FindSubmatch(props); m != nil {
				identity.UUID = string(m[1])
			}
		case !os.IsNotExist(err):
			return Identity{}, fmt.Errorf("failed to read %s: %w", UUIDTempFileName, err)
		}
	}

	if identity.UUID == "" && identity.AgentID == 0 {
		return Identity{}, &ResolutionError{Reason: NotInstalled, Home: dir}
	}

	if identity.UUID != "" {
		if _, err := googleuuid.Parse(identity.UUID); err != nil {
			return Identity{}, fmt.Errorf("invalid agent UUID %q in %s: %w", identity.UUID, dir, err)
		}
	}

	return identity, nil
}

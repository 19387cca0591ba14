package logging

import (
	"os"
	"os/user"

	"github.com/google/uuid"
)

// Identity describes the process stamped on every message.
type Identity struct {
	Machine     string `json:"machine"`
	User        string `json:"user"`
	Application string `json:"application"`
	InstanceID  string `json:"instance_id"`
	Version     string `json:"version"`
}

// DetectIdentity fills the machine and user from the environment and assigns
// a fresh instance id.
func DetectIdentity(application, version string) Identity {
	id := Identity{
		Application: application,
		Version:     version,
		InstanceID:  uuid.NewString(),
	}

	if host, err := os.Hostname(); err == nil {
		id.Machine = host
	}

	if u, err := user.Current(); err == nil {
		id.User = u.Username
	} else if name := os.Getenv("USER"); name != "" {
		id.User = name
	}

	return id
}

func (id Identity) withDefaults() Identity {
	if id.InstanceID == "" {
		id.InstanceID = uuid.NewString()
	}
	return id
}

package pipeline

import (
	"github.com/byte4ever/repogate/gateway/auth"
	"github.com/byte4ever/repogate/gateway/command"
	"github.com/byte4ever/repogate/gateway/forge"
	"github.com/byte4ever/repogate/gateway/git"
	"github.com/byte4ever/repogate/gateway/locator"
)

// StepResult is the outcome of one command.
type StepResult struct {
	Step    int            `json:"step"`
	Kind    command.Kind   `json:"kind,omitempty"`
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Error   string         `json:"error,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// Result aggregates a batch. Success is true only when every
// command succeeded.
type Result struct {
	Success     bool               `json:"success"`
	Message     string             `json:"message"`
	Results     []StepResult       `json:"results"`
	Total       int                `json:"total_commands"`
	Successful  int                `json:"successful_commands"`
	Failed      int                `json:"failed_commands"`
	Repository  *locator.Reference `json:"repository,omitempty"`
	Identity    *forge.Identity    `json:"user,omitempty"`
	Permissions *forge.Permissions `json:"permissions,omitempty"`

	// Err is the reason of a failed batch.
	Err error `json:"-"`

	notReady bool
}

// Status is a snapshot of a Pipeline.
type Status struct {
	Session     auth.State         `json:"session"`
	Identity    *forge.Identity    `json:"user,omitempty"`
	Repository  *locator.Reference `json:"repository,omitempty"`
	WorkingCopy string             `json:"local_path,omitempty"`
	Git         *git.Status        `json:"git,omitempty"`
}

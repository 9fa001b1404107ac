package command

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/byte4ever/repogate/gateway/errs"
)

// Kind names a command.
type Kind string

// Command kinds.
const (
	KindCreateFile   Kind = "create_file"
	KindReadFile     Kind = "read_file"
	KindModifyFile   Kind = "modify_file"
	KindDeleteFile   Kind = "delete_file"
	KindSearchFile   Kind = "search_file"
	KindPull         Kind = "pull"
	KindCommit       Kind = "commit"
	KindPush         Kind = "push"
	KindCreateBranch Kind = "create_branch"
	KindSwitchBranch Kind = "switch_branch"
	KindClone        Kind = "clone"
)

// field identifies which Command field a kind requires.
type field int

const (
	fieldNone field = iota
	fieldPath
	fieldContent
)

// required is the validation table.
var required = map[Kind]field{
	KindCreateFile:   fieldPath,
	KindReadFile:     fieldPath,
	KindDeleteFile:   fieldPath,
	KindModifyFile:   fieldPath,
	KindSearchFile:   fieldContent,
	KindCommit:       fieldContent,
	KindCreateBranch: fieldPath,
	KindSwitchBranch: fieldPath,
	KindPull:         fieldNone,
	KindPush:         fieldNone,
	KindClone:        fieldNone,
}

// ParseKind resolves a wire kind name. Dotted aliases such
// as "create.file" are accepted alongside the canonical
// underscore names.
func ParseKind(s string) (Kind, bool) {
	k := Kind(strings.ReplaceAll(
		strings.ToLower(strings.TrimSpace(s)), ".", "_",
	))

	if _, ok := required[k]; !ok {
		return "", false
	}

	return k, true
}

// Command is one step of a batch.
type Command struct {
	// Step orders execution. Values need not be contiguous.
	Step int `json:"step" yaml:"step"`
	// Kind names the operation.
	Kind Kind `json:"kind,omitempty" yaml:"kind,omitempty"`
	// Command is the legacy name of Kind, used when Kind is
	// empty.
	Command Kind `json:"command,omitempty" yaml:"command,omitempty"`
	// Path is a file path, branch name or directory.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
	// Content is a base64 payload, search query or commit
	// message.
	Content string `json:"content,omitempty" yaml:"content,omitempty"`
}

// RawKind returns the kind as submitted.
func (c Command) RawKind() string {
	if c.Kind != "" {
		return string(c.Kind)
	}

	return string(c.Command)
}

// Validate checks the fields required by the command's kind.
func (c Command) Validate() error {
	kind, ok := ParseKind(c.RawKind())
	if !ok {
		if c.RawKind() == "" {
			return errors.New("kind is required")
		}

		return fmt.Errorf("unknown kind %q", c.RawKind())
	}

	switch required[kind] {
	case fieldPath:
		if strings.TrimSpace(c.Path) == "" {
			return fmt.Errorf("path is required for %s", kind)
		}

		if kind == KindModifyFile && strings.TrimSpace(
			strings.ReplaceAll(c.Path, appendMarker, ""),
		) == "" {
			return fmt.Errorf("path is required for %s", kind)
		}
	case fieldContent:
		if strings.TrimSpace(c.Content) == "" {
			return fmt.Errorf("content is required for %s", kind)
		}
	case fieldNone:
	}

	return nil
}

// ValidateBatch checks every command and reports the first
// malformed one as an *errs.ValidationError. An empty batch
// is invalid.
func ValidateBatch(cmds []Command) error {
	if len(cmds) == 0 {
		return &errs.ValidationError{
			Index:  -1,
			Step:   -1,
			Reason: "batch is empty",
		}
	}

	for i, c := range cmds {
		if err := c.Validate(); err != nil {
			return &errs.ValidationError{
				Index:  i,
				Step:   c.Step,
				Kind:   c.RawKind(),
				Reason: err.Error(),
			}
		}
	}

	return nil
}

// Sorted returns a copy of cmds in ascending step order.
// Commands sharing a step keep their submitted order.
func Sorted(cmds []Command) []Command {
	out := make([]Command, len(cmds))
	copy(out, cmds)

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Step < out[j].Step
	})

	return out
}

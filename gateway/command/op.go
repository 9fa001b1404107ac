package command

import (
	"fmt"
	"strings"

	"github.com/byte4ever/repogate/gateway/payload"
)

// appendMarker in a modify_file path selects append mode.
const appendMarker = "(append)"

// SearchMode selects how search_file matches files.
type SearchMode string

// Search modes.
const (
	SearchByName      SearchMode = "name"
	SearchByExtension SearchMode = "extension"
	SearchByContent   SearchMode = "content"
)

// Op is a decoded, well-formed command. The concrete types
// below are the only implementations.
type Op interface {
	Kind() Kind
	isOp()
}

// CreateFile writes Content (transport encoded) to Path.
type CreateFile struct {
	Path    string
	Content string
}

// ReadFile returns the content of Path.
type ReadFile struct {
	Path string
}

// ModifyFile overwrites Path, or appends to it when Append
// is set.
type ModifyFile struct {
	Path    string
	Content string
	Append  bool
}

// DeleteFile removes a file or a directory tree.
type DeleteFile struct {
	Path string
}

// SearchFiles looks up files matching Query by Mode.
type SearchFiles struct {
	Query string
	Mode  SearchMode
}

// Pull integrates remote changes into the current branch.
type Pull struct{}

// Commit records all working copy changes with Message.
type Commit struct {
	Message string
}

// Push publishes Branch, or the current branch when empty.
type Push struct {
	Branch string
}

// CreateBranch creates and checks out Name.
type CreateBranch struct {
	Name string
}

// SwitchBranch checks out Name, tracking the remote branch
// when only that exists.
type SwitchBranch struct {
	Name string
}

// Clone reports the provisioned working copy.
type Clone struct{}

func (CreateFile) Kind() Kind   { return KindCreateFile }
func (ReadFile) Kind() Kind     { return KindReadFile }
func (ModifyFile) Kind() Kind   { return KindModifyFile }
func (DeleteFile) Kind() Kind   { return KindDeleteFile }
func (SearchFiles) Kind() Kind  { return KindSearchFile }
func (Pull) Kind() Kind         { return KindPull }
func (Commit) Kind() Kind       { return KindCommit }
func (Push) Kind() Kind         { return KindPush }
func (CreateBranch) Kind() Kind { return KindCreateBranch }
func (SwitchBranch) Kind() Kind { return KindSwitchBranch }
func (Clone) Kind() Kind        { return KindClone }

func (CreateFile) isOp()   {}
func (ReadFile) isOp()     {}
func (ModifyFile) isOp()   {}
func (DeleteFile) isOp()   {}
func (SearchFiles) isOp()  {}
func (Pull) isOp()         {}
func (Commit) isOp()       {}
func (Push) isOp()         {}
func (CreateBranch) isOp() {}
func (SwitchBranch) isOp() {}
func (Clone) isOp()        {}

// Parse validates c and converts it to its Op.
func Parse(c Command) (Op, error) {
	const errCtx = "parsing command"

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	kind, _ := ParseKind(c.RawKind())
	path := strings.TrimSpace(c.Path)

	switch kind {
	case KindCreateFile:
		return CreateFile{Path: path, Content: c.Content}, nil
	case KindReadFile:
		return ReadFile{Path: path}, nil
	case KindModifyFile:
		return parseModify(path, c.Content), nil
	case KindDeleteFile:
		return DeleteFile{Path: path}, nil
	case KindSearchFile:
		return ParseSearch(c.Content), nil
	case KindPull:
		return Pull{}, nil
	case KindCommit:
		msg, _ := payload.DecodeText(c.Content)

		return Commit{Message: msg}, nil
	case KindPush:
		return Push{Branch: path}, nil
	case KindCreateBranch:
		return CreateBranch{Name: path}, nil
	case KindSwitchBranch:
		return SwitchBranch{Name: path}, nil
	case KindClone:
		return Clone{}, nil
	default:
		return nil, fmt.Errorf(
			"%s: unhandled kind %q", errCtx, kind,
		)
	}
}

func parseModify(path string, content string) ModifyFile {
	if !strings.Contains(path, appendMarker) {
		return ModifyFile{Path: path, Content: content}
	}

	return ModifyFile{
		Path: strings.TrimSpace(
			strings.ReplaceAll(path, appendMarker, ""),
		),
		Content: content,
		Append:  true,
	}
}

// ParseSearch decodes a search_file query and splits off its
// mode prefix. Without a recognised prefix the whole decoded
// string is a file name search.
func ParseSearch(content string) SearchFiles {
	query, _ := payload.DecodeText(content)

	prefixes := []struct {
		prefix string
		mode   SearchMode
	}{
		{prefix: "name:", mode: SearchByName},
		{prefix: "extension:", mode: SearchByExtension},
		{prefix: "ext:", mode: SearchByExtension},
		{prefix: "content:", mode: SearchByContent},
	}

	for _, p := range prefixes {
		if rest, ok := strings.CutPrefix(query, p.prefix); ok {
			return SearchFiles{
				Query: strings.TrimSpace(rest),
				Mode:  p.mode,
			}
		}
	}

	return SearchFiles{Query: query, Mode: SearchByName}
}

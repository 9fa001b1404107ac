package pipeline

import (
	"context"
	"fmt"

	"github.com/byte4ever/repogate/gateway/command"
	"github.com/byte4ever/repogate/gateway/git"
)

// dispatch runs one operation against the adapters.
func (p *Pipeline) dispatch(ctx context.Context, op command.Op) StepResult {
	details, msg, err := p.apply(ctx, op)
	if err != nil {
		return StepResult{
			Success: false,
			Message: fmt.Sprintf("%s failed", op.Kind()),
			Error:   err.Error(),
			Details: details,
		}
	}

	return StepResult{
		Success: true,
		Message: msg,
		Details: details,
	}
}

//nolint:funlen,cyclop // one case per command kind
func (p *Pipeline) apply(
	ctx context.Context,
	op command.Op,
) (map[string]any, string, error) {
	token := p.cfg.Session.AccessToken()

	switch o := op.(type) {
	case command.CreateFile:
		info, err := p.files.Create(o.Path, o.Content)
		if err != nil {
			return nil, "", err
		}

		return map[string]any{
			"path":   info.Path,
			"size":   info.Size,
			"sha256": info.SHA256,
		}, "created " + info.Path, nil

	case command.ReadFile:
		fc, err := p.files.Read(o.Path)
		if err != nil {
			return nil, "", err
		}

		return map[string]any{
			"path":    fc.Path,
			"content": fc.Content,
			"text":    fc.Text,
			"size":    fc.Size,
			"sha256":  fc.SHA256,
		}, "read " + fc.Path, nil

	case command.ModifyFile:
		info, err := p.files.Modify(o.Path, o.Content, o.Append)
		if err != nil {
			return nil, "", err
		}

		verb := "modified "
		if o.Append {
			verb = "appended to "
		}

		return map[string]any{
			"path":   info.Path,
			"size":   info.Size,
			"sha256": info.SHA256,
			"append": o.Append,
		}, verb + info.Path, nil

	case command.DeleteFile:
		del, err := p.files.Delete(o.Path)
		if err != nil {
			return nil, "", err
		}

		return map[string]any{
			"path":      del.Path,
			"directory": del.Dir,
		}, "deleted " + del.Path, nil

	case command.SearchFiles:
		matches, err := p.files.Search(o.Mode, o.Query)
		if err != nil {
			return nil, "", err
		}

		return map[string]any{
			"mode":    o.Mode,
			"query":   o.Query,
			"matches": matches,
			"count":   len(matches),
		}, fmt.Sprintf("found %d files", len(matches)), nil

	case command.Pull:
		out, err := p.git.Pull(ctx, token)
		if err != nil {
			return nil, "", err
		}

		return map[string]any{"output": out}, "pulled", nil

	case command.Commit:
		return p.commit(ctx, o)

	case command.Push:
		res, err := p.git.Push(ctx, o.Branch, token)
		if err != nil {
			return nil, "", err
		}

		return map[string]any{
			"branch":       res.Branch,
			"attempts":     res.Attempts,
			"upstream_set": res.UpstreamSet,
		}, "pushed " + res.Branch, nil

	case command.CreateBranch:
		if err := p.git.CreateBranch(ctx, o.Name); err != nil {
			return nil, "", err
		}

		return map[string]any{"branch": o.Name},
			"created branch " + o.Name, nil

	case command.SwitchBranch:
		if err := p.git.SwitchBranch(ctx, o.Name, token); err != nil {
			return nil, "", err
		}

		return map[string]any{"branch": o.Name},
			"switched to " + o.Name, nil

	case command.Clone:
		return map[string]any{
			"local_path": p.wc.Path,
			"repository": p.wc.Reference.FullName,
		}, "repository available at " + p.wc.Path, nil

	default:
		return nil, "", fmt.Errorf("unsupported operation %T", op)
	}
}

func (p *Pipeline) commit(
	ctx context.Context,
	o command.Commit,
) (map[string]any, string, error) {
	var fallback git.Identity

	if id, err := p.cfg.Session.Identity(); err == nil {
		fallback = git.Identity{
			Name:  id.CommitName(),
			Email: id.CommitEmail(p.cfg.Host),
		}
	}

	res, err := p.git.Commit(ctx, o.Message, fallback)
	if err != nil {
		return nil, "", err
	}

	if !res.Committed {
		return map[string]any{
			"commit_id": nil,
			"committed": false,
		}, "nothing to commit", nil
	}

	return map[string]any{
		"commit_id": res.Hash,
		"author":    res.Author,
		"committed": true,
		"message":   o.Message,
	}, "committed " + res.Hash, nil
}

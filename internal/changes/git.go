package changes

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Git source modes.
const (
	ModeUnstaged = "unstaged"
	ModeStaged   = "staged"
	ModeCommit   = "commit"
	ModeRange    = "range"
)

// GitSource selects which git diff to review.
type GitSource struct {
	Mode string
	// Rev is the commit for ModeCommit or "a..b" for ModeRange.
	Rev string
	// MergeBase turns "a..b" into "a...b" for ModeRange.
	MergeBase    bool
	ContextLines int
}

// RepoMeta describes the repository a diff came from.
type RepoMeta struct {
	Root   string
	Head   string
	Branch string
}

// Git runs git in Dir.
type Git struct {
	Dir string
}

// Meta returns the repository root, HEAD and branch. HEAD and branch are
// empty in a repository without commits.
func (g Git) Meta(ctx context.Context) (RepoMeta, error) {
	root, err := g.output(ctx, "rev-parse", "--show-toplevel")
	if err != nil {
		return RepoMeta{}, fmt.Errorf("not a git repository: %w", err)
	}
	head, _ := g.output(ctx, "rev-parse", "HEAD")
	branch, _ := g.output(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	return RepoMeta{
		Root:   strings.TrimSpace(root),
		Head:   strings.TrimSpace(head),
		Branch: strings.TrimSpace(branch),
	}, nil
}

// Diff returns the unified diff for src.
func (g Git) Diff(ctx context.Context, src GitSource) (string, error) {
	opts := diffOptions(src)
	switch src.Mode {
	case ModeUnstaged, "":
		out, err := g.output(ctx, gitArgs("diff", opts)...)
		if err != nil {
			return "", fmt.Errorf("git diff: %w", err)
		}
		return out, nil
	case ModeStaged:
		out, err := g.output(ctx, gitArgs("diff", opts, "--cached")...)
		if err != nil {
			return "", fmt.Errorf("git diff --cached: %w", err)
		}
		return out, nil
	case ModeCommit:
		if src.Rev == "" {
			return "", errors.New("commit mode needs a revision")
		}
		out, err := g.output(ctx, gitArgs("diff", opts, src.Rev+"~1", src.Rev)...)
		if err == nil {
			return out, nil
		}
		// The root commit has no parent.
		out, err = g.output(ctx, gitArgs("show", append(opts, "--format="), src.Rev)...)
		if err != nil {
			return "", fmt.Errorf("git show %s: %w", src.Rev, err)
		}
		return out, nil
	case ModeRange:
		if src.Rev == "" {
			return "", errors.New("range mode needs a revision range")
		}
		rng := src.Rev
		if src.MergeBase && strings.Contains(rng, "..") && !strings.Contains(rng, "...") {
			rng = strings.Replace(rng, "..", "...", 1)
		}
		out, err := g.output(ctx, gitArgs("diff", opts, rng)...)
		if err != nil {
			return "", fmt.Errorf("git diff %s: %w", src.Rev, err)
		}
		return out, nil
	default:
		return "", fmt.Errorf("unknown git mode %q", src.Mode)
	}
}

// GitDir returns the absolute path of the repository's .git directory.
func (g Git) GitDir(ctx context.Context) (string, error) {
	out, err := g.output(ctx, "rev-parse", "--absolute-git-dir")
	if err != nil {
		return "", fmt.Errorf("not a git repository: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// Tracked lists the files git tracks.
func (g Git) Tracked(ctx context.Context) ([]string, error) {
	out, err := g.output(ctx, "ls-files")
	if err != nil {
		return nil, fmt.Errorf("git ls-files: %w", err)
	}
	var files []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

func diffOptions(src GitSource) []string {
	opts := []string{"--no-color", "--no-ext-diff"}
	if src.ContextLines > 0 {
		opts = append(opts, fmt.Sprintf("-U%d", src.ContextLines))
	}
	return opts
}

// gitArgs builds "<cmd> <opts...> <revs...> --".
func gitArgs(cmd string, opts []string, revs ...string) []string {
	args := append([]string{cmd}, opts...)
	args = append(args, revs...)
	return append(args, "--")
}

func (g Git) output(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.Dir
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return string(out), fmt.Errorf("%w: %s", err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", err
	}
	return string(out), nil
}

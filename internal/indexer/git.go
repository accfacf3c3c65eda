package indexer

import (
	"errors"
	"fmt"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/utils/merkletrie"
)

// ErrNotARepository is returned when the root has no git repository and
// the config requires one.
var ErrNotARepository = errors.New("root is not a git repository")

// ChangeKind classifies one path in a commit diff.
type ChangeKind int

const (
	ChangeAdded ChangeKind = iota
	ChangeModified
	ChangeDeleted
)

// openRepo opens the repository containing root, if any.
func openRepo(root string) (*git.Repository, error) {
	repo, err := git.PlainOpenWithOptions(root, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, ErrNotARepository
		}
		return nil, err
	}
	return repo, nil
}

// headCommit resolves HEAD to a hash string. An unborn HEAD (fresh repo
// with no commits) yields "".
func headCommit(repo *git.Repository) (string, error) {
	ref, err := repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return "", nil
		}
		return "", err
	}
	return ref.Hash().String(), nil
}

// changedPaths diffs two commits and returns repo-relative paths with
// their change kinds.
func changedPaths(repo *git.Repository, fromHash, toHash string) (map[string]ChangeKind, error) {
	fromTree, err := commitTree(repo, fromHash)
	if err != nil {
		return nil, err
	}
	toTree, err := commitTree(repo, toHash)
	if err != nil {
		return nil, err
	}

	changes, err := object.DiffTree(fromTree, toTree)
	if err != nil {
		return nil, fmt.Errorf("diff %s..%s: %w", fromHash, toHash, err)
	}

	out := make(map[string]ChangeKind, len(changes))
	for _, ch := range changes {
		action, err := ch.Action()
		if err != nil {
			return nil, err
		}
		switch action {
		case merkletrie.Insert:
			out[ch.To.Name] = ChangeAdded
		case merkletrie.Delete:
			out[ch.From.Name] = ChangeDeleted
		case merkletrie.Modify:
			// renames surface as delete+insert of distinct names
			if ch.From.Name != ch.To.Name {
				out[ch.From.Name] = ChangeDeleted
				out[ch.To.Name] = ChangeAdded
			} else {
				out[ch.To.Name] = ChangeModified
			}
		}
	}
	return out, nil
}

func commitTree(repo *git.Repository, hash string) (*object.Tree, error) {
	commit, err := repo.CommitObject(plumbing.NewHash(hash))
	if err != nil {
		return nil, fmt.Errorf("commit %s: %w", hash, err)
	}
	return commit.Tree()
}

package gatestore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const snapshotFile = "gates.json"

// Revision is one entry in a release's gate-configuration history.
type Revision struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

// Service keeps one git repository per release holding the quality-gate
// configuration snapshot. All operations on the same release serialize on a
// per-release lock.
type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// EnsureReleaseRepo initializes the repository for a release with its first
// snapshot. Calling it again for an existing release is a no-op.
func (s *Service) EnsureReleaseRepo(releaseID string, snapshot []byte, author string) error {
	lock := s.releaseLock(releaseID)
	lock.Lock()
	defer lock.Unlock()

	path := s.repoPath(releaseID)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat repo path: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create repo dir: %w", err)
	}

	repo, err := git.PlainInit(path, false)
	if err != nil {
		return fmt.Errorf("init repo: %w", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	if len(snapshot) == 0 {
		snapshot = []byte("{}")
	}
	if err := writeSnapshotFile(path, snapshot); err != nil {
		return err
	}
	if _, err := worktree.Add(snapshotFile); err != nil {
		return fmt.Errorf("git add snapshot: %w", err)
	}
	hash, err := worktree.Commit("Import gate configuration baseline", &git.CommitOptions{
		Author: signature(author),
	})
	if err != nil {
		return fmt.Errorf("commit initial snapshot: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName("main"), hash)); err != nil {
		return fmt.Errorf("set main branch ref: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		return fmt.Errorf("set HEAD to main: %w", err)
	}
	return nil
}

// CommitSnapshot records a new version of the release's gate configuration.
func (s *Service) CommitSnapshot(releaseID string, snapshot []byte, author, message string) error {
	lock := s.releaseLock(releaseID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(releaseID))
	if err != nil {
		return fmt.Errorf("open repo: %w", err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	if err := writeSnapshotFile(worktree.Filesystem.Root(), snapshot); err != nil {
		return err
	}
	if _, err := worktree.Add(snapshotFile); err != nil {
		return fmt.Errorf("git add snapshot: %w", err)
	}
	if _, err := worktree.Commit(message, &git.CommitOptions{Author: signature(author)}); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

// Snapshot returns the current gate configuration at the head of main.
func (s *Service) Snapshot(releaseID string) ([]byte, error) {
	lock := s.releaseLock(releaseID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(releaseID))
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	ref, err := repo.Reference(plumbing.NewBranchReferenceName("main"), true)
	if err != nil {
		return nil, fmt.Errorf("resolve main: %w", err)
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("load commit object: %w", err)
	}
	return readSnapshotFromCommit(commitObj)
}

// History lists the release's snapshot revisions, newest first.
func (s *Service) History(releaseID string) ([]Revision, error) {
	lock := s.releaseLock(releaseID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(releaseID))
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	ref, err := repo.Reference(plumbing.NewBranchReferenceName("main"), true)
	if err != nil {
		return nil, fmt.Errorf("resolve main: %w", err)
	}
	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Revision, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, Revision{
			Hash:      commitObj.Hash.String()[:7],
			Message:   commitObj.Message,
			Author:    commitObj.Author.Name,
			CreatedAt: commitObj.Author.When,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// TagClosed marks the head of main with the closing tag. An existing tag of
// the same name is left untouched.
func (s *Service) TagClosed(releaseID, tagName string) error {
	lock := s.releaseLock(releaseID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(releaseID))
	if err != nil {
		return fmt.Errorf("open repo: %w", err)
	}
	ref, err := repo.Reference(plumbing.NewBranchReferenceName("main"), true)
	if err != nil {
		return fmt.Errorf("resolve main: %w", err)
	}
	_, err = repo.CreateTag(tagName, ref.Hash(), &git.CreateTagOptions{
		Tagger: &object.Signature{
			Name:  "Quorum",
			Email: "quorum@localhost",
			When:  time.Now(),
		},
		Message: tagName,
	})
	if err != nil && !errors.Is(err, git.ErrTagExists) {
		return fmt.Errorf("create tag: %w", err)
	}
	return nil
}

// RemoveReleaseRepo deletes the release's repository from disk.
func (s *Service) RemoveReleaseRepo(releaseID string) error {
	lock := s.releaseLock(releaseID)
	lock.Lock()
	defer lock.Unlock()

	if err := os.RemoveAll(s.repoPath(releaseID)); err != nil {
		return fmt.Errorf("remove repo dir: %w", err)
	}
	return nil
}

func (s *Service) repoPath(releaseID string) string {
	return filepath.Join(s.baseDir, releaseID)
}

func (s *Service) releaseLock(releaseID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[releaseID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[releaseID] = lock
	return lock
}

func writeSnapshotFile(repoRoot string, snapshot []byte) error {
	payload := snapshot
	if len(payload) == 0 || payload[len(payload)-1] != '\n' {
		payload = append(append([]byte{}, payload...), '\n')
	}
	if err := os.WriteFile(filepath.Join(repoRoot, snapshotFile), payload, 0o644); err != nil {
		return fmt.Errorf("write snapshot file: %w", err)
	}
	return nil
}

func readSnapshotFromCommit(commitObj *object.Commit) ([]byte, error) {
	file, err := commitObj.File(snapshotFile)
	if err != nil {
		return nil, fmt.Errorf("load snapshot from commit: %w", err)
	}
	reader, err := file.Reader()
	if err != nil {
		return nil, fmt.Errorf("open snapshot reader: %w", err)
	}
	defer reader.Close()

	payload, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read snapshot bytes: %w", err)
	}
	return payload, nil
}

func signature(author string) *object.Signature {
	if author == "" {
		author = "quorum"
	}
	return &object.Signature{
		Name:  author,
		Email: fmt.Sprintf("%s@local.quorum.dev", sanitizeEmail(author)),
		When:  time.Now(),
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}

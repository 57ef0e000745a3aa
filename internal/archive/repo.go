// Package archive keeps a git history of every submitted version and review decision.
package archive

import (
	"encoding/json"
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

const snapshotFile = "questions.json"

type Question struct {
	Position       int    `json:"position"`
	Prompt         string `json:"prompt"`
	ExpectedAnswer string `json:"expectedAnswer,omitempty"`
	Difficulty     string `json:"difficulty"`
}

type Decision struct {
	Decision   string    `json:"decision"`
	Reason     string    `json:"reason,omitempty"`
	ReviewerID string    `json:"reviewerId"`
	DecidedAt  time.Time `json:"decidedAt"`
}

// Snapshot is the content committed for a submission version.
type Snapshot struct {
	SubmissionID  string     `json:"submissionId"`
	Title         string     `json:"title"`
	VersionNumber int        `json:"versionNumber"`
	Status        string     `json:"status"`
	SubmittedBy   string     `json:"submittedBy"`
	Questions     []Question `json:"questions"`
	Review        *Decision  `json:"review,omitempty"`
}

type CommitInfo struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

// Repo stores one git repository per submission under baseDir.
type Repo struct {
	baseDir string
	now     func() time.Time
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Repo {
	return &Repo{
		baseDir: baseDir,
		now:     time.Now,
		locks:   make(map[string]*sync.Mutex),
	}
}

// RecordSubmitted commits the snapshot of a newly submitted version and tags it v<n>.
func (r *Repo) RecordSubmitted(snap Snapshot, author string) (CommitInfo, error) {
	message := fmt.Sprintf("Submit version %d of %q", snap.VersionNumber, snap.Title)
	return r.record(snap, author, message, versionTag(snap.VersionNumber))
}

// RecordReview commits the review outcome on top of the version snapshot.
func (r *Repo) RecordReview(snap Snapshot, author string) (CommitInfo, error) {
	if snap.Review == nil {
		return CommitInfo{}, errors.New("archive: snapshot has no review decision")
	}
	message := fmt.Sprintf("Version %d %s", snap.VersionNumber, snap.Review.Decision)
	if snap.Review.Reason != "" {
		message += "\n\nreason: " + snap.Review.Reason
	}
	tag := fmt.Sprintf("%s-%s", versionTag(snap.VersionNumber), sanitizeRef(snap.Review.Decision))
	return r.record(snap, author, message, tag)
}

func (r *Repo) record(snap Snapshot, author, message, tag string) (CommitInfo, error) {
	if snap.SubmissionID == "" {
		return CommitInfo{}, errors.New("archive: submission id is required")
	}
	lock := r.submissionLock(snap.SubmissionID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := r.openOrInit(snap.SubmissionID)
	if err != nil {
		return CommitInfo{}, err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return CommitInfo{}, fmt.Errorf("open worktree: %w", err)
	}

	payload, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return CommitInfo{}, fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.WriteFile(filepath.Join(worktree.Filesystem.Root(), snapshotFile), append(payload, '\n'), 0o644); err != nil {
		return CommitInfo{}, fmt.Errorf("write %s: %w", snapshotFile, err)
	}
	if _, err := worktree.Add(snapshotFile); err != nil {
		return CommitInfo{}, fmt.Errorf("git add snapshot: %w", err)
	}

	when := r.now()
	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@archive.interview-prep.local", sanitizeRef(author)),
			When:  when,
		},
	})
	if err != nil {
		return CommitInfo{}, fmt.Errorf("commit snapshot: %w", err)
	}

	_, err = repo.CreateTag(tag, hash, &git.CreateTagOptions{
		Tagger:  &object.Signature{Name: "Interview Prep", Email: "archive@interview-prep.local", When: when},
		Message: tag,
	})
	if err != nil && !errors.Is(err, git.ErrTagExists) {
		return CommitInfo{}, fmt.Errorf("create tag %s: %w", tag, err)
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return CommitInfo{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommitInfo(commitObj), nil
}

// History lists commits of a submission, newest first.
func (r *Repo) History(submissionID string, limit int) ([]CommitInfo, error) {
	lock := r.submissionLock(submissionID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(r.repoPath(submissionID))
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve head: %w", err)
	}
	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]CommitInfo, 0)
	err = iter.ForEach(func(c *object.Commit) error {
		items = append(items, toCommitInfo(c))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// SnapshotAt reads questions.json at a revision such as a tag ("v2") or a hash.
func (r *Repo) SnapshotAt(submissionID, revision string) (Snapshot, error) {
	lock := r.submissionLock(submissionID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(r.repoPath(submissionID))
	if err != nil {
		return Snapshot{}, fmt.Errorf("open repo: %w", err)
	}
	hash, err := repo.ResolveRevision(plumbing.Revision(revision))
	if err != nil {
		return Snapshot{}, fmt.Errorf("resolve revision %s: %w", revision, err)
	}
	commitObj, err := repo.CommitObject(*hash)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read commit %s: %w", revision, err)
	}
	file, err := commitObj.File(snapshotFile)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load %s from commit: %w", snapshotFile, err)
	}
	contents, err := file.Contents()
	if err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(contents), &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

func (r *Repo) openOrInit(submissionID string) (*git.Repository, error) {
	path := r.repoPath(submissionID)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInitWithOptions(path, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.NewBranchReferenceName("main")},
	})
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	return repo, nil
}

func (r *Repo) repoPath(submissionID string) string {
	return filepath.Join(r.baseDir, sanitizeRef(submissionID))
}

func (r *Repo) submissionLock(submissionID string) *sync.Mutex {
	r.lockMu.Lock()
	defer r.lockMu.Unlock()
	lock, ok := r.locks[submissionID]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[submissionID] = lock
	}
	return lock
}

func versionTag(n int) string {
	return fmt.Sprintf("v%d", n)
}

func toCommitInfo(c *object.Commit) CommitInfo {
	return CommitInfo{
		Hash:      c.Hash.String()[:7],
		Message:   c.Message,
		Author:    c.Author.Name,
		CreatedAt: c.Author.When,
	}
}

// sanitizeRef keeps characters safe for file names, tag names and email local parts.
func sanitizeRef(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			out = append(out, r)
		case r == '-' || r == '_':
			out = append(out, r)
		case r == ' ' || r == '.':
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}

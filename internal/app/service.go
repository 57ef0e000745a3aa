package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Gyan-Raj/interview-prep-next-app-sub000/internal/archive"
	"github.com/Gyan-Raj/interview-prep-next-app-sub000/internal/authpw"
	"github.com/Gyan-Raj/interview-prep-next-app-sub000/internal/config"
	"github.com/Gyan-Raj/interview-prep-next-app-sub000/internal/export"
	"github.com/Gyan-Raj/interview-prep-next-app-sub000/internal/notify"
	"github.com/Gyan-Raj/interview-prep-next-app-sub000/internal/ratelimit"
	"github.com/Gyan-Raj/interview-prep-next-app-sub000/internal/search"
	"github.com/Gyan-Raj/interview-prep-next-app-sub000/internal/store"
)

type dataStore interface {
	Ping(ctx context.Context) error
	EnsureRoles(context.Context, []string) error
	ListRoles(context.Context) ([]store.Role, error)
	GetUserByID(context.Context, string) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)
	ListUsers(context.Context) ([]store.User, error)
	CountUsersWithRole(context.Context, string) (int, error)
	CreateUser(context.Context, store.User, []string) (store.User, error)
	AssignRole(context.Context, string, string) error
	RemoveRole(context.Context, string, string, *string) (store.User, error)
	SetActiveRole(context.Context, string, string) error
	DeleteUser(context.Context, string) error

	CreateInvitedUser(context.Context, store.User, []string, store.Invite) (store.User, store.Invite, error)
	GetInvite(context.Context, string) (store.Invite, error)
	GetInviteByTokenHash(context.Context, string) (store.Invite, error)
	ListInvites(context.Context) ([]store.Invite, error)
	AcceptInvite(context.Context, string, string, time.Time) (store.User, error)
	CancelInvite(context.Context, string) error
	RotateInvite(context.Context, string, string, time.Time) (store.Invite, error)

	ListCompanies(context.Context) ([]store.Company, error)
	GetCompany(context.Context, string) (store.Company, error)
	CreateCompany(context.Context, store.Company) (store.Company, error)
	DeleteCompany(context.Context, string) error
	CreateInterview(context.Context, store.Interview) (store.Interview, error)
	GetInterview(context.Context, string) (store.Interview, error)
	ListInterviewsByManager(context.Context, string) ([]store.Interview, error)

	CreateSubmission(context.Context, store.Submission) (store.Submission, error)
	GetSubmission(context.Context, string) (store.Submission, error)
	ListSubmissionsByManager(context.Context, string) ([]store.Submission, error)
	ListSubmissionsByResource(context.Context, string) ([]store.Submission, error)
	ListDraftQuestions(context.Context, string) ([]store.Question, error)
	ListVersions(context.Context, string) ([]store.SubmissionVersion, error)
	ReplaceDraftQuestions(context.Context, string, []store.Question) ([]store.Question, error)
	SubmitSubmission(context.Context, string, string) (store.SubmissionVersion, error)
	ReviewSubmission(context.Context, string, string, string, string) (store.SubmissionVersion, store.Review, error)
	ListApprovedQuestions(context.Context, string) ([]store.ApprovedQuestion, error)
}

// sessionStore holds refresh sessions and revoked access tokens. Redis and
// Postgres both satisfy it.
type sessionStore interface {
	SaveRefreshSession(context.Context, string, string, time.Time) error
	// ConsumeRefreshSession returns the owner and ends the session in one
	// step; only one caller can consume a given token.
	ConsumeRefreshSession(context.Context, string) (string, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
}

type questionIndex interface {
	Search(context.Context, search.Query) search.Response
	IndexQuestions([]search.QuestionRecord)
}

type pdfExporter interface {
	ExportPDF(context.Context, export.Document) (*export.Result, error)
}

type historyArchive interface {
	RecordSubmitted(archive.Snapshot, string) (archive.CommitInfo, error)
	RecordReview(archive.Snapshot, string) (archive.CommitInfo, error)
}

// Deps are the optional backends wired in by main. Nil fields disable the feature.
type Deps struct {
	Store    *store.PostgresStore
	Sessions sessionStore
	Notifier notify.Notifier
	Search   *search.Service
	Exporter *export.Service
	Archive  *archive.Repo
	Limiter  ratelimit.Limiter
	Log      *slog.Logger
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	hasher   *authpw.Hasher
	notifier notify.Notifier
	search   questionIndex
	exporter pdfExporter
	archive  historyArchive
	limiter  ratelimit.Limiter
	log      *slog.Logger
	now      func() time.Time
	wg       sync.WaitGroup
}

func New(cfg config.Config, deps Deps) *Service {
	s := &Service{
		cfg:     cfg,
		hasher:  authpw.NewHasher(0),
		limiter: deps.Limiter,
		log:     deps.Log,
		now:     time.Now,
	}
	if deps.Store != nil {
		s.store = deps.Store
		s.sessions = deps.Store
	}
	if deps.Sessions != nil {
		s.sessions = deps.Sessions
	}
	if deps.Notifier != nil {
		s.notifier = deps.Notifier
	}
	if deps.Search != nil {
		s.search = deps.Search
	}
	if deps.Exporter != nil {
		s.exporter = deps.Exporter
	}
	if deps.Archive != nil {
		s.archive = deps.Archive
	}
	if s.limiter == nil {
		s.limiter = ratelimit.NewMemory()
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) emailConfigured() bool {
	return s.cfg.SMTPHost != ""
}

// Bootstrap seeds the roles and, when no administrator exists yet, the initial admin.
func (s *Service) Bootstrap(ctx context.Context) error {
	if err := s.store.EnsureRoles(ctx, store.RoleOrder); err != nil {
		return err
	}
	admins, err := s.store.CountUsersWithRole(ctx, store.RoleAdmin)
	if err != nil {
		return err
	}
	if admins > 0 {
		return nil
	}
	if s.cfg.AdminEmail == "" || s.cfg.AdminPassword == "" {
		s.log.Warn("no administrator exists and ADMIN_EMAIL/ADMIN_PASSWORD are not set")
		return nil
	}
	if err := authpw.Validate(s.cfg.AdminPassword); err != nil {
		return err
	}
	hash, err := s.hasher.Hash(s.cfg.AdminPassword)
	if err != nil {
		return err
	}

	existing, err := s.store.GetUserByEmail(ctx, s.cfg.AdminEmail)
	switch {
	case err == nil:
		if err := s.store.AssignRole(ctx, existing.ID, store.RoleAdmin); err != nil {
			return err
		}
		s.log.Info("granted admin role to existing user", "email", existing.Email)
		return nil
	case !isNotFound(err):
		return err
	}

	admin, err := s.store.CreateUser(ctx, store.User{
		Email:        s.cfg.AdminEmail,
		Name:         s.cfg.AdminName,
		PasswordHash: hash,
		IsActive:     true,
	}, []string{store.RoleAdmin})
	if err != nil {
		return err
	}
	s.log.Info("seeded initial administrator", "email", admin.Email)
	return nil
}

func (s *Service) notify(ctx context.Context, msg notify.Message) {
	if s.notifier == nil || msg.To == "" {
		return
	}
	if err := s.notifier.Notify(ctx, msg); err != nil {
		s.log.Error("enqueue notification failed", "kind", msg.Kind, "to", msg.To, "error", err)
	}
}

// background runs fn detached from the request; Close waits for it.
func (s *Service) background(name string, fn func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := fn(ctx); err != nil {
			s.log.Error("background task failed", "task", name, "error", err)
		}
	}()
}

// Close waits for background work started by requests.
func (s *Service) Close() {
	s.wg.Wait()
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"io/fs"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/Gyan-Raj/interview-prep-next-app-sub000/internal/logger"
)

func TestEmbeddedMigrationsHaveUpAndDown(t *testing.T) {
	entries, err := fs.ReadDir(migrationsFS, migrationsDir)
	if err != nil {
		t.Fatalf("read embedded migrations: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("expected embedded migrations")
	}
	for _, entry := range entries {
		body, err := fs.ReadFile(migrationsFS, migrationsDir+"/"+entry.Name())
		if err != nil {
			t.Fatalf("read %s: %v", entry.Name(), err)
		}
		text := string(body)
		if !strings.Contains(text, "-- +goose Up") || !strings.Contains(text, "-- +goose Down") {
			t.Fatalf("%s: missing goose Up/Down annotations", entry.Name())
		}
	}
}

func openTestStore(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("INTERVIEW_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("INTERVIEW_TEST_DATABASE_URL is not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	migrator, err := NewMigrator(db, logger.Discard())
	if err != nil {
		t.Fatalf("new migrator: %v", err)
	}
	if err := migrator.Up(ctx); err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	s := NewPostgresStore(db)
	if err := s.EnsureRoles(ctx, RoleOrder); err != nil {
		t.Fatalf("ensure roles: %v", err)
	}
	return s
}

func TestMigrationsRoundTripPostgres(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	migrator, err := NewMigrator(s.DB(), logger.Discard())
	if err != nil {
		t.Fatalf("new migrator: %v", err)
	}
	if err := migrator.Down(ctx, 0); err != nil {
		t.Fatalf("down: %v", err)
	}
	if err := migrator.Up(ctx); err != nil {
		t.Fatalf("up again: %v", err)
	}
}

func TestRemoveRoleReassignsActiveRolePostgres(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateUser(ctx, User{Email: "root@example.com", Name: "Root", IsActive: true}, []string{RoleAdmin}); err != nil {
		t.Fatalf("create root: %v", err)
	}
	user, err := s.CreateUser(ctx, User{Email: "Multi@Example.com", Name: "Multi", IsActive: true}, []string{RoleAdmin, RoleResource})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if user.Email != "multi@example.com" || user.ActiveRole != RoleAdmin {
		t.Fatalf("unexpected created user: %+v", user)
	}

	next := RoleResource
	updated, err := s.RemoveRole(ctx, user.ID, RoleAdmin, &next)
	if err != nil {
		t.Fatalf("remove role: %v", err)
	}
	if updated.ActiveRole != RoleResource || len(updated.Roles) != 1 {
		t.Fatalf("expected active RESOURCE with one role, got %+v", updated)
	}

	updated, err = s.RemoveRole(ctx, user.ID, RoleResource, nil)
	if err != nil {
		t.Fatalf("remove last role: %v", err)
	}
	if updated.ActiveRoleID != nil || len(updated.Roles) != 0 {
		t.Fatalf("expected no active role, got %+v", updated)
	}
}

func TestLastAdminGuardPostgres(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	admin, err := s.CreateUser(ctx, User{Email: "solo@example.com", IsActive: true}, []string{RoleAdmin})
	if err != nil {
		t.Fatalf("create admin: %v", err)
	}
	if err := s.DeleteUser(ctx, admin.ID); !errors.Is(err, ErrLastAdmin) {
		t.Fatalf("expected ErrLastAdmin on delete, got %v", err)
	}
	if _, err := s.RemoveRole(ctx, admin.ID, RoleAdmin, nil); !errors.Is(err, ErrLastAdmin) {
		t.Fatalf("expected ErrLastAdmin on remove, got %v", err)
	}
}

func TestInviteLifecyclePostgres(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	user, invite, err := s.CreateInvitedUser(ctx, User{Email: "new@example.com", Name: "New"}, []string{RoleResource}, Invite{
		TokenHash: "hash-1",
		ExpiresAt: time.Now().Add(72 * time.Hour),
	})
	if err != nil {
		t.Fatalf("create invite: %v", err)
	}
	if user.IsActive {
		t.Fatal("invited user must start inactive")
	}
	if _, _, err := s.CreateInvitedUser(ctx, User{Email: "new@example.com"}, []string{RoleResource}, Invite{TokenHash: "hash-2", ExpiresAt: time.Now().Add(time.Hour)}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate email, got %v", err)
	}

	rotated, err := s.RotateInvite(ctx, invite.ID, "hash-3", time.Now().Add(72*time.Hour))
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if rotated.TokenHash != "hash-3" {
		t.Fatalf("expected rotated token hash, got %s", rotated.TokenHash)
	}

	accepted, err := s.AcceptInvite(ctx, invite.ID, "bcrypt-hash", time.Now())
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if !accepted.IsActive || accepted.PasswordHash != "bcrypt-hash" {
		t.Fatalf("expected activated user, got %+v", accepted)
	}
	if _, err := s.AcceptInvite(ctx, invite.ID, "again", time.Now()); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict on second accept, got %v", err)
	}
	if err := s.CancelInvite(ctx, invite.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict cancelling used invite, got %v", err)
	}
}

func TestSubmissionVersioningPostgres(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	manager, err := s.CreateUser(ctx, User{Email: "rm@example.com", IsActive: true}, []string{RoleResourceManager})
	if err != nil {
		t.Fatalf("create manager: %v", err)
	}
	resource, err := s.CreateUser(ctx, User{Email: "res@example.com", IsActive: true}, []string{RoleResource})
	if err != nil {
		t.Fatalf("create resource: %v", err)
	}
	company, err := s.CreateCompany(ctx, Company{Name: "Acme"})
	if err != nil {
		t.Fatalf("create company: %v", err)
	}
	interview, err := s.CreateInterview(ctx, Interview{CompanyID: company.ID, Title: "Backend", ManagerID: manager.ID, ResourceID: resource.ID})
	if err != nil {
		t.Fatalf("create interview: %v", err)
	}
	sub, err := s.CreateSubmission(ctx, Submission{InterviewID: interview.ID, ManagerID: manager.ID, ResourceID: resource.ID, Title: "Round 1"})
	if err != nil {
		t.Fatalf("create submission: %v", err)
	}

	if _, err := s.SubmitSubmission(ctx, sub.ID, resource.ID); !errors.Is(err, ErrNoQuestions) {
		t.Fatalf("expected ErrNoQuestions, got %v", err)
	}
	if _, err := s.ReplaceDraftQuestions(ctx, sub.ID, []Question{{Prompt: "What is a goroutine?", Difficulty: "EASY"}}); err != nil {
		t.Fatalf("save draft: %v", err)
	}
	v1, err := s.SubmitSubmission(ctx, sub.ID, resource.ID)
	if err != nil {
		t.Fatalf("submit v1: %v", err)
	}
	if v1.VersionNumber != 1 || v1.Status != StatusPendingReview {
		t.Fatalf("unexpected v1: %+v", v1)
	}
	if _, err := s.SubmitSubmission(ctx, sub.ID, resource.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition resubmitting pending, got %v", err)
	}
	if _, _, err := s.ReviewSubmission(ctx, sub.ID, manager.ID, StatusRejected, "too short"); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if _, err := s.ReplaceDraftQuestions(ctx, sub.ID, []Question{{Prompt: "Explain channels", Difficulty: "MEDIUM"}, {Prompt: "Explain select", Difficulty: "HARD"}}); err != nil {
		t.Fatalf("edit rejected draft: %v", err)
	}
	v2, err := s.SubmitSubmission(ctx, sub.ID, resource.ID)
	if err != nil {
		t.Fatalf("submit v2: %v", err)
	}
	if v2.VersionNumber != 2 {
		t.Fatalf("expected version 2, got %d", v2.VersionNumber)
	}
	if _, _, err := s.ReviewSubmission(ctx, sub.ID, manager.ID, StatusApproved, ""); err != nil {
		t.Fatalf("approve: %v", err)
	}

	versions, err := s.ListVersions(ctx, sub.ID)
	if err != nil {
		t.Fatalf("list versions: %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(versions))
	}
	if versions[0].Status != StatusRejected || len(versions[0].Questions) != 1 || versions[0].Questions[0].Prompt != "What is a goroutine?" {
		t.Fatalf("version 1 was mutated: %+v", versions[0])
	}
	if versions[1].Status != StatusApproved || len(versions[1].Questions) != 2 || len(versions[1].Reviews) != 1 {
		t.Fatalf("unexpected version 2: %+v", versions[1])
	}

	approved, err := s.ListApprovedQuestions(ctx, sub.ID)
	if err != nil {
		t.Fatalf("approved questions: %v", err)
	}
	if len(approved) != 2 || approved[0].CompanyName != "Acme" {
		t.Fatalf("unexpected approved questions: %+v", approved)
	}
}

func TestConsumeRefreshSessionPostgres(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	user, err := s.CreateUser(ctx, User{Email: "refresh@example.com", Name: "Refresh", IsActive: true}, []string{RoleResource})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := s.SaveRefreshSession(ctx, "shared-hash", user.ID, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("save refresh session: %v", err)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		consumed int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if owner, err := s.ConsumeRefreshSession(ctx, "shared-hash"); err == nil && owner == user.ID {
				mu.Lock()
				consumed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if consumed != 1 {
		t.Fatalf("expected one consumer, got %d", consumed)
	}
	if _, err := s.ConsumeRefreshSession(ctx, "shared-hash"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after consume, got %v", err)
	}
}

package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Gyan-Raj/interview-prep-next-app-sub000/internal/archive"
	"github.com/Gyan-Raj/interview-prep-next-app-sub000/internal/authpw"
	"github.com/Gyan-Raj/interview-prep-next-app-sub000/internal/config"
	"github.com/Gyan-Raj/interview-prep-next-app-sub000/internal/export"
	"github.com/Gyan-Raj/interview-prep-next-app-sub000/internal/logger"
	"github.com/Gyan-Raj/interview-prep-next-app-sub000/internal/notify"
	"github.com/Gyan-Raj/interview-prep-next-app-sub000/internal/search"
	"github.com/Gyan-Raj/interview-prep-next-app-sub000/internal/store"
)

type refreshEntry struct {
	userID    string
	expiresAt time.Time
}

// fakeStore is an in-memory dataStore and sessionStore.
type fakeStore struct {
	mu          sync.Mutex
	seq         int
	pingErr     error
	roles       map[string]store.Role
	users       map[string]store.User
	invites     map[string]store.Invite
	companies   map[string]store.Company
	interviews  map[string]store.Interview
	submissions map[string]store.Submission
	drafts      map[string][]store.Question
	versions    map[string][]store.SubmissionVersion
	refresh     map[string]refreshEntry
	revoked     map[string]time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		roles:       map[string]store.Role{},
		users:       map[string]store.User{},
		invites:     map[string]store.Invite{},
		companies:   map[string]store.Company{},
		interviews:  map[string]store.Interview{},
		submissions: map[string]store.Submission{},
		drafts:      map[string][]store.Question{},
		versions:    map[string][]store.SubmissionVersion{},
		refresh:     map[string]refreshEntry{},
		revoked:     map[string]time.Time{},
	}
}

func (f *fakeStore) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s-%d", prefix, f.seq)
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

func (f *fakeStore) EnsureRoles(_ context.Context, names []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, name := range names {
		if _, ok := f.roles[name]; !ok {
			f.roles[name] = store.Role{ID: "role-" + strings.ToLower(name), Name: name}
		}
	}
	return nil
}

func (f *fakeStore) ListRoles(context.Context) ([]store.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	roles := make([]store.Role, 0, len(f.roles))
	for _, name := range store.RoleOrder {
		if role, ok := f.roles[name]; ok {
			roles = append(roles, role)
		}
	}
	return roles, nil
}

func copyUser(u store.User) store.User {
	u.Roles = append([]store.Role(nil), u.Roles...)
	if u.ActiveRoleID != nil {
		id := *u.ActiveRoleID
		u.ActiveRoleID = &id
	}
	return u
}

func (f *fakeStore) setActive(u *store.User, name string) {
	if name == "" {
		u.ActiveRole = ""
		u.ActiveRoleID = nil
		return
	}
	id := f.roles[name].ID
	u.ActiveRole = name
	u.ActiveRoleID = &id
}

func (f *fakeStore) GetUserByID(_ context.Context, userID string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return copyUser(u), nil
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == strings.ToLower(email) {
			return copyUser(u), nil
		}
	}
	return store.User{}, store.ErrNotFound
}

func (f *fakeStore) ListUsers(context.Context) ([]store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	users := make([]store.User, 0, len(f.users))
	for _, u := range f.users {
		users = append(users, copyUser(u))
	}
	return users, nil
}

func (f *fakeStore) countRole(name string) int {
	count := 0
	for _, u := range f.users {
		if u.HasRole(name) {
			count++
		}
	}
	return count
}

func (f *fakeStore) CountUsersWithRole(_ context.Context, name string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.countRole(name), nil
}

func (f *fakeStore) insertUser(user store.User, roleNames []string) (store.User, error) {
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	for _, existing := range f.users {
		if existing.Email == user.Email {
			return store.User{}, store.ErrConflict
		}
	}
	user.ID = f.nextID("user")
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	user.Roles = nil
	for _, name := range roleNames {
		user.Roles = append(user.Roles, f.roles[name])
	}
	if len(roleNames) > 0 {
		f.setActive(&user, roleNames[0])
	}
	f.users[user.ID] = user
	return copyUser(user), nil
}

func (f *fakeStore) CreateUser(_ context.Context, user store.User, roleNames []string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.insertUser(user, roleNames)
}

func (f *fakeStore) AssignRole(_ context.Context, userID, roleName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	if !u.HasRole(roleName) {
		u.Roles = append(u.Roles, f.roles[roleName])
	}
	if u.ActiveRole == "" {
		f.setActive(&u, roleName)
	}
	f.users[userID] = u
	return nil
}

func (f *fakeStore) RemoveRole(_ context.Context, userID, roleName string, next *string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok || !u.HasRole(roleName) {
		return store.User{}, store.ErrNotFound
	}
	if roleName == store.RoleAdmin && f.countRole(store.RoleAdmin) <= 1 {
		return store.User{}, store.ErrLastAdmin
	}
	kept := u.Roles[:0:0]
	for _, role := range u.Roles {
		if role.Name != roleName {
			kept = append(kept, role)
		}
	}
	u.Roles = kept
	if u.ActiveRole == roleName {
		if next != nil {
			f.setActive(&u, *next)
		} else {
			f.setActive(&u, "")
		}
	}
	f.users[userID] = u
	return copyUser(u), nil
}

func (f *fakeStore) SetActiveRole(_ context.Context, userID, roleName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok || !u.HasRole(roleName) {
		return store.ErrNotFound
	}
	f.setActive(&u, roleName)
	f.users[userID] = u
	return nil
}

func (f *fakeStore) DeleteUser(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	if u.HasRole(store.RoleAdmin) && f.countRole(store.RoleAdmin) <= 1 {
		return store.ErrLastAdmin
	}
	for _, interview := range f.interviews {
		if interview.ManagerID == userID || interview.ResourceID == userID {
			return store.ErrConflict
		}
	}
	delete(f.users, userID)
	return nil
}

func (f *fakeStore) withUser(invite store.Invite) store.Invite {
	u := f.users[invite.UserID]
	invite.UserEmail = u.Email
	invite.UserName = u.Name
	return invite
}

func (f *fakeStore) CreateInvitedUser(_ context.Context, user store.User, roleNames []string, invite store.Invite) (store.User, store.Invite, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user.IsActive = false
	created, err := f.insertUser(user, roleNames)
	if err != nil {
		return store.User{}, store.Invite{}, err
	}
	invite.ID = f.nextID("invite")
	invite.UserID = created.ID
	invite.CreatedAt = time.Now()
	f.invites[invite.ID] = invite
	return created, f.withUser(invite), nil
}

func (f *fakeStore) GetInvite(_ context.Context, inviteID string) (store.Invite, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	invite, ok := f.invites[inviteID]
	if !ok {
		return store.Invite{}, store.ErrNotFound
	}
	return f.withUser(invite), nil
}

func (f *fakeStore) GetInviteByTokenHash(_ context.Context, tokenHash string) (store.Invite, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, invite := range f.invites {
		if invite.TokenHash == tokenHash {
			return f.withUser(invite), nil
		}
	}
	return store.Invite{}, store.ErrNotFound
}

func (f *fakeStore) ListInvites(context.Context) ([]store.Invite, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	invites := make([]store.Invite, 0, len(f.invites))
	for _, invite := range f.invites {
		invites = append(invites, f.withUser(invite))
	}
	return invites, nil
}

func (f *fakeStore) AcceptInvite(_ context.Context, inviteID, passwordHash string, now time.Time) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	invite, ok := f.invites[inviteID]
	if !ok || invite.UsedAt != nil || !now.Before(invite.ExpiresAt) {
		return store.User{}, store.ErrConflict
	}
	invite.UsedAt = &now
	f.invites[inviteID] = invite
	u := f.users[invite.UserID]
	u.PasswordHash = passwordHash
	u.IsActive = true
	f.users[u.ID] = u
	return copyUser(u), nil
}

func (f *fakeStore) CancelInvite(_ context.Context, inviteID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	invite, ok := f.invites[inviteID]
	if !ok || invite.UsedAt != nil {
		return store.ErrConflict
	}
	delete(f.invites, inviteID)
	if u := f.users[invite.UserID]; !u.IsActive {
		delete(f.users, invite.UserID)
	}
	return nil
}

func (f *fakeStore) RotateInvite(_ context.Context, inviteID, tokenHash string, expiresAt time.Time) (store.Invite, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	invite, ok := f.invites[inviteID]
	if !ok || invite.UsedAt != nil {
		return store.Invite{}, store.ErrConflict
	}
	invite.TokenHash = tokenHash
	invite.ExpiresAt = expiresAt
	f.invites[inviteID] = invite
	return f.withUser(invite), nil
}

func (f *fakeStore) ListCompanies(context.Context) ([]store.Company, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	companies := make([]store.Company, 0, len(f.companies))
	for _, c := range f.companies {
		companies = append(companies, c)
	}
	return companies, nil
}

func (f *fakeStore) GetCompany(_ context.Context, companyID string) (store.Company, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.companies[companyID]
	if !ok {
		return store.Company{}, store.ErrNotFound
	}
	return c, nil
}

func (f *fakeStore) CreateCompany(_ context.Context, company store.Company) (store.Company, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.companies {
		if strings.EqualFold(c.Name, company.Name) {
			return store.Company{}, store.ErrConflict
		}
	}
	company.ID = f.nextID("company")
	company.CreatedAt = time.Now()
	f.companies[company.ID] = company
	return company, nil
}

func (f *fakeStore) DeleteCompany(_ context.Context, companyID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.companies[companyID]; !ok {
		return store.ErrNotFound
	}
	for _, interview := range f.interviews {
		if interview.CompanyID == companyID {
			return store.ErrConflict
		}
	}
	delete(f.companies, companyID)
	return nil
}

func (f *fakeStore) CreateInterview(_ context.Context, interview store.Interview) (store.Interview, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	interview.ID = f.nextID("interview")
	interview.CompanyName = f.companies[interview.CompanyID].Name
	interview.CreatedAt = time.Now()
	f.interviews[interview.ID] = interview
	return interview, nil
}

func (f *fakeStore) GetInterview(_ context.Context, interviewID string) (store.Interview, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	interview, ok := f.interviews[interviewID]
	if !ok {
		return store.Interview{}, store.ErrNotFound
	}
	return interview, nil
}

func (f *fakeStore) ListInterviewsByManager(_ context.Context, managerID string) ([]store.Interview, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.Interview, 0)
	for _, interview := range f.interviews {
		if interview.ManagerID == managerID {
			items = append(items, interview)
		}
	}
	return items, nil
}

func (f *fakeStore) joined(sub store.Submission) store.Submission {
	interview := f.interviews[sub.InterviewID]
	sub.InterviewTitle = interview.Title
	sub.CompanyID = interview.CompanyID
	sub.CompanyName = f.companies[interview.CompanyID].Name
	manager := f.users[sub.ManagerID]
	sub.ManagerEmail, sub.ManagerName = manager.Email, manager.Name
	resource := f.users[sub.ResourceID]
	sub.ResourceEmail, sub.ResourceName = resource.Email, resource.Name
	return sub
}

func (f *fakeStore) CreateSubmission(_ context.Context, sub store.Submission) (store.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub.ID = f.nextID("submission")
	sub.Status = store.StatusDraft
	sub.CreatedAt = time.Now()
	sub.UpdatedAt = sub.CreatedAt
	f.submissions[sub.ID] = sub
	return f.joined(sub), nil
}

func (f *fakeStore) GetSubmission(_ context.Context, submissionID string) (store.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.submissions[submissionID]
	if !ok {
		return store.Submission{}, store.ErrNotFound
	}
	return f.joined(sub), nil
}

func (f *fakeStore) listSubmissions(match func(store.Submission) bool) []store.Submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.Submission, 0)
	for _, sub := range f.submissions {
		if match(sub) {
			items = append(items, f.joined(sub))
		}
	}
	return items
}

func (f *fakeStore) ListSubmissionsByManager(_ context.Context, managerID string) ([]store.Submission, error) {
	return f.listSubmissions(func(s store.Submission) bool { return s.ManagerID == managerID }), nil
}

func (f *fakeStore) ListSubmissionsByResource(_ context.Context, resourceID string) ([]store.Submission, error) {
	return f.listSubmissions(func(s store.Submission) bool { return s.ResourceID == resourceID }), nil
}

func (f *fakeStore) ListDraftQuestions(_ context.Context, submissionID string) ([]store.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.Question{}, f.drafts[submissionID]...), nil
}

func copyVersion(v store.SubmissionVersion) store.SubmissionVersion {
	v.Questions = append([]store.Question(nil), v.Questions...)
	v.Reviews = append([]store.Review(nil), v.Reviews...)
	return v
}

func (f *fakeStore) ListVersions(_ context.Context, submissionID string) ([]store.SubmissionVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	versions := make([]store.SubmissionVersion, 0, len(f.versions[submissionID]))
	for _, v := range f.versions[submissionID] {
		versions = append(versions, copyVersion(v))
	}
	return versions, nil
}

func (f *fakeStore) ReplaceDraftQuestions(_ context.Context, submissionID string, questions []store.Question) ([]store.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.submissions[submissionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if sub.Status != store.StatusDraft && sub.Status != store.StatusRejected {
		return nil, store.ErrInvalidTransition
	}
	saved := make([]store.Question, 0, len(questions))
	for _, q := range questions {
		q.ID = f.nextID("question")
		q.SubmissionID = submissionID
		saved = append(saved, q)
	}
	f.drafts[submissionID] = saved
	sub.Status = store.StatusDraft
	f.submissions[submissionID] = sub
	return append([]store.Question{}, saved...), nil
}

func (f *fakeStore) SubmitSubmission(_ context.Context, submissionID, userID string) (store.SubmissionVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.submissions[submissionID]
	if !ok {
		return store.SubmissionVersion{}, store.ErrNotFound
	}
	if sub.Status != store.StatusDraft && sub.Status != store.StatusRejected {
		return store.SubmissionVersion{}, store.ErrInvalidTransition
	}
	draft := f.drafts[submissionID]
	if len(draft) == 0 {
		return store.SubmissionVersion{}, store.ErrNoQuestions
	}
	version := store.SubmissionVersion{
		ID:            f.nextID("version"),
		SubmissionID:  submissionID,
		VersionNumber: sub.LatestVersion + 1,
		Status:        store.StatusPendingReview,
		SubmittedBy:   userID,
		SubmittedAt:   time.Now(),
	}
	for _, q := range draft {
		q.ID = f.nextID("question")
		versionID := version.ID
		q.VersionID = &versionID
		version.Questions = append(version.Questions, q)
	}
	f.versions[submissionID] = append(f.versions[submissionID], version)
	sub.Status = store.StatusPendingReview
	sub.LatestVersion = version.VersionNumber
	f.submissions[submissionID] = sub
	return copyVersion(version), nil
}

func (f *fakeStore) ReviewSubmission(_ context.Context, submissionID, reviewerID, decision, reason string) (store.SubmissionVersion, store.Review, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.submissions[submissionID]
	if !ok {
		return store.SubmissionVersion{}, store.Review{}, store.ErrNotFound
	}
	versions := f.versions[submissionID]
	if sub.Status != store.StatusPendingReview || len(versions) == 0 {
		return store.SubmissionVersion{}, store.Review{}, store.ErrInvalidTransition
	}
	latest := &versions[len(versions)-1]
	review := store.Review{
		ID:         f.nextID("review"),
		VersionID:  latest.ID,
		ReviewerID: reviewerID,
		Decision:   decision,
		Reason:     reason,
		CreatedAt:  time.Now(),
	}
	latest.Status = decision
	latest.Reviews = append(latest.Reviews, review)
	sub.Status = decision
	f.submissions[submissionID] = sub
	return copyVersion(*latest), review, nil
}

func (f *fakeStore) ListApprovedQuestions(_ context.Context, submissionID string) ([]store.ApprovedQuestion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub := f.joined(f.submissions[submissionID])
	items := make([]store.ApprovedQuestion, 0)
	versions := f.versions[submissionID]
	for i := len(versions) - 1; i >= 0; i-- {
		if versions[i].Status != store.StatusApproved {
			continue
		}
		for _, q := range versions[i].Questions {
			items = append(items, store.ApprovedQuestion{
				ID:             q.ID,
				SubmissionID:   submissionID,
				Prompt:         q.Prompt,
				ExpectedAnswer: q.ExpectedAnswer,
				Difficulty:     q.Difficulty,
				CompanyID:      sub.CompanyID,
				CompanyName:    sub.CompanyName,
				InterviewTitle: sub.InterviewTitle,
			})
		}
		break
	}
	return items, nil
}

func (f *fakeStore) SaveRefreshSession(_ context.Context, tokenHash, userID string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh[tokenHash] = refreshEntry{userID: userID, expiresAt: expiresAt}
	return nil
}

func (f *fakeStore) ConsumeRefreshSession(_ context.Context, tokenHash string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.refresh[tokenHash]
	if !ok {
		return "", store.ErrNotFound
	}
	delete(f.refresh, tokenHash)
	if time.Now().After(entry.expiresAt) {
		return "", store.ErrNotFound
	}
	return entry.userID, nil
}

func (f *fakeStore) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.refresh, tokenHash)
	return nil
}

func (f *fakeStore) RevokeAccessToken(_ context.Context, jti string, exp time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[jti] = exp
	return nil
}

func (f *fakeStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.revoked[jti]
	return ok, nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notify.Message
}

func (n *fakeNotifier) Notify(_ context.Context, msg notify.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return nil
}

func (n *fakeNotifier) Close() error { return nil }

func (n *fakeNotifier) messages() []notify.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.Message(nil), n.sent...)
}

type fakeIndex struct {
	mu      sync.Mutex
	indexed []search.QuestionRecord
	lastQ   search.Query
	results []search.Result
}

func (f *fakeIndex) Search(_ context.Context, q search.Query) search.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQ = q
	return search.Response{Results: append([]search.Result{}, f.results...), Total: len(f.results), Query: q.Text}
}

func (f *fakeIndex) IndexQuestions(records []search.QuestionRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, records...)
}

type fakeExporter struct {
	err  error
	docs []export.Document
}

func (f *fakeExporter) ExportPDF(_ context.Context, doc export.Document) (*export.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.docs = append(f.docs, doc)
	return &export.Result{Data: []byte("%PDF-1.4"), Filename: "round-1.pdf", MimeType: "application/pdf"}, nil
}

type fakeArchive struct {
	mu        sync.Mutex
	submitted []archive.Snapshot
	reviewed  []archive.Snapshot
}

func (f *fakeArchive) RecordSubmitted(snap archive.Snapshot, _ string) (archive.CommitInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, snap)
	return archive.CommitInfo{}, nil
}

func (f *fakeArchive) RecordReview(snap archive.Snapshot, _ string) (archive.CommitInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reviewed = append(f.reviewed, snap)
	return archive.CommitInfo{}, nil
}

const testPassword = "correct-horse"

func testConfig() config.Config {
	return config.Config{
		AppURL:         "http://app.test",
		JWTSecret:      "test-secret",
		AccessTTL:      15 * time.Minute,
		RefreshTTL:     24 * time.Hour,
		InviteTTL:      72 * time.Hour,
		CORSOrigin:     "http://app.test",
		LoginRateLimit: 5,
	}
}

func newTestService(t *testing.T) (*Service, *fakeStore) {
	t.Helper()
	fs := newFakeStore()
	_ = fs.EnsureRoles(context.Background(), store.RoleOrder)
	svc := New(testConfig(), Deps{Log: logger.Discard()})
	svc.store = fs
	svc.sessions = fs
	svc.hasher = authpw.NewHasher(4)
	t.Cleanup(func() {
		svc.Close()
		svc.limiter.Close()
	})
	return svc, fs
}

func seedUser(t *testing.T, svc *Service, fs *fakeStore, email string, roles ...string) store.User {
	t.Helper()
	hash, err := svc.hasher.Hash(testPassword)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	user, err := fs.CreateUser(context.Background(), store.User{
		Email:        email,
		Name:         strings.Split(email, "@")[0],
		PasswordHash: hash,
		IsActive:     true,
	}, roles)
	if err != nil {
		t.Fatalf("seed user %s: %v", email, err)
	}
	return user
}

func sessionFor(t *testing.T, fs *fakeStore, userID string) Session {
	t.Helper()
	user, err := fs.GetUserByID(context.Background(), userID)
	if err != nil {
		t.Fatalf("load user %s: %v", userID, err)
	}
	return Session{UserID: user.ID, Email: user.Email, Name: user.Name, Role: user.ActiveRole, User: user}
}

// authedRequest builds a request carrying a freshly issued access cookie for the user.
func authedRequest(t *testing.T, svc *Service, userID, method, target, body string) *http.Request {
	t.Helper()
	user, err := svc.store.GetUserByID(context.Background(), userID)
	if err != nil {
		t.Fatalf("load user: %v", err)
	}
	tokens, err := svc.issueTokens(context.Background(), user)
	if err != nil {
		t.Fatalf("issue tokens: %v", err)
	}
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	req.AddCookie(&http.Cookie{Name: accessCookie, Value: tokens.AccessToken})
	return req
}

type workflowFixture struct {
	svc      *Service
	fs       *fakeStore
	manager  store.User
	resource store.User
	company  store.Company
	sub      store.Submission
}

// newWorkflow seeds an admin, a manager, a resource and one DRAFT submission.
func newWorkflow(t *testing.T) workflowFixture {
	t.Helper()
	svc, fs := newTestService(t)
	ctx := context.Background()
	seedUser(t, svc, fs, "admin@example.com", store.RoleAdmin)
	manager := seedUser(t, svc, fs, "rm@example.com", store.RoleResourceManager)
	resource := seedUser(t, svc, fs, "res@example.com", store.RoleResource)
	company, err := fs.CreateCompany(ctx, store.Company{Name: "Acme"})
	if err != nil {
		t.Fatalf("create company: %v", err)
	}
	interview, err := fs.CreateInterview(ctx, store.Interview{CompanyID: company.ID, Title: "Backend", ManagerID: manager.ID, ResourceID: resource.ID})
	if err != nil {
		t.Fatalf("create interview: %v", err)
	}
	sub, err := fs.CreateSubmission(ctx, store.Submission{InterviewID: interview.ID, ManagerID: manager.ID, ResourceID: resource.ID, Title: "Round 1"})
	if err != nil {
		t.Fatalf("create submission: %v", err)
	}
	return workflowFixture{svc: svc, fs: fs, manager: manager, resource: resource, company: company, sub: sub}
}

func (w workflowFixture) saveAndSubmit(t *testing.T, prompts ...string) {
	t.Helper()
	ctx := context.Background()
	inputs := make([]QuestionInput, 0, len(prompts))
	for _, p := range prompts {
		inputs = append(inputs, QuestionInput{Prompt: p, Difficulty: "easy"})
	}
	resource := sessionFor(t, w.fs, w.resource.ID)
	if _, err := w.svc.SaveDraft(ctx, resource, w.sub.ID, inputs); err != nil {
		t.Fatalf("save draft: %v", err)
	}
	if _, err := w.svc.Submit(ctx, resource, w.sub.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}
}

func assertDomainError(t *testing.T, err error, status int, code string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %d %s, got nil error", status, code)
	}
	gotStatus, gotCode, _, _ := mapError(err)
	if gotStatus != status || gotCode != code {
		t.Fatalf("expected %d %s, got %d %s (%v)", status, code, gotStatus, gotCode, err)
	}
}

package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"ragchat/pkg/domain"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(t *testing.T) (*GormStore, *testClock) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	s, err := NewGormStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	clock := &testClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	s.now = clock.Now
	return s, clock
}

func TestDocumentLifecycle(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateDocument(ctx, domain.Document{ID: "doc-1", UserID: "u1", Filename: "a.pdf", FilePath: "u1/doc-1/a.pdf", MimeType: "application/pdf"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	doc, ok, err := s.GetDocument(ctx, "doc-1")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if doc.Status != domain.StatusQueued || doc.Attempt != 1 {
		t.Fatalf("unexpected initial state: %+v", doc)
	}

	if err := s.CompleteDocument(ctx, "doc-1", 3); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition from queued, got %v", err)
	}

	clock.Advance(time.Second)
	claimed, err := s.ClaimDocument(ctx, "doc-1", clock.Now().Add(-10*time.Minute))
	if err != nil || !claimed {
		t.Fatalf("claim: claimed=%v err=%v", claimed, err)
	}
	if err := s.CompleteDocument(ctx, "doc-1", 3); err != nil {
		t.Fatalf("complete: %v", err)
	}
	doc, _, _ = s.GetDocument(ctx, "doc-1")
	if doc.Status != domain.StatusCompleted || doc.ChunkCount != 3 {
		t.Fatalf("unexpected completed state: %+v", doc)
	}

	if err := s.FailDocument(ctx, "doc-1", "late"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected terminal document to reject fail, got %v", err)
	}

	doc, err = s.ResetDocument(ctx, "doc-1")
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if doc.Status != domain.StatusQueued || doc.Attempt != 2 || doc.ChunkCount != 0 {
		t.Fatalf("unexpected reset state: %+v", doc)
	}
	if _, err := s.ResetDocument(ctx, "doc-1"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected reset of queued document to fail, got %v", err)
	}
	if err := s.FailDocument(ctx, "doc-1", "dispatch failed"); err != nil {
		t.Fatalf("fail from queued: %v", err)
	}
	doc, _, _ = s.GetDocument(ctx, "doc-1")
	if doc.Status != domain.StatusFailed || doc.ErrorMessage != "dispatch failed" {
		t.Fatalf("unexpected failed state: %+v", doc)
	}

	if err := s.FailDocument(ctx, "missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestClaimDocumentSingleWinner(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()
	if err := s.CreateDocument(ctx, domain.Document{ID: "doc-1", UserID: "u1", Filename: "a.txt", FilePath: "k", MimeType: "text/plain"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	clock.Advance(time.Second)
	stale := clock.Now().Add(-time.Hour)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.ClaimDocument(ctx, "doc-1", stale)
			if err != nil {
				t.Errorf("claim: %v", err)
				return
			}
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}

func TestClaimDocumentReclaimsStaleLease(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()
	if err := s.CreateDocument(ctx, domain.Document{ID: "doc-1", UserID: "u1", Filename: "a.txt", FilePath: "k", MimeType: "text/plain"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if ok, _ := s.ClaimDocument(ctx, "doc-1", clock.Now().Add(-time.Minute)); !ok {
		t.Fatalf("expected first claim")
	}
	clock.Advance(30 * time.Second)
	if ok, _ := s.ClaimDocument(ctx, "doc-1", clock.Now().Add(-time.Minute)); ok {
		t.Fatalf("fresh lease must not be reclaimed")
	}
	clock.Advance(2 * time.Minute)
	if ok, _ := s.ClaimDocument(ctx, "doc-1", clock.Now().Add(-time.Minute)); !ok {
		t.Fatalf("expected stale lease to be reclaimed")
	}
}

func TestLLMConfigDefaults(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	if _, ok, err := s.DefaultLLMConfig(ctx, "u1"); err != nil || ok {
		t.Fatalf("expected no default: ok=%v err=%v", ok, err)
	}
	for _, id := range []string{"c1", "c2", "c3"} {
		clock.Advance(time.Second)
		if err := s.CreateLLMConfig(ctx, domain.UserLLMConfig{ID: id, UserID: "u1", ModelName: "m-" + id, ModelType: domain.ModelOpenAI}); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	cfg, ok, err := s.DefaultLLMConfig(ctx, "u1")
	if err != nil || !ok || cfg.ID != "c1" {
		t.Fatalf("expected earliest config as fallback, got %+v ok=%v err=%v", cfg, ok, err)
	}

	if err := s.SetDefaultLLMConfig(ctx, "u1", "c2"); err != nil {
		t.Fatalf("set default: %v", err)
	}
	if err := s.SetDefaultLLMConfig(ctx, "u1", "c3"); err != nil {
		t.Fatalf("set default: %v", err)
	}
	configs, err := s.ListLLMConfigs(ctx, "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	defaults := 0
	for _, c := range configs {
		if c.IsDefault {
			defaults++
			if c.ID != "c3" {
				t.Fatalf("unexpected default %s", c.ID)
			}
		}
	}
	if defaults != 1 {
		t.Fatalf("expected exactly one default, got %d", defaults)
	}

	if err := s.SetDefaultLLMConfig(ctx, "u2", "c1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected foreign config to be rejected, got %v", err)
	}
	if err := s.CreateLLMConfig(ctx, domain.UserLLMConfig{ID: "c4", UserID: "u1", ModelName: "m", ModelType: domain.ModelClaude, IsDefault: true}); err != nil {
		t.Fatalf("create default: %v", err)
	}
	cfg, _, _ = s.DefaultLLMConfig(ctx, "u1")
	if cfg.ID != "c4" {
		t.Fatalf("expected new default c4, got %s", cfg.ID)
	}
}

func TestLLMConfigSingleDefaultUnderConcurrency(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()
	ids := []string{"c1", "c2", "c3", "c4", "c5", "c6"}
	for _, id := range ids {
		clock.Advance(time.Second)
		if err := s.CreateLLMConfig(ctx, domain.UserLLMConfig{ID: id, UserID: "u1", ModelName: id, ModelType: domain.ModelOpenAI}); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(ids)*2)
	for _, id := range ids {
		wg.Add(2)
		go func() {
			defer wg.Done()
			errs <- s.SetDefaultLLMConfig(ctx, "u1", id)
		}()
		go func() {
			defer wg.Done()
			errs <- s.CreateLLMConfig(ctx, domain.UserLLMConfig{ID: "new-" + id, UserID: "u1", ModelName: id, ModelType: domain.ModelClaude, IsDefault: true})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent default switch: %v", err)
		}
	}

	configs, err := s.ListLLMConfigs(ctx, "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	defaults := 0
	for _, c := range configs {
		if c.IsDefault {
			defaults++
		}
	}
	if defaults != 1 {
		t.Fatalf("expected exactly one default, got %d", defaults)
	}

	second := llmConfigToModel(domain.UserLLMConfig{ID: "raw", UserID: "u1", ModelName: "raw", ModelType: domain.ModelOpenAI, IsDefault: true, CreatedAt: clock.Now(), UpdatedAt: clock.Now()})
	if err := s.db.Create(&second).Error; err == nil {
		t.Fatalf("expected a second default row to violate the unique index")
	}
	other := llmConfigToModel(domain.UserLLMConfig{ID: "other", UserID: "u2", ModelName: "o", ModelType: domain.ModelOpenAI, IsDefault: true, CreatedAt: clock.Now(), UpdatedAt: clock.Now()})
	if err := s.db.Create(&other).Error; err != nil {
		t.Fatalf("default of another user: %v", err)
	}
}

func TestSessionTreeSkipsDeletedSubtrees(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	create := func(id, parent string) {
		t.Helper()
		clock.Advance(time.Second)
		if err := s.CreateSession(ctx, domain.ChatSession{ID: id, UserID: "u1", Title: id, ParentID: parent}); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	create("root-a", "")
	create("child-a1", "root-a")
	create("grand-a1", "child-a1")
	create("root-b", "")
	create("child-b1", "root-b")

	clock.Advance(time.Second)
	if err := s.CreateMessage(ctx, domain.ChatMessage{ID: "m1", SessionID: "root-a", UserID: "u1", Message: "first"}); err != nil {
		t.Fatalf("message: %v", err)
	}
	clock.Advance(time.Second)
	if err := s.CreateMessage(ctx, domain.ChatMessage{ID: "m2", SessionID: "root-a", UserID: "u1", Message: "second"}); err != nil {
		t.Fatalf("message: %v", err)
	}
	if err := s.SoftDeleteSession(ctx, "child-a1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	tree, err := s.SessionTree(ctx, "u1")
	if err != nil {
		t.Fatalf("tree: %v", err)
	}
	if len(tree) != 2 {
		t.Fatalf("expected 2 roots, got %d", len(tree))
	}
	if tree[0].ID != "root-a" {
		t.Fatalf("expected most recently touched root first, got %s", tree[0].ID)
	}
	if len(tree[0].Children) != 0 {
		t.Fatalf("deleted child and its descendants must be hidden, got %d children", len(tree[0].Children))
	}
	if tree[0].LastMessage == nil || tree[0].LastMessage.ID != "m2" {
		t.Fatalf("expected last message m2, got %+v", tree[0].LastMessage)
	}
	if len(tree[1].Children) != 1 || tree[1].Children[0].ID != "child-b1" {
		t.Fatalf("unexpected children of root-b: %+v", tree[1].Children)
	}
}

func TestBuildSessionTreeDropsOrphans(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	arena := []domain.ChatSession{
		{ID: "a", UpdatedAt: base},
		{ID: "b", ParentID: "a", UpdatedAt: base.Add(time.Minute)},
		{ID: "c", ParentID: "a", UpdatedAt: base.Add(2 * time.Minute)},
		{ID: "orphan", ParentID: "gone", UpdatedAt: base},
	}
	tree := BuildSessionTree(arena, nil)
	if len(tree) != 1 || tree[0].ID != "a" {
		t.Fatalf("unexpected roots: %+v", tree)
	}
	if got := []string{tree[0].Children[0].ID, tree[0].Children[1].ID}; got[0] != "c" || got[1] != "b" {
		t.Fatalf("children must be newest first, got %v", got)
	}
}

func TestLiveSessions(t *testing.T) {
	arena := []domain.ChatSession{
		{ID: "root"},
		{ID: "gone", ParentID: "root", IsDeleted: true},
		{ID: "under-gone", ParentID: "gone"},
		{ID: "deep", ParentID: "under-gone"},
		{ID: "kept", ParentID: "root"},
		{ID: "orphan", ParentID: "missing"},
		{ID: "loop-a", ParentID: "loop-b"},
		{ID: "loop-b", ParentID: "loop-a"},
	}
	live := LiveSessions(arena)
	if len(live) != 2 || live[0].ID != "root" || live[1].ID != "kept" {
		t.Fatalf("unexpected live sessions: %+v", live)
	}
}

func TestUpdateSessionRejectsCycles(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()
	for _, pair := range [][2]string{{"a", ""}, {"b", "a"}, {"c", "b"}} {
		clock.Advance(time.Second)
		if err := s.CreateSession(ctx, domain.ChatSession{ID: pair[0], UserID: "u1", Title: pair[0], ParentID: pair[1]}); err != nil {
			t.Fatalf("create %s: %v", pair[0], err)
		}
	}
	if err := s.CreateSession(ctx, domain.ChatSession{ID: "x", UserID: "u2", Title: "x"}); err != nil {
		t.Fatalf("create x: %v", err)
	}

	cases := []struct {
		name   string
		id     string
		parent string
	}{
		{name: "self", id: "a", parent: "a"},
		{name: "descendant", id: "a", parent: "c"},
		{name: "foreign", id: "b", parent: "x"},
		{name: "missing", id: "b", parent: "nope"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			parent := tc.parent
			if _, err := s.UpdateSession(ctx, tc.id, SessionUpdate{ParentID: &parent}); !errors.Is(err, ErrInvalidParent) {
				t.Fatalf("expected invalid parent, got %v", err)
			}
		})
	}

	root := ""
	updated, err := s.UpdateSession(ctx, "c", SessionUpdate{ParentID: &root})
	if err != nil {
		t.Fatalf("move to root: %v", err)
	}
	if updated.ParentID != "" {
		t.Fatalf("expected root session, got parent %q", updated.ParentID)
	}
}

func TestListMessagesChronologicalWindow(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()
	if err := s.CreateSession(ctx, domain.ChatSession{ID: "s1", UserID: "u1", Title: "t"}); err != nil {
		t.Fatalf("session: %v", err)
	}
	for _, id := range []string{"m1", "m2", "m3"} {
		clock.Advance(time.Second)
		if err := s.CreateMessage(ctx, domain.ChatMessage{ID: id, SessionID: "s1", UserID: "u1", Message: id, CreatedAt: clock.Now()}); err != nil {
			t.Fatalf("message: %v", err)
		}
	}
	msgs, err := s.ListMessages(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 2 || msgs[0].ID != "m2" || msgs[1].ID != "m3" {
		t.Fatalf("unexpected window: %+v", msgs)
	}

	msgs[1].Response = "answer"
	msgs[1].SourceDocuments = []domain.SourceRef{{DocumentID: "d1", ChunkIndex: 2, Score: 0.5}}
	if err := s.UpdateMessage(ctx, msgs[1]); err != nil {
		t.Fatalf("update: %v", err)
	}
	msgs, _ = s.ListMessages(ctx, "s1", 1)
	if msgs[0].Response != "answer" || len(msgs[0].SourceDocuments) != 1 || msgs[0].SourceDocuments[0].DocumentID != "d1" {
		t.Fatalf("update not persisted: %+v", msgs[0])
	}
}

func TestPurgeUser(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	for _, user := range []string{"u1", "u2"} {
		if err := s.CreateDocument(ctx, domain.Document{ID: "d-" + user, UserID: user, Filename: "f", FilePath: "k", MimeType: "text/plain"}); err != nil {
			t.Fatalf("doc: %v", err)
		}
		if err := s.CreateSession(ctx, domain.ChatSession{ID: "s-" + user, UserID: user, Title: "t"}); err != nil {
			t.Fatalf("session: %v", err)
		}
		if err := s.CreateMessage(ctx, domain.ChatMessage{ID: "m-" + user, SessionID: "s-" + user, UserID: user, Message: "hi"}); err != nil {
			t.Fatalf("message: %v", err)
		}
		if err := s.CreateLLMConfig(ctx, domain.UserLLMConfig{ID: "c-" + user, UserID: user, ModelName: "m", ModelType: domain.ModelOpenAI}); err != nil {
			t.Fatalf("config: %v", err)
		}
	}
	if err := s.PurgeUser(ctx, "u1"); err != nil {
		t.Fatalf("purge: %v", err)
	}
	if docs, _ := s.ListDocuments(ctx, "u1"); len(docs) != 0 {
		t.Fatalf("expected u1 documents purged")
	}
	if sessions, _ := s.ListSessions(ctx, "u1"); len(sessions) != 0 {
		t.Fatalf("expected u1 sessions purged")
	}
	if docs, _ := s.ListDocuments(ctx, "u2"); len(docs) != 1 {
		t.Fatalf("u2 data must survive")
	}
	if msgs, _ := s.ListMessages(ctx, "s-u2", 0); len(msgs) != 1 {
		t.Fatalf("u2 messages must survive")
	}
}

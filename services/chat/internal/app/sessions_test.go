package app

import (
	"context"
	"errors"
	"testing"

	"ragchat/pkg/domain"
)

func TestSessionTreeHidesDeletedSubtrees(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	root, err := f.app.CreateSession(ctx, "u1", SessionCreate{Title: "root"})
	if err != nil {
		t.Fatalf("root: %v", err)
	}
	child, err := f.app.CreateSession(ctx, "u1", SessionCreate{Title: "child", ParentID: root.ID})
	if err != nil {
		t.Fatalf("child: %v", err)
	}
	grandchild, err := f.app.CreateSession(ctx, "u1", SessionCreate{Title: "grandchild", ParentID: child.ID})
	if err != nil {
		t.Fatalf("grandchild: %v", err)
	}
	if _, err := f.app.CreateSession(ctx, "u2", SessionCreate{ParentID: root.ID}); !errors.Is(err, ErrInvalidParent) {
		t.Fatalf("foreign parent should be rejected, got %v", err)
	}

	tree, err := f.app.SessionTree(ctx, "u1")
	if err != nil {
		t.Fatalf("tree: %v", err)
	}
	if len(tree) != 1 || len(tree[0].Children) != 1 || len(tree[0].Children[0].Children) != 1 {
		t.Fatalf("unexpected tree shape: %+v", tree)
	}

	if err := f.app.DeleteSession(ctx, "u1", child.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	tree, err = f.app.SessionTree(ctx, "u1")
	if err != nil {
		t.Fatalf("tree: %v", err)
	}
	if len(tree) != 1 || len(tree[0].Children) != 0 {
		t.Fatalf("deleted subtree should be hidden: %+v", tree)
	}
	live, err := f.app.ListSessions(ctx, "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(live) != 1 || live[0].ID != root.ID {
		t.Fatalf("expected only the root listed, got %+v", live)
	}

	if _, err := f.app.History(ctx, "u1", grandchild.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("history under deleted ancestor: %v", err)
	}
	if _, err := f.app.CreateMessage(ctx, "u1", grandchild.ID, domain.MessageCreate{Message: "hi"}); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("message under deleted ancestor: %v", err)
	}
	title := "moved"
	if _, err := f.app.UpdateSession(ctx, "u1", grandchild.ID, SessionPatch{Title: &title}); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("update under deleted ancestor: %v", err)
	}
	if _, err := f.app.CreateSession(ctx, "u1", SessionCreate{ParentID: grandchild.ID}); !errors.Is(err, ErrInvalidParent) {
		t.Fatalf("hidden parent should be rejected on create, got %v", err)
	}
	other := f.session(t, "u1")
	if _, err := f.app.UpdateSession(ctx, "u1", other.ID, SessionPatch{ParentID: &grandchild.ID}); !errors.Is(err, ErrInvalidParent) {
		t.Fatalf("hidden parent should be rejected on move, got %v", err)
	}
}

func TestUpdateSession(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	a := f.session(t, "u1")
	b := f.session(t, "u1")

	title := "Renamed"
	archived := true
	got, err := f.app.UpdateSession(ctx, "u1", a.ID, SessionPatch{Title: &title, IsArchived: &archived, ParentID: &b.ID})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Title != "Renamed" || !got.IsArchived || got.ParentID != b.ID {
		t.Fatalf("unexpected session: %+v", got)
	}
	if _, err := f.app.UpdateSession(ctx, "u1", b.ID, SessionPatch{ParentID: &a.ID}); !errors.Is(err, ErrInvalidParent) {
		t.Fatalf("cycle should be rejected, got %v", err)
	}
	root := ""
	got, err = f.app.UpdateSession(ctx, "u1", a.ID, SessionPatch{ParentID: &root})
	if err != nil || got.ParentID != "" {
		t.Fatalf("move to root: %+v %v", got, err)
	}
	if _, err := f.app.UpdateSession(ctx, "u2", a.ID, SessionPatch{Title: &title}); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("foreign update should be not found, got %v", err)
	}
}

func TestGenerateSessionTitle(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", defaultSessionTitle},
		{"   ", defaultSessionTitle},
		{"can you explain vector search?", "Explain vector search"},
		{"Please summarize chapter 3.", "Summarize chapter 3"},
		{"what\nis this", "What is this"},
		{"?", defaultSessionTitle},
		{"a very long question that keeps going well past the forty rune limit", "A very long question that keeps going we…"},
	}
	for _, tt := range tests {
		if got := generateSessionTitle(tt.in); got != tt.want {
			t.Fatalf("generateSessionTitle(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

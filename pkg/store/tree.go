package store

import (
	"context"
	"sort"

	"ragchat/pkg/domain"
)

// BuildSessionTree materializes the session forest from a flat arena.
// Deleted sessions are dropped together with their whole subtree, and
// sessions whose parent is missing from the arena are left out. Roots and
// children are ordered by updated_at, newest first.
func BuildSessionTree(arena []domain.ChatSession, last map[string]domain.ChatMessage) []*domain.SessionNode {
	byID := make(map[string]int, len(arena))
	children := make(map[string][]int, len(arena))
	var roots []int
	for i, s := range arena {
		byID[s.ID] = i
	}
	for i, s := range arena {
		if s.ParentID == "" {
			roots = append(roots, i)
			continue
		}
		if _, ok := byID[s.ParentID]; ok {
			children[s.ParentID] = append(children[s.ParentID], i)
		}
	}

	newest := func(idx []int) {
		sort.SliceStable(idx, func(a, b int) bool {
			return arena[idx[a]].UpdatedAt.After(arena[idx[b]].UpdatedAt)
		})
	}
	node := func(i int) *domain.SessionNode {
		n := &domain.SessionNode{ChatSession: arena[i], Children: []*domain.SessionNode{}}
		if msg, ok := last[arena[i].ID]; ok {
			m := msg
			n.LastMessage = &m
		}
		return n
	}

	newest(roots)
	out := make([]*domain.SessionNode, 0, len(roots))
	queue := make([]*domain.SessionNode, 0, len(arena))
	for _, i := range roots {
		if arena[i].IsDeleted {
			continue
		}
		n := node(i)
		out = append(out, n)
		queue = append(queue, n)
	}
	for len(queue) > 0 {
		parent := queue[0]
		queue = queue[1:]
		kids := children[parent.ID]
		newest(kids)
		for _, i := range kids {
			if arena[i].IsDeleted {
				continue
			}
			n := node(i)
			parent.Children = append(parent.Children, n)
			queue = append(queue, n)
		}
	}
	return out
}

// LiveSessions keeps the sessions that are not deleted and whose whole
// ancestor chain is present in the arena and not deleted. Input order is kept.
func LiveSessions(arena []domain.ChatSession) []domain.ChatSession {
	byID := make(map[string]domain.ChatSession, len(arena))
	for _, s := range arena {
		byID[s.ID] = s
	}
	live := make(map[string]bool, len(arena))
	var visible func(id string, depth int) bool
	visible = func(id string, depth int) bool {
		if v, ok := live[id]; ok {
			return v
		}
		s, ok := byID[id]
		if !ok || s.IsDeleted || depth > len(arena) {
			return false
		}
		v := s.ParentID == "" || visible(s.ParentID, depth+1)
		live[id] = v
		return v
	}
	out := make([]domain.ChatSession, 0, len(arena))
	for _, s := range arena {
		if visible(s.ID, 0) {
			out = append(out, s)
		}
	}
	return out
}

// SessionTree loads the user's sessions and their last messages and builds the forest.
func (s *GormStore) SessionTree(ctx context.Context, userID string) ([]*domain.SessionNode, error) {
	sessions, err := s.ListSessions(ctx, userID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(sessions))
	for _, sess := range LiveSessions(sessions) {
		ids = append(ids, sess.ID)
	}
	last, err := s.LastMessages(ctx, ids)
	if err != nil {
		return nil, err
	}
	return BuildSessionTree(sessions, last), nil
}

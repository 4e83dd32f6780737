package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"ragchat/internal/util"
	"ragchat/pkg/domain"
	"ragchat/pkg/realtime"
)

const maxPendingSocketMessages = 8

// SocketConn is a realtime connection that can also read client frames.
type SocketConn interface {
	realtime.Conn
	Read() (realtime.Inbound, error)
}

// Session returns a live session owned by userID.
func (a *App) Session(ctx context.Context, userID, id string) (domain.ChatSession, error) {
	return a.ownedSession(ctx, userID, id)
}

// ServeSocket registers conn with the session hub and handles its frames
// until the client goes away. Messages of one connection are answered in
// order; reading continues while a response streams so keepalives are seen.
func (a *App) ServeSocket(ctx context.Context, userID, sessionID string, conn SocketConn) error {
	if _, err := a.ownedSession(ctx, userID, sessionID); err != nil {
		return err
	}
	logger := util.Logger(ctx).With("session_id", sessionID, "user_id", userID)
	if err := a.hub.Connect(ctx, sessionID, userID, conn); err != nil {
		logger.Warn("send initial typing status", "err", err)
	}
	pending := make(chan domain.MessageCreate, maxPendingSocketMessages)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for req := range pending {
			if err := a.ChatOverSocket(ctx, userID, sessionID, req); err != nil {
				logger.Warn("socket generation failed", "err", err)
			}
		}
	}()
	defer func() {
		close(pending)
		<-done
		a.hub.Disconnect(context.WithoutCancel(ctx), sessionID, userID, conn)
	}()

	for {
		in, err := conn.Read()
		if err != nil {
			if errors.Is(err, realtime.ErrUnknownInbound) {
				_ = conn.Send(ctx, realtime.Error(err.Error()))
				continue
			}
			logger.Debug("socket closed", "err", err)
			return nil
		}
		switch in.Type {
		case realtime.InboundTyping:
			a.hub.SetTyping(ctx, sessionID, userID, in.IsTyping)
		case realtime.InboundMessage:
			req, err := decodeInbound(in.Content)
			if err != nil {
				_ = conn.Send(ctx, realtime.Error(err.Error()))
				continue
			}
			select {
			case pending <- req:
			default:
				_ = conn.Send(ctx, realtime.Error("too many pending messages"))
			}
		}
	}
}

// decodeInbound accepts either a message object or a bare string.
func decodeInbound(raw json.RawMessage) (domain.MessageCreate, error) {
	var req domain.MessageCreate
	if len(raw) == 0 {
		return req, ErrMessageRequired
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		req.Message = text
		return req, nil
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return req, fmt.Errorf("invalid message content: %w", err)
	}
	return req, nil
}

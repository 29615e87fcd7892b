package handlers

import (
	"context"
	"encoding/json"

	"github.com/rl-arena/code-arena-backend/internal/service"
	"github.com/rl-arena/code-arena-backend/internal/websocket"
	"go.uber.org/zap"
)

// Realtime 웹소켓 명령을 서비스 호출로 옮기고 연결 상태 변화를 전달한다
type Realtime struct {
	matchmaking *service.MatchmakingService
	matches     *service.MatchService
	submissions *service.SubmissionService
	hub         service.Broadcaster
	logger      *zap.Logger
}

func NewRealtime(
	matchmaking *service.MatchmakingService,
	matches *service.MatchService,
	submissions *service.SubmissionService,
	hub service.Broadcaster,
	logger *zap.Logger,
) *Realtime {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Realtime{
		matchmaking: matchmaking,
		matches:     matches,
		submissions: submissions,
		hub:         hub,
		logger:      logger,
	}
}

// HandleCommand 명령 하나 처리. 실패하면 보낸 사람에게 error 이벤트를 보낸다.
func (r *Realtime) HandleCommand(ctx context.Context, userID string, cmd websocket.Command) {
	if err := r.dispatch(ctx, userID, cmd); err != nil {
		r.reject(userID, cmd.Type, err)
	}
}

func (r *Realtime) dispatch(ctx context.Context, userID string, cmd websocket.Command) error {
	switch cmd.Type {
	case websocket.CommandQueueJoin:
		var req websocket.QueueJoinCommand
		if err := decode(cmd.Payload, &req); err != nil {
			return err
		}
		_, err := r.matchmaking.Join(ctx, userID, req.Category, req.Preferences)
		return err

	case websocket.CommandQueueLeave:
		r.matchmaking.Leave(userID)
		return nil

	case websocket.CommandLobbyJoin:
		var req websocket.LobbyJoinCommand
		if err := decode(cmd.Payload, &req); err != nil {
			return err
		}
		if req.MatchID == "" {
			return service.ErrInvalidCommand
		}
		return r.matches.JoinLobby(ctx, req.MatchID, userID)

	case websocket.CommandMatchSubmit:
		var req websocket.SubmitCommand
		if err := decode(cmd.Payload, &req); err != nil {
			return err
		}
		if req.MatchID == "" {
			return service.ErrInvalidCommand
		}
		_, err := r.submissions.Submit(ctx, req.MatchID, userID, req.Code, req.Language)
		return err
	}
	return service.ErrInvalidCommand
}

func decode(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return service.ErrInvalidCommand
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return service.ErrInvalidCommand
	}
	return nil
}

func (r *Realtime) reject(userID, command string, err error) {
	if service.KindOf(err) == service.KindUnknown || service.KindOf(err) == service.KindExternalDependency {
		r.logger.Error("Command failed",
			zap.String("userId", userID),
			zap.String("command", command),
			zap.Error(err))
	} else {
		r.logger.Debug("Command rejected",
			zap.String("userId", userID),
			zap.String("command", command),
			zap.String("code", service.CodeOf(err)))
	}

	r.hub.SendToUser(userID, websocket.EventError, websocket.ErrorPayload{
		Code:    service.CodeOf(err),
		Message: publicMessage(err),
		Command: command,
	})
}

// HandleConnect 진행 중인 경기가 있으면 match:started, 스코어보드, 남은 시간을 다시 보내준다
func (r *Realtime) HandleConnect(userID string) {
	r.matches.HandleReconnect(userID)
}

// HandleDisconnect 대기열에서 빼고 로비 참가를 되돌린다
func (r *Realtime) HandleDisconnect(userID string) {
	r.matchmaking.HandleDisconnect(userID)
	r.matches.HandleDisconnect(userID)
}

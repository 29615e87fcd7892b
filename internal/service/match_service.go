package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rl-arena/code-arena-backend/internal/models"
	"github.com/rl-arena/code-arena-backend/internal/repository"
	"github.com/rl-arena/code-arena-backend/internal/websocket"
	"github.com/rl-arena/code-arena-backend/pkg/metrics"
	"go.uber.org/zap"
)

// Broadcaster 플레이어별 실시간 채널로 이벤트 전송 (websocket.Hub)
type Broadcaster interface {
	SendToUser(userID string, msgType string, payload interface{})
	SendToUsers(userIDs []string, msgType string, payload interface{})
}

// MatchScorer 종료된 경기 채점
type MatchScorer interface {
	ScoreMatch(ctx context.Context, matchID string) (*ScoringResult, error)
	// ConclusionUnsaved 종료 상태 저장에 실패한 경기를 채점 실패로 남긴다
	ConclusionUnsaved(ctx context.Context, match *models.Match, cause error) error
}

// Requeuer 취소된 로비의 플레이어를 원래 대기 시각 그대로 다시 줄 세운다
// IsQueued는 로비 재입장 때 대기열에 다시 선 플레이어를 걸러낸다.
type Requeuer interface {
	Requeue(entries []*models.QueueEntry)
	IsQueued(playerID string) bool
}

// PlayerConflictError 다른 경기에 이미 묶인 플레이어. errors.Is(err, ErrAlreadyInMatch)
type PlayerConflictError struct {
	PlayerID string
}

func (e *PlayerConflictError) Error() string {
	return fmt.Sprintf("%s: %s", ErrAlreadyInMatch.Message, e.PlayerID)
}

func (e *PlayerConflictError) Unwrap() error {
	return ErrAlreadyInMatch
}

type LifecycleConfig struct {
	MatchDuration    time.Duration
	LobbyTimeout     time.Duration
	TimeSyncInterval time.Duration
	// ConclusionWait 종료 시 진행 중인 채점을 기다리는 최대 시간
	ConclusionWait time.Duration
	MinPlayers     map[models.Category]int
}

func DefaultLifecycleConfig() LifecycleConfig {
	return LifecycleConfig{
		MatchDuration:    15 * time.Minute,
		LobbyTimeout:     15 * time.Second,
		TimeSyncInterval: 5 * time.Second,
		ConclusionWait:   DefaultSubmissionConfig().JudgingBudget() + 5*time.Second,
		MinPlayers: map[models.Category]int{
			models.Category1v1: 2,
			models.Category2v2: 4,
			models.CategoryFFA: 2,
		},
	}
}

// MatchView 경기와 참가자 스냅샷
type MatchView struct {
	Match        models.Match             `json:"match"`
	Participants []*models.Participant    `json:"participants"`
	Scoreboard   []models.ScoreboardEntry `json:"scoreboard"`
}

// ConclusionResult Conclude 결과
type ConclusionResult struct {
	Match      models.Match
	Scoreboard []models.ScoreboardEntry
	WinnerID   *string
	Scored     bool
	// ScoringErr 채점이 실패했으면 원인 (경기는 completed로 남는다)
	ScoringErr error
}

// matchRoom 진행 중인 경기 하나의 상태. mu가 상태 전이와 이벤트 순서를 직렬화한다.
type matchRoom struct {
	mu           sync.Mutex
	match        *models.Match
	problem      *models.Problem
	participants []*models.Participant
	entries      map[string]*models.QueueEntry
	acknowledged map[string]bool
	// tails 플레이어별 마지막 제출 결과 발행 완료 신호
	tails      map[string]chan struct{}
	inflight   sync.WaitGroup
	lobbyTimer *time.Timer
	stopClock  context.CancelFunc
	// settled 채점 입력이 확정됨. 이후에 끝난 제출은 점수에 반영하지 않는다.
	settled     bool
	nextJoinSeq int
}

func (r *matchRoom) participant(playerID string) *models.Participant {
	for _, p := range r.participants {
		if p.PlayerID == playerID {
			return p
		}
	}
	return nil
}

func (r *matchRoom) playerIDs() []string {
	ids := make([]string, len(r.participants))
	for i, p := range r.participants {
		ids[i] = p.PlayerID
	}
	return ids
}

func (r *matchRoom) snapshot() []*models.Participant {
	out := make([]*models.Participant, len(r.participants))
	for i, p := range r.participants {
		out[i] = p.Clone()
	}
	return out
}

// startedPayload match:started 이벤트. in_progress 경기에서만 호출
func (r *matchRoom) startedPayload() websocket.MatchStartedPayload {
	infos := make([]websocket.ParticipantInfo, 0, len(r.participants))
	for _, p := range r.participants {
		infos = append(infos, websocket.ParticipantInfo{
			PlayerID:     p.PlayerID,
			TeamNumber:   p.TeamNumber,
			RatingBefore: p.RatingBefore,
		})
	}
	return websocket.MatchStartedPayload{
		MatchID:      r.match.ID,
		Problem:      r.problem.View(),
		StartTime:    *r.match.StartTime,
		EndTime:      *r.match.EndTime,
		Participants: infos,
	}
}

func (r *matchRoom) broadcast(hub Broadcaster, msgType string, payload interface{}) {
	hub.SendToUsers(r.playerIDs(), msgType, payload)
}

// MatchService 경기 상태 (waiting → in_progress → completed), 로비, 서버 타이머를 소유한다
type MatchService struct {
	store    repository.Store
	scoring  MatchScorer
	hub      Broadcaster
	requeuer Requeuer
	metrics  *metrics.Metrics
	logger   *zap.Logger
	cfg      LifecycleConfig
	now      func() time.Time

	mu          sync.Mutex
	rooms       map[string]*matchRoom
	playerMatch map[string]string
	wg          sync.WaitGroup
}

func NewMatchService(
	store repository.Store,
	scoring MatchScorer,
	hub Broadcaster,
	m *metrics.Metrics,
	logger *zap.Logger,
	cfg LifecycleConfig,
) *MatchService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MatchService{
		store:       store,
		scoring:     scoring,
		hub:         hub,
		metrics:     m,
		logger:      logger,
		cfg:         cfg,
		now:         time.Now,
		rooms:       make(map[string]*matchRoom),
		playerMatch: make(map[string]string),
	}
}

// SetRequeuer sets the requeuer (to avoid circular dependency)
func (s *MatchService) SetRequeuer(r Requeuer) {
	s.requeuer = r
}

func (s *MatchService) minPlayers(category models.Category) int {
	if n, ok := s.cfg.MinPlayers[category]; ok {
		return n
	}
	return 2
}

// teamFor 1v1/ffa는 입장 순서가 곧 팀, 2v2는 1,2 → 1팀 / 3,4 → 2팀
func teamFor(category models.Category, joinOrder int) int {
	if category.TeamBased() {
		return (joinOrder + 1) / 2
	}
	return joinOrder
}

// IsInActiveMatch 완료되지 않은 경기에 참가 중인지
func (s *MatchService) IsInActiveMatch(playerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.playerMatch[playerID]
	return ok
}

// reserve 플레이어들을 경기에 묶는다. 하나라도 다른 경기에 있으면 아무것도 하지 않는다.
func (s *MatchService) reserve(matchID string, playerIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range playerIDs {
		if other, ok := s.playerMatch[id]; ok && other != matchID {
			return &PlayerConflictError{PlayerID: id}
		}
	}
	for _, id := range playerIDs {
		s.playerMatch[id] = matchID
	}
	return nil
}

// reserveSeat 로비 재입장. 그 사이 대기열에 다시 선 플레이어는 받지 않는다.
func (s *MatchService) reserveSeat(matchID, playerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if other, ok := s.playerMatch[playerID]; ok && other != matchID {
		return &PlayerConflictError{PlayerID: playerID}
	}
	if s.requeuer != nil && s.requeuer.IsQueued(playerID) {
		return ErrAlreadyQueued
	}
	s.playerMatch[playerID] = matchID
	return nil
}

// AdmitToQueue 경기에 묶여 있지 않은 동안에만 enqueue를 실행한다
// 확인과 등록 사이에 로비 재입장이 끼어들지 않는다.
func (s *MatchService) AdmitToQueue(playerID string, enqueue func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.playerMatch[playerID]; ok {
		return ErrAlreadyInMatch
	}
	return enqueue()
}

func (s *MatchService) release(matchID string, playerIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range playerIDs {
		if s.playerMatch[id] == matchID {
			delete(s.playerMatch, id)
		}
	}
}

func (s *MatchService) room(matchID string) *matchRoom {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rooms[matchID]
}

// CreateMatch 매칭된 그룹으로 waiting 경기를 만들고 match:found 전송
// 문제를 고르지 못하거나 저장에 실패하면 아무것도 남기지 않고 에러를 반환한다.
func (s *MatchService) CreateMatch(ctx context.Context, category models.Category, group MatchGroup) (*models.Match, error) {
	matchID := uuid.New().String()
	playerIDs := group.PlayerIDs()

	if err := s.reserve(matchID, playerIDs); err != nil {
		return nil, err
	}
	created := false
	defer func() {
		if !created {
			s.release(matchID, playerIDs...)
		}
	}()

	difficulty := group.Difficulty()
	problem, err := s.store.PickProblem(ctx, difficulty)
	if errors.Is(err, repository.ErrNoProblemAvailable) {
		return nil, fmt.Errorf("%w: %s", ErrNoProblemAvailable, difficulty)
	}
	if err != nil {
		return nil, external("pick problem", err)
	}

	season, err := s.store.ActiveSeason(ctx)
	if err != nil {
		return nil, external("active season", err)
	}

	now := s.now()
	match := &models.Match{
		ID:              matchID,
		Category:        category,
		ProblemID:       problem.ID,
		Difficulty:      difficulty,
		Status:          models.MatchStatusWaiting,
		DurationSeconds: int(s.cfg.MatchDuration / time.Second),
		CreatedAt:       now,
	}
	if season != nil {
		id := season.ID
		match.SeasonID = &id
	}

	room := &matchRoom{
		match:        match,
		problem:      problem,
		entries:      make(map[string]*models.QueueEntry, len(group.Entries)),
		acknowledged: make(map[string]bool),
		tails:        make(map[string]chan struct{}),
	}
	for i, e := range group.Entries {
		order := i + 1
		room.participants = append(room.participants, &models.Participant{
			MatchID:      matchID,
			PlayerID:     e.PlayerID,
			TeamNumber:   teamFor(category, order),
			JoinOrder:    order,
			JoinedAt:     now,
			RatingBefore: e.RatingSnapshot,
			Connected:    true,
		})
		room.entries[e.PlayerID] = e
	}
	room.nextJoinSeq = len(group.Entries) + 1

	if err := s.store.CreateMatch(ctx, match, room.participants); err != nil {
		return nil, external("create match", err)
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	s.mu.Lock()
	s.rooms[matchID] = room
	s.mu.Unlock()
	created = true

	deadline := now.Add(s.cfg.LobbyTimeout)
	room.lobbyTimer = time.AfterFunc(s.cfg.LobbyTimeout, func() {
		s.lobbyExpired(matchID)
	})

	s.metrics.MatchCreated(string(category))
	s.logger.Info("Match created",
		zap.String("matchId", matchID),
		zap.String("category", string(category)),
		zap.String("difficulty", string(difficulty)),
		zap.Strings("players", playerIDs),
		zap.Bool("forced", group.Forced))

	room.broadcast(s.hub, websocket.EventMatchFound, websocket.MatchFoundPayload{
		MatchID:       matchID,
		Category:      category,
		Difficulty:    difficulty,
		Players:       playerIDs,
		LobbyDeadline: deadline,
	})

	c := *match
	return &c, nil
}

// JoinLobby 플레이어의 로비 입장 확인. 남은 인원이 모두 확인하면 경기를 시작한다.
// 로비에서 연결이 끊겨 빠졌던 플레이어는 자리가 있고 대기열에 다시 서지 않았으면 들어올 수 있다.
func (s *MatchService) JoinLobby(ctx context.Context, matchID, playerID string) error {
	room := s.room(matchID)
	if room == nil {
		return s.missingRoomError(ctx, matchID)
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.match.Status != models.MatchStatusWaiting {
		return ErrMatchNotWaiting
	}

	if room.participant(playerID) == nil {
		entry, matched := room.entries[playerID]
		if !matched {
			return ErrNotParticipant
		}
		if len(room.participants) >= len(room.entries) {
			return ErrLobbyFull
		}
		if err := s.reserveSeat(matchID, playerID); err != nil {
			return err
		}
		order := room.nextJoinSeq
		room.nextJoinSeq++
		p := &models.Participant{
			MatchID:      matchID,
			PlayerID:     playerID,
			TeamNumber:   s.openTeam(room),
			JoinOrder:    order,
			JoinedAt:     s.now(),
			RatingBefore: entry.RatingSnapshot,
			Connected:    true,
		}
		if err := s.store.AddParticipant(ctx, p); err != nil {
			s.release(matchID, playerID)
			return external("add participant", err)
		}
		room.participants = append(room.participants, p)
	}

	room.acknowledged[playerID] = true

	if s.allAcknowledged(room) && len(room.participants) >= s.minPlayers(room.match.Category) {
		return s.startLocked(ctx, room)
	}
	return nil
}

// openTeam 다시 들어온 플레이어가 들어갈 팀 (2v2는 인원이 모자란 팀)
func (s *MatchService) openTeam(room *matchRoom) int {
	if !room.match.Category.TeamBased() {
		used := map[int]bool{}
		for _, p := range room.participants {
			used[p.TeamNumber] = true
		}
		for team := 1; ; team++ {
			if !used[team] {
				return team
			}
		}
	}
	counts := map[int]int{}
	for _, p := range room.participants {
		counts[p.TeamNumber]++
	}
	if counts[1] <= counts[2] {
		return 1
	}
	return 2
}

func (s *MatchService) allAcknowledged(room *matchRoom) bool {
	for _, p := range room.participants {
		if !room.acknowledged[p.PlayerID] {
			return false
		}
	}
	return len(room.participants) > 0
}

// lobbyExpired 로비 대기 시간 종료. 확인하지 않은 플레이어를 빼고 시작하거나 취소한다.
func (s *MatchService) lobbyExpired(matchID string) {
	room := s.room(matchID)
	if room == nil {
		return
	}
	ctx := context.Background()

	room.mu.Lock()
	if room.match.Status != models.MatchStatusWaiting {
		room.mu.Unlock()
		return
	}

	kept := room.participants[:0:0]
	var dropped []string
	for _, p := range room.participants {
		if room.acknowledged[p.PlayerID] {
			kept = append(kept, p)
			continue
		}
		dropped = append(dropped, p.PlayerID)
		if err := s.store.RemoveParticipant(ctx, matchID, p.PlayerID); err != nil {
			s.logger.Error("Failed to remove idle lobby participant",
				zap.String("matchId", matchID),
				zap.String("playerId", p.PlayerID),
				zap.Error(err))
		}
	}
	room.participants = kept
	s.release(matchID, dropped...)

	if len(room.participants) >= s.minPlayers(room.match.Category) {
		if err := s.startLocked(ctx, room); err != nil {
			s.logger.Error("Failed to start match after lobby timeout",
				zap.String("matchId", matchID),
				zap.Error(err))
			requeue := s.cancelLocked(ctx, room)
			room.mu.Unlock()
			s.requeue(requeue)
			return
		}
		room.mu.Unlock()
		return
	}

	requeue := s.cancelLocked(ctx, room)
	room.mu.Unlock()
	s.requeue(requeue)
}

// cancelLocked 인원 미달 로비 취소. 채점 없이 completed(cancelled)로 끝난다.
func (s *MatchService) cancelLocked(ctx context.Context, room *matchRoom) []*models.QueueEntry {
	now := s.now()
	reason := models.ConclusionCancelled
	room.match.Status = models.MatchStatusCompleted
	room.match.ConcludedReason = &reason
	room.match.CompletedAt = &now

	if err := s.store.UpdateMatchState(ctx, room.match); err != nil {
		s.logger.Error("Failed to persist cancelled match",
			zap.String("matchId", room.match.ID),
			zap.Error(err))
	}

	room.broadcast(s.hub, websocket.EventMatchEnded, websocket.MatchEndedPayload{
		MatchID:         room.match.ID,
		Reason:          reason,
		FinalScoreboard: []models.ScoreboardEntry{},
	})
	room.settled = true

	ids := room.playerIDs()
	entries := make([]*models.QueueEntry, 0, len(ids))
	for _, id := range ids {
		if e := room.entries[id]; e != nil {
			entries = append(entries, e)
		}
	}

	s.release(room.match.ID, ids...)
	s.mu.Lock()
	delete(s.rooms, room.match.ID)
	s.mu.Unlock()

	s.metrics.MatchConcluded(string(reason))
	s.logger.Info("Lobby cancelled",
		zap.String("matchId", room.match.ID),
		zap.Strings("requeued", ids))
	return entries
}

func (s *MatchService) requeue(entries []*models.QueueEntry) {
	if len(entries) == 0 || s.requeuer == nil {
		return
	}
	s.requeuer.Requeue(entries)
}

// startLocked waiting → in_progress. room.mu를 잡은 상태에서 호출
func (s *MatchService) startLocked(ctx context.Context, room *matchRoom) error {
	if !room.match.Status.CanTransitionTo(models.MatchStatusInProgress) {
		return ErrMatchNotWaiting
	}

	start := s.now()
	end := start.Add(s.cfg.MatchDuration)

	next := *room.match
	next.Status = models.MatchStatusInProgress
	next.StartTime = &start
	next.EndTime = &end
	if err := s.store.UpdateMatchState(ctx, &next); err != nil {
		return external("start match", err)
	}
	room.match = &next

	if room.lobbyTimer != nil {
		room.lobbyTimer.Stop()
	}

	clockCtx, cancel := context.WithCancel(context.Background())
	room.stopClock = cancel
	s.wg.Add(1)
	go s.runClock(clockCtx, room, next.ID, end)

	room.broadcast(s.hub, websocket.EventMatchStarted, room.startedPayload())

	s.logger.Info("Match started",
		zap.String("matchId", next.ID),
		zap.Time("endTime", end),
		zap.Int("participants", len(room.participants)))
	return nil
}

// runClock 서버 기준 시간 동기화와 종료 타이머. 경기가 끝나면 ctx가 취소된다.
func (s *MatchService) runClock(ctx context.Context, room *matchRoom, matchID string, end time.Time) {
	defer s.wg.Done()

	timer := time.NewTimer(end.Sub(s.now()))
	defer timer.Stop()

	interval := s.cfg.TimeSyncInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sendTimeSync(room, end)
		case <-timer.C:
			_, err := s.Conclude(context.Background(), matchID, models.ConclusionTimeout)
			if err != nil && !errors.Is(err, ErrMatchAlreadyConcluded) {
				s.logger.Error("Timer conclusion failed",
					zap.String("matchId", matchID),
					zap.Error(err))
			}
			return
		}
	}
}

func (s *MatchService) sendTimeSync(room *matchRoom, end time.Time) {
	room.mu.Lock()
	defer room.mu.Unlock()

	if room.match.Status != models.MatchStatusInProgress {
		return
	}
	now := s.now()
	left := end.Sub(now)
	if left < 0 {
		left = 0
	}
	room.broadcast(s.hub, websocket.EventTimeSync, websocket.TimeSyncPayload{
		MatchID:    room.match.ID,
		TimeLeftMs: left.Milliseconds(),
		ServerTime: now,
	})
}

// Conclude in_progress → completed. accepted 제출, 타이머 만료, 관리자 강제 종료가 모두 이 경로를 탄다.
// 상태 CAS를 통과한 호출 하나만 채점과 match:ended를 수행하고 나머지는 ErrMatchAlreadyConcluded.
func (s *MatchService) Conclude(ctx context.Context, matchID string, reason models.ConclusionReason) (*ConclusionResult, error) {
	room := s.room(matchID)
	if room == nil {
		return nil, s.missingRoomError(ctx, matchID)
	}

	room.mu.Lock()
	switch room.match.Status {
	case models.MatchStatusCompleted:
		room.mu.Unlock()
		return nil, ErrMatchAlreadyConcluded
	case models.MatchStatusWaiting:
		room.mu.Unlock()
		return nil, ErrMatchNotInProgress
	}

	now := s.now()
	room.match.Status = models.MatchStatusCompleted
	room.match.ConcludedReason = &reason
	room.match.CompletedAt = &now
	if room.stopClock != nil {
		room.stopClock()
	}
	concluded := *room.match
	room.mu.Unlock()

	s.logger.Info("Match concluding",
		zap.String("matchId", matchID),
		zap.String("reason", string(reason)))

	// 이미 받은 제출의 결과가 match:ended보다 먼저 나가야 한다
	if !waitTimeout(&room.inflight, s.cfg.ConclusionWait) {
		s.logger.Warn("Timed out waiting for in-flight submissions",
			zap.String("matchId", matchID))
	}
	room.mu.Lock()
	room.settled = true
	room.mu.Unlock()

	result := &ConclusionResult{Match: concluded}
	var scored *ScoringResult
	if err := s.persistConclusion(ctx, &concluded); err != nil {
		s.logger.Error("Failed to persist match conclusion",
			zap.String("matchId", matchID),
			zap.Error(err))
		result.ScoringErr = s.scoring.ConclusionUnsaved(ctx, &concluded, err)
	} else {
		var err error
		scored, err = s.scoring.ScoreMatch(ctx, matchID)
		if err != nil {
			result.ScoringErr = err
			s.logger.Error("Post-match update failed",
				zap.String("matchId", matchID),
				zap.Error(err))
		}
	}

	var stored []models.ScoreboardEntry
	if scored != nil && scored.AlreadyScored {
		// 앞선 시도가 커밋한 결과를 저장소에서 읽는다
		var err error
		stored, result.WinnerID, err = s.storedScoreboard(ctx, matchID)
		if err != nil {
			s.logger.Error("Failed to load stored scoreboard", zap.String("matchId", matchID), zap.Error(err))
		}
	}

	room.mu.Lock()
	switch {
	case stored != nil:
		result.Scoreboard = stored
		result.Scored = true
	case scored != nil && !scored.AlreadyScored:
		byPlayer := make(map[string]*models.Participant, len(scored.Ranked))
		for _, p := range scored.Ranked {
			byPlayer[p.PlayerID] = p
		}
		for _, p := range room.participants {
			if r := byPlayer[p.PlayerID]; r != nil {
				p.Score = r.Score
				p.Rank = r.Rank
				p.RatingChange = r.RatingChange
			}
		}
		result.Scoreboard = scored.Scoreboard
		result.WinnerID = scored.WinnerID
		result.Scored = true
	default:
		result.Scoreboard = Scoreboard(RankParticipants(room.snapshot()))
	}

	ended := websocket.MatchEndedPayload{
		MatchID:         matchID,
		Reason:          reason,
		FinalScoreboard: result.Scoreboard,
		Winner:          result.WinnerID,
		Scored:          result.Scored,
	}
	if result.ScoringErr != nil {
		ended.ScoringError = CodeOf(result.ScoringErr)
	}
	room.broadcast(s.hub, websocket.EventMatchEnded, ended)

	if scored != nil {
		for _, p := range room.participants {
			unlocked := scored.AchievementsFor(p.PlayerID)
			if len(unlocked) == 0 {
				continue
			}
			list := make([]models.Achievement, len(unlocked))
			for i, a := range unlocked {
				list[i] = *a
			}
			s.hub.SendToUser(p.PlayerID, websocket.EventAchievementsUnlocked, websocket.AchievementsUnlockedPayload{
				MatchID:      matchID,
				Achievements: list,
			})
		}
	}

	ids := room.playerIDs()
	room.mu.Unlock()

	s.release(matchID, ids...)
	s.mu.Lock()
	delete(s.rooms, matchID)
	s.mu.Unlock()

	s.metrics.MatchConcluded(string(reason))
	s.logger.Info("Match concluded",
		zap.String("matchId", matchID),
		zap.String("reason", string(reason)),
		zap.Bool("scored", result.Scored))
	return result, nil
}

// ForceEnd 관리자 강제 종료. 타이머 만료와 같은 종료 경로를 쓴다.
func (s *MatchService) ForceEnd(ctx context.Context, matchID string) (*ConclusionResult, error) {
	return s.Conclude(ctx, matchID, models.ConclusionForced)
}

func (s *MatchService) persistConclusion(ctx context.Context, match *models.Match) error {
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		if err = s.store.UpdateMatchState(ctx, match); err == nil {
			return nil
		}
		if sleepErr := sleepContext(ctx, time.Duration(attempt+1)*50*time.Millisecond); sleepErr != nil {
			return sleepErr
		}
	}
	return err
}

func (s *MatchService) storedScoreboard(ctx context.Context, matchID string) ([]models.ScoreboardEntry, *string, error) {
	m, err := s.store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, nil, err
	}
	participants, err := s.store.ListParticipants(ctx, matchID)
	if err != nil {
		return nil, nil, err
	}
	sortByStoredRank(participants)
	return Scoreboard(participants), m.WinnerID, nil
}

func (s *MatchService) missingRoomError(ctx context.Context, matchID string) error {
	m, err := s.store.GetMatch(ctx, matchID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrMatchNotFound
	}
	if err != nil {
		return external("get match", err)
	}
	if m.Status == models.MatchStatusCompleted {
		return ErrMatchAlreadyConcluded
	}
	if m.ScoringError != nil && m.ScoredAt == nil {
		// 종료 상태 저장에 실패해 재처리를 기다리는 경기
		return ErrMatchAlreadyConcluded
	}
	// 저장소에는 있지만 이 프로세스가 소유하지 않은 경기
	return ErrMatchNotFound
}

// HandleDisconnect waiting 중이면 로스터에서 제거, in_progress면 참가자로 남긴다
func (s *MatchService) HandleDisconnect(playerID string) {
	s.mu.Lock()
	matchID, ok := s.playerMatch[playerID]
	room := s.rooms[matchID]
	s.mu.Unlock()
	if !ok || room == nil {
		return
	}

	ctx := context.Background()
	room.mu.Lock()
	defer room.mu.Unlock()

	switch room.match.Status {
	case models.MatchStatusWaiting:
		for i, p := range room.participants {
			if p.PlayerID != playerID {
				continue
			}
			room.participants = append(room.participants[:i:i], room.participants[i+1:]...)
			break
		}
		delete(room.acknowledged, playerID)
		if err := s.store.RemoveParticipant(ctx, matchID, playerID); err != nil {
			s.logger.Error("Failed to remove lobby participant",
				zap.String("matchId", matchID),
				zap.String("playerId", playerID),
				zap.Error(err))
		}
		s.release(matchID, playerID)
		s.logger.Info("Player left lobby",
			zap.String("matchId", matchID),
			zap.String("playerId", playerID))

		if s.allAcknowledged(room) && len(room.participants) >= s.minPlayers(room.match.Category) {
			if err := s.startLocked(ctx, room); err != nil {
				s.logger.Error("Failed to start match", zap.String("matchId", matchID), zap.Error(err))
			}
		}

	case models.MatchStatusInProgress:
		if p := room.participant(playerID); p != nil {
			p.Connected = false
		}
	}
}

// HandleReconnect 진행 중인 경기 참가자가 다시 접속하면 경기 정보, 스코어보드, 남은 시간을 다시 보낸다
func (s *MatchService) HandleReconnect(playerID string) {
	s.mu.Lock()
	room := s.rooms[s.playerMatch[playerID]]
	s.mu.Unlock()
	if room == nil {
		return
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	p := room.participant(playerID)
	if p == nil || room.match.Status != models.MatchStatusInProgress {
		return
	}
	p.Connected = true

	now := s.now()
	left := room.match.EndTime.Sub(now)
	if left < 0 {
		left = 0
	}
	s.hub.SendToUser(playerID, websocket.EventMatchStarted, room.startedPayload())
	s.hub.SendToUser(playerID, websocket.EventScoreboardUpdate, websocket.ScoreboardUpdatePayload{
		MatchID:    room.match.ID,
		Scoreboard: Scoreboard(RankParticipants(room.snapshot())),
	})
	s.hub.SendToUser(playerID, websocket.EventTimeSync, websocket.TimeSyncPayload{
		MatchID:    room.match.ID,
		TimeLeftMs: left.Milliseconds(),
		ServerTime: now,
	})
	s.logger.Info("Player reconnected to match",
		zap.String("matchId", room.match.ID),
		zap.String("playerId", playerID))
}

// ActiveMatchesFor 플레이어가 참가 중인 완료되지 않은 경기
func (s *MatchService) ActiveMatchesFor(playerID string) []models.Match {
	s.mu.Lock()
	room := s.rooms[s.playerMatch[playerID]]
	s.mu.Unlock()
	if room == nil {
		return []models.Match{}
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	if room.match.Status == models.MatchStatusCompleted {
		return []models.Match{}
	}
	return []models.Match{*room.match}
}

// Get 경기 스냅샷. 이 프로세스가 소유한 경기가 아니면 저장소에서 읽는다.
func (s *MatchService) Get(ctx context.Context, matchID string) (*MatchView, error) {
	if room := s.room(matchID); room != nil {
		room.mu.Lock()
		defer room.mu.Unlock()

		participants := room.snapshot()
		return &MatchView{
			Match:        *room.match,
			Participants: participants,
			Scoreboard:   Scoreboard(RankParticipants(room.snapshot())),
		}, nil
	}

	m, err := s.store.GetMatch(ctx, matchID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrMatchNotFound
	}
	if err != nil {
		return nil, external("get match", err)
	}
	participants, err := s.store.ListParticipants(ctx, matchID)
	if err != nil {
		return nil, external("list participants", err)
	}

	view := &MatchView{Match: *m, Participants: participants}
	if m.ScoredAt != nil {
		// 채점된 경기는 저장된 순위를 그대로 쓴다
		ranked := make([]*models.Participant, len(participants))
		copy(ranked, participants)
		sortByStoredRank(ranked)
		view.Scoreboard = Scoreboard(ranked)
	} else {
		clones := make([]*models.Participant, len(participants))
		for i, p := range participants {
			clones[i] = p.Clone()
		}
		view.Scoreboard = Scoreboard(RankParticipants(clones))
	}
	return view, nil
}

// Scoreboard 현재 (또는 최종) 스코어보드
func (s *MatchService) Scoreboard(ctx context.Context, matchID string) ([]models.ScoreboardEntry, error) {
	view, err := s.Get(ctx, matchID)
	if err != nil {
		return nil, err
	}
	return view.Scoreboard, nil
}

// Stop 모든 타이머와 시계 goroutine 정리
func (s *MatchService) Stop() {
	s.mu.Lock()
	rooms := make([]*matchRoom, 0, len(s.rooms))
	for _, r := range s.rooms {
		rooms = append(rooms, r)
	}
	s.mu.Unlock()

	for _, r := range rooms {
		r.mu.Lock()
		if r.lobbyTimer != nil {
			r.lobbyTimer.Stop()
		}
		if r.stopClock != nil {
			r.stopClock()
		}
		r.mu.Unlock()
	}
	s.wg.Wait()
	s.logger.Info("MatchService stopped", zap.Int("openMatches", len(rooms)))
}

// ---- submission hooks ----

// SubmissionTicket 제출 하나가 경기 안에서 차지하는 자리
// 결과 발행이 끝나면 반드시 CompleteSubmission 또는 AbortSubmission 으로 돌려줘야 한다.
type SubmissionTicket struct {
	MatchID       string
	PlayerID      string
	Problem       *models.Problem
	Difficulty    models.Difficulty
	StartTime     time.Time
	MatchDuration time.Duration
	SubmittedAt   time.Time
	// Attempt 이 경기에서 이 플레이어의 몇 번째 제출인지
	Attempt int

	room *matchRoom
	prev chan struct{}
	done chan struct{}
	once sync.Once
}

// BeginSubmission 진행 중인 경기의 참가자인지 확인하고 제출 자리를 잡는다
func (s *MatchService) BeginSubmission(ctx context.Context, matchID, playerID string) (*SubmissionTicket, error) {
	room := s.room(matchID)
	if room == nil {
		err := s.missingRoomError(ctx, matchID)
		if errors.Is(err, ErrMatchAlreadyConcluded) {
			return nil, ErrMatchNotInProgress
		}
		return nil, err
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.match.Status != models.MatchStatusInProgress {
		return nil, ErrMatchNotInProgress
	}
	p := room.participant(playerID)
	if p == nil {
		return nil, ErrNotParticipant
	}

	now := s.now()
	p.SubmissionCount++
	p.LastSubmissionAt = &now

	done := make(chan struct{})
	ticket := &SubmissionTicket{
		MatchID:       matchID,
		PlayerID:      playerID,
		Problem:       room.problem,
		Difficulty:    room.match.Difficulty,
		StartTime:     *room.match.StartTime,
		MatchDuration: room.match.Duration(),
		SubmittedAt:   now,
		Attempt:       p.SubmissionCount,
		room:          room,
		prev:          room.tails[playerID],
		done:          done,
	}
	room.tails[playerID] = done
	room.inflight.Add(1)
	return ticket, nil
}

// WaitTurn 같은 플레이어의 이전 제출 결과가 발행될 때까지 대기
func (t *SubmissionTicket) WaitTurn(ctx context.Context) error {
	if t.prev == nil {
		return nil
	}
	select {
	case <-t.prev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *SubmissionTicket) finish() {
	t.once.Do(func() {
		close(t.done)
		t.room.inflight.Done()
	})
}

// AbortSubmission 제출 레코드를 만들지 못한 경우 자리 반환
func (s *MatchService) AbortSubmission(t *SubmissionTicket) {
	t.finish()
}

// CompleteSubmission 최종 판정된 제출을 참가자 점수에 반영하고 결과와 스코어보드를 발행
// 점수는 accepted 제출의 최고점만 남는다. 부분 점수는 제출 기록에만 남는다.
func (s *MatchService) CompleteSubmission(ctx context.Context, t *SubmissionTicket, sub *models.Submission, result websocket.SubmissionResultPayload) {
	defer t.finish()
	room := t.room

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.settled {
		// 종료 대기 시간을 넘겨 끝난 제출. 결과만 알려준다.
		s.logger.Warn("Submission finished after match scoring",
			zap.String("matchId", t.MatchID),
			zap.String("submissionId", sub.ID))
		s.hub.SendToUser(t.PlayerID, websocket.EventSubmissionResult, result)
		return
	}

	p := room.participant(t.PlayerID)
	if p != nil && sub.Status == models.SubmissionStatusAccepted && sub.Score > p.Score {
		p.Score = sub.Score
	}
	if p != nil {
		if err := s.store.UpdateParticipantProgress(ctx, p); err != nil {
			s.logger.Error("Failed to save participant progress",
				zap.String("matchId", t.MatchID),
				zap.String("playerId", t.PlayerID),
				zap.Error(err))
		}
	}

	s.hub.SendToUser(t.PlayerID, websocket.EventSubmissionResult, result)
	room.broadcast(s.hub, websocket.EventScoreboardUpdate, websocket.ScoreboardUpdatePayload{
		MatchID:    t.MatchID,
		Scoreboard: Scoreboard(RankParticipants(room.snapshot())),
	})
}

func waitTimeout(wg *sync.WaitGroup, d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	if d <= 0 {
		<-done
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-done:
		return true
	case <-t.C:
		return false
	}
}

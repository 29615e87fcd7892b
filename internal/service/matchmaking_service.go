package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rl-arena/code-arena-backend/internal/models"
	"github.com/rl-arena/code-arena-backend/internal/repository"
	"github.com/rl-arena/code-arena-backend/internal/websocket"
	"github.com/rl-arena/code-arena-backend/pkg/metrics"
	"go.uber.org/zap"
)

// MatchmakingService 대기열 접수와 주기적 매칭
type MatchmakingService struct {
	queue    *QueueStore
	matcher  *Matcher
	matches  *MatchService
	catalog  repository.CatalogStore
	hub      Broadcaster
	metrics  *metrics.Metrics
	logger   *zap.Logger
	interval time.Duration
	now      func() time.Time

	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
	mu       sync.Mutex
}

func NewMatchmakingService(
	queue *QueueStore,
	matcher *Matcher,
	matches *MatchService,
	catalog repository.CatalogStore,
	hub Broadcaster,
	m *metrics.Metrics,
	logger *zap.Logger,
	interval time.Duration,
) *MatchmakingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &MatchmakingService{
		queue:    queue,
		matcher:  matcher,
		matches:  matches,
		catalog:  catalog,
		hub:      hub,
		metrics:  m,
		logger:   logger,
		interval: interval,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
}

// Join 대기열 등록. 진행 중인 경기에 참가 중이면 거절한다.
func (s *MatchmakingService) Join(ctx context.Context, playerID string, category models.Category, prefs models.QueuePreferences) (models.QueuePosition, error) {
	if !category.Valid() {
		return models.QueuePosition{}, ErrInvalidCategory
	}
	if prefs.Difficulty == "" {
		prefs.Difficulty = models.DifficultyMedium
	}
	if !prefs.Difficulty.Valid() {
		return models.QueuePosition{}, ErrInvalidPreferences
	}
	if s.matches.IsInActiveMatch(playerID) {
		return models.QueuePosition{}, ErrAlreadyInMatch
	}
	if s.queue.IsQueued(playerID) {
		return models.QueuePosition{}, ErrAlreadyQueued
	}

	rating, err := s.catalog.GetRating(ctx, playerID)
	if err != nil {
		return models.QueuePosition{}, external("get rating", err)
	}

	// 레이팅을 읽는 동안 상태가 바뀌었을 수 있으므로 경기 확인과 등록은 한 번에
	var pos models.QueuePosition
	err = s.matches.AdmitToQueue(playerID, func() error {
		var joinErr error
		pos, joinErr = s.queue.Join(&models.QueueEntry{
			PlayerID:       playerID,
			RatingSnapshot: rating.Rating,
			Category:       category,
			Preferences:    prefs,
			JoinedAt:       s.now(),
			ChannelRef:     playerID,
		})
		return joinErr
	})
	if err != nil {
		return models.QueuePosition{}, err
	}
	s.metrics.SetQueueSize(string(category), pos.QueueSize)

	s.logger.Info("Player queued",
		zap.String("playerId", playerID),
		zap.String("category", string(category)),
		zap.String("difficulty", string(prefs.Difficulty)),
		zap.Int("rating", rating.Rating),
		zap.Int("position", pos.Position))

	s.hub.SendToUser(playerID, websocket.EventQueueJoined, websocket.QueueJoinedPayload{
		Category:  category,
		Position:  pos.Position,
		QueueSize: pos.QueueSize,
	})
	return pos, nil
}

// Leave 대기열에서 제거. 대기 중이 아니어도 에러가 아니다.
func (s *MatchmakingService) Leave(playerID string) bool {
	status := s.queue.Status(playerID)
	removed := s.queue.Leave(playerID)
	if removed {
		s.metrics.SetQueueSize(string(status.Category), s.queue.Size(status.Category))
		s.logger.Info("Player left queue", zap.String("playerId", playerID))
	}
	s.hub.SendToUser(playerID, websocket.EventQueueLeft, websocket.QueueLeftPayload{Removed: removed})
	return removed
}

// IsQueued 어느 카테고리든 대기 중인지
func (s *MatchmakingService) IsQueued(playerID string) bool {
	return s.queue.IsQueued(playerID)
}

func (s *MatchmakingService) Status(playerID string) models.QueueStatus {
	return s.queue.Status(playerID)
}

func (s *MatchmakingService) Stats() []models.CategoryQueueStats {
	return s.queue.Stats()
}

// Requeue 취소된 로비의 플레이어를 원래 대기 시각으로 복귀
func (s *MatchmakingService) Requeue(entries []*models.QueueEntry) {
	byCategory := make(map[models.Category][]*models.QueueEntry)
	for _, e := range entries {
		byCategory[e.Category] = append(byCategory[e.Category], e)
	}
	for category, group := range byCategory {
		s.queue.Restore(category, group)
		s.metrics.SetQueueSize(string(category), s.queue.Size(category))
	}
	s.logger.Info("Players requeued", zap.Int("count", len(entries)))
}

// HandleDisconnect 연결이 끊긴 플레이어는 대기열에서 빠진다
func (s *MatchmakingService) HandleDisconnect(playerID string) {
	if s.queue.Leave(playerID) {
		s.logger.Info("Disconnected player removed from queue", zap.String("playerId", playerID))
	}
}

// Start 매칭 시스템 시작
func (s *MatchmakingService) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info("Starting MatchmakingService", zap.Duration("interval", s.interval))

	s.wg.Add(1)
	go s.matchmakingLoop()
}

// Stop 매칭 시스템 중지
func (s *MatchmakingService) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("Stopping MatchmakingService")
	close(s.stopChan)
	s.wg.Wait()
	s.logger.Info("MatchmakingService stopped")
}

// matchmakingLoop 주기적 매칭 실행
func (s *MatchmakingService) matchmakingLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.RunOnce(context.Background())
		case <-s.stopChan:
			return
		}
	}
}

// RunOnce 모든 카테고리에 대해 한 번 매칭하고 대기 중인 플레이어에게 queue:stats 전송
func (s *MatchmakingService) RunOnce(ctx context.Context) int {
	created := 0
	for _, category := range models.AllCategories {
		created += s.matchCategory(ctx, category)
	}
	s.broadcastStats()
	return created
}

func (s *MatchmakingService) matchCategory(ctx context.Context, category models.Category) int {
	size := s.matcher.GroupSize(category)
	snapshot := s.queue.Snapshot(category)
	if len(snapshot) < size {
		return 0
	}

	created := 0
	for _, group := range s.matcher.FindGroups(snapshot, size, s.now()) {
		taken, ok := s.queue.Take(category, group.PlayerIDs())
		if !ok {
			// 스냅샷 이후 누군가 대기열을 떠났다
			continue
		}
		group.Entries = taken

		if _, err := s.matches.CreateMatch(ctx, category, group); err != nil {
			s.logger.Warn("Failed to create match, restoring queue entries",
				zap.String("category", string(category)),
				zap.Strings("players", group.PlayerIDs()),
				zap.Error(err))
			s.queue.Restore(category, withoutConflict(taken, err))
			continue
		}
		created++
	}

	s.metrics.SetQueueSize(string(category), s.queue.Size(category))
	if created > 0 {
		s.logger.Info("Matchmaking completed",
			zap.String("category", string(category)),
			zap.Int("matches", created),
			zap.Int("stillWaiting", s.queue.Size(category)))
	}
	return created
}

func (s *MatchmakingService) broadcastStats() {
	players := s.queue.QueuedPlayers()
	if len(players) == 0 {
		return
	}
	payload := websocket.QueueStatsPayload{
		Categories: s.queue.Stats(),
		ServerTime: s.now(),
	}
	s.hub.SendToUsers(players, websocket.EventQueueStats, payload)
}

// withoutConflict 이미 다른 경기에 있는 플레이어는 대기열로 돌려보내지 않는다
func withoutConflict(entries []*models.QueueEntry, err error) []*models.QueueEntry {
	var conflict *PlayerConflictError
	if !errors.As(err, &conflict) {
		return entries
	}
	kept := make([]*models.QueueEntry, 0, len(entries))
	for _, e := range entries {
		if e.PlayerID != conflict.PlayerID {
			kept = append(kept, e)
		}
	}
	return kept
}

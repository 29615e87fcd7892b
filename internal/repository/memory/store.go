// Package memory implements the repository contracts in process memory.
// It backs local development without PostgreSQL and the service tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rl-arena/code-arena-backend/internal/models"
	"github.com/rl-arena/code-arena-backend/internal/repository"
)

type Store struct {
	mu sync.Mutex
	// scoringMu 채점 트랜잭션 직렬화 (SELECT ... FOR UPDATE 대응)
	scoringMu sync.Mutex

	ratings      map[string]*models.RatingRecord
	stats        map[string]*models.PlayerStats
	problems     map[string]*models.Problem
	problemOrder []string
	pickCursor   map[models.Difficulty]int
	season       *models.Season
	seasonPoints map[string]map[string]int

	matches      map[string]*models.Match
	participants map[string][]*models.Participant
	submissions  map[string]*models.Submission
	matchSubs    map[string][]string
	achievements map[string]map[models.AchievementCode]*models.Achievement

	faults        map[string]faultPlan
	scoringCommit int
}

type faultPlan struct {
	remaining int
	err       error
}

func New() *Store {
	return &Store{
		ratings:      make(map[string]*models.RatingRecord),
		stats:        make(map[string]*models.PlayerStats),
		problems:     make(map[string]*models.Problem),
		pickCursor:   make(map[models.Difficulty]int),
		seasonPoints: make(map[string]map[string]int),
		matches:      make(map[string]*models.Match),
		participants: make(map[string][]*models.Participant),
		submissions:  make(map[string]*models.Submission),
		matchSubs:    make(map[string][]string),
		achievements: make(map[string]map[models.AchievementCode]*models.Achievement),
		faults:       make(map[string]faultPlan),
	}
}

var _ repository.Store = (*Store)(nil)

// ---- seeding / inspection ----

func (s *Store) PutPlayer(rec models.RatingRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := rec
	s.ratings[rec.PlayerID] = &r
}

func (s *Store) PutStats(st models.PlayerStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := st
	s.stats[st.PlayerID] = &c
}

func (s *Store) PutProblem(p models.Problem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.problems[p.ID]; !ok {
		s.problemOrder = append(s.problemOrder, p.ID)
	}
	c := p
	s.problems[p.ID] = &c
}

func (s *Store) PutSeason(season models.Season) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := season
	s.season = &c
}

// UpsertProblem seed.Catalog 구현
func (s *Store) UpsertProblem(ctx context.Context, p models.Problem) error {
	s.PutProblem(p)
	return nil
}

// ActivateSeason seed.Catalog 구현
func (s *Store) ActivateSeason(ctx context.Context, season models.Season) error {
	season.Active = true
	s.PutSeason(season)
	return nil
}

func (s *Store) PutAchievement(a models.Achievement) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := a
	if s.achievements[a.PlayerID] == nil {
		s.achievements[a.PlayerID] = make(map[models.AchievementCode]*models.Achievement)
	}
	s.achievements[a.PlayerID][a.Code] = &c
}

// FailNext 다음 times번의 step 호출이 err로 실패하게 한다
func (s *Store) FailNext(step string, times int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[step] = faultPlan{remaining: times, err: err}
}

// fault s.mu를 잡은 상태에서 호출
func (s *Store) fault(step string) error {
	plan, ok := s.faults[step]
	if !ok || plan.remaining == 0 {
		return nil
	}
	plan.remaining--
	s.faults[step] = plan
	return fmt.Errorf("%s: %w", step, plan.err)
}

func (s *Store) Rating(playerID string) models.RatingRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.ratings[playerID]; ok {
		return *r
	}
	return models.RatingRecord{PlayerID: playerID, Rating: models.DefaultRating}
}

func (s *Store) Stats(playerID string) models.PlayerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.stats[playerID]; ok {
		return *st
	}
	return models.PlayerStats{PlayerID: playerID}
}

func (s *Store) SeasonPoints(seasonID, playerID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seasonPoints[seasonID][playerID]
}

func (s *Store) Achievements(playerID string) []models.AchievementCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	codes := make([]models.AchievementCode, 0, len(s.achievements[playerID]))
	for code := range s.achievements[playerID] {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	return codes
}

// ScoringCommits 커밋된 채점 트랜잭션 수
func (s *Store) ScoringCommits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scoringCommit
}

// ---- MatchStore ----

func (s *Store) CreateMatch(ctx context.Context, match *models.Match, participants []*models.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fault("CreateMatch"); err != nil {
		return err
	}
	if _, exists := s.matches[match.ID]; exists {
		return fmt.Errorf("match %s already exists", match.ID)
	}

	m := *match
	s.matches[match.ID] = &m
	list := make([]*models.Participant, 0, len(participants))
	for _, p := range participants {
		list = append(list, p.Clone())
	}
	s.participants[match.ID] = list
	return nil
}

func (s *Store) UpdateMatchState(ctx context.Context, match *models.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fault("UpdateMatchState"); err != nil {
		return err
	}
	current, ok := s.matches[match.ID]
	if !ok {
		return fmt.Errorf("match %s: %w", match.ID, repository.ErrNotFound)
	}
	if current.Status != match.Status && !current.Status.CanTransitionTo(match.Status) {
		return fmt.Errorf("match %s: %w", match.ID, repository.ErrNotFound)
	}

	current.Status = match.Status
	current.StartTime = match.StartTime
	current.EndTime = match.EndTime
	current.DurationSeconds = match.DurationSeconds
	current.ConcludedReason = match.ConcludedReason
	current.CompletedAt = match.CompletedAt
	return nil
}

func (s *Store) AddParticipant(ctx context.Context, p *models.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.matches[p.MatchID]; !ok {
		return fmt.Errorf("match %s: %w", p.MatchID, repository.ErrNotFound)
	}
	s.participants[p.MatchID] = append(s.participants[p.MatchID], p.Clone())
	return nil
}

func (s *Store) RemoveParticipant(ctx context.Context, matchID, playerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.participants[matchID]
	for i, p := range list {
		if p.PlayerID == playerID {
			s.participants[matchID] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	return nil
}

func (s *Store) UpdateParticipantProgress(ctx context.Context, p *models.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fault("UpdateParticipantProgress"); err != nil {
		return err
	}
	for _, cur := range s.participants[p.MatchID] {
		if cur.PlayerID != p.PlayerID {
			continue
		}
		if p.Score > cur.Score {
			cur.Score = p.Score
		}
		if p.SubmissionCount > cur.SubmissionCount {
			cur.SubmissionCount = p.SubmissionCount
		}
		if p.LastSubmissionAt != nil {
			t := *p.LastSubmissionAt
			cur.LastSubmissionAt = &t
		}
		return nil
	}
	return fmt.Errorf("participant %s/%s: %w", p.MatchID, p.PlayerID, repository.ErrNotFound)
}

func (s *Store) GetMatch(ctx context.Context, matchID string) (*models.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.matches[matchID]
	if !ok {
		return nil, fmt.Errorf("match %s: %w", matchID, repository.ErrNotFound)
	}
	c := *m
	return &c, nil
}

func (s *Store) ListParticipants(ctx context.Context, matchID string) ([]*models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := make([]*models.Participant, 0, len(s.participants[matchID]))
	for _, p := range s.participants[matchID] {
		list = append(list, p.Clone())
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].JoinOrder < list[j].JoinOrder })
	return list, nil
}

func (s *Store) MarkScoringFailed(ctx context.Context, matchID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.matches[matchID]
	if !ok {
		return fmt.Errorf("match %s: %w", matchID, repository.ErrNotFound)
	}
	if m.ScoredAt == nil {
		r := reason
		m.ScoringError = &r
	}
	return nil
}

// ---- SubmissionStore ----

func (s *Store) CreateSubmission(ctx context.Context, sub *models.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fault("CreateSubmission"); err != nil {
		return err
	}
	c := *sub
	s.submissions[sub.ID] = &c
	if sub.MatchID != nil {
		s.matchSubs[*sub.MatchID] = append(s.matchSubs[*sub.MatchID], sub.ID)
	}
	return nil
}

func (s *Store) MarkRunning(ctx context.Context, submissionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.submissions[submissionID]
	if !ok {
		return false, fmt.Errorf("submission %s: %w", submissionID, repository.ErrNotFound)
	}
	if sub.Status != models.SubmissionStatusPending {
		return false, nil
	}
	sub.Status = models.SubmissionStatusRunning
	return true, nil
}

func (s *Store) FinalizeSubmission(ctx context.Context, sub *models.Submission) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fault("FinalizeSubmission"); err != nil {
		return false, err
	}
	cur, ok := s.submissions[sub.ID]
	if !ok {
		return false, fmt.Errorf("submission %s: %w", sub.ID, repository.ErrNotFound)
	}
	if !cur.Status.CanTransitionTo(sub.Status) || !sub.Status.IsTerminal() {
		return false, nil
	}
	c := *sub
	s.submissions[sub.ID] = &c
	return true, nil
}

func (s *Store) GetSubmission(ctx context.Context, submissionID string) (*models.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.submissions[submissionID]
	if !ok {
		return nil, fmt.Errorf("submission %s: %w", submissionID, repository.ErrNotFound)
	}
	c := *sub
	return &c, nil
}

func (s *Store) ListMatchSubmissions(ctx context.Context, matchID string) ([]*models.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.Submission, 0, len(s.matchSubs[matchID]))
	for _, id := range s.matchSubs[matchID] {
		c := *s.submissions[id]
		out = append(out, &c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out, nil
}

// ---- CatalogStore ----

func (s *Store) GetRating(ctx context.Context, playerID string) (*models.RatingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fault("GetRating"); err != nil {
		return nil, err
	}
	if r, ok := s.ratings[playerID]; ok {
		c := *r
		return &c, nil
	}
	return &models.RatingRecord{PlayerID: playerID, Rating: models.DefaultRating}, nil
}

// PickProblem 같은 난이도 문제를 등록 순서대로 돌아가며 고른다
func (s *Store) PickProblem(ctx context.Context, difficulty models.Difficulty) (*models.Problem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fault("PickProblem"); err != nil {
		return nil, err
	}
	var candidates []*models.Problem
	for _, id := range s.problemOrder {
		if p := s.problems[id]; p.Difficulty == difficulty && len(p.TestCases) > 0 {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%s: %w", difficulty, repository.ErrNoProblemAvailable)
	}

	p := candidates[s.pickCursor[difficulty]%len(candidates)]
	s.pickCursor[difficulty]++
	c := *p
	return &c, nil
}

func (s *Store) GetProblem(ctx context.Context, problemID string) (*models.Problem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.problems[problemID]
	if !ok {
		return nil, fmt.Errorf("problem %s: %w", problemID, repository.ErrNotFound)
	}
	c := *p
	return &c, nil
}

func (s *Store) ActiveSeason(ctx context.Context) (*models.Season, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.season == nil || !s.season.Active {
		return nil, nil
	}
	c := *s.season
	return &c, nil
}

// ---- scoring unit of work ----

// RunScoring 변경 사항을 tx에 모았다가 fn이 성공했을 때만 한 번에 반영
func (s *Store) RunScoring(ctx context.Context, fn func(tx repository.ScoringTx) error) error {
	s.scoringMu.Lock()
	defer s.scoringMu.Unlock()

	tx := &scoringTx{
		s:       s,
		ratings: make(map[string]*models.RatingRecord),
		stats:   make(map[string]*models.PlayerStats),
	}
	if err := fn(tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("Commit"); err != nil {
		return err
	}
	tx.apply()
	s.scoringCommit++
	return nil
}

type seasonPoint struct {
	seasonID string
	playerID string
	points   int
}

type scoredMark struct {
	matchID  string
	winnerID *string
	at       time.Time
}

type scoringTx struct {
	s            *Store
	ratings      map[string]*models.RatingRecord
	stats        map[string]*models.PlayerStats
	results      []*models.Participant
	seasonPoints []seasonPoint
	achievements []*models.Achievement
	scored       *scoredMark
}

func (t *scoringTx) step(name string) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.s.fault(name)
}

func (t *scoringTx) LockMatch(ctx context.Context, matchID string) (*models.Match, error) {
	if err := t.step("LockMatch"); err != nil {
		return nil, err
	}
	return t.s.GetMatch(ctx, matchID)
}

func (t *scoringTx) LoadRatings(ctx context.Context, playerIDs []string) (map[string]*models.RatingRecord, error) {
	if err := t.step("LoadRatings"); err != nil {
		return nil, err
	}
	out := make(map[string]*models.RatingRecord, len(playerIDs))
	for _, id := range playerIDs {
		r := t.s.Rating(id)
		out[id] = &r
	}
	return out, nil
}

func (t *scoringTx) LoadStats(ctx context.Context, playerIDs []string) (map[string]*models.PlayerStats, error) {
	if err := t.step("LoadStats"); err != nil {
		return nil, err
	}
	out := make(map[string]*models.PlayerStats, len(playerIDs))
	for _, id := range playerIDs {
		st := t.s.Stats(id)
		out[id] = &st
	}
	return out, nil
}

func (t *scoringTx) LoadAchievements(ctx context.Context, playerIDs []string) (map[string]map[models.AchievementCode]bool, error) {
	if err := t.step("LoadAchievements"); err != nil {
		return nil, err
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	out := make(map[string]map[models.AchievementCode]bool, len(playerIDs))
	for _, id := range playerIDs {
		owned := make(map[models.AchievementCode]bool)
		for code := range t.s.achievements[id] {
			owned[code] = true
		}
		out[id] = owned
	}
	return out, nil
}

func (t *scoringTx) SaveParticipantResults(ctx context.Context, participants []*models.Participant) error {
	if err := t.step("SaveParticipantResults"); err != nil {
		return err
	}
	for _, p := range participants {
		t.results = append(t.results, p.Clone())
	}
	return nil
}

func (t *scoringTx) SaveRatings(ctx context.Context, ratings []*models.RatingRecord) error {
	if err := t.step("SaveRatings"); err != nil {
		return err
	}
	for _, r := range ratings {
		c := *r
		t.ratings[r.PlayerID] = &c
	}
	return nil
}

func (t *scoringTx) SaveStats(ctx context.Context, stats []*models.PlayerStats) error {
	if err := t.step("SaveStats"); err != nil {
		return err
	}
	for _, st := range stats {
		c := *st
		t.stats[st.PlayerID] = &c
	}
	return nil
}

func (t *scoringTx) AddSeasonPoints(ctx context.Context, seasonID, playerID string, points int) error {
	if err := t.step("AddSeasonPoints"); err != nil {
		return err
	}
	t.seasonPoints = append(t.seasonPoints, seasonPoint{seasonID: seasonID, playerID: playerID, points: points})
	return nil
}

func (t *scoringTx) GrantAchievements(ctx context.Context, achievements []*models.Achievement) ([]*models.Achievement, error) {
	if err := t.step("GrantAchievements"); err != nil {
		return nil, err
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	granted := make([]*models.Achievement, 0, len(achievements))
	for _, a := range achievements {
		if _, owned := t.s.achievements[a.PlayerID][a.Code]; owned {
			continue
		}
		dup := false
		for _, staged := range t.achievements {
			if staged.PlayerID == a.PlayerID && staged.Code == a.Code {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		c := *a
		t.achievements = append(t.achievements, &c)
		granted = append(granted, a)
	}
	return granted, nil
}

func (t *scoringTx) MarkScored(ctx context.Context, matchID string, winnerID *string, at time.Time) error {
	if err := t.step("MarkScored"); err != nil {
		return err
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	m, ok := t.s.matches[matchID]
	if !ok {
		return fmt.Errorf("match %s: %w", matchID, repository.ErrNotFound)
	}
	if m.ScoredAt != nil || t.scored != nil {
		return repository.ErrAlreadyScored
	}
	t.scored = &scoredMark{matchID: matchID, winnerID: winnerID, at: at}
	return nil
}

// apply s.mu를 잡은 상태에서 호출
func (t *scoringTx) apply() {
	s := t.s
	for id, r := range t.ratings {
		s.ratings[id] = r
	}
	for id, st := range t.stats {
		s.stats[id] = st
	}
	for _, res := range t.results {
		for _, cur := range s.participants[res.MatchID] {
			if cur.PlayerID == res.PlayerID {
				cur.Score = res.Score
				cur.Rank = res.Rank
				cur.RatingChange = res.RatingChange
			}
		}
	}
	for _, sp := range t.seasonPoints {
		if s.seasonPoints[sp.seasonID] == nil {
			s.seasonPoints[sp.seasonID] = make(map[string]int)
		}
		s.seasonPoints[sp.seasonID][sp.playerID] += sp.points
	}
	for _, a := range t.achievements {
		if s.achievements[a.PlayerID] == nil {
			s.achievements[a.PlayerID] = make(map[models.AchievementCode]*models.Achievement)
		}
		s.achievements[a.PlayerID][a.Code] = a
	}
	if t.scored != nil {
		if m, ok := s.matches[t.scored.matchID]; ok {
			at := t.scored.at
			m.ScoredAt = &at
			m.WinnerID = t.scored.winnerID
			m.ScoringError = nil
		}
	}
}

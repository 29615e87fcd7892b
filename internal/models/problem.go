package models

type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}

// Level easy=0, medium=1, hard=2
func (d Difficulty) Level() int {
	switch d {
	case DifficultyMedium:
		return 1
	case DifficultyHard:
		return 2
	}
	return 0
}

func DifficultyFromLevel(level int) Difficulty {
	switch level {
	case 1:
		return DifficultyMedium
	case 2:
		return DifficultyHard
	}
	return DifficultyEasy
}

type TestCase struct {
	Input          string `json:"input"`
	ExpectedOutput string `json:"expectedOutput"`
	Hidden         bool   `json:"hidden"`
}

type Problem struct {
	ID            string     `json:"id" db:"id"`
	Title         string     `json:"title" db:"title"`
	Description   string     `json:"description" db:"description"`
	Difficulty    Difficulty `json:"difficulty" db:"difficulty"`
	TimeLimitMs   int        `json:"timeLimitMs" db:"time_limit_ms"`
	MemoryLimitKb int        `json:"memoryLimitKb" db:"memory_limit_kb"`
	TestCases     []TestCase `json:"testCases" db:"test_cases"`
}

// SampleTests 참가자에게 공개되는 테스트
func (p *Problem) SampleTests() []TestCase {
	samples := make([]TestCase, 0, len(p.TestCases))
	for _, tc := range p.TestCases {
		if !tc.Hidden {
			samples = append(samples, tc)
		}
	}
	return samples
}

// ProblemView match:started에 실리는 공개용 문제 정보 (숨김 테스트 제외)
type ProblemView struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	Difficulty    Difficulty `json:"difficulty"`
	TimeLimitMs   int        `json:"timeLimitMs"`
	MemoryLimitKb int        `json:"memoryLimitKb"`
	SampleTests   []TestCase `json:"sampleTests"`
}

func (p *Problem) View() ProblemView {
	return ProblemView{
		ID:            p.ID,
		Title:         p.Title,
		Description:   p.Description,
		Difficulty:    p.Difficulty,
		TimeLimitMs:   p.TimeLimitMs,
		MemoryLimitKb: p.MemoryLimitKb,
		SampleTests:   p.SampleTests(),
	}
}

type Season struct {
	ID     string `json:"id" db:"id"`
	Name   string `json:"name" db:"name"`
	Active bool   `json:"active" db:"active"`
}

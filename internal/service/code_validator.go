package service

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxCodeBytes 제출 코드 최대 크기
const MaxCodeBytes = 64 * 1024

// languageRule 언어별 정적 검사 규칙
type languageRule struct {
	// lineComment 한 줄 주석 시작 토큰
	lineComment string
	// blockComments /* */ 형태 주석 사용 여부
	blockComments bool
	// backtickStrings `...` 문자열 사용 여부
	backtickStrings bool
	// entryPoint nil이면 진입점 검사를 하지 않는다
	entryPoint *regexp.Regexp
	entryName  string
}

var languageRules = map[string]languageRule{
	"python": {
		lineComment: "#",
	},
	"javascript": {
		lineComment:     "//",
		blockComments:   true,
		backtickStrings: true,
	},
	"java": {
		lineComment:   "//",
		blockComments: true,
		entryPoint:    regexp.MustCompile(`static\s+void\s+main\s*\(`),
		entryName:     "static void main",
	},
	"cpp": {
		lineComment:   "//",
		blockComments: true,
		entryPoint:    regexp.MustCompile(`\bmain\s*\(`),
		entryName:     "main()",
	},
	"go": {
		lineComment:     "//",
		blockComments:   true,
		backtickStrings: true,
		entryPoint:      regexp.MustCompile(`func\s+main\s*\(\s*\)`),
		entryName:       "func main()",
	},
}

// SupportedLanguages 제출 가능한 언어 목록
func SupportedLanguages() []string {
	return []string{"python", "javascript", "java", "cpp", "go"}
}

// CodeValidator 채점 전에 거르는 정적 검사기
type CodeValidator struct {
	maxBytes int
}

func NewCodeValidator() *CodeValidator {
	return &CodeValidator{maxBytes: MaxCodeBytes}
}

// Validate 비어 있거나, 너무 크거나, 지원하지 않는 언어이거나, 정적 검사에 실패하면 ErrInvalidCode
func (v *CodeValidator) Validate(code, language string) error {
	if strings.TrimSpace(code) == "" {
		return fmt.Errorf("%w: empty code", ErrInvalidCode)
	}
	if len(code) > v.maxBytes {
		return fmt.Errorf("%w: code exceeds %d bytes", ErrInvalidCode, v.maxBytes)
	}

	rule, ok := languageRules[strings.ToLower(language)]
	if !ok {
		return fmt.Errorf("%w: unsupported language %q", ErrInvalidCode, language)
	}

	stripped, err := checkBrackets(code, rule)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCode, err)
	}
	if rule.entryPoint != nil && !rule.entryPoint.MatchString(stripped) {
		return fmt.Errorf("%w: missing entry point %s", ErrInvalidCode, rule.entryName)
	}
	return nil
}

var closers = map[byte]byte{')': '(', ']': '[', '}': '{'}

// checkBrackets 문자열과 주석 밖의 괄호 짝을 검사하고, 문자열/주석을 지운 코드를 돌려준다
func checkBrackets(code string, rule languageRule) (string, error) {
	var (
		stack []byte
		out   strings.Builder
		line  = 1
	)
	out.Grow(len(code))

	for i := 0; i < len(code); i++ {
		c := code[i]

		if rule.lineComment != "" && strings.HasPrefix(code[i:], rule.lineComment) {
			for i < len(code) && code[i] != '\n' {
				i++
			}
			if i < len(code) {
				out.WriteByte('\n')
				line++
			}
			continue
		}
		if rule.blockComments && strings.HasPrefix(code[i:], "/*") {
			end := strings.Index(code[i+2:], "*/")
			if end < 0 {
				return "", fmt.Errorf("unterminated comment at line %d", line)
			}
			line += strings.Count(code[i:i+2+end], "\n")
			i += end + 3
			out.WriteByte(' ')
			continue
		}
		if c == '"' || c == '\'' || (c == '`' && rule.backtickStrings) {
			start := line
			j := i + 1
			for ; j < len(code); j++ {
				if code[j] == '\\' && c != '`' {
					j++
					continue
				}
				if code[j] == '\n' {
					line++
				}
				if code[j] == c {
					break
				}
			}
			if j >= len(code) {
				return "", fmt.Errorf("unterminated string at line %d", start)
			}
			i = j
			out.WriteString(`""`)
			continue
		}

		switch c {
		case '\n':
			line++
		case '(', '[', '{':
			stack = append(stack, c)
		case ')', ']', '}':
			if len(stack) == 0 || stack[len(stack)-1] != closers[c] {
				return "", fmt.Errorf("unbalanced %q at line %d", c, line)
			}
			stack = stack[:len(stack)-1]
		}
		out.WriteByte(c)
	}

	if len(stack) > 0 {
		return "", fmt.Errorf("unclosed %q", stack[len(stack)-1])
	}
	return out.String(), nil
}

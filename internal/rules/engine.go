// Package rules applies deterministic transcript substitutions loaded from a
// plain-text rules file.
package rules

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

const defaultLoopLimit = 30

type rule struct {
	re          *regexp.Regexp
	replacement string
}

// Engine rewrites transcripts with the loaded rules until a fixed point or
// the loop limit, whichever comes first.
type Engine struct {
	rules     []rule
	loopLimit int
}

// Load compiles the rules file at path. An empty path or a missing file
// yields an engine that passes text through unchanged.
func Load(path string, loopLimit int) (*Engine, error) {
	if loopLimit <= 0 {
		loopLimit = defaultLoopLimit
	}
	if strings.TrimSpace(path) == "" {
		return &Engine{loopLimit: loopLimit}, nil
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Engine{loopLimit: loopLimit}, nil
		}
		return nil, fmt.Errorf("rules: read %q: %w", path, err)
	}

	rules, err := parse(string(contents))
	if err != nil {
		return nil, fmt.Errorf("rules: parse %q: %w", path, err)
	}
	return &Engine{rules: rules, loopLimit: loopLimit}, nil
}

// Apply transforms text deterministically. It never fails once the engine is
// loaded; the error return satisfies ports.TextTransformer.
func (e *Engine) Apply(text string) (string, error) {
	result := text
	for i := 0; i < e.loopLimit; i++ {
		changed := false
		for _, r := range e.rules {
			next := r.re.ReplaceAllString(result, r.replacement)
			if next != result {
				result = next
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return result, nil
}

// parse accepts two line formats: "from => to" literal substitutions and
// "s/pattern/replacement/flags" regex substitutions. Blank lines and #
// comments are skipped.
func parse(contents string) ([]rule, error) {
	var rules []rule
	for index, raw := range strings.Split(contents, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var (
			r   rule
			err error
		)
		if strings.HasPrefix(line, "s/") {
			r, err = parseRegexRule(line)
		} else if strings.Contains(line, "=>") {
			r, err = parseLiteralRule(line)
		} else {
			err = errors.New("unsupported rule format")
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", index+1, err)
		}
		rules = append(rules, r)
	}
	return rules, nil
}

func parseLiteralRule(line string) (rule, error) {
	parts := strings.SplitN(line, "=>", 2)
	from := strings.TrimSpace(parts[0])
	to := strings.TrimSpace(parts[1])
	if from == "" {
		return rule{}, errors.New("literal rule source cannot be empty")
	}
	return rule{
		re:          regexp.MustCompile("(?i)" + regexp.QuoteMeta(from)),
		replacement: to,
	}, nil
}

func parseRegexRule(line string) (rule, error) {
	pattern, pos, err := parseDelimited(line, 2)
	if err != nil {
		return rule{}, fmt.Errorf("invalid pattern: %w", err)
	}
	replacement, pos, err := parseDelimited(line, pos)
	if err != nil {
		return rule{}, fmt.Errorf("invalid replacement: %w", err)
	}

	prefix := ""
	for _, flag := range strings.TrimSpace(line[pos:]) {
		switch flag {
		case 'i', 'm', 's':
			if !strings.ContainsRune(prefix, flag) {
				prefix += string(flag)
			}
		case 'g', ' ':
			// All substitutions are global; g is accepted for familiarity.
		default:
			return rule{}, fmt.Errorf("unsupported flag %q", flag)
		}
	}
	if prefix != "" {
		pattern = "(?" + prefix + ")" + pattern
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return rule{}, fmt.Errorf("invalid regex: %w", err)
	}
	return rule{re: re, replacement: replacement}, nil
}

func parseDelimited(line string, start int) (string, int, error) {
	var b strings.Builder
	escaped := false
	for i := start; i < len(line); i++ {
		ch := line[i]
		if escaped {
			// A backslash unescapes the delimiter; any other escape is kept
			// for the regex engine.
			if ch != '/' {
				b.WriteByte('\\')
			}
			b.WriteByte(ch)
			escaped = false
			continue
		}
		switch ch {
		case '\\':
			escaped = true
		case '/':
			return b.String(), i + 1, nil
		default:
			b.WriteByte(ch)
		}
	}
	return "", 0, errors.New("unterminated expression")
}

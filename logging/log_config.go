package logging

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// LoggerPatternConfig sets the level of every logger whose name matches Pattern. A pattern is a
// dotted logger name where any section may be "*", e.g. "rangemapper.sweep.*".
type LoggerPatternConfig struct {
	Pattern string `json:"pattern"`
	Level   string `json:"level"`
}

// Validate ensures the pattern is well formed and the level is known.
func (lpc LoggerPatternConfig) Validate() error {
	_, err := lpc.rule()
	return err
}

func (lpc LoggerPatternConfig) rule() (levelRule, error) {
	if !validatePattern(lpc.Pattern) {
		return levelRule{}, errors.Errorf("invalid logger pattern %q", lpc.Pattern)
	}
	level, err := LevelFromString(lpc.Level)
	if err != nil {
		return levelRule{}, err
	}
	pattern, err := compilePattern(lpc.Pattern)
	if err != nil {
		return levelRule{}, errors.Wrapf(err, "compiling logger pattern %q", lpc.Pattern)
	}
	return levelRule{pattern: pattern, level: level}, nil
}

const (
	// e.g. "foo".
	validLoggerSectionName = `[a-zA-Z0-9]+([_-]*[a-zA-Z0-9]+)*`
	// e.g. "foo" or "*".
	validLoggerSectionNameWithWildcard = `(` + validLoggerSectionName + `|\*)`
	// e.g. "foo.*.foo".
	validLoggerSectionsWithWildcard = validLoggerSectionNameWithWildcard + `(\.` + validLoggerSectionNameWithWildcard + `)*`
	validLoggerName                 = `^` + validLoggerSectionsWithWildcard + `$`
)

var loggerPatternRegexp = regexp.MustCompile(validLoggerName)

func validatePattern(pattern string) bool {
	return loggerPatternRegexp.MatchString(pattern)
}

// compilePattern turns a logger pattern into a regexp. "*" matches one or more sections.
func compilePattern(pattern string) (*regexp.Regexp, error) {
	var matcher strings.Builder
	matcher.WriteRune('^')
	for _, ch := range pattern {
		switch ch {
		case '*':
			matcher.WriteString(`.*`)
		case '.':
			matcher.WriteString(`\.`)
		default:
			matcher.WriteRune(ch)
		}
	}
	matcher.WriteRune('$')
	return regexp.Compile(matcher.String())
}

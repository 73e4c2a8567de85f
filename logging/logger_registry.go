package logging

import (
	"regexp"
	"sync"

	"github.com/pkg/errors"
)

type levelRule struct {
	pattern *regexp.Regexp
	level   Level
}

// Registry tracks a root logger and every sublogger made from it so their levels can be set by
// pattern. Loggers no pattern matches run at the base level, which only the root's SetLevel
// changes.
type Registry struct {
	mu        sync.Mutex
	root      *impl
	loggers   map[string]*impl
	rules     []levelRule
	baseLevel Level
}

func newRegistry(root *impl) *Registry {
	return &Registry{
		root:      root,
		loggers:   map[string]*impl{root.name: root},
		baseLevel: root.level.Get(),
	}
}

func (lr *Registry) registerLogger(logger *impl) {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	lr.loggers[logger.name] = logger
}

func (lr *Registry) loggerNamed(name string) (Logger, bool) {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	logger, ok := lr.loggers[name]
	return logger, ok
}

// levelFor returns the level the rules assign name. Later rules win. Must be called with mu
// held.
func (lr *Registry) levelFor(name string) Level {
	level := lr.baseLevel
	for _, rule := range lr.rules {
		if rule.pattern.MatchString(name) {
			level = rule.level
		}
	}
	return level
}

// apply sets every logger to its configured level. Must be called with mu held.
func (lr *Registry) apply() {
	for name, logger := range lr.loggers {
		logger.level.Set(lr.levelFor(name))
	}
}

// Update replaces the patterns and applies them to every registered logger. Invalid patterns
// are reported to errorLogger and skipped.
func (lr *Registry) Update(logConfig []LoggerPatternConfig, errorLogger Logger) {
	rules := make([]levelRule, 0, len(logConfig))
	for _, lpc := range logConfig {
		rule, err := lpc.rule()
		if err != nil {
			errorLogger.Warnw("ignoring logger pattern", "pattern", lpc.Pattern, "error", err)
			continue
		}
		rules = append(rules, rule)
	}

	lr.mu.Lock()
	defer lr.mu.Unlock()
	lr.rules = rules
	lr.apply()
}

func (lr *Registry) setBaseLevel(level Level) {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	lr.baseLevel = level
	lr.apply()
}

// getOrRegister returns the logger already registered under logger's name or registers logger
// at its configured level. Concurrent callers asking for the same name all get the winner's
// logger.
func (lr *Registry) getOrRegister(logger *impl) Logger {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	if existing, ok := lr.loggers[logger.name]; ok {
		return existing
	}
	lr.loggers[logger.name] = logger
	logger.level.Set(lr.levelFor(logger.name))
	return logger
}

// registered is implemented by loggers that belong to a Registry.
type registered interface {
	loggerRegistry() *Registry
}

// UpdateLevels applies logConfig to logger and every sublogger made from it, now and later.
// Loggers no pattern matches return to the level the root was created with or last given by
// SetLevel.
func UpdateLevels(logger Logger, logConfig []LoggerPatternConfig) error {
	r, ok := logger.(registered)
	if !ok || r.loggerRegistry() == nil {
		return errors.New("logger does not track its subloggers")
	}
	r.loggerRegistry().Update(logConfig, logger)
	return nil
}

// internal/logger/styled.go
package logger

import (
	"fmt"
	"log/slog"

	"github.com/weldr-proxy/weldr/internal/core/domain"
	"github.com/weldr-proxy/weldr/theme"
)

// StyledLogger wraps slog.Logger with theme-aware formatting methods for
// the endpoint/backend-centric messages the pool and health checker emit.
type StyledLogger struct {
	logger *slog.Logger
	theme  *theme.Theme
}

// NewStyledLogger creates a new styled logger with the given theme.
func NewStyledLogger(logger *slog.Logger, theme *theme.Theme) *StyledLogger {
	return &StyledLogger{
		logger: logger,
		theme:  theme,
	}
}

func (sl *StyledLogger) Debug(msg string, args ...any) {
	sl.logger.Debug(msg, args...)
}

func (sl *StyledLogger) Info(msg string, args ...any) {
	sl.logger.Info(msg, args...)
}

func (sl *StyledLogger) Warn(msg string, args ...any) {
	sl.logger.Warn(msg, args...)
}

func (sl *StyledLogger) Error(msg string, args ...any) {
	sl.logger.Error(msg, args...)
}

func (sl *StyledLogger) InfoWithCount(msg string, count int, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, sl.theme.Counts.Sprint("(", count, ")"))
	sl.logger.Info(styledMsg, args...)
}

func (sl *StyledLogger) InfoWithEndpoint(msg string, endpoint string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, sl.theme.Endpoint.Sprint(endpoint))
	sl.logger.Info(styledMsg, args...)
}

func (sl *StyledLogger) InfoWithHealthCheck(msg string, endpoint string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, sl.theme.HealthCheck.Sprint(endpoint))
	sl.logger.Info(styledMsg, args...)
}

func (sl *StyledLogger) InfoWithNumbers(msg string, numbers ...int64) {
	var formattedNums []string
	for _, num := range numbers {
		formattedNums = append(formattedNums, sl.theme.Numbers.Sprint(num))
	}

	styledMsg := fmt.Sprintf(msg, toInterfaceSlice(formattedNums)...)
	sl.logger.Info(styledMsg)
}

func (sl *StyledLogger) WarnWithEndpoint(msg string, endpoint string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, sl.theme.Endpoint.Sprint(endpoint))
	sl.logger.Warn(styledMsg, args...)
}

func (sl *StyledLogger) ErrorWithEndpoint(msg string, endpoint string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, sl.theme.Endpoint.Sprint(endpoint))
	sl.logger.Error(styledMsg, args...)
}

// InfoWithTransition logs a Backend state transition, colouring the old
// and new BackendState by health outcome.
func (sl *StyledLogger) InfoWithTransition(msg, endpoint string, from, to domain.BackendState, args ...any) {
	fromStyle, toStyle := sl.theme.HealthUnknown, sl.theme.HealthUnknown
	if from == domain.BackendActive {
		fromStyle = sl.theme.HealthHealthy
	} else {
		fromStyle = sl.theme.HealthUnhealthy
	}
	if to == domain.BackendActive {
		toStyle = sl.theme.HealthHealthy
	} else {
		toStyle = sl.theme.HealthUnhealthy
	}

	styledMsg := fmt.Sprintf("%s %s: %s -> %s", msg, sl.theme.Endpoint.Sprint(endpoint),
		fromStyle.Sprint(from.String()), toStyle.Sprint(to.String()))
	sl.logger.Info(styledMsg, args...)
}

func (sl *StyledLogger) InfoWithHealthStats(msg string, activeCount, downCount int, args ...any) {
	activeStyled := sl.theme.HealthHealthy.Sprint(activeCount)
	downStyled := sl.theme.HealthUnhealthy.Sprint(downCount)

	allArgs := make([]any, 0, len(args)+4)
	allArgs = append(allArgs, args...)
	allArgs = append(allArgs, "active", activeStyled, "down", downStyled)

	sl.logger.Info(msg, allArgs...)
}

// GetUnderlying returns the underlying slog.Logger for cases where direct access is needed
func (sl *StyledLogger) GetUnderlying() *slog.Logger {
	return sl.logger
}

// WithAttrs creates a new StyledLogger with additional structured attributes
func (sl *StyledLogger) WithAttrs(attrs ...slog.Attr) *StyledLogger {
	args := make([]any, 0, len(attrs)*2)
	for _, attr := range attrs {
		args = append(args, attr.Key, attr.Value)
	}

	return &StyledLogger{
		logger: sl.logger.With(args...),
		theme:  sl.theme,
	}
}

// With creates a new StyledLogger with additional key-value pairs
func (sl *StyledLogger) With(args ...any) *StyledLogger {
	return &StyledLogger{
		logger: sl.logger.With(args...),
		theme:  sl.theme,
	}
}

// Helper function to convert string slice to interface slice
func toInterfaceSlice(strs []string) []interface{} {
	result := make([]interface{}, len(strs))
	for i, s := range strs {
		result[i] = s
	}
	return result
}

// NewWithTheme creates both a regular logger and a styled logger
func NewWithTheme(cfg *Config) (*slog.Logger, *StyledLogger, func(), error) {
	logInstance, cleanup, err := New(cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	appTheme := theme.GetTheme(cfg.Theme)
	styledLogger := NewStyledLogger(logInstance, appTheme)

	return logInstance, styledLogger, cleanup, nil
}

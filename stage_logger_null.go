package queryflow

import "context"

// NullStageLogger is a no-op implementation of StageLogger.
type NullStageLogger struct{}

func NewNullStageLogger() *NullStageLogger {
	return &NullStageLogger{}
}

func (l *NullStageLogger) LogStage(ctx context.Context, entry *StageLogEntry) error {
	return nil
}

func (l *NullStageLogger) GetStageHistory(ctx context.Context, sessionID string) ([]*StageLogEntry, error) {
	return nil, nil
}

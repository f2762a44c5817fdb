package main

import (
	"context"
	"fmt"

	"github.com/deepnoodle-ai/queryflow"
	"github.com/getsentry/sentry-go"
)

// sentryCallbacks leaves a breadcrumb per stage and reports sessions that
// end with an engine fault.
type sentryCallbacks struct {
	queryflow.BaseExecutionCallbacks
}

func (c *sentryCallbacks) AfterStageExecution(ctx context.Context, event *queryflow.StageExecutionEvent) {
	level := sentry.LevelInfo
	if event.Error != nil {
		level = sentry.LevelWarning
	}
	hubFromContext(ctx).AddBreadcrumb(&sentry.Breadcrumb{
		Category: "stage",
		Message:  event.Stage,
		Level:    level,
		Data: map[string]any{
			"session_id": event.SessionID,
			"attempts":   event.Attempts,
			"duration":   event.Duration.String(),
		},
	}, nil)
}

func (c *sentryCallbacks) AfterSessionExecution(ctx context.Context, event *queryflow.SessionExecutionEvent) {
	if event.Error == nil {
		return
	}
	hub := hubFromContext(ctx)
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("session_id", event.SessionID)
		scope.SetTag("error_type", queryflow.ClassifyError(event.Error).Type)
		scope.SetTag("next_stage", event.NextStage)
		hub.CaptureException(fmt.Errorf("session %s failed: %w", event.SessionID, event.Error))
	})
}

func hubFromContext(ctx context.Context) *sentry.Hub {
	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		return hub
	}
	return sentry.CurrentHub()
}

// initSentry initializes Sentry when SENTRY_DSN is set and reports whether
// it is enabled.
func initSentry(a *app) bool {
	if a.secrets.SentryDSN == "" {
		return false
	}
	env := a.secrets.SentryEnvironment
	if env == "" {
		env = "development"
	}
	release := version
	if commit != "none" {
		release = version + "-" + commit
	}
	tracesSampleRate := 0.1
	if env == "development" {
		tracesSampleRate = 1.0
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              a.secrets.SentryDSN,
		Environment:      env,
		Release:          release,
		EnableTracing:    true,
		TracesSampleRate: tracesSampleRate,
	})
	if err != nil {
		a.logger.Warn("sentry initialization failed", "error", err)
		return false
	}
	a.logger.Info("sentry initialized", "env", env, "release", release)
	return true
}

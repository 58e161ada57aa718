// Package telemetry initializes opt-in Sentry error reporting. Only errors
// built through internal/errors are sent, after privacy filtering.
package telemetry

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/tphakala/mediacore/internal/buildinfo"
	"github.com/tphakala/mediacore/internal/conf"
	"github.com/tphakala/mediacore/internal/errors"
	"github.com/tphakala/mediacore/internal/logger"
	"github.com/tphakala/mediacore/internal/privacy"
)

const flushTimeout = 2 * time.Second

// GetLogger returns the telemetry module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("telemetry")
}

// allowedExtra lists the only event extras that survive filtering.
var allowedExtra = map[string]bool{"error_type": true, "component": true}

// Init starts the Sentry client and installs the error reporter when
// telemetry is enabled. It returns a shutdown function that flushes pending
// events; the function is a no-op when telemetry is disabled.
func Init(settings *conf.Settings, info buildinfo.Info) (func(), error) {
	if !settings.Telemetry.Enabled {
		GetLogger().Debug("telemetry disabled")
		return func() {}, nil
	}
	return initWithTransport(settings, info, nil)
}

func initWithTransport(settings *conf.Settings, info buildinfo.Info, transport sentry.Transport) (func(), error) {
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              settings.Telemetry.DSN,
		SampleRate:       1.0,
		AttachStacktrace: false,
		Environment:      settings.Telemetry.Environment,
		ServerName:       "",
		Release:          buildinfo.Release(info),
		Transport:        transport,
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return applyPrivacyFilters(event)
		},
	})
	if err != nil {
		return nil, errors.New(fmt.Errorf("sentry initialization failed: %w", err)).
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}

	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("system_id", info.SystemID())
		scope.SetTag("version", info.Version())
	})
	errors.SetPrivacyScrubber(privacy.ScrubMessage)
	errors.SetTelemetryReporter(errors.NewSentryReporter(true))

	GetLogger().Info("telemetry enabled",
		logger.String("environment", settings.Telemetry.Environment),
		logger.String("release", buildinfo.Release(info)))

	return func() {
		errors.SetTelemetryReporter(nil)
		errors.SetPrivacyScrubber(nil)
		sentry.Flush(flushTimeout)
	}, nil
}

// applyPrivacyFilters strips host and user identifying data from an event
// and anonymizes media locations in its messages.
func applyPrivacyFilters(event *sentry.Event) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""
	event.Message = privacy.ScrubMessage(event.Message)
	for i := range event.Exception {
		event.Exception[i].Value = privacy.ScrubMessage(event.Exception[i].Value)
	}

	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
		delete(event.Contexts, "runtime")
	}
	for k := range event.Extra {
		if !allowedExtra[k] {
			delete(event.Extra, k)
		}
	}
	if event.Tags != nil {
		delete(event.Tags, "server_name")
		delete(event.Tags, "hostname")
	}
	return event
}

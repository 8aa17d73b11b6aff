package middleware

import (
	"context"
	"crypto/md5"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"
)

type SlackAlertConfig struct {
	WebhookURL  string
	Environment string
	AppName     string
	// Instance is the codename of this process, so alerts from overlapping deploys can be told apart
	Instance string
}

// ErrorAlertMiddleware turns failures into internal diagnostic records: every
// failure is logged and, when a webhook is configured, posted to Slack at most
// once per cooldown window.
type ErrorAlertMiddleware struct {
	config        SlackAlertConfig
	alertedErrors map[string]time.Time // hash -> last alert time
	mutex         sync.Mutex
	alertCooldown time.Duration
	pending       sync.WaitGroup
}

func NewErrorAlertMiddleware(config SlackAlertConfig) *ErrorAlertMiddleware {
	return &ErrorAlertMiddleware{
		config:        config,
		alertedErrors: make(map[string]time.Time),
		alertCooldown: 10 * time.Minute,
	}
}

// WrapBackgroundTask recovers panics and alerts on errors returned by task
func (m *ErrorAlertMiddleware) WrapBackgroundTask(taskName string, task func() error) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				m.alertOnPanic(fmt.Sprintf("Background task: %s", taskName), r)
				err = fmt.Errorf("background task %s panicked: %v", taskName, r)
			}
		}()

		if err := task(); err != nil {
			m.AlertOnError(err, fmt.Sprintf("Background task: %s", taskName))
			return err
		}
		return nil
	}
}

// RecoverAndAlert must be deferred directly; it swallows a panic after alerting on it.
func (m *ErrorAlertMiddleware) RecoverAndAlert(context string) {
	if r := recover(); r != nil {
		m.alertOnPanic(context, r)
	}
}

// AlertOnError logs err and sends a deduplicated alert
func (m *ErrorAlertMiddleware) AlertOnError(err error, context string) {
	errorMsg := fmt.Sprintf("%s: %v", context, err)
	log.Error().Err(err).Str("context", context).Msg("❌ Error alert")

	hash := fmt.Sprintf("%x", md5.Sum([]byte(errorMsg)))

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if lastAlert, exists := m.alertedErrors[hash]; exists && time.Since(lastAlert) < m.alertCooldown {
		return
	}
	m.alertedErrors[hash] = time.Now()

	m.dispatchAlert(errorMsg, context)
}

func (m *ErrorAlertMiddleware) alertOnPanic(context string, r any) {
	errorMsg := fmt.Sprintf("%s: PANIC - %v", context, r)
	log.Error().Str("context", context).Interface("panic", r).Msg("❌ Recovered from panic")
	m.dispatchAlert(errorMsg, context+" (PANIC)")
}

func (m *ErrorAlertMiddleware) dispatchAlert(errorMsg, context string) {
	if m.config.WebhookURL == "" {
		return
	}

	m.pending.Add(1)
	go func() {
		defer m.pending.Done()
		m.sendSlackAlert(errorMsg, context)
	}()
}

// Flush waits for alerts that are still being delivered
func (m *ErrorAlertMiddleware) Flush() {
	m.pending.Wait()
}

func (m *ErrorAlertMiddleware) sendSlackAlert(errorMsg, alertContext string) {
	envPrefix := ""
	if m.config.Environment == "dev" {
		envPrefix = "[dev] "
	}

	header := slack.NewHeaderBlock(slack.NewTextBlockObject(
		slack.PlainTextType,
		fmt.Sprintf("🚨 %s[%s] Error Alert", envPrefix, m.config.AppName),
		true,
		false,
	))
	details := slack.NewSectionBlock(nil, []*slack.TextBlockObject{
		slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*Service:* %s", m.config.AppName), false, false),
		slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*Environment:* %s", m.config.Environment), false, false),
		slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*Instance:* %s", m.config.Instance), false, false),
		slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*Context:* %s", alertContext), false, false),
	}, nil)
	body := slack.NewSectionBlock(
		slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*Error:*\n```%s```", errorMsg), false, false),
		nil,
		nil,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := slack.PostWebhookContext(ctx, m.config.WebhookURL, &slack.WebhookMessage{
		Text:   errorMsg,
		Blocks: &slack.Blocks{BlockSet: []slack.Block{header, details, body}},
	})
	if err != nil {
		log.Error().Err(err).Msg("❌ Failed to send Slack alert")
	}
}

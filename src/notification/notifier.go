// Package notification resolves mail provider settings through the Accounts
// API and dispatches the transactional emails of the challenge workflows.
package notification

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"

	"github.com/cloudsignup/backend/src/domain"
	"github.com/cloudsignup/backend/src/utils"
	"github.com/rs/zerolog"
)

// Settings holding the provider key and the template ids.
const (
	SettingAPIKey                 = "ui.sendgrid.api_key"
	SettingTemplateCreateUser     = "ui.sendgrid.template.create_user"
	SettingTemplatePasswordReset  = "ui.sendgrid.template.password_reset"
	SettingTemplateVerifyPassword = "ui.sendgrid.template.verify_password"
	usernameSubstitution          = "-username-"
)

// ErrUnavailable means the provider key or the template id is not configured.
// It is an expected condition, not a transport failure.
var ErrUnavailable = errors.New("email api key or template id is not configured")

// Kind selects the email sent by a workflow.
type Kind string

const (
	KindRegistration              Kind = "registration"
	KindPasswordReset             Kind = "password-reset"
	KindPasswordResetConfirmation Kind = "password-reset-confirmation"
)

type kindConfig struct {
	templateKey string
	subject     string
	label       string
	link        func(host, token string) string
}

var kinds = map[Kind]kindConfig{
	KindRegistration: {
		templateKey: SettingTemplateCreateUser,
		subject:     "Verify your account",
		label:       "Verify Email",
		link: func(host, token string) string {
			return host + "/verify/" + token
		},
	},
	KindPasswordReset: {
		templateKey: SettingTemplatePasswordReset,
		subject:     "Password Reset Request",
		label:       "Reset Password",
		link: func(host, token string) string {
			return host + "/verify-reset-password/" + token
		},
	},
	KindPasswordResetConfirmation: {
		templateKey: SettingTemplateVerifyPassword,
		subject:     "Password Reset Confirmation",
		label:       "Reset Password",
		link: func(host, _ string) string {
			return host + "/login?resetpw=true"
		},
	},
}

// Template is the provider key and template id resolved for one email kind.
type Template struct {
	APIKey     string
	TemplateID string
}

// Message is a provider neutral email.
type Message struct {
	From          string
	To            string
	ToName        string
	Subject       string
	HTML          string
	Substitutions map[string]string
}

// SettingsReader reads Accounts API settings.
type SettingsReader interface {
	GetSetting(ctx context.Context, key string) (*domain.Setting, error)
}

// Dispatcher hands a message to a mail provider.
type Dispatcher interface {
	// RequiresTemplate reports whether Dispatch needs a resolved Template.
	RequiresTemplate() bool
	Dispatch(ctx context.Context, tmpl Template, msg Message) error
}

type Notifier struct {
	settings   SettingsReader
	dispatcher Dispatcher
	from       string
}

func NewNotifier(settings SettingsReader, dispatcher Dispatcher, from string) *Notifier {
	return &Notifier{
		settings:   settings,
		dispatcher: dispatcher,
		from:       from,
	}
}

func (n *Notifier) logger(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx).With().Str("service", "notification").Logger()
	return &l
}

// ResolveTemplate reads the provider key, then the template id stored under
// templateKey. Either value being empty yields ErrUnavailable.
func (n *Notifier) ResolveTemplate(ctx context.Context, templateKey string) (*Template, error) {
	apiKey, err := n.readSetting(ctx, SettingAPIKey)
	if err != nil {
		return nil, err
	}
	if apiKey == nil || apiKey.ActiveValue == "" {
		return nil, ErrUnavailable
	}

	templateID, err := n.readSetting(ctx, templateKey)
	if err != nil {
		return nil, err
	}
	if templateID == nil || templateID.Value == "" {
		return nil, ErrUnavailable
	}

	return &Template{
		APIKey:     apiKey.ActiveValue,
		TemplateID: templateID.Value,
	}, nil
}

// readSetting treats a setting unknown to the Accounts API as unconfigured.
func (n *Notifier) readSetting(ctx context.Context, key string) (*domain.Setting, error) {
	setting, err := n.settings.GetSetting(ctx, key)
	if err == nil {
		return setting, nil
	}

	var gwErr *domain.GatewayError
	if errors.As(err, &gwErr) && gwErr.Status == http.StatusNotFound {
		return nil, ErrUnavailable
	}

	return nil, fmt.Errorf("failed to read %s: %w", key, err)
}

// Send delivers the email of kind to the given address. Every failure wraps
// domain.ErrNotification; an unconfigured provider also matches ErrUnavailable.
func (n *Notifier) Send(ctx context.Context, kind Kind, to, name, host, token string) error {
	logger := n.logger(ctx).With().Str("kind", string(kind)).Logger()

	cfg, ok := kinds[kind]
	if !ok {
		return fmt.Errorf("%w: unknown email kind %q", domain.ErrNotification, kind)
	}

	var tmpl Template
	if n.dispatcher.RequiresTemplate() {
		resolved, err := n.ResolveTemplate(ctx, cfg.templateKey)
		if err != nil {
			logger.Error().Err(err).Msg("failed to resolve email template")
			return fmt.Errorf("%w: %w", domain.ErrNotification, err)
		}
		tmpl = *resolved
	}

	link := cfg.link(utils.TrimOrigin(host), token)
	msg := Message{
		From:    n.from,
		To:      to,
		ToName:  name,
		Subject: cfg.subject,
		HTML:    fmt.Sprintf(`<html><a href="%s">%s</a></html>`, html.EscapeString(link), cfg.label),
	}
	if kind == KindPasswordReset {
		msg.Substitutions = map[string]string{usernameSubstitution: name}
	}

	if err := n.dispatcher.Dispatch(ctx, tmpl, msg); err != nil {
		logger.Error().Err(err).Msg("failed to dispatch email")
		return fmt.Errorf("%w: %w", domain.ErrNotification, err)
	}

	logger.Info().Msg("email dispatched")
	return nil
}

package notification

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/cloudsignup/backend/src/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSettings struct {
	values map[string]*domain.Setting
	err    error
	reads  []string
}

func (f *fakeSettings) GetSetting(_ context.Context, key string) (*domain.Setting, error) {
	f.reads = append(f.reads, key)
	if f.err != nil {
		return nil, f.err
	}
	setting, ok := f.values[key]
	if !ok {
		return &domain.Setting{Name: key}, nil
	}
	return setting, nil
}

type recordingDispatcher struct {
	templated bool
	err       error
	templates []Template
	messages  []Message
}

func (d *recordingDispatcher) RequiresTemplate() bool {
	return d.templated
}

func (d *recordingDispatcher) Dispatch(_ context.Context, tmpl Template, msg Message) error {
	d.templates = append(d.templates, tmpl)
	d.messages = append(d.messages, msg)
	return d.err
}

func configuredSettings() *fakeSettings {
	return &fakeSettings{values: map[string]*domain.Setting{
		SettingAPIKey:                 {Name: SettingAPIKey, ActiveValue: "SG.key"},
		SettingTemplateCreateUser:     {Name: SettingTemplateCreateUser, Value: "tpl-create"},
		SettingTemplatePasswordReset:  {Name: SettingTemplatePasswordReset, Value: "tpl-reset"},
		SettingTemplateVerifyPassword: {Name: SettingTemplateVerifyPassword, Value: "tpl-verify"},
	}}
}

func TestResolveTemplate(t *testing.T) {
	notifier := NewNotifier(configuredSettings(), &recordingDispatcher{templated: true}, "no-reply@example.com")

	tmpl, err := notifier.ResolveTemplate(context.Background(), SettingTemplatePasswordReset)
	require.NoError(t, err)
	assert.Equal(t, "SG.key", tmpl.APIKey)
	assert.Equal(t, "tpl-reset", tmpl.TemplateID)
}

func TestResolveTemplateUnavailable(t *testing.T) {
	t.Run("missing api key", func(t *testing.T) {
		settings := configuredSettings()
		delete(settings.values, SettingAPIKey)
		notifier := NewNotifier(settings, &recordingDispatcher{templated: true}, "no-reply@example.com")

		_, err := notifier.ResolveTemplate(context.Background(), SettingTemplateCreateUser)
		assert.ErrorIs(t, err, ErrUnavailable)
		assert.Equal(t, []string{SettingAPIKey}, settings.reads)
	})

	t.Run("missing template id", func(t *testing.T) {
		settings := configuredSettings()
		delete(settings.values, SettingTemplateCreateUser)
		notifier := NewNotifier(settings, &recordingDispatcher{templated: true}, "no-reply@example.com")

		_, err := notifier.ResolveTemplate(context.Background(), SettingTemplateCreateUser)
		assert.ErrorIs(t, err, ErrUnavailable)
	})

	t.Run("unknown setting", func(t *testing.T) {
		settings := &fakeSettings{err: &domain.GatewayError{Status: http.StatusNotFound}}
		notifier := NewNotifier(settings, &recordingDispatcher{templated: true}, "no-reply@example.com")

		_, err := notifier.ResolveTemplate(context.Background(), SettingTemplateCreateUser)
		assert.ErrorIs(t, err, ErrUnavailable)
	})
}

func TestResolveTemplateGatewayFailure(t *testing.T) {
	settings := &fakeSettings{err: &domain.GatewayError{Status: http.StatusBadGateway}}
	notifier := NewNotifier(settings, &recordingDispatcher{templated: true}, "no-reply@example.com")

	_, err := notifier.ResolveTemplate(context.Background(), SettingTemplateCreateUser)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, domain.ErrGateway)
}

func TestSendUnavailableDoesNotDispatch(t *testing.T) {
	settings := configuredSettings()
	delete(settings.values, SettingTemplateVerifyPassword)
	dispatcher := &recordingDispatcher{templated: true}
	notifier := NewNotifier(settings, dispatcher, "no-reply@example.com")

	err := notifier.Send(context.Background(), KindPasswordResetConfirmation, "a@x.com", "Alice", "https://app.example.com", "")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, domain.ErrNotification)
	assert.Empty(t, dispatcher.messages)
}

func TestSendBuildsMessagePerKind(t *testing.T) {
	tests := []struct {
		kind     Kind
		template string
		subject  string
		link     string
		subs     map[string]string
	}{
		{
			kind:     KindRegistration,
			template: "tpl-create",
			subject:  "Verify your account",
			link:     "https://app.example.com/verify/abc123",
		},
		{
			kind:     KindPasswordReset,
			template: "tpl-reset",
			subject:  "Password Reset Request",
			link:     "https://app.example.com/verify-reset-password/abc123",
			subs:     map[string]string{"-username-": "Alice"},
		},
		{
			kind:     KindPasswordResetConfirmation,
			template: "tpl-verify",
			subject:  "Password Reset Confirmation",
			link:     "https://app.example.com/login?resetpw=true",
		},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			dispatcher := &recordingDispatcher{templated: true}
			notifier := NewNotifier(configuredSettings(), dispatcher, "no-reply@example.com")

			err := notifier.Send(context.Background(), tt.kind, "a@x.com", "Alice", "https://app.example.com/", "abc123")
			require.NoError(t, err)
			require.Len(t, dispatcher.messages, 1)

			msg := dispatcher.messages[0]
			assert.Equal(t, "no-reply@example.com", msg.From)
			assert.Equal(t, "a@x.com", msg.To)
			assert.Equal(t, "Alice", msg.ToName)
			assert.Equal(t, tt.subject, msg.Subject)
			assert.Contains(t, msg.HTML, `href="`+tt.link+`"`)
			assert.Equal(t, tt.subs, msg.Substitutions)
			assert.Equal(t, Template{APIKey: "SG.key", TemplateID: tt.template}, dispatcher.templates[0])
		})
	}
}

func TestSendWithoutTemplateSkipsSettings(t *testing.T) {
	settings := &fakeSettings{err: errors.New("must not be called")}
	dispatcher := &recordingDispatcher{templated: false}
	notifier := NewNotifier(settings, dispatcher, "no-reply@example.com")

	err := notifier.Send(context.Background(), KindRegistration, "a@x.com", "Alice", "https://app.example.com", "tok")
	require.NoError(t, err)
	assert.Empty(t, settings.reads)
	assert.Len(t, dispatcher.messages, 1)
}

func TestSendDispatchFailure(t *testing.T) {
	dispatcher := &recordingDispatcher{templated: true, err: errors.New("connection reset")}
	notifier := NewNotifier(configuredSettings(), dispatcher, "no-reply@example.com")

	err := notifier.Send(context.Background(), KindRegistration, "a@x.com", "Alice", "https://app.example.com", "tok")
	assert.ErrorIs(t, err, domain.ErrNotification)
	assert.NotErrorIs(t, err, ErrUnavailable)
}

func TestSendUnknownKind(t *testing.T) {
	notifier := NewNotifier(configuredSettings(), &recordingDispatcher{templated: true}, "no-reply@example.com")

	err := notifier.Send(context.Background(), Kind("welcome"), "a@x.com", "Alice", "https://app.example.com", "tok")
	assert.ErrorIs(t, err, domain.ErrNotification)
}

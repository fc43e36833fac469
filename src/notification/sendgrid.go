package notification

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

const sendGridMailEndpoint = "/v3/mail/send"

// SendGridDispatcher sends templated mail through the SendGrid v3 API with
// the key resolved from the Accounts API settings.
type SendGridDispatcher struct {
	host string
}

// NewSendGridDispatcher targets host, or the public SendGrid API when host is empty.
func NewSendGridDispatcher(host string) *SendGridDispatcher {
	return &SendGridDispatcher{host: host}
}

func (d *SendGridDispatcher) RequiresTemplate() bool {
	return true
}

func (d *SendGridDispatcher) Dispatch(ctx context.Context, tmpl Template, msg Message) error {
	request := sendgrid.GetRequest(tmpl.APIKey, sendGridMailEndpoint, d.host)
	request.Method = "POST"
	request.Body = mail.GetRequestBody(buildSendGridMail(tmpl, msg))

	response, err := sendgrid.MakeRequestWithContext(ctx, request)
	if err != nil {
		return fmt.Errorf("sendgrid request failed: %w", err)
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return fmt.Errorf("sendgrid returned status %d: %s", response.StatusCode, response.Body)
	}

	return nil
}

func buildSendGridMail(tmpl Template, msg Message) *mail.SGMailV3 {
	m := mail.NewV3Mail()
	m.SetFrom(mail.NewEmail("", msg.From))
	m.Subject = msg.Subject
	m.SetTemplateID(tmpl.TemplateID)

	p := mail.NewPersonalization()
	p.AddTos(mail.NewEmail(msg.ToName, msg.To))
	for key, value := range msg.Substitutions {
		p.SetSubstitution(key, value)
	}
	m.AddPersonalizations(p)
	m.AddContent(mail.NewContent("text/html", msg.HTML))

	return m
}

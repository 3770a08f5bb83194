// Package mailxses sends mail through AWS SES.
package mailxses

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"github.com/Abraxas-365/recibo/pkg/errx"
	"github.com/Abraxas-365/recibo/pkg/mailx"
)

// Provider implements mailx.Sender on AWS SES.
type Provider struct {
	client *ses.Client
	from   string
}

// NewProvider creates a provider with a default sender address.
func NewProvider(client *ses.Client, from string) *Provider {
	return &Provider{client: client, from: from}
}

func (p *Provider) Send(ctx context.Context, msg mailx.Message) error {
	from := msg.From
	if from == "" {
		from = p.from
	}

	body := &types.Body{}
	if msg.TextBody != "" {
		body.Text = &types.Content{Data: aws.String(msg.TextBody), Charset: aws.String("UTF-8")}
	}
	if msg.HTMLBody != "" {
		body.Html = &types.Content{Data: aws.String(msg.HTMLBody), Charset: aws.String("UTF-8")}
	}

	input := &ses.SendEmailInput{
		Source:      aws.String(from),
		Destination: &types.Destination{ToAddresses: msg.To},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
			Body:    body,
		},
	}
	if msg.ReplyTo != "" {
		input.ReplyToAddresses = []string{msg.ReplyTo}
	}

	if _, err := p.client.SendEmail(ctx, input); err != nil {
		return errx.Wrap(err, "ses send failed", errx.TypeExternal).
			WithDetail("subject", msg.Subject)
	}
	return nil
}

var _ mailx.Sender = (*Provider)(nil)

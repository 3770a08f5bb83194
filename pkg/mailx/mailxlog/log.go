// Package mailxlog is a development mail sink that logs instead of sending.
package mailxlog

import (
	"context"
	"strings"

	"github.com/Abraxas-365/recibo/pkg/logx"
	"github.com/Abraxas-365/recibo/pkg/mailx"
)

// Provider implements mailx.Sender by writing to the log.
type Provider struct{}

func NewProvider() *Provider {
	return &Provider{}
}

func (p *Provider) Send(_ context.Context, msg mailx.Message) error {
	logx.WithFields(logx.Fields{
		"to":      strings.Join(msg.To, ","),
		"subject": msg.Subject,
	}).Info("mailxlog: email send (dev sink)")
	return nil
}

var _ mailx.Sender = (*Provider)(nil)

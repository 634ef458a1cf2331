package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/notification-pipeline/internal/models"
	"github.com/example/notification-pipeline/internal/pipeline"
	"github.com/example/notification-pipeline/internal/providers/email"
	"github.com/example/notification-pipeline/internal/templating"
	"github.com/example/notification-pipeline/internal/util"
)

// Campaign delivery modes.
const (
	CampaignModeBulk     = "bulk"
	CampaignModePipeline = "pipeline"
)

// HeaderCampaignID tags every message of a campaign.
const HeaderCampaignID = "X-Campaign-ID"

// Campaign is one marketing message sent to many recipients.
type Campaign struct {
	Type       string            `json:"type"`
	Recipients []email.Recipient `json:"recipients"`
	Data       map[string]any    `json:"data,omitempty"`
}

// CampaignFailure is a recipient the campaign could not reach.
type CampaignFailure struct {
	Email string `json:"email"`
	Error string `json:"error"`
}

// CampaignResult summarises a campaign run.
type CampaignResult struct {
	CampaignID string            `json:"campaign_id"`
	Mode       string            `json:"mode"`
	Provider   string            `json:"provider,omitempty"`
	Total      int               `json:"total"`
	Sent       int               `json:"sent"`
	Failed     int               `json:"failed"`
	Failures   []CampaignFailure `json:"failures,omitempty"`
}

// SendMarketingCampaign delivers c to every recipient. With a bulk capable
// provider the content is rendered once and sent through SendBulk, each
// recipient's call wrapped in the marketing retry policy. Otherwise every
// recipient runs through the pipeline at low priority, one after another
// with the configured bulk delay between sends.
func (n *Notifier) SendMarketingCampaign(ctx context.Context, c Campaign) (CampaignResult, error) {
	emailType := models.EmailTypeForEvent(strings.TrimSpace(c.Type))
	if strings.TrimSpace(c.Type) == "" {
		return CampaignResult{}, errors.New("notifier: campaign type is required")
	}
	if len(c.Recipients) == 0 {
		return CampaignResult{}, errors.New("notifier: campaign has no recipients")
	}

	res := CampaignResult{CampaignID: uuid.NewString(), Total: len(c.Recipients)}
	recipients := make([]email.Recipient, 0, len(c.Recipients))
	for _, r := range c.Recipients {
		addr, err := util.NormalizeEmail(r.Email)
		if err != nil {
			res.fail(r.Email, err.Error())
			continue
		}
		recipients = append(recipients, email.Recipient{Email: addr, Name: r.Name})
	}

	var provider email.Provider
	if n.providers != nil {
		if p, err := n.providers.BulkProvider(); err == nil {
			provider = p
		}
	}

	log := n.logger.With().Str("campaign_id", res.CampaignID).Str("email_type", emailType).Logger()
	if provider == nil {
		res.Mode = CampaignModePipeline
		log.Info().Int("recipients", len(recipients)).Msg("no bulk provider, sending campaign through pipeline")
		n.campaignViaPipeline(ctx, emailType, c.Data, recipients, &res)
		return res, nil
	}

	res.Mode = CampaignModeBulk
	res.Provider = provider.Name()
	log.Info().Int("recipients", len(recipients)).Str("provider", res.Provider).Msg("sending campaign in bulk")
	if err := n.campaignViaBulk(ctx, provider, emailType, c.Data, recipients, &res); err != nil {
		return res, err
	}
	return res, nil
}

func (n *Notifier) campaignViaPipeline(ctx context.Context, emailType string, data map[string]any, recipients []email.Recipient, res *CampaignResult) {
	for i, r := range recipients {
		if i > 0 && n.bulkDelay > 0 && !sleep(ctx, n.bulkDelay) {
			for _, rest := range recipients[i:] {
				res.fail(rest.Email, ctx.Err().Error())
			}
			return
		}
		payload := make(map[string]any, len(data))
		for k, v := range data {
			payload[k] = v
		}
		out, err := n.SendMarketing(ctx, Request{
			Type:           emailType,
			RecipientEmail: r.Email,
			RecipientName:  r.Name,
			Data:           payload,
			LogData:        map[string]any{"campaign_id": res.CampaignID},
		})
		switch {
		case err != nil:
			res.fail(r.Email, err.Error())
		case !out.Success:
			res.fail(r.Email, out.Error)
		default:
			res.Sent++
		}
	}
}

func (n *Notifier) campaignViaBulk(ctx context.Context, provider email.Provider, emailType string, data map[string]any, recipients []email.Recipient, res *CampaignResult) error {
	tpl, err := n.resolveTemplate(ctx, "", emailType)
	if err != nil {
		return err
	}
	vars := n.pipeline.Variables(data)
	if _, ok := vars["recipient_name"]; !ok {
		vars["recipient_name"] = models.DefaultRecipientName
		vars["recipientName"] = models.DefaultRecipientName
	}
	subject, err := n.engine.Render(tpl.Subject, vars)
	if err != nil {
		return fmt.Errorf("notifier: render campaign subject: %w", err)
	}
	body, err := n.engine.Render(tpl.HTMLContent, vars)
	if err != nil {
		return fmt.Errorf("notifier: render campaign body: %w", err)
	}
	subject, body = strings.TrimSpace(subject), strings.TrimSpace(body)

	msg := email.BulkMessage{
		Subject:  subject,
		HTMLBody: body,
		TextBody: templating.PlainText(body),
		FromName: n.branding.FromName,
		Headers: map[string]string{
			pipeline.HeaderEmailType: emailType,
			HeaderCampaignID:         res.CampaignID,
		},
	}

	send := func(ctx context.Context, m *email.Message) (*email.Result, error) {
		started := n.now()
		var last *email.Result
		count, err := n.marketing.Execute(ctx, func(ctx context.Context) error {
			n.providers.RecordUsage(provider.Name())
			r, err := provider.Send(ctx, m)
			last = r
			if err == nil && (r == nil || !r.Success) {
				err = errors.New(failureText(r))
			}
			return err
		})

		errMsg := ""
		if err != nil {
			errMsg = err.Error()
		}
		if n.metrics != nil {
			n.metrics.RecordSend(emailType, provider.Name(), err == nil, n.now().Sub(started), errMsg)
		}
		n.writeCampaignLog(ctx, campaignLog{
			campaignID: res.CampaignID,
			emailType:  emailType,
			template:   tpl,
			subject:    subject,
			provider:   provider.Name(),
			to:         m,
			result:     last,
			err:        err,
			attempts:   count,
			duration:   n.now().Sub(started),
		})
		return last, err
	}

	for _, r := range email.SendBulk(ctx, provider, recipients, msg, email.BulkOptions{Delay: n.bulkDelay, Send: send}) {
		switch {
		case r.Err != nil:
			res.fail(r.Recipient.Email, r.Err.Error())
		case r.Result == nil || !r.Result.Success:
			res.fail(r.Recipient.Email, failureText(r.Result))
		default:
			res.Sent++
		}
	}
	return nil
}

type campaignLog struct {
	campaignID string
	emailType  string
	template   *models.Template
	subject    string
	provider   string
	to         *email.Message
	result     *email.Result
	err        error
	attempts   int
	duration   time.Duration
}

func (n *Notifier) writeCampaignLog(ctx context.Context, l campaignLog) {
	if n.logs == nil {
		return
	}
	now := n.now()
	entry := &models.LogEntry{
		PipelineID:     l.campaignID,
		RecipientEmail: l.to.To,
		RecipientName:  l.to.ToName,
		EmailType:      l.emailType,
		Subject:        l.subject,
		TemplateID:     l.template.ID,
		TemplateSource: l.template.Source,
		Status:         models.LogStatusSent,
		Provider:       l.provider,
		Attempts:       l.attempts,
		DurationMs:     l.duration.Milliseconds(),
		CreatedAt:      now,
		Metadata:       map[string]any{"campaign_id": l.campaignID, "source": "campaign"},
	}
	if l.result != nil {
		entry.MessageID = l.result.MessageID
	}
	if l.err != nil {
		entry.Status = models.LogStatusFailed
		entry.ErrorMessage = l.err.Error()
	} else {
		entry.SentAt = &now
	}
	if err := n.logs.Write(ctx, entry); err != nil {
		n.logger.Warn().Err(err).Str("campaign_id", l.campaignID).Msg("campaign log write failed")
	}
}

func (r *CampaignResult) fail(addr, msg string) {
	r.Failed++
	r.Failures = append(r.Failures, CampaignFailure{Email: addr, Error: msg})
}

func failureText(r *email.Result) string {
	if r != nil && r.Error != "" {
		return r.Error
	}
	return "provider reported failure"
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

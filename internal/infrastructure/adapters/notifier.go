package adapters

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/rail-service/wallet_ledger/internal/domain/entities"
	"github.com/rail-service/wallet_ledger/internal/domain/services/movement"
	"github.com/rail-service/wallet_ledger/pkg/security"
)

// LogNotifier writes every movement event to the log
type LogNotifier struct {
	logger *zap.Logger
}

var _ movement.Notifier = (*LogNotifier)(nil)

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) MovementUpdated(ctx context.Context, event movement.Event) error {
	r := event.Record
	n.logger.Info("Movement updated",
		zap.String("request_id", r.RequestID),
		zap.String("kind", r.Kind.String()),
		zap.String("user_id", r.UserID.String()),
		zap.String("previous_status", string(event.Previous)),
		zap.String("status", string(r.Status)),
		zap.String("amount", r.Amount.String()),
		zap.String("token", r.Token),
		zap.String("address", security.MaskAddress(r.Address)))
	return nil
}

// EmailNotifierConfig configures operator email alerts
type EmailNotifierConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
	OpsEmail  string
	Locale    string
}

// sender is the part of the SendGrid client the notifier uses
type sender interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*sendgridResponse, error)
}

type sendgridResponse struct {
	StatusCode int
	Body       string
}

type sendgridSender struct {
	client *sendgrid.Client
}

func (s sendgridSender) SendWithContext(ctx context.Context, email *mail.SGMailV3) (*sendgridResponse, error) {
	resp, err := s.client.SendWithContext(ctx, email)
	if err != nil {
		return nil, err
	}
	return &sendgridResponse{StatusCode: resp.StatusCode, Body: resp.Body}, nil
}

// EmailNotifier emails the operations mailbox about movements that need a
// human: admin review, payout failures and reimbursements. Other events are
// only logged.
type EmailNotifier struct {
	config  EmailNotifierConfig
	sender  sender
	printer *message.Printer
	logger  *zap.Logger
}

var _ movement.Notifier = (*EmailNotifier)(nil)

// NewEmailNotifier creates a SendGrid-backed notifier
func NewEmailNotifier(config EmailNotifierConfig, logger *zap.Logger) (*EmailNotifier, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("sendgrid api key is required")
	}
	return newEmailNotifier(config, sendgridSender{client: sendgrid.NewSendClient(config.APIKey)}, logger), nil
}

func newEmailNotifier(config EmailNotifierConfig, s sender, logger *zap.Logger) *EmailNotifier {
	tag, err := language.Parse(config.Locale)
	if err != nil {
		tag = language.English
	}
	return &EmailNotifier{
		config:  config,
		sender:  s,
		printer: message.NewPrinter(tag),
		logger:  logger,
	}
}

// MovementUpdated sends an alert for notable transitions
func (n *EmailNotifier) MovementUpdated(ctx context.Context, event movement.Event) error {
	subject, ok := n.subject(event)
	if !ok || n.config.OpsEmail == "" {
		n.logger.Debug("Movement event not emailed",
			zap.String("request_id", event.Record.RequestID),
			zap.String("status", string(event.Record.Status)))
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	text := n.body(event)
	from := mail.NewEmail(n.config.FromName, n.config.FromEmail)
	to := mail.NewEmail("", n.config.OpsEmail)
	msg := mail.NewSingleEmail(from, subject, to, text, "<pre>"+text+"</pre>")

	resp, err := n.sender.SendWithContext(ctx, msg)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("email service error: status %d, body: %s", resp.StatusCode, resp.Body)
	}

	n.logger.Info("Movement alert emailed",
		zap.String("request_id", event.Record.RequestID),
		zap.String("subject", subject),
		zap.Int("status_code", resp.StatusCode))
	return nil
}

func (n *EmailNotifier) subject(event movement.Event) (string, bool) {
	r := event.Record
	switch r.Status {
	case entities.MovementStatusPendingAdminReview:
		return fmt.Sprintf("[review] %s awaits approval", r.RequestID), true
	case entities.MovementStatusOnchainFailureReimbursed:
		return fmt.Sprintf("[payout failed] %s reimbursed", r.RequestID), true
	case entities.MovementStatusRejectedReimbursed:
		return fmt.Sprintf("[rejected] %s reimbursed", r.RequestID), true
	}
	return "", false
}

func (n *EmailNotifier) body(event movement.Event) string {
	r := event.Record
	var b strings.Builder
	b.WriteString(n.printer.Sprintf("Request: %s\n", r.RequestID))
	b.WriteString(n.printer.Sprintf("Kind: %s\n", r.Kind.String()))
	b.WriteString(n.printer.Sprintf("User: %s\n", r.UserID.String()))
	b.WriteString(n.printer.Sprintf("Status: %s -> %s\n", string(event.Previous), string(r.Status)))
	b.WriteString(n.printer.Sprintf("Amount: %v %s\n", formatAmount(r.Amount), r.Token))
	if r.PriceUSD.IsPositive() {
		b.WriteString(n.printer.Sprintf("USD value: %v\n", formatAmount(r.Amount.Mul(r.PriceUSD))))
	}
	if r.IsDueDeducted {
		b.WriteString(n.printer.Sprintf("Due deducted: %v %s\n", formatAmount(r.DueDeductedAmount), r.Token))
	}
	if r.Address != "" {
		b.WriteString(n.printer.Sprintf("Address: %s (%s)\n", security.MaskAddress(r.Address), r.Network))
	}
	if reason, ok := r.Metadata["reimbursement_reason"].(string); ok && reason != "" {
		b.WriteString(n.printer.Sprintf("Reason: %s\n", reason))
	}
	return b.String()
}

func formatAmount(d decimal.Decimal) number.Formatter {
	return number.Decimal(d.InexactFloat64(), number.MaxFractionDigits(8))
}

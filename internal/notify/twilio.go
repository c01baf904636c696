package notify

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/BTreeMap/IntakeDesk/internal/models"
)

// Opts holds configuration options for the Twilio notifier.
type Opts struct {
	AccountSID string
	AuthToken  string
	FromNumber string
	ToNumber   string
	WhatsApp   bool
}

// Option defines a configuration option for the Twilio notifier.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFromNumber sets the sender number.
func WithFromNumber(from string) Option {
	return func(o *Opts) { o.FromNumber = from }
}

// WithHelpdeskNumber sets the number that receives ticket notifications.
func WithHelpdeskNumber(to string) Option {
	return func(o *Opts) { o.ToNumber = to }
}

// WithWhatsApp sends over Twilio's WhatsApp channel instead of SMS.
func WithWhatsApp(enabled bool) Option {
	return func(o *Opts) { o.WhatsApp = enabled }
}

// messageCreator is the slice of the Twilio REST API the notifier uses.
type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// TwilioNotifier texts each ticket to the helpdesk number.
type TwilioNotifier struct {
	api  messageCreator
	from string
	to   string
}

var _ Notifier = (*TwilioNotifier)(nil)

// NewTwilioNotifier creates a notifier. Missing options fall back to TWILIO_ACCOUNT_SID,
// TWILIO_AUTH_TOKEN, TWILIO_FROM_NUMBER and HELPDESK_NOTIFY_NUMBER.
func NewTwilioNotifier(opts ...Option) (*TwilioNotifier, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromNumber == "" {
		cfg.FromNumber = os.Getenv("TWILIO_FROM_NUMBER")
	}
	if cfg.ToNumber == "" {
		cfg.ToNumber = os.Getenv("HELPDESK_NOTIFY_NUMBER")
	}
	slog.Debug("Twilio notifier config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"FromNumber_set", cfg.FromNumber != "",
		"ToNumber_set", cfg.ToNumber != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.FromNumber == "" || cfg.ToNumber == "" {
		return nil, fmt.Errorf("from and helpdesk numbers must be provided")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return newTwilioNotifier(client.Api, cfg), nil
}

func newTwilioNotifier(api messageCreator, cfg Opts) *TwilioNotifier {
	return &TwilioNotifier{
		api:  api,
		from: channelAddress(cfg.FromNumber, cfg.WhatsApp),
		to:   channelAddress(cfg.ToNumber, cfg.WhatsApp),
	}
}

func channelAddress(number string, whatsapp bool) string {
	if whatsapp && !strings.HasPrefix(number, "whatsapp:") {
		return "whatsapp:" + number
	}
	return number
}

// Submit implements Notifier. EmailSent reports whether the helpdesk message was accepted.
func (n *TwilioNotifier) Submit(ctx context.Context, t models.Ticket) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(n.to)
	params.SetFrom(n.from)
	params.SetBody(FormatTicket(t))

	resp, err := n.api.CreateMessage(params)
	if err != nil {
		slog.Error("TwilioNotifier.Submit failed", "referenceID", t.ReferenceID, "error", err)
		return Receipt{}, fmt.Errorf("%w: twilio: %v", ErrNotifierUnavailable, err)
	}
	sid := ""
	if resp != nil && resp.Sid != nil {
		sid = *resp.Sid
	}
	slog.Info("TwilioNotifier.Submit: helpdesk notified", "referenceID", t.ReferenceID, "messageSID", sid)
	return Receipt{ReferenceID: t.ReferenceID, EmailSent: true}, nil
}

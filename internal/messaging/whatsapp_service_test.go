package messaging

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/BTreeMap/IntakeDesk/internal/flow"
	"github.com/BTreeMap/IntakeDesk/internal/models"
	"github.com/BTreeMap/IntakeDesk/internal/testutil"
	"github.com/BTreeMap/IntakeDesk/internal/whatsapp"
)

func textEvent(from, id, body string) *events.Message {
	return &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{Sender: types.NewJID(from, whatsapp.JIDSuffix)},
			ID:            id,
			PushName:      "Dana",
			Timestamp:     time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
		},
		Message: &waE2E.Message{Conversation: &body},
	}
}

func TestWhatsAppService_ForwardsTextMessages(t *testing.T) {
	mock := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mock)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	mock.Emit(textEvent("15551234567", "3EB0A1", "my laptop won't boot"))

	own := textEvent("15551234567", "3EB0A2", "echo")
	own.Info.IsFromMe = true
	mock.Emit(own)
	group := textEvent("15551234567", "3EB0A3", "group chatter")
	group.Info.IsGroup = true
	mock.Emit(group)
	mock.Emit(&events.Message{Info: types.MessageInfo{ID: "3EB0A4"}, Message: &waE2E.Message{}})

	select {
	case msg := <-svc.Inbound():
		if msg.From != "15551234567" || msg.Body != "my laptop won't boot" || msg.MessageID != "3EB0A1" || msg.Name != "Dana" {
			t.Errorf("unexpected inbound message %+v", msg)
		}
	default:
		t.Fatal("expected an inbound message")
	}
	select {
	case msg := <-svc.Inbound():
		t.Errorf("expected other events to be ignored, got %+v", msg)
	default:
	}
}

func TestWhatsAppService_StopClosesInbound(t *testing.T) {
	mock := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mock)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("second Stop returned error: %v", err)
	}
	// Events after Stop must not panic on the closed channel.
	mock.Emit(textEvent("15551234567", "late", "hello"))
	if msg, ok := <-svc.Inbound(); ok {
		t.Errorf("expected inbound channel closed, got value %v", msg)
	}
}

func TestWhatsAppService_ValidateAndCanonicalizeRecipient(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	for in, want := range map[string]string{
		"+1 (555) 123-4567": "15551234567",
		"447700900123":      "447700900123",
	} {
		got, err := svc.ValidateAndCanonicalizeRecipient(in)
		if err != nil || got != want {
			t.Errorf("canonicalize(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	for _, bad := range []string{"", "12345", "1555abc4567", "1+5551234567", strings.Repeat("1", 16)} {
		if _, err := svc.ValidateAndCanonicalizeRecipient(bad); err == nil {
			t.Errorf("expected %q to be rejected", bad)
		}
	}
}

func TestWhatsAppService_SendMessage(t *testing.T) {
	mock := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mock)
	if err := svc.SendMessage(context.Background(), "+1 555 123 4567", "hello"); err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}
	sent := mock.Sent()
	if len(sent) != 1 || sent[0].To != "15551234567" || sent[0].Body != "hello" {
		t.Errorf("unexpected sent messages %+v", sent)
	}
	if err := svc.SendMessage(context.Background(), "nope", "hello"); err == nil {
		t.Error("expected invalid recipient to fail")
	}
	mock.Err = errors.New("socket closed")
	if err := svc.SendMessage(context.Background(), "15551234567", "hello"); err == nil {
		t.Error("expected client error to propagate")
	}
}

func newRelayFixture(t *testing.T) (*Relay, *whatsapp.MockClient, *flow.IntakeFlow) {
	t.Helper()
	f := testutil.NewFlow(t).Flow
	mock := whatsapp.NewMockClient()
	return NewRelay(NewWhatsAppService(mock), f, "whatsapp"), mock, f
}

func TestRelay_CreatesSessionPerSender(t *testing.T) {
	relay, mock, f := newRelayFixture(t)
	ctx := context.Background()

	relay.Handle(ctx, InboundMessage{From: "15551234567", Name: "Dana", Body: "Teams keeps crashing", MessageID: "M1"})

	sent := mock.Sent()
	if len(sent) != 1 || sent[0].To != "15551234567" || sent[0].Body == "" {
		t.Fatalf("expected one reply to the sender, got %+v", sent)
	}
	s, err := f.GetSession(ctx, "wa-15551234567")
	if err != nil {
		t.Fatalf("expected session for sender: %v", err)
	}
	if s.UserContext.Channel != "whatsapp" || s.UserContext.Name != "Dana" || s.TurnCount != 1 {
		t.Errorf("unexpected session %+v", s.UserContext)
	}

	// Redelivery of the same message is answered without a second turn.
	relay.Handle(ctx, InboundMessage{From: "15551234567", Body: "Teams keeps crashing", MessageID: "M1"})
	s, _ = f.GetSession(ctx, "wa-15551234567")
	if s.TurnCount != 1 {
		t.Errorf("duplicate delivery ran a turn, turnCount=%d", s.TurnCount)
	}
	if sent := mock.Sent(); len(sent) != 2 || sent[1].Body != sent[0].Body {
		t.Errorf("expected the duplicate to replay the last reply, got %+v", sent)
	}
}

func TestRelay_RejectsInvalidInput(t *testing.T) {
	relay, mock, _ := newRelayFixture(t)
	relay.Handle(context.Background(), InboundMessage{From: "15551234567", Body: strings.Repeat("x", models.MaxMessageLength+1)})
	sent := mock.Sent()
	if len(sent) != 1 || sent[0].Body != replyInvalid {
		t.Errorf("expected the invalid input reply, got %+v", sent)
	}
}

func TestRelay_RunStopsWhenInboundCloses(t *testing.T) {
	mock := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mock)
	relay := NewRelay(svc, testutil.NewFlow(t).Flow, "whatsapp")
	if err := svc.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- relay.Run(context.Background()) }()

	mock.Emit(textEvent("15551234567", "R1", "printer on floor 3 is jammed"))
	deadline := time.After(5 * time.Second)
	for len(mock.Sent()) == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for reply")
		case <-time.After(10 * time.Millisecond):
		}
	}

	if err := svc.Stop(); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected nil error after inbound closed, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestRelay_RunHonorsContext(t *testing.T) {
	relay, _, _ := newRelayFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := relay.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

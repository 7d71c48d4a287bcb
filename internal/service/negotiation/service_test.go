package negotiation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/shopspring/decimal"

	model "github.com/zhouzirui/mora-bot/backend/internal/model/session"
	"github.com/zhouzirui/mora-bot/backend/internal/service/ai"
	"github.com/zhouzirui/mora-bot/backend/internal/service/session"
)

type fakeGenerator struct {
	reply     string
	err       error
	streaming bool
	inputs    []ai.Input
	deadline  bool
}

func (g *fakeGenerator) Generate(ctx context.Context, in ai.Input) (*schema.Message, error) {
	g.inputs = append(g.inputs, in)
	_, g.deadline = ctx.Deadline()
	if g.err != nil {
		return nil, g.err
	}
	return schema.AssistantMessage(g.reply, nil), nil
}

func (g *fakeGenerator) Stream(_ context.Context, in ai.Input) (*schema.StreamReader[*schema.Message], error) {
	g.inputs = append(g.inputs, in)
	if g.err != nil {
		return nil, g.err
	}
	words := strings.SplitAfter(g.reply, " ")
	chunks := make([]*schema.Message, 0, len(words))
	for _, w := range words {
		chunks = append(chunks, schema.AssistantMessage(w, nil))
	}
	return schema.StreamReaderFromArray(chunks), nil
}

func (g *fakeGenerator) StreamingEnabled() bool {
	return g.streaming
}

func amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestService(gen Generator) (*Service, *session.Store) {
	store := session.NewStore()
	return NewService(store, gen, time.Second, nil), store
}

func TestHandleDeductsPaymentsFromUserText(t *testing.T) {
	gen := &fakeGenerator{reply: "Gracias por su pago de $999."}
	svc, store := newTestService(gen)
	s := store.Create(model.FinancialContext{AmountOwed: amount("100"), DaysInMora: 3})

	turn, err := svc.Handle(context.Background(), s.ID, "He pagado $50 y $20.50 hoy")
	if err != nil {
		t.Fatalf("Handle err: %v", err)
	}

	if turn.Reply != gen.reply {
		t.Fatalf("unexpected reply: %q", turn.Reply)
	}
	if !turn.Context.AmountOwed.Equal(amount("29.50")) {
		t.Fatalf("expected 29.50 owed, got %s", turn.Context.AmountOwed)
	}
	if !turn.Payment.Equal(amount("70.50")) {
		t.Fatalf("expected payment 70.50, got %s", turn.Payment)
	}

	stored, _ := store.Get(s.ID)
	if !stored.Context.AmountOwed.Equal(amount("29.50")) || stored.Context.DaysInMora != 3 {
		t.Fatalf("store not updated: %+v", stored.Context)
	}
}

func TestHandlePassesPreTurnContextToGenerator(t *testing.T) {
	gen := &fakeGenerator{reply: "ok"}
	svc, store := newTestService(gen)
	s := store.Create(model.FinancialContext{AmountOwed: amount("100"), DaysInMora: 45})

	if _, err := svc.Handle(context.Background(), s.ID, "pago $40"); err != nil {
		t.Fatalf("Handle err: %v", err)
	}

	in := gen.inputs[0]
	if in.Query != "pago $40" || !in.Context.AmountOwed.Equal(amount("100")) || in.Context.DaysInMora != 45 {
		t.Fatalf("unexpected generator input: %+v", in)
	}
	if !gen.deadline {
		t.Fatal("expected generation to run under a deadline")
	}
}

func TestHandlePaymentFloorsAtZero(t *testing.T) {
	svc, store := newTestService(&fakeGenerator{reply: "ok"})
	s := store.Create(model.FinancialContext{AmountOwed: amount("100")})

	turn, err := svc.Handle(context.Background(), s.ID, "$500 pagado")
	if err != nil {
		t.Fatalf("Handle err: %v", err)
	}
	if !turn.Context.AmountOwed.IsZero() {
		t.Fatalf("expected zero balance, got %s", turn.Context.AmountOwed)
	}
}

func TestHandleWithoutPaymentLeavesBalance(t *testing.T) {
	svc, store := newTestService(&fakeGenerator{reply: "ok"})
	s := store.Create(model.FinancialContext{AmountOwed: amount("100"), DaysInMora: 2})

	turn, err := svc.Handle(context.Background(), s.ID, "No puedo pagar este mes")
	if err != nil {
		t.Fatalf("Handle err: %v", err)
	}
	if !turn.Context.AmountOwed.Equal(amount("100")) || turn.Context.DaysInMora != 2 {
		t.Fatalf("expected unchanged context, got %+v", turn.Context)
	}
}

func TestHandleUnknownSession(t *testing.T) {
	gen := &fakeGenerator{reply: "ok"}
	svc, _ := newTestService(gen)

	if _, err := svc.Handle(context.Background(), "missing", "hola"); !errors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if len(gen.inputs) != 0 {
		t.Fatal("generator must not run for unknown sessions")
	}
}

func TestHandleUnknownSessionReportedFirst(t *testing.T) {
	cases := []struct {
		name string
		gen  Generator
		text string
	}{
		{name: "no generator", gen: nil, text: "hola"},
		{name: "blank message", gen: &fakeGenerator{reply: "ok"}, text: "  "},
		{name: "no generator and blank message", gen: nil, text: ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := NewService(session.NewStore(), tc.gen, 0, nil)
			if _, err := svc.Handle(context.Background(), "missing", tc.text); !errors.Is(err, session.ErrSessionNotFound) {
				t.Fatalf("expected ErrSessionNotFound, got %v", err)
			}
			if _, err := svc.Stream(context.Background(), "missing", tc.text, nil); !errors.Is(err, session.ErrSessionNotFound) {
				t.Fatalf("stream: expected ErrSessionNotFound, got %v", err)
			}
		})
	}
}

func TestHandleGenerationFailureKeepsContext(t *testing.T) {
	svc, store := newTestService(&fakeGenerator{err: errors.New("upstream 503")})
	s := store.Create(model.FinancialContext{AmountOwed: amount("100")})

	_, err := svc.Handle(context.Background(), s.ID, "pago $40")
	if err == nil || errors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("expected generation error, got %v", err)
	}

	stored, _ := store.Get(s.ID)
	if !stored.Context.AmountOwed.Equal(amount("100")) {
		t.Fatalf("context changed after failure: %s", stored.Context.AmountOwed)
	}
}

func TestHandleRequiresMessage(t *testing.T) {
	svc, store := newTestService(&fakeGenerator{reply: "ok"})
	s := store.Create(model.FinancialContext{})

	if _, err := svc.Handle(context.Background(), s.ID, "   "); !errors.Is(err, ErrMessageRequired) {
		t.Fatalf("expected ErrMessageRequired, got %v", err)
	}
}

func TestHandleWithoutGenerator(t *testing.T) {
	store := session.NewStore()
	svc := NewService(store, nil, 0, nil)
	s := store.Create(model.FinancialContext{})

	if _, err := svc.Handle(context.Background(), s.ID, "hola"); !errors.Is(err, ErrGeneratorUnavailable) {
		t.Fatalf("expected ErrGeneratorUnavailable, got %v", err)
	}
}

func TestStartRunsGreetingTurn(t *testing.T) {
	gen := &fakeGenerator{reply: "Hola, veo una deuda de $1000.00."}
	svc, store := newTestService(gen)

	created, greeting, err := svc.Start(context.Background(), model.FinancialContext{AmountOwed: amount("1000"), DaysInMora: 10})
	if err != nil {
		t.Fatalf("Start err: %v", err)
	}

	if greeting != gen.reply {
		t.Fatalf("unexpected greeting: %q", greeting)
	}
	if gen.inputs[0].Query != ai.SessionStartedInput {
		t.Fatalf("unexpected greeting input: %q", gen.inputs[0].Query)
	}
	if _, err := store.Get(created.ID); err != nil {
		t.Fatalf("session not stored: %v", err)
	}
	if !created.Context.AmountOwed.Equal(amount("1000")) {
		t.Fatalf("greeting must not change balance, got %s", created.Context.AmountOwed)
	}
}

func TestStartThenChatEndToEnd(t *testing.T) {
	svc, _ := newTestService(&fakeGenerator{reply: "De acuerdo."})

	created, _, err := svc.Start(context.Background(), model.FinancialContext{AmountOwed: amount("1000"), DaysInMora: 10})
	if err != nil {
		t.Fatalf("Start err: %v", err)
	}

	turn, err := svc.Handle(context.Background(), created.ID, "Puedo pagar $200")
	if err != nil {
		t.Fatalf("Handle err: %v", err)
	}
	if !turn.Context.AmountOwed.Equal(amount("800")) || turn.Context.DaysInMora != 10 {
		t.Fatalf("expected 800 / 10, got %s / %d", turn.Context.AmountOwed, turn.Context.DaysInMora)
	}
}

func TestStreamForwardsDeltasAndAppliesPayment(t *testing.T) {
	gen := &fakeGenerator{reply: "Registro su abono de inmediato", streaming: true}
	svc, store := newTestService(gen)
	s := store.Create(model.FinancialContext{AmountOwed: amount("300"), DaysInMora: 1})

	var deltas []string
	turn, err := svc.Stream(context.Background(), s.ID, "abono $100", func(delta string) error {
		deltas = append(deltas, delta)
		return nil
	})
	if err != nil {
		t.Fatalf("Stream err: %v", err)
	}

	if len(deltas) != 5 || strings.Join(deltas, "") != gen.reply {
		t.Fatalf("unexpected deltas: %q", deltas)
	}
	if turn.Reply != gen.reply {
		t.Fatalf("unexpected reply: %q", turn.Reply)
	}
	if !turn.Context.AmountOwed.Equal(amount("200")) {
		t.Fatalf("expected 200 owed, got %s", turn.Context.AmountOwed)
	}
}

func TestStreamAbortsWhenClientFails(t *testing.T) {
	gen := &fakeGenerator{reply: "uno dos tres", streaming: true}
	svc, store := newTestService(gen)
	s := store.Create(model.FinancialContext{AmountOwed: amount("300")})

	_, err := svc.Stream(context.Background(), s.ID, "abono $100", func(string) error {
		return errors.New("client gone")
	})
	if err == nil {
		t.Fatal("expected error when delta delivery fails")
	}

	stored, _ := store.Get(s.ID)
	if !stored.Context.AmountOwed.Equal(amount("300")) {
		t.Fatalf("payment applied despite aborted stream: %s", stored.Context.AmountOwed)
	}
}

func TestStreamFallsBackToGenerate(t *testing.T) {
	gen := &fakeGenerator{reply: "respuesta completa"}
	svc, store := newTestService(gen)
	s := store.Create(model.FinancialContext{AmountOwed: amount("10")})

	var deltas []string
	if _, err := svc.Stream(context.Background(), s.ID, "hola", func(d string) error {
		deltas = append(deltas, d)
		return nil
	}); err != nil {
		t.Fatalf("Stream err: %v", err)
	}
	if len(deltas) != 1 || deltas[0] != gen.reply {
		t.Fatalf("expected single full delta, got %q", deltas)
	}
}

func TestUpdateContext(t *testing.T) {
	svc, store := newTestService(&fakeGenerator{})
	s := store.Create(model.FinancialContext{AmountOwed: amount("100"), DaysInMora: 5})

	days := -1
	updated, err := svc.UpdateContext(context.Background(), s.ID, model.ContextUpdate{DaysInMora: &days})
	if err != nil {
		t.Fatalf("UpdateContext err: %v", err)
	}
	if updated.DaysInMora != 0 || !updated.AmountOwed.Equal(amount("100")) {
		t.Fatalf("unexpected update result: %+v", updated)
	}

	if _, err := svc.UpdateContext(context.Background(), "missing", model.ContextUpdate{}); !errors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

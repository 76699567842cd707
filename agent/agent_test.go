package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/etnz/folio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

// fakeChat replies with scripted contents and records what it was sent.
type fakeChat struct {
	replies []*genai.Content
	sent    [][]*genai.Part
	err     error
}

func (c *fakeChat) Send(ctx context.Context, parts ...*genai.Part) (*genai.GenerateContentResponse, error) {
	c.sent = append(c.sent, parts)
	if c.err != nil {
		return nil, c.err
	}
	if len(c.replies) == 0 {
		return &genai.GenerateContentResponse{}, nil
	}
	reply := c.replies[0]
	c.replies = c.replies[1:]
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{Content: reply}}}, nil
}

func call(name string, args map[string]any) *genai.Content {
	return &genai.Content{Parts: []*genai.Part{{FunctionCall: &genai.FunctionCall{ID: "1", Name: name, Args: args}}}}
}

func say(text string) *genai.Content {
	return &genai.Content{Parts: []*genai.Part{{Text: text}}}
}

const aapl folio.ID = "US0378331005"

func testPortfolio() Portfolio {
	gw := folio.NewStaticGateway().
		SetTicker(aapl, "AAPL.US").
		SetPrice("AAPL.US", folio.MustParse("2024-06-28"), folio.M(20, "EUR"))
	l := folio.NewLedger("EUR")
	l.Append(folio.Transaction{
		Ref:        "buy",
		Instrument: aapl,
		Date:       folio.MustParse("2024-01-10"),
		Quantity:   folio.Q(10),
		Price:      folio.M(15, "EUR"),
		Fee:        folio.M(0, "EUR"),
	})
	market := folio.NewMarket(gw, "EUR", folio.MarketOptions{})
	return Portfolio{
		Engine: folio.NewEngine(market),
		Ledger: l,
		Rules:  folio.TaxRules{HoldingPeriod: folio.Span{Years: 3}, AnnualLimit: folio.M(100000, "CZK")},
	}
}

func TestComment(t *testing.T) {
	p := testPortfolio()
	chat := &fakeChat{replies: []*genai.Content{
		call("lots", map[string]any{"date": "2024-06-30"}),
		say("Your portfolio is **concentrated** in one stock."),
	}}
	analyst := NewAnalyst(p)
	analyst.Attach(chat)

	s, err := p.Engine.Evaluate(context.Background(), p.Ledger, folio.MustParse("2024-06-30"))
	require.NoError(t, err)

	text, err := Comment(context.Background(), analyst, s)
	require.NoError(t, err)
	assert.Equal(t, "Your portfolio is **concentrated** in one stock.", text)

	require.Len(t, chat.sent, 2)
	assert.Contains(t, chat.sent[0][0].Text, "Portfolio on 2024-06-30")

	resp := chat.sent[1][0].FunctionResponse
	require.NotNil(t, resp)
	assert.Equal(t, "lots", resp.Name)
	assert.Equal(t, "1", resp.ID)
	assert.Contains(t, resp.Response["output"], "Lots on 2024-06-30")
}

func TestFunctions(t *testing.T) {
	lib := NewLibrary(testPortfolio().Functions())
	ctx := context.Background()

	for _, name := range []string{"snapshot", "history", "tax", "lots"} {
		t.Run(name, func(t *testing.T) {
			resp := lib(ctx, &genai.FunctionCall{Name: name, Args: map[string]any{"date": "2024-06-30"}})
			assert.Equal(t, name, resp.Name)
			assert.NotEmpty(t, resp.Response["output"])
			assert.NotContains(t, resp.Response, "error")
		})
	}

	resp := lib(ctx, &genai.FunctionCall{Name: "snapshot", Args: map[string]any{"date": 12}})
	assert.Contains(t, resp.Response["error"], "not a string")

	resp = lib(ctx, &genai.FunctionCall{Name: "snapshot", Args: map[string]any{"date": "yesterday"}})
	assert.Contains(t, resp.Response["error"], "invalid date")

	resp = lib(ctx, &genai.FunctionCall{Name: "buy", Args: nil})
	assert.Contains(t, resp.Response["error"], "unknown function buy")
}

func TestExpert_Ask(t *testing.T) {
	ctx := context.Background()

	e := &Expert{Name: "test"}
	_, err := e.Ask(ctx, &genai.Part{Text: "hi"})
	assert.ErrorContains(t, err, "not started")

	e.Attach(&fakeChat{})
	_, err = e.Ask(ctx, &genai.Part{Text: "hi"})
	assert.ErrorContains(t, err, "no response")

	e.Attach(&fakeChat{replies: []*genai.Content{call("lots", nil)}})
	_, err = e.Ask(ctx, &genai.Part{Text: "hi"})
	assert.ErrorContains(t, err, "function calls")

	boom := errors.New("quota exceeded")
	e.Attach(&fakeChat{err: boom})
	_, err = e.Ask(ctx, &genai.Part{Text: "hi"})
	assert.ErrorIs(t, err, boom)

	looping := &fakeChat{}
	for range maxCalls + 1 {
		looping.replies = append(looping.replies, call("lots", nil))
	}
	e = NewAnalyst(testPortfolio())
	e.Attach(looping)
	_, err = e.Ask(ctx, &genai.Part{Text: "hi"})
	assert.ErrorContains(t, err, "more than")
	assert.Len(t, looping.sent, maxCalls+1)
}

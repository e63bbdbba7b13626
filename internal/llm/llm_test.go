package llm

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/jmoiron/sqlx"
	"github.com/psibackend/internal/credits"
	"github.com/psibackend/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRequest() DocumentRequest {
	return DocumentRequest{
		Template:         TemplateProgressNote,
		PatientName:      "Maria",
		PractitionerName: "Dra. Ana",
		LicenseNumber:    "06/12345",
		Source:           "Paciente relatou melhora do sono.",
	}
}

func TestBuildPromptIncludesFields(t *testing.T) {
	prompt, err := BuildPrompt(validRequest())
	require.NoError(t, err)

	assert.Contains(t, prompt, "Maria")
	assert.Contains(t, prompt, "Dra. Ana, CRP 06/12345")
	assert.Contains(t, prompt, "Paciente relatou melhora do sono.")
	assert.Contains(t, prompt, SourceTranscript)
}

func TestBuildPromptRejectsMissingFieldsAndUnknownTemplate(t *testing.T) {
	req := validRequest()
	req.PatientName = ""
	req.LicenseNumber = " "
	_, err := BuildPrompt(req)
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Contains(t, err.Error(), "crp, patientName")

	req = validRequest()
	req.Template = "poema"
	_, err = BuildPrompt(req)
	assert.ErrorIs(t, err, ErrUnknownTemplate)
}

func TestTemplatesSorted(t *testing.T) {
	assert.Equal(t, []string{"anamnese", "encaminhamento", "evolucao", "relatorio"}, Templates())
}

type fakeModel struct {
	text   string
	err    error
	calls  int
	prompt string
}

func (f *fakeModel) ID() string { return "anthropic.claude-3-haiku-20240307-v1:0" }

func (f *fakeModel) Generate(_ context.Context, _, prompt string) (*Completion, error) {
	f.calls++
	f.prompt = prompt
	if f.err != nil {
		return nil, f.err
	}
	return &Completion{Text: f.text, InputTokens: 1000, OutputTokens: 1000}, nil
}

type fakeLedger struct {
	balance int64
	debits  int
	refunds int
	order   []string
}

func (l *fakeLedger) Debit(_ context.Context, _ string, q int64, _ string) (int64, error) {
	l.order = append(l.order, "debit")
	if l.balance < q {
		return 0, credits.ErrInsufficientCredits
	}
	l.balance -= q
	l.debits++
	return l.balance, nil
}

func (l *fakeLedger) Credit(_ context.Context, _ string, q int64, reason, _ string) (int64, error) {
	l.order = append(l.order, "credit:"+reason)
	l.balance += q
	l.refunds++
	return l.balance, nil
}

func TestGenerateDebitsBeforeModelAndReturnsTextVerbatim(t *testing.T) {
	model := &fakeModel{text: "  Evolução: paciente estável.\n"}
	ledger := &fakeLedger{balance: 3}
	svc := NewDocumentService(model, ledger, 1, logging.Discard())

	doc, err := svc.Generate(context.Background(), "p1", validRequest())
	require.NoError(t, err)

	assert.Equal(t, "  Evolução: paciente estável.\n", doc.Text)
	assert.Equal(t, int64(2), doc.CreditsRemaining)
	assert.InDelta(t, 0.0015, doc.EstimatedCostUSD, 1e-9)
	assert.Equal(t, []string{"debit"}, ledger.order)
	assert.Equal(t, 1, model.calls)
}

func TestGenerateInsufficientCreditsNeverCallsModel(t *testing.T) {
	model := &fakeModel{text: "x"}
	ledger := &fakeLedger{balance: 0}
	svc := NewDocumentService(model, ledger, 1, logging.Discard())

	_, err := svc.Generate(context.Background(), "p1", validRequest())
	assert.ErrorIs(t, err, credits.ErrInsufficientCredits)
	assert.Zero(t, model.calls)
}

func TestGenerateRefundsOnModelFailure(t *testing.T) {
	model := &fakeModel{err: errors.New("throttled")}
	ledger := &fakeLedger{balance: 2}
	svc := NewDocumentService(model, ledger, 1, logging.Discard())

	_, err := svc.Generate(context.Background(), "p1", validRequest())
	assert.ErrorIs(t, err, ErrUpstream)
	assert.Equal(t, int64(2), ledger.balance)
	assert.Equal(t, []string{"debit", "credit:" + credits.ReasonRefund}, ledger.order)
}

// deadlineModel fails the way a Lambda timeout does: the request context is
// gone by the time the model returns.
type deadlineModel struct {
	cancel context.CancelFunc
}

func (m *deadlineModel) ID() string { return "m" }

func (m *deadlineModel) Generate(ctx context.Context, _, _ string) (*Completion, error) {
	m.cancel()
	return nil, ctx.Err()
}

func TestGenerateRefundsAfterRequestContextEnds(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()
	ledger := credits.NewLedger(credits.NewPostgresStore(sqlx.NewDb(conn, "sqlmock")), logging.Discard())

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE psychologists`).
		WithArgs("p1", int64(-1)).
		WillReturnRows(sqlmock.NewRows([]string{"credits"}).AddRow(int64(4)))
	mock.ExpectExec(`INSERT INTO credit_transactions`).
		WithArgs(sqlmock.AnyArg(), "p1", int64(-1), int64(4), credits.ReasonGeneration, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE psychologists`).
		WithArgs("p1", int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"credits"}).AddRow(int64(5)))
	mock.ExpectExec(`INSERT INTO credit_transactions`).
		WithArgs(sqlmock.AnyArg(), "p1", int64(1), int64(5), credits.ReasonRefund, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc := NewDocumentService(&deadlineModel{cancel: cancel}, ledger, 1, logging.Discard())

	_, err = svc.Generate(ctx, "p1", validRequest())
	assert.ErrorIs(t, err, ErrUpstream)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGenerateInvalidRequestTouchesNothing(t *testing.T) {
	model := &fakeModel{text: "x"}
	ledger := &fakeLedger{balance: 2}
	svc := NewDocumentService(model, ledger, 1, logging.Discard())

	req := validRequest()
	req.Source = ""
	_, err := svc.Generate(context.Background(), "p1", req)
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Empty(t, ledger.order)
	assert.Zero(t, model.calls)
}

type fakeInvoker struct {
	in   *bedrockruntime.InvokeModelInput
	body string
	err  error
}

func (f *fakeInvoker) InvokeModel(_ context.Context, in *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.in = in
	if f.err != nil {
		return nil, f.err
	}
	return &bedrockruntime.InvokeModelOutput{Body: []byte(f.body)}, nil
}

func TestBedrockModelEncodesMessagesAndJoinsText(t *testing.T) {
	inv := &fakeInvoker{body: `{"content":[{"type":"text","text":"Olá, "},{"type":"text","text":"mundo"}],"usage":{"input_tokens":12,"output_tokens":3}}`}
	m := &BedrockModel{client: inv, modelID: "anthropic.claude-3-haiku-20240307-v1:0", maxTokens: 256}

	c, err := m.Generate(context.Background(), "sys", "prompt")
	require.NoError(t, err)
	assert.Equal(t, "Olá, mundo", c.Text)
	assert.Equal(t, 12, c.InputTokens)
	assert.Equal(t, 3, c.OutputTokens)

	assert.Equal(t, "anthropic.claude-3-haiku-20240307-v1:0", aws.ToString(inv.in.ModelId))
	var sent anthropicRequest
	require.NoError(t, json.Unmarshal(inv.in.Body, &sent))
	assert.Equal(t, anthropicVersion, sent.AnthropicVersion)
	assert.Equal(t, 256, sent.MaxTokens)
	assert.Equal(t, "sys", sent.System)
	require.Len(t, sent.Messages, 1)
	assert.Equal(t, "prompt", sent.Messages[0].Content[0].Text)
}

func TestBedrockModelErrors(t *testing.T) {
	m := &BedrockModel{client: &fakeInvoker{err: errors.New("denied")}, modelID: "m", maxTokens: 1}
	_, err := m.Generate(context.Background(), "", "p")
	assert.Error(t, err)

	m.client = &fakeInvoker{body: `{"content":[]}`}
	_, err = m.Generate(context.Background(), "", "p")
	assert.Error(t, err)
}

func TestEstimateLLMCost(t *testing.T) {
	assert.InDelta(t, 0.018, EstimateLLMCost(1000, 1000, "anthropic.claude-3-sonnet-20240229-v1:0"), 1e-9)
	assert.InDelta(t, 0.018, EstimateLLMCost(1000, 1000, "unknown"), 1e-9)
	assert.InDelta(t, 0.09, EstimateLLMCost(1000, 1000, "anthropic.claude-3-opus-20240229-v1:0"), 1e-9)
}

package graph_test

import (
	"context"
	"testing"

	"github.com/habiliai/agentmemory/config"
	"github.com/habiliai/agentmemory/credit"
	"github.com/habiliai/agentmemory/errors"
	"github.com/habiliai/agentmemory/graph"
	"github.com/habiliai/agentmemory/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedCompleter struct {
	responses []*llm.CompletionResult
	errs      []error
	requests  []llm.CompletionRequest
}

func (c *scriptedCompleter) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResult, error) {
	i := len(c.requests)
	c.requests = append(c.requests, req)
	if i < len(c.errs) && c.errs[i] != nil {
		return nil, c.errs[i]
	}
	return c.responses[i], nil
}

type recordingReservation struct {
	settledUnits  *int64
	refunded      bool
	verifications int
}

func (r *recordingReservation) ID() string           { return "res-1" }
func (r *recordingReservation) ReservedUnits() int64 { return 100 }

func (r *recordingReservation) Settle(_ context.Context, actualUnits int64) error {
	r.settledUnits = &actualUnits
	return nil
}

func (r *recordingReservation) Refund(context.Context) error {
	r.refunded = true
	return nil
}

func (r *recordingReservation) EnqueueVerification(context.Context) error {
	r.verifications++
	return nil
}

type recordingLedger struct {
	reservations []*recordingReservation
}

func (l *recordingLedger) Reserve(context.Context, string, credit.Kind, int64) (credit.Reservation, error) {
	r := &recordingReservation{}
	l.reservations = append(l.reservations, r)
	return r, nil
}

func newTestExtractionService(completer llm.Completer) *graph.ExtractionService {
	return graph.NewExtractionService(
		completer,
		&config.ModelConfig{ExtractionModel: "gpt-4o-mini"},
		&config.MemoryConfig{},
		discardLogger(),
	)
}

const validOutput = `{"summary": "User talked about frontend preferences.", "memory_operations": [{"operation": "ADD", "subject": "User", "predicate": "likes", "object": "React", "confidence": 0.9}]}`

func TestExtractionService_ValidFirstAttempt(t *testing.T) {
	completer := &scriptedCompleter{
		responses: []*llm.CompletionResult{{
			Text:       validOutput,
			Usage:      llm.Usage{InputTokens: 100, OutputTokens: 20, TotalTokens: 120},
			UsageKnown: true,
		}},
	}
	svc := newTestExtractionService(completer)

	result, err := svc.ExtractConversationMemory(t.Context(), graph.ExtractParams{
		WorkspaceID:      "ws-1",
		AgentID:          "agent-1",
		ConversationText: "user: I love React",
	})
	require.NoError(t, err)
	require.Len(t, completer.requests, 1)

	assert.Equal(t, "User talked about frontend preferences.", result.Summary)
	require.Len(t, result.MemoryOperations, 1)
	assert.Equal(t, graph.OpAdd, result.MemoryOperations[0].Operation)
	assert.EqualValues(t, 120, result.Usage.TotalTokens)

	req := completer.requests[0]
	assert.Equal(t, "gpt-4o-mini", req.Model)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "user: I love React", req.Messages[0].Content)
}

func TestExtractionService_RepairsMalformedOutput(t *testing.T) {
	completer := &scriptedCompleter{
		responses: []*llm.CompletionResult{
			{Text: "Sure! Here are the facts I found.", Usage: llm.Usage{TotalTokens: 50}, UsageKnown: true},
			{Text: "```json\n" + validOutput + "\n```", Usage: llm.Usage{TotalTokens: 70}, UsageKnown: true},
		},
	}
	svc := newTestExtractionService(completer)

	result, err := svc.ExtractConversationMemory(t.Context(), graph.ExtractParams{
		WorkspaceID:      "ws-1",
		AgentID:          "agent-1",
		ConversationText: "user: I love React",
	})
	require.NoError(t, err)
	require.Len(t, completer.requests, 2)

	// The repair round carries the raw output and the parse error back.
	repairReq := completer.requests[1]
	require.Len(t, repairReq.Messages, 3)
	assert.Equal(t, llm.RoleAssistant, repairReq.Messages[1].Role)
	assert.Equal(t, "Sure! Here are the facts I found.", repairReq.Messages[1].Content)
	assert.Contains(t, repairReq.Messages[2].Content, "could not be parsed")

	require.Len(t, result.MemoryOperations, 1)
	assert.EqualValues(t, 120, result.Usage.TotalTokens, "usage sums both attempts")
}

func TestExtractionService_SecondFailureAborts(t *testing.T) {
	completer := &scriptedCompleter{
		responses: []*llm.CompletionResult{
			{Text: "not json", UsageKnown: true},
			{Text: "still not json", UsageKnown: true},
		},
	}
	svc := newTestExtractionService(completer)

	_, err := svc.ExtractConversationMemory(t.Context(), graph.ExtractParams{
		WorkspaceID:      "ws-1",
		AgentID:          "agent-1",
		ConversationText: "user: hello",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrExtractionFailed)
	assert.Len(t, completer.requests, 2, "exactly one repair round, never more")
}

func TestExtractionService_EmptyConversation(t *testing.T) {
	svc := newTestExtractionService(&scriptedCompleter{})

	_, err := svc.ExtractConversationMemory(t.Context(), graph.ExtractParams{
		WorkspaceID:      "ws-1",
		AgentID:          "agent-1",
		ConversationText: "   ",
	})
	assert.ErrorIs(t, err, errors.ErrInvalidParams)
}

func TestExtractionService_NoCompleter(t *testing.T) {
	svc := newTestExtractionService(nil)

	_, err := svc.ExtractConversationMemory(t.Context(), graph.ExtractParams{
		WorkspaceID:      "ws-1",
		AgentID:          "agent-1",
		ConversationText: "user: hi",
	})
	assert.ErrorIs(t, err, errors.ErrNoCompletionProvider)
}

func TestExtractionService_SettlesCreditsPerAttempt(t *testing.T) {
	completer := &scriptedCompleter{
		responses: []*llm.CompletionResult{
			{Text: "garbage", Usage: llm.Usage{TotalTokens: 30}, UsageKnown: true},
			{Text: validOutput, Usage: llm.Usage{TotalTokens: 90}, UsageKnown: true},
		},
	}
	svc := newTestExtractionService(completer)

	ledger := &recordingLedger{}
	_, err := svc.ExtractConversationMemory(t.Context(), graph.ExtractParams{
		WorkspaceID:      "ws-1",
		AgentID:          "agent-1",
		ConversationText: "user: I love React",
		Credits:          ledger,
	})
	require.NoError(t, err)

	// Each attempt holds and settles its own reservation.
	require.Len(t, ledger.reservations, 2)
	require.NotNil(t, ledger.reservations[0].settledUnits)
	assert.EqualValues(t, 30, *ledger.reservations[0].settledUnits)
	require.NotNil(t, ledger.reservations[1].settledUnits)
	assert.EqualValues(t, 90, *ledger.reservations[1].settledUnits)
}

func TestExtractionService_TransportErrorEnqueuesVerification(t *testing.T) {
	completer := &scriptedCompleter{
		responses: []*llm.CompletionResult{nil},
		errs:      []error{errors.New("connection reset")},
	}
	svc := newTestExtractionService(completer)

	ledger := &recordingLedger{}
	_, err := svc.ExtractConversationMemory(t.Context(), graph.ExtractParams{
		WorkspaceID:      "ws-1",
		AgentID:          "agent-1",
		ConversationText: "user: hi",
		Credits:          ledger,
	})
	require.Error(t, err)

	// Whether the call consumed tokens is unknowable here, so the hold goes
	// to out-of-band verification instead of a refund.
	require.Len(t, ledger.reservations, 1)
	assert.Equal(t, 1, ledger.reservations[0].verifications)
	assert.False(t, ledger.reservations[0].refunded)
}

func TestExtractionService_CancelledBeforeCallRefunds(t *testing.T) {
	completer := &scriptedCompleter{}
	svc := newTestExtractionService(completer)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	ledger := &recordingLedger{}
	_, err := svc.ExtractConversationMemory(ctx, graph.ExtractParams{
		WorkspaceID:      "ws-1",
		AgentID:          "agent-1",
		ConversationText: "user: hi",
		Credits:          ledger,
	})
	require.Error(t, err)
	assert.Empty(t, completer.requests, "the model was never called")

	require.Len(t, ledger.reservations, 1)
	assert.True(t, ledger.reservations[0].refunded)
}

func TestParseExtractionResult(t *testing.T) {
	result, err := graph.ParseExtractionResult(`{"summary": "nothing durable", "memory_operations": null}`)
	require.NoError(t, err)
	assert.Equal(t, "nothing durable", result.Summary)
	assert.NotNil(t, result.MemoryOperations)
	assert.Empty(t, result.MemoryOperations)

	// Unknown fields are a schema violation, not silently dropped.
	_, err = graph.ParseExtractionResult(`{"summary": "s", "memory_operations": [], "entities": []}`)
	assert.Error(t, err)

	// Invalid operations fail the parse so the repair round can fix them.
	_, err = graph.ParseExtractionResult(`{"summary": "s", "memory_operations": [{"operation": "MERGE", "subject": "a", "predicate": "b", "object": "c"}]}`)
	assert.Error(t, err)

	result, err = graph.ParseExtractionResult("```json\n" + `{"summary": "fenced", "memory_operations": []}` + "\n```")
	require.NoError(t, err)
	assert.Equal(t, "fenced", result.Summary)
}

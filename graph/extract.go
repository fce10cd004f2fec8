package graph

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/habiliai/agentmemory/config"
	"github.com/habiliai/agentmemory/credit"
	"github.com/habiliai/agentmemory/errors"
	"github.com/habiliai/agentmemory/llm"
)

type (
	ExtractParams struct {
		WorkspaceID      string
		AgentID          string
		ConversationID   string
		ConversationText string

		// ModelName overrides the configured extraction model.
		ModelName string
		// Prompt overrides the configured base prompt.
		Prompt string

		// Credits enables credit accounting around the completion calls.
		Credits credit.Ledger
	}

	ExtractionResult struct {
		Summary          string            `json:"summary"`
		MemoryOperations []MemoryOperation `json:"memory_operations"`

		Usage llm.Usage `json:"-"`
	}

	// ExtractionService turns conversation text into graph operations plus a
	// summary, with one bounded self-repair retry on malformed output.
	ExtractionService struct {
		completer llm.Completer
		modelConf *config.ModelConfig

		basePrompt string
		timeout    time.Duration

		logger *slog.Logger
	}

	// attemptOutcome is one transition of the Attempt -> Repair -> Failed
	// machine. Each attempt owns its own credit-reservation lifecycle.
	attemptOutcome struct {
		result   *ExtractionResult
		raw      string
		usage    llm.Usage
		parseErr error
	}
)

const defaultExtractionPrompt = `You maintain an agent's long-term memory as subject-predicate-object facts.
Read the conversation and extract durable knowledge about the user, their
preferences, decisions, and relationships. Emit one memory operation per fact:
ADD for new facts, UPDATE when a fact replaces earlier values of the same
subject and predicate, DELETE when the conversation invalidates a fact.`

const summaryInstruction = `Respond with JSON only, matching exactly:
{"summary": "<one-paragraph summary of the conversation>", "memory_operations": [{"operation": "ADD|UPDATE|DELETE", "subject": "...", "predicate": "...", "object": "...", "confidence": 0.0-1.0}]}
The "summary" field is required even when there are no memory operations.`

func NewExtractionService(completer llm.Completer, modelConf *config.ModelConfig, memConf *config.MemoryConfig, logger *slog.Logger) *ExtractionService {
	basePrompt := memConf.ExtractionPrompt
	if basePrompt == "" {
		basePrompt = defaultExtractionPrompt
	}

	return &ExtractionService{
		completer:  completer,
		modelConf:  modelConf,
		basePrompt: basePrompt,
		timeout:    2 * time.Minute,
		logger:     logger,
	}
}

// ExtractConversationMemory drives the completion model and parses its output
// against the strict {summary, memory_operations} schema. A malformed
// response gets exactly one repair round-trip; a second failure aborts the
// extraction.
func (s *ExtractionService) ExtractConversationMemory(ctx context.Context, params ExtractParams) (*ExtractionResult, error) {
	if strings.TrimSpace(params.ConversationText) == "" {
		return nil, errors.Wrapf(errors.ErrInvalidParams, "conversation text must not be empty")
	}

	systemPrompt := s.basePrompt
	if params.Prompt != "" {
		systemPrompt = params.Prompt
	}
	systemPrompt = systemPrompt + "\n\n" + summaryInstruction

	model := params.ModelName
	if model == "" {
		model = s.modelConf.ExtractionModel
	}

	// Attempt state.
	outcome, err := s.attempt(ctx, params, llm.CompletionRequest{
		Model:  model,
		System: systemPrompt,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: params.ConversationText},
		},
	})
	if err != nil {
		return nil, err
	}
	if outcome.parseErr == nil {
		outcome.result.Usage = outcome.usage
		return outcome.result, nil
	}

	s.logger.Warn("extraction output malformed, attempting one repair",
		slog.String("conversationId", params.ConversationID),
		slog.Any("error", outcome.parseErr),
	)

	// Repair state: re-prompt with the parse error and the raw output,
	// asking for corrected JSON only.
	repair, err := s.attempt(ctx, params, llm.CompletionRequest{
		Model:  model,
		System: systemPrompt,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: params.ConversationText},
			{Role: llm.RoleAssistant, Content: outcome.raw},
			{Role: llm.RoleUser, Content: "Your previous response could not be parsed: " + outcome.parseErr.Error() + "\nRespond with the corrected JSON only. No prose, no code fences."},
		},
	})
	if err != nil {
		return nil, err
	}
	if repair.parseErr != nil {
		// Failed state.
		return nil, errors.Wrapf(errors.ErrExtractionFailed, "repair attempt still malformed: %v", repair.parseErr)
	}

	repair.result.Usage = llm.Usage{
		InputTokens:  outcome.usage.InputTokens + repair.usage.InputTokens,
		OutputTokens: outcome.usage.OutputTokens + repair.usage.OutputTokens,
		TotalTokens:  outcome.usage.TotalTokens + repair.usage.TotalTokens,
	}
	return repair.result, nil
}

// attempt runs one completion call bracketed by its own credit reservation:
// settle to actual usage on success, refund when the failure preceded the
// model call, enqueue async verification when usage is unknown.
func (s *ExtractionService) attempt(ctx context.Context, params ExtractParams, req llm.CompletionRequest) (*attemptOutcome, error) {
	if s.completer == nil {
		return nil, errors.WithStack(errors.ErrNoCompletionProvider)
	}

	var reservation credit.Reservation
	if params.Credits != nil {
		estimate := credit.EstimateTextUnits(req.System)
		for _, msg := range req.Messages {
			estimate += credit.EstimateTextUnits(msg.Content)
		}

		var err error
		reservation, err = params.Credits.Reserve(ctx, params.WorkspaceID, credit.KindCompletion, estimate)
		if err != nil {
			return nil, err
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	// Failure before the model was attempted: no tokens could have been
	// consumed, so the full hold is refunded.
	if err := ctx.Err(); err != nil {
		if reservation != nil {
			if rErr := reservation.Refund(ctx); rErr != nil {
				s.logger.Warn("failed to refund completion reservation", slog.Any("error", rErr))
			}
		}
		return nil, errors.Wrapf(err, "extraction cancelled before model call")
	}

	resp, err := s.completer.Complete(callCtx, req)
	if err != nil {
		// The call may or may not have consumed tokens; only an out-of-band
		// check can tell, so the reservation goes to verification instead of
		// a blind refund.
		if reservation != nil {
			if vErr := reservation.EnqueueVerification(ctx); vErr != nil {
				s.logger.Warn("failed to enqueue cost verification", slog.Any("error", vErr))
			}
		}
		return nil, err
	}

	if reservation != nil {
		if resp.UsageKnown {
			if err := reservation.Settle(ctx, resp.Usage.TotalTokens); err != nil {
				s.logger.Warn("failed to settle completion reservation", slog.Any("error", err))
			}
		} else if err := reservation.EnqueueVerification(ctx); err != nil {
			s.logger.Warn("failed to enqueue cost verification", slog.Any("error", err))
		}
	}

	outcome := &attemptOutcome{raw: resp.Text, usage: resp.Usage}
	outcome.result, outcome.parseErr = ParseExtractionResult(resp.Text)
	return outcome, nil
}

// ParseExtractionResult parses raw model output against the strict
// {summary, memory_operations} schema, normalizing every operation.
func ParseExtractionResult(raw string) (*ExtractionResult, error) {
	text := stripCodeFences(raw)

	decoder := json.NewDecoder(strings.NewReader(text))
	decoder.DisallowUnknownFields()

	var result ExtractionResult
	if err := decoder.Decode(&result); err != nil {
		return nil, errors.Wrapf(err, "output is not valid extraction JSON")
	}

	for i := range result.MemoryOperations {
		if err := result.MemoryOperations[i].Normalize(); err != nil {
			return nil, errors.Wrapf(err, "memory_operations[%d]", i)
		}
	}
	if result.MemoryOperations == nil {
		result.MemoryOperations = []MemoryOperation{}
	}

	return &result, nil
}

func stripCodeFences(raw string) string {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "```") {
		if idx := strings.Index(text, "\n"); idx >= 0 {
			text = text[idx+1:]
		}
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}
	return strings.TrimSpace(text)
}

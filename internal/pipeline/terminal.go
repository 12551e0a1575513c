package pipeline

import (
	"context"

	"silexa/triagebot/internal/chat"
	"silexa/triagebot/internal/errs"
	"silexa/triagebot/internal/issue"
	"silexa/triagebot/internal/llm"
)

// settleReactions implements §4.7's reaction discipline: remove
// processing_reaction, then add complete_reaction or error_reaction.
// Reaction failures are logged but never change the Result.
func (h *Handler) settleReactions(ctx context.Context, correlationID string, msg chat.Message, success bool) {
	if err := h.chat.RemoveReaction(ctx, msg.ChannelID, msg.MessageID, h.cfg.ProcessingReaction); err != nil {
		h.logEvent(correlationID, "reaction_failed", map[string]any{"reaction": h.cfg.ProcessingReaction, "action": "remove", "error": err.Error()})
	}
	final := h.cfg.ErrorReaction
	if success {
		final = h.cfg.CompleteReaction
	}
	if final == "" {
		return
	}
	if err := h.chat.AddReaction(ctx, msg.ChannelID, msg.MessageID, final); err != nil {
		h.logEvent(correlationID, "reaction_failed", map[string]any{"reaction": final, "action": "add", "error": err.Error()})
	}
}

// finishSilent is the DONE_SILENT terminal path: remove the processing
// reaction and add nothing else, with no reply sent.
func (h *Handler) finishSilent(ctx context.Context, correlationID string, msg chat.Message, result Result) Result {
	if err := h.chat.RemoveReaction(ctx, msg.ChannelID, msg.MessageID, h.cfg.ProcessingReaction); err != nil {
		h.logEvent(correlationID, "reaction_failed", map[string]any{"reaction": h.cfg.ProcessingReaction, "action": "remove", "error": err.Error()})
	}
	h.logEvent(correlationID, "pipeline_terminal", map[string]any{"result": string(result)})
	return result
}

func (h *Handler) finishLink(ctx context.Context, correlationID string, msg chat.Message, match issue.Match) Result {
	text := formatLinkReply(match.Issue, match.Reasons)
	if err := h.chat.SendReply(ctx, msg.ChannelID, text, msg.ThreadID); err != nil {
		h.logEvent(correlationID, "reply_failed", map[string]any{"error": err.Error()})
	}
	h.settleReactions(ctx, correlationID, msg, true)
	h.logEvent(correlationID, "pipeline_terminal", map[string]any{"result": string(ResultExistingIssueLinked), "issue": match.Issue.Number})
	return ResultExistingIssueLinked
}

func (h *Handler) finishNew(ctx context.Context, correlationID string, msg chat.Message, created issue.Issue, analysis llm.ErrorAnalysis) Result {
	text := formatNewReply(created, analysis)
	if err := h.chat.SendReply(ctx, msg.ChannelID, text, msg.ThreadID); err != nil {
		h.logEvent(correlationID, "reply_failed", map[string]any{"error": err.Error()})
	}
	h.settleReactions(ctx, correlationID, msg, true)
	h.logEvent(correlationID, "pipeline_terminal", map[string]any{"result": string(ResultNewIssueCreated), "issue": created.Number})
	return ResultNewIssueCreated
}

// finishError is the REPLYING_ERROR terminal path: a correlation-id-only
// reply to the user, full detail to the structured log only, per §7.
func (h *Handler) finishError(ctx context.Context, correlationID string, msg chat.Message, cause error) Result {
	kind := errs.KindOf(cause)
	if ctx.Err() == context.DeadlineExceeded {
		kind = errs.KindTimedOut
	}
	h.logEvent(correlationID, "pipeline_error", map[string]any{"kind": string(kind), "error": cause.Error()})

	text := formatErrorReply(kind, correlationID)
	if err := h.chat.SendReply(ctx, msg.ChannelID, text, msg.ThreadID); err != nil {
		h.logEvent(correlationID, "reply_failed", map[string]any{"error": err.Error()})
	}
	h.settleReactions(ctx, correlationID, msg, false)
	h.logEvent(correlationID, "pipeline_terminal", map[string]any{"result": string(ResultError)})
	return ResultError
}

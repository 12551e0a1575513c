package pipeline

import (
	"fmt"
	"strings"

	"silexa/triagebot/internal/errs"
	"silexa/triagebot/internal/issue"
	"silexa/triagebot/internal/llm"
)

// severityBadge renders a one-glyph badge per §4.7's "severity badge"
// reply requirement.
func severityBadge(s llm.Severity) string {
	switch s {
	case llm.SeverityCritical:
		return "🔴 critical"
	case llm.SeverityHigh:
		return "🟠 high"
	case llm.SeverityMedium:
		return "🟡 medium"
	case llm.SeverityLow:
		return "🟢 low"
	default:
		return string(s)
	}
}

// formatLinkReply builds the link-path reply: issue URL, title, state,
// and the matcher's top reasons, mirroring the line-joined message shape
// in agents/telegram-bot/main.go's handleHumanTask.
func formatLinkReply(iss issue.Issue, reasons []string) string {
	lines := []string{
		"🔗 Matches an existing issue",
		fmt.Sprintf("#%d %s", iss.Number, iss.Title),
		string(iss.State) + " — " + iss.URL,
	}
	if len(reasons) > 0 {
		lines = append(lines, "Why: "+strings.Join(reasons, "; "))
	}
	return strings.Join(lines, "\n")
}

// formatNewReply builds the new-issue-path reply: issue URL, generated
// title, one-line root cause, and a severity badge.
func formatNewReply(iss issue.Issue, analysis llm.ErrorAnalysis) string {
	lines := []string{
		"🐞 Filed a new issue",
		fmt.Sprintf("#%d %s", iss.Number, iss.Title),
		iss.URL,
		"Root cause: " + analysis.RootCause,
		"Severity: " + severityBadge(analysis.Severity),
	}
	return strings.Join(lines, "\n")
}

// errorCategory maps a fault Kind to the user-safe category phrase §7
// calls for ("couldn't parse traceback", "couldn't reach issue service",
// "internal error — see logs") — category only, never the underlying
// message, stack, or external-service body.
func errorCategory(kind errs.Kind) string {
	switch kind {
	case errs.KindParseError:
		return "couldn't parse traceback"
	case errs.KindInvalidInput:
		return "received invalid input"
	case errs.KindPolicyViolation:
		return "blocked by repository policy"
	case errs.KindAuthentication:
		return "couldn't authenticate with an external service"
	case errs.KindPermission:
		return "was denied permission by an external service"
	case errs.KindNotFound:
		return "couldn't find the requested resource"
	case errs.KindRateLimit:
		return "was rate-limited by an external service"
	case errs.KindCommandTimeout, errs.KindTimedOut:
		return "timed out"
	case errs.KindNetworkError:
		return "couldn't reach issue service"
	case errs.KindCommandFailure:
		return "failed running a local command"
	case errs.KindCloneTooLarge:
		return "couldn't analyze the repository (too large)"
	case errs.KindPathTraversal:
		return "rejected an unsafe file path"
	case errs.KindTokenBudgetExceeded:
		return "exceeded the code-context budget"
	case errs.KindRedactionFailure:
		return "internal error — see logs"
	case errs.KindLLMOutputInvalid:
		return "received an invalid response from the assistant"
	case errs.KindPromptInjectionSuspected:
		return "rejected a suspected prompt injection"
	case errs.KindCancelled:
		return "was cancelled"
	default:
		return "internal error — see logs"
	}
}

// formatErrorReply builds the user-safe error-path reply: category only,
// no stack trace, no secrets, plus a correlation id the operator can grep
// the structured log for, per §4.7/§7's error reply requirement.
func formatErrorReply(kind errs.Kind, correlationID string) string {
	return fmt.Sprintf("⚠️ %s. Reference: %s", errorCategory(kind), correlationID)
}

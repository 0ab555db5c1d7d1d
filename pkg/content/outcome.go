package content

import (
	"fmt"
	"strings"

	"github.com/questbridge/bot/pkg/entity"
	"github.com/questbridge/bot/pkg/entry"
)

// OutcomeMessage renders the ephemeral reply for a finished pipeline run.
func OutcomeMessage(kind entity.Kind, res *entry.Result) string {
	switch res.Outcome {
	case entry.OutcomeAccepted:
		if kind == entity.KindAllowlist {
			return "🎉 You're in! Your entry has been recorded."
		}
		if res.Points > 0 {
			return fmt.Sprintf("✅ Task complete! **+%d points**", res.Points)
		}
		return "✅ Task complete!"
	case entry.OutcomePendingReview:
		return "📨 Submitted for review. You'll be credited once it's approved."
	case entry.OutcomeAlreadyEntered:
		if kind == entity.KindAllowlist {
			return "🎉 You're already entered. No need to enter again."
		}
		return "✅ You've already completed this task."
	case entry.OutcomeRateLimited:
		return "⏳ Too many attempts. Give it a few minutes and try again."
	case entry.OutcomeAccountNotLinked:
		msg := "🔗 You need to link your account first."
		if res.GuidanceURL != "" {
			msg += fmt.Sprintf("\nLink it here: %s", res.GuidanceURL)
		}
		return msg
	case entry.OutcomeConnectionInactive:
		return "This post is no longer active."
	case entry.OutcomeNotEligible:
		return "❌ You're not eligible:\n" + bulletList(res.Reasons)
	case entry.OutcomeRequirementsUnmet:
		return "❌ Some requirements aren't met:\n" + bulletList(res.Reasons)
	case entry.OutcomeTimeout:
		return "⏱️ That took too long on our side. Nothing was recorded — please try again."
	default:
		return "Something went wrong on our side. Please try again."
	}
}

func bulletList(items []string) string {
	if len(items) == 0 {
		return "• requirement check failed"
	}
	var b strings.Builder
	for _, item := range items {
		b.WriteString("• ")
		b.WriteString(item)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

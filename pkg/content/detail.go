package content

import (
	"fmt"
	"strings"

	"github.com/questbridge/bot/pkg/entity"
)

// RequirementStatus is one row of the requirements detail view.
type RequirementStatus struct {
	Requirement entity.Requirement
	Met         bool
	Pending     bool
	Checked     bool
	Reason      string
}

// DetailMessage renders the ephemeral requirements checklist for one post.
func DetailMessage(e *entity.Entity, rows []RequirementStatus, linked bool, linkURL string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**%s** requirements:\n", e.Title)

	if len(rows) == 0 {
		b.WriteString("No requirements. Just hit the button.\n")
	}
	for _, row := range rows {
		mark := "❌"
		switch {
		case !row.Checked:
			mark = "▫️"
		case row.Pending:
			mark = "⏳"
		case row.Met:
			mark = "✅"
		}
		fmt.Fprintf(&b, "%s %s", mark, row.Requirement.Label)
		if row.Requirement.Optional {
			b.WriteString(" *(optional)*")
		}
		if row.Reason != "" && !row.Met {
			fmt.Fprintf(&b, " (%s)", row.Reason)
		}
		b.WriteString("\n")
	}

	if !linked {
		b.WriteString("\nYour account is not linked yet")
		if linkURL != "" {
			fmt.Fprintf(&b, ": link it at %s", linkURL)
		}
		b.WriteString(".")
	}
	return b.String()
}

package compaction

import (
	"strings"
)

// progressiveSummaryPrompt asks the model to fold new lines into the
// running summary.
const progressiveSummaryPrompt = `Progressively summarize the lines of conversation provided, adding onto the previous summary returning a new summary. If the lines are meaningless just return NONE

EXAMPLE
Current summary:
The human asks what the AI thinks of artificial intelligence. The AI thinks artificial intelligence is a force for good.
New lines of conversation:
Human: Why do you think artificial intelligence is a force for good?
AI: Because artificial intelligence will help humans reach their full potential.
New summary:
The human asks what the AI thinks of artificial intelligence. The AI thinks artificial intelligence is a force for good because it will help humans reach their full potential.
END OF EXAMPLE

Current summary:
%SUMMARY%
New lines of conversation:
%LINES%
New summary:
`

// buildSummaryPrompt embeds the running summary and the chunk lines.
func buildSummaryPrompt(summary string, lines []string) string {
	r := strings.NewReplacer("%SUMMARY%", summary, "%LINES%", strings.Join(lines, "\n"))
	return r.Replace(progressiveSummaryPrompt)
}

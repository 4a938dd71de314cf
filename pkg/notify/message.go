package notify

import (
	"fmt"

	goslack "github.com/slack-go/slack"
)

// Slack rejects section text over 3000 characters; leave headroom for the
// truncation marker.
const maxBlockTextLength = 2900

// codeStyle maps each notifiable error code to its header decoration.
var codeStyle = map[string]struct {
	emoji string
	label string
}{
	"LLM_TIMEOUT":             {":hourglass:", "Provider Timeout"},
	"LLM_ERROR":               {":x:", "Provider Error"},
	"CONFIGURATION_NOT_FOUND": {":gear:", "Configuration Missing"},
	"INTERNAL_ERROR":          {":rotating_light:", "Internal Failure"},
}

func mdSection(text string) *goslack.SectionBlock {
	return goslack.NewSectionBlock(goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false), nil, nil)
}

// BuildJobFailedMessage renders a failure notice as Block Kit blocks:
// a header line, the error text when present, and a dashboard link.
func BuildJobFailedMessage(input JobFailedInput, dashboardURL string) []goslack.Block {
	style, ok := codeStyle[input.ErrorCode]
	if !ok {
		style.emoji, style.label = ":question:", "Job Failed"
	}

	header := fmt.Sprintf("%s *%s* (`%s`)", style.emoji, style.label, input.ErrorCode)
	header += fmt.Sprintf("\nTopic: `%s` · Job: `%s`", input.TopicID, input.JobID)
	if input.SessionID != "" {
		header += fmt.Sprintf(" · Session: `%s`", input.SessionID)
	}

	blocks := []goslack.Block{mdSection(header)}
	if input.Error != "" {
		blocks = append(blocks, mdSection(clipText(input.Error)))
	}

	buttonText, url := "View Session", fmt.Sprintf("%s/sessions/%s", dashboardURL, input.SessionID)
	if input.SessionID == "" {
		buttonText, url = "View Job", fmt.Sprintf("%s/jobs/%s", dashboardURL, input.JobID)
	}
	btn := goslack.NewButtonBlockElement("", "", goslack.NewTextBlockObject(goslack.PlainTextType, buttonText, false, false))
	btn.URL = url
	return append(blocks, goslack.NewActionBlock("", btn))
}

// failureFallback is the plain-text rendering of a failure notice. It
// doubles as the thread key: it always carries the session ID when there
// is one, which is what FindSessionThread scans history for.
func failureFallback(input JobFailedInput) string {
	s := fmt.Sprintf("Job %s failed with %s on topic %s", input.JobID, input.ErrorCode, input.TopicID)
	if input.SessionID != "" {
		s += fmt.Sprintf(" (session %s)", input.SessionID)
	}
	return s
}

// clipText keeps a block under the Slack section limit. The full error
// always survives in the job record, so the tail is just dropped.
func clipText(text string) string {
	if len(text) <= maxBlockTextLength {
		return text
	}
	return text[:maxBlockTextLength] + "\n\n_... (truncated; full error in the job record)_"
}

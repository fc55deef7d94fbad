package scanning

import (
	"strings"
)

// transcribePrompt is the shared prompt used by the vision model engines
const transcribePrompt = `You are transcribing a scanned medical bill or Explanation of Benefits. Read every line of text in the image and write it out exactly as printed.

Important:
- Keep the original line breaks, and keep each label on the same line as the amount next to it
- Copy dollar amounts exactly, including the "$" sign, commas and cents
- For tables, write one row per line with cells separated by spaces, header row first
- Do not summarize, translate, correct or explain anything
- Do not use markdown code blocks
- If the image contains no readable text, return an empty response`

// cleanTranscript strips the markdown fences and chatter models tend to wrap
// a transcript in
func cleanTranscript(text string) string {
	text = strings.TrimSpace(text)

	// Remove opening markdown code blocks
	if strings.HasPrefix(text, "```") {
		if i := strings.Index(text, "\n"); i >= 0 {
			text = text[i+1:]
		} else {
			text = strings.TrimPrefix(text, "```")
		}
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")

	return strings.TrimSpace(text)
}

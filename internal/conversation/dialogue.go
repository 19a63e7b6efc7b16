package conversation

import (
	"regexp"
	"strings"
)

// FallbackLine is spoken when the model reply contains no usable dialogue.
const FallbackLine = "Uhh, sorry boss, could you try that again? My circuits are fried."

var (
	// speakerLabel matches a leading "Name:" echo such as "Robby:" or
	// "Robby the Robot:".
	speakerLabel = regexp.MustCompile(`^\s*[A-Z][A-Za-z0-9.'_-]*(?:\s+(?:[A-Z][A-Za-z0-9.'_-]*|the|of)){0,3}\s*:\s*`)

	// stageDirection matches *cowers in fear* and [sips glass of water].
	stageDirection = regexp.MustCompile(`\*[^*]*\*|\[[^\]]*\]`)

	// disallowed is the complement of the characters a spoken line may
	// contain: ASCII letters, digits, space and printable punctuation.
	disallowed = regexp.MustCompile("[^a-zA-Z0-9_ :;.,/\"'?!(){}\\\\\\[\\]@<>=\\-+*#$&`|~^%]+")

	typography = strings.NewReplacer(
		"‘", "'", "’", "'",
		"“", `"`, "”", `"`,
		"–", "-", "—", "-",
		"…", "...",
	)
)

// ExtractDialogue reduces a raw model reply to the line the character speaks.
//
// The transform is:
//  1. Only the first non-blank line is used when the model continues the
//     script with further "Name:" lines.
//  2. A leading speaker label is stripped.
//  3. Stage directions in *asterisks* or [brackets] are removed.
//  4. Typographic quotes and dashes are folded to ASCII and every character
//     outside the allow-list is dropped.
//  5. Whitespace is collapsed and trimmed.
//
// When nothing remains, [FallbackLine] is returned, so the result is never
// empty.
func ExtractDialogue(raw string) string {
	if line := firstDialogueLine(raw); line != "" {
		return line
	}
	return FallbackLine
}

// Sanitize is [ExtractDialogue] without the fallback. It returns "" when
// raw contains no usable dialogue.
func Sanitize(raw string) string {
	return firstDialogueLine(raw)
}

func firstDialogueLine(raw string) string {
	lines := strings.Split(raw, "\n")
	var text string
	for i, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		text = l
		// Keep wrapped continuation lines that do not start a new speaker.
		for _, next := range lines[i+1:] {
			if strings.TrimSpace(next) == "" || speakerLabel.MatchString(next) {
				break
			}
			text += " " + next
		}
		break
	}

	text = speakerLabel.ReplaceAllString(text, "")
	text = stageDirection.ReplaceAllString(text, " ")
	text = typography.Replace(text)
	text = strings.Join(strings.Fields(text), " ")
	text = disallowed.ReplaceAllString(text, "")
	return strings.Join(strings.Fields(text), " ")
}

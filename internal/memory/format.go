package memory

import "strings"

// FormatFacts renders facts for injection into a system prompt. No facts
// yields an empty string.
//
//	<user_memory>
//	- likes Python
//	- lives in Lisbon
//	</user_memory>
func FormatFacts(facts []Fact) string {
	if len(facts) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("<user_memory>\n")
	for _, f := range facts {
		b.WriteString("- ")
		b.WriteString(f.Text)
		b.WriteByte('\n')
	}
	b.WriteString("</user_memory>")
	return b.String()
}

package extraction

import (
	"fmt"
	"strings"
)

const systemPrompt = `You extract entity names from short personal notes.
Return strict JSON only, shaped as {"names": ["..."], "twitterHandle": "..."}. Both fields are optional.
Rules:
- If the text mentions a company, or any entry of KnownOrganizations (case-insensitive substring match), add that name to "names".
- If the text likely refers to a person, or mentions a first name listed in KnownFirstNames, add that name to "names".
- If the text mentions any other person, add that name to "names".
- If an X/Twitter profile or post URL is present, set "twitterHandle" to the account handle without the leading @.`

func buildUserPrompt(request Request) string {
	var builder strings.Builder
	builder.WriteString("KnownOrganizations:\n")
	writeBulletList(&builder, request.KnownOrganizations)
	builder.WriteString("KnownFirstNames:\n")
	writeBulletList(&builder, request.KnownFirstNames)
	fmt.Fprintf(&builder, "\nInput: %s", request.Text)
	return builder.String()
}

func writeBulletList(builder *strings.Builder, values []string) {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		builder.WriteString("- ")
		builder.WriteString(trimmed)
		builder.WriteByte('\n')
	}
}

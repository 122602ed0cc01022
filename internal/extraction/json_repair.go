package extraction

import "strings"

// stripCodeFences removes a surrounding markdown code fence, if any.
func stripCodeFences(text string) string {
	trimmed := strings.TrimSpace(text)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	return strings.TrimSpace(trimmed)
}

// repairJSON restores the opening quote of object keys the model sometimes drops,
// turning `{names": [...]}` into `{"names": [...]}`. Everything else is copied unchanged.
func repairJSON(text string) string {
	runes := []rune(text)
	repaired := make([]rune, 0, len(runes)+8)
	inString := false
	for i := 0; i < len(runes); i++ {
		current := runes[i]
		repaired = append(repaired, current)
		switch {
		case current == '"' && !escaped(runes, i):
			inString = !inString
		case !inString && (current == '{' || current == ','):
			j := i + 1
			for j < len(runes) && isSpace(runes[j]) {
				repaired = append(repaired, runes[j])
				j++
			}
			k := j
			for k < len(runes) && isKeyRune(runes[k]) {
				k++
			}
			if k > j && isLetter(runes[j]) && k+1 < len(runes) && runes[k] == '"' && runes[k+1] == ':' {
				repaired = append(repaired, '"')
				inString = true
			}
			i = j - 1
		}
	}
	return string(repaired)
}

func escaped(runes []rune, index int) bool {
	backslashes := 0
	for i := index - 1; i >= 0 && runes[i] == '\\'; i-- {
		backslashes++
	}
	return backslashes%2 == 1
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\n' || r == '\t' || r == '\r'
}

func isLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func isKeyRune(r rune) bool {
	return isLetter(r) || r == '_' || (r >= '0' && r <= '9')
}

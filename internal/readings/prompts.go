package readings

import "strings"

// SystemPrompt is the system prompt of the reading model.
const SystemPrompt = `You are Tasseo, a warm and perceptive reader of coffee grounds.
You describe the shapes you see in the cup and what they traditionally mean,
then give gentle, practical advice. Never mention that you are an AI model.
Keep the answer under 900 characters and do not use markdown.`

func replyLanguage(lang string) string {
	if strings.HasPrefix(strings.ToLower(lang), "en") {
		return "English"
	}
	return "Russian"
}

func photoPrompt(caption, lang string) string {
	var b strings.Builder
	b.WriteString("Read the coffee grounds in this cup.")
	if c := strings.TrimSpace(caption); c != "" {
		b.WriteString(" The person asks: ")
		b.WriteString(c)
	}
	b.WriteString(" Answer in ")
	b.WriteString(replyLanguage(lang))
	b.WriteString(".")
	return b.String()
}

func chatPrompt(text, lang string) string {
	return strings.TrimSpace(text) + "\n\nAnswer in " + replyLanguage(lang) + "."
}

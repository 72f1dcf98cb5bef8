package telegram

import "strings"

// MessageLimit — максимальная длина сообщения Telegram в символах.
const MessageLimit = 4096

// SplitMessage разбивает текст на части по MessageLimit символов.
func SplitMessage(text string) []string {
	return SplitText(text, MessageLimit)
}

// SplitText разбивает текст на части не длиннее limit символов.
// Разрыв по возможности делается на переводе строки, чтобы не рвать абзацы.
func SplitText(text string, limit int) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if limit <= 0 {
		limit = MessageLimit
	}

	runes := []rune(trimmed)
	var parts []string
	for len(runes) > 0 {
		if len(runes) <= limit {
			parts = appendChunk(parts, runes)
			break
		}
		cut := lastNewline(runes[:limit])
		if cut <= 0 {
			cut = limit
		}
		parts = appendChunk(parts, runes[:cut])
		runes = runes[cut:]
		for len(runes) > 0 && runes[0] == '\n' {
			runes = runes[1:]
		}
	}
	return parts
}

func lastNewline(runes []rune) int {
	for i := len(runes); i > 0; i-- {
		if runes[i-1] == '\n' {
			return i
		}
	}
	return -1
}

func appendChunk(parts []string, runes []rune) []string {
	if chunk := strings.Trim(string(runes), "\n"); chunk != "" {
		parts = append(parts, chunk)
	}
	return parts
}

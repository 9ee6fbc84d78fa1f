package router

import "strings"

// promptPrefix marks an agent TUI's input prompt line.
const promptPrefix = "❯ "

// chromeChars are box-drawing and separator runes that make up TUI frame
// decoration rather than content.
const chromeChars = "─━│┃┄┅┆┇┈┉┊┋╌╍╎╏═║╔╗╚╝╠╣╭╮╯╰├┤┬┴┼-—_▔▁"

// ExtractLastCommandBlock returns the trailing command block of a frame:
// everything from the last prompt line to the end, with trailing blank
// lines stripped. An idle-prompt shape (empty prompt, separator chrome,
// and a bare status bar) returns "" so the fallback sends nothing.
func ExtractLastCommandBlock(buffer string) string {
	lines := strings.Split(buffer, "\n")

	// Strip trailing blanks.
	end := len(lines)
	for end > 0 && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	lines = lines[:end]
	if len(lines) == 0 {
		return ""
	}

	promptIdx := -1
	for i := len(lines) - 1; i >= 0; i-- {
		// Screen text has trailing spaces trimmed, so an empty prompt is a
		// bare "❯".
		trimmed := strings.TrimLeft(lines[i], " ")
		if strings.HasPrefix(trimmed, promptPrefix) || trimmed == strings.TrimSpace(promptPrefix) {
			promptIdx = i
			break
		}
	}
	if promptIdx < 0 {
		return strings.TrimSpace(strings.Join(lines, "\n"))
	}

	block := lines[promptIdx:]
	if isIdlePrompt(block) {
		return ""
	}
	return strings.Join(block, "\n")
}

// isIdlePrompt reports whether a prompt block is the resting "empty
// prompt + separator + status bar" shape common to agent TUIs: the first
// content line after the prompt is chrome, and at most two substantive
// lines follow.
func isIdlePrompt(block []string) bool {
	if len(block) == 0 {
		return false
	}
	rest := block[1:]

	firstContent := -1
	for i, line := range rest {
		if strings.TrimSpace(line) != "" {
			firstContent = i
			break
		}
	}
	if firstContent < 0 {
		// Bare prompt with nothing after it.
		return true
	}
	if !isChromeLine(rest[firstContent]) {
		return false
	}

	substantive := 0
	for _, line := range rest[firstContent+1:] {
		if strings.TrimSpace(line) == "" || isChromeLine(line) {
			continue
		}
		substantive++
	}
	return substantive <= 2
}

// isChromeLine reports whether at least 90% of a line's non-space runes
// are frame decoration.
func isChromeLine(line string) bool {
	trimmed := strings.ReplaceAll(line, " ", "")
	if trimmed == "" {
		return false
	}
	total, chrome := 0, 0
	for _, r := range trimmed {
		total++
		if strings.ContainsRune(chromeChars, r) {
			chrome++
		}
	}
	return float64(chrome) >= 0.9*float64(total)
}

package telegram

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	messageLimit = 4096
	// partHeaderReserve: место под заголовок вида "[12/34] ".
	partHeaderReserve = len("[999/999] ")
)

// splitAlert делит текст оповещения на сообщения не длиннее limit символов.
// Короткое оповещение уходит как есть. Длинное режется по строкам, каждая часть
// получает заголовок "[i/n] ", чтобы в чате было видно, что пришло не всё.
// Строка длиннее части режется посимвольно.
func splitAlert(text string, limit int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	budget := limit - partHeaderReserve
	var (
		parts []string
		cur   strings.Builder
		size  int
	)
	flush := func() {
		if chunk := strings.TrimRight(cur.String(), "\n"); chunk != "" {
			parts = append(parts, chunk)
		}
		cur.Reset()
		size = 0
	}
	for _, line := range strings.Split(text, "\n") {
		for _, piece := range cutRunes(line, budget) {
			n := utf8.RuneCountInString(piece)
			if size > 0 && size+1+n > budget {
				flush()
			}
			if size == 0 && piece == "" {
				continue
			}
			if size > 0 {
				cur.WriteByte('\n')
				size++
			}
			cur.WriteString(piece)
			size += n
		}
	}
	flush()

	for i, p := range parts {
		parts[i] = fmt.Sprintf("[%d/%d] %s", i+1, len(parts), p)
	}
	return parts
}

// cutRunes режет строку на куски по width символов; пустая строка даёт один пустой кусок.
func cutRunes(s string, width int) []string {
	runes := []rune(s)
	if len(runes) <= width {
		return []string{s}
	}
	out := make([]string, 0, len(runes)/width+1)
	for len(runes) > width {
		out = append(out, string(runes[:width]))
		runes = runes[width:]
	}
	return append(out, string(runes))
}

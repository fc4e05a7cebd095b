package snapshot

import "strings"

// statement is one SQL statement of a script and the line it starts on.
type statement struct {
	sql  string
	line int
}

// splitStatements splits a script on semicolons outside of quotes and
// comments. Statements holding only comments are dropped.
func splitStatements(script string) []statement {
	var (
		statements []statement
		current    strings.Builder
		line       = 1
		startLine  = 1
		hasContent bool

		inSingleQuote  bool
		inDoubleQuote  bool
		inLineComment  bool
		inBlockComment bool
	)

	flush := func() {
		if hasContent {
			statements = append(statements, statement{sql: strings.TrimSpace(current.String()), line: startLine})
		}
		current.Reset()
		hasContent = false
	}

	runes := []rune(script)
	for i := 0; i < len(runes); i++ {
		ch := runes[i]
		next := rune(0)
		if i+1 < len(runes) {
			next = runes[i+1]
		}
		quoted := inSingleQuote || inDoubleQuote
		inComment := inLineComment || inBlockComment

		switch {
		case inLineComment:
			if ch == '\n' {
				inLineComment = false
			}
		case inBlockComment:
			if ch == '*' && next == '/' {
				inBlockComment = false
				i++
				if hasContent {
					current.WriteString("*/")
				}
				continue
			}
		case !quoted && ch == '-' && next == '-':
			inLineComment, inComment = true, true
		case !quoted && ch == '/' && next == '*':
			inBlockComment, inComment = true, true
		case !inDoubleQuote && ch == '\'':
			inSingleQuote = !inSingleQuote
		case !inSingleQuote && ch == '"':
			inDoubleQuote = !inDoubleQuote
		case !quoted && ch == ';':
			flush()
			continue
		}

		if !hasContent && !inComment && !isSpace(ch) {
			startLine = line
			hasContent = true
		}
		if hasContent {
			current.WriteRune(ch)
		}
		if ch == '\n' {
			line++
		}
	}
	flush()
	return statements
}

func isSpace(ch rune) bool {
	return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r'
}

package services

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/custodia-labs/knowledgehub/internal/core/domain"
)

var sqlWord = regexp.MustCompile(`[A-Z_][A-Z0-9_]*`)

// forbiddenSQL lists keywords that can modify data, schema or connection
// state. REPLACE is only forbidden as a statement, not as replace().
var forbiddenSQL = map[string]bool{
	"INSERT": true, "UPDATE": true, "DELETE": true, "DROP": true,
	"ALTER": true, "CREATE": true, "REPLACE": true, "ATTACH": true,
	"DETACH": true, "PRAGMA": true, "VACUUM": true, "REINDEX": true,
	"TRUNCATE": true, "GRANT": true, "REVOKE": true, "ANALYZE": true,
	"UPSERT": true, "MERGE": true,
}

// CheckReadOnly accepts a single SELECT or WITH statement that contains
// none of the forbidden keywords outside comments and literals.
func CheckReadOnly(statement string) error {
	cleaned, err := stripSQL(statement)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUnsafeQuery, err)
	}
	cleaned = strings.TrimRight(strings.TrimSpace(cleaned), "; \t\r\n")
	if cleaned == "" {
		return fmt.Errorf("%w: empty statement", domain.ErrInvalidInput)
	}
	if strings.Contains(cleaned, ";") {
		return fmt.Errorf("%w: multiple statements are not allowed", domain.ErrUnsafeQuery)
	}

	upper := strings.ToUpper(cleaned)
	locs := sqlWord.FindAllStringIndex(upper, -1)
	if len(locs) == 0 {
		return fmt.Errorf("%w: only SELECT queries are allowed", domain.ErrUnsafeQuery)
	}
	first := upper[locs[0][0]:locs[0][1]]
	if first != "SELECT" && first != "WITH" {
		return fmt.Errorf("%w: only SELECT queries are allowed", domain.ErrUnsafeQuery)
	}
	for _, loc := range locs {
		word := upper[loc[0]:loc[1]]
		if !forbiddenSQL[word] {
			continue
		}
		if word == "REPLACE" && strings.HasPrefix(strings.TrimLeft(upper[loc[1]:], " \t\r\n"), "(") {
			continue
		}
		return fmt.Errorf("%w: %s is not allowed", domain.ErrUnsafeQuery, word)
	}
	return nil
}

// stripSQL blanks out comments, string literals and quoted identifiers.
func stripSQL(s string) (string, error) {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == '-' && i+1 < len(s) && s[i+1] == '-':
			end := strings.IndexByte(s[i:], '\n')
			if end < 0 {
				return b.String(), nil
			}
			i += end
		case c == '/' && i+1 < len(s) && s[i+1] == '*':
			end := strings.Index(s[i+2:], "*/")
			if end < 0 {
				return "", fmt.Errorf("unterminated comment")
			}
			b.WriteByte(' ')
			i += end + 4
		case c == '\'' || c == '"' || c == '`' || c == '[':
			closer := c
			if c == '[' {
				closer = ']'
			}
			j := i + 1
			for {
				k := strings.IndexByte(s[j:], closer)
				if k < 0 {
					return "", fmt.Errorf("unterminated quote")
				}
				j += k + 1
				// A doubled quote is an escaped quote.
				if closer != ']' && j < len(s) && s[j] == closer {
					j++
					continue
				}
				break
			}
			b.WriteString(" x ")
			i = j
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String(), nil
}

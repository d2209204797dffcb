// Package testdata holds small helpers shared by this module's _test.go
// files, grounded on picard's own testdata package of the same name.
package testdata

import (
	"fmt"
	"strings"

	"github.com/MakeNowJust/heredoc"
)

// FmtSQL turns a heredoc SQL literal into a single-line string, so tests
// can write SQL across several indented lines without the tabs/newlines
// leaking into the value sqlmock compares against.
func FmtSQL(sql string) string {
	str := strings.Replace(heredoc.Doc(sql), "\n", " ", -1)
	str = strings.Replace(str, "\t", "", -1)
	return strings.Trim(str, " ")
}

// FmtSQLRegex converts a multiline/heredoc SQL statement into a regex
// version, useful for sqlmock.ExpectQuery/ExpectExec. This lets a test
// write SQL without worrying about tabs, newlines, or escaping
// characters like ., $, (, ). It also anchors the pattern with ^...$.
func FmtSQLRegex(sql string) string {
	str := FmtSQL(sql)
	str = strings.Replace(str, ".", "\\.", -1)
	str = strings.Replace(str, "$", "\\$", -1)
	str = strings.Replace(str, "(", "\\(", -1)
	str = strings.Replace(str, ")", "\\)", -1)
	return fmt.Sprintf("^%s$", str)
}

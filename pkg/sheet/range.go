package sheet

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"restaurant_ops/pkg/apperr"
)

// Range is a parsed A1 range. Indices are 0-based and inclusive; -1 marks
// an unbounded end.
type Range struct {
	Sheet    string
	StartCol int
	EndCol   int
	StartRow int
	EndRow   int
}

// ParseRange parses "Sheet!A2:N", "Sheet!I5", "Sheet!A:N" or a bare sheet name.
// A malformed range is a validation error, never an upstream one.
func ParseRange(s string) (Range, error) {
	name, ref, found := cutLast(s, "!")
	if !found {
		name, ref = s, ""
	}
	name = strings.Trim(name, "'")
	if name == "" {
		return Range{}, invalidRange(s, errors.New("missing sheet name"))
	}

	r := Range{Sheet: name, EndCol: -1, EndRow: -1}
	if ref == "" {
		return r, nil
	}

	from, to, hasEnd := strings.Cut(ref, ":")
	startCol, startRow, err := parseRef(from)
	if err != nil {
		return Range{}, invalidRange(s, err)
	}
	if startCol >= 0 {
		r.StartCol = startCol
	}
	if startRow >= 0 {
		r.StartRow = startRow
	}

	if !hasEnd {
		r.EndCol = startCol
		r.EndRow = startRow
		return r, nil
	}

	endCol, endRow, err := parseRef(to)
	if err != nil {
		return Range{}, invalidRange(s, err)
	}
	r.EndCol, r.EndRow = endCol, endRow
	if (r.EndCol >= 0 && r.EndCol < r.StartCol) || (r.EndRow >= 0 && r.EndRow < r.StartRow) {
		return Range{}, invalidRange(s, errors.New("end before start"))
	}
	return r, nil
}

func invalidRange(s string, err error) error {
	return &apperr.Error{Kind: apperr.KindValidation, Message: fmt.Sprintf("range %q", s), Err: err}
}

func (r Range) String() string {
	start := ColumnLetter(r.StartCol) + strconv.Itoa(r.StartRow+1)
	end := ""
	if r.EndCol >= 0 {
		end = ColumnLetter(r.EndCol)
	}
	if r.EndRow >= 0 {
		end += strconv.Itoa(r.EndRow + 1)
	}
	if end == "" {
		return quoteSheet(r.Sheet)
	}
	return quoteSheet(r.Sheet) + "!" + start + ":" + end
}

// parseRef splits "AB12" into a column and a row index, either of which
// may be absent (-1).
func parseRef(ref string) (col, row int, err error) {
	ref = strings.ToUpper(strings.TrimSpace(ref))
	if ref == "" {
		return -1, -1, fmt.Errorf("empty cell reference")
	}
	i := 0
	for i < len(ref) && ref[i] >= 'A' && ref[i] <= 'Z' {
		i++
	}
	col, row = -1, -1
	if i > 0 {
		col, err = ColumnIndex(ref[:i])
		if err != nil {
			return -1, -1, err
		}
	}
	if i < len(ref) {
		n, convErr := strconv.Atoi(ref[i:])
		if convErr != nil || n < 1 {
			return -1, -1, fmt.Errorf("invalid row in %q", ref)
		}
		row = n - 1
	}
	return col, row, nil
}

// ColumnIndex converts "A" to 0, "Z" to 25 and "AA" to 26.
func ColumnIndex(letters string) (int, error) {
	if letters == "" {
		return 0, fmt.Errorf("empty column")
	}
	n := 0
	for _, c := range strings.ToUpper(letters) {
		if c < 'A' || c > 'Z' {
			return 0, fmt.Errorf("invalid column %q", letters)
		}
		n = n*26 + int(c-'A'+1)
	}
	return n - 1, nil
}

func ColumnLetter(index int) string {
	if index < 0 {
		return ""
	}
	var b []byte
	for n := index + 1; n > 0; n = (n - 1) / 26 {
		b = append([]byte{byte('A' + (n-1)%26)}, b...)
	}
	return string(b)
}

// RowNumber maps a 0-based index into the rows returned for a whole-sheet
// read (header included) to its 1-based A1 row number.
func RowNumber(index int) int { return index + 1 }

// Cell addresses one cell, e.g. Cell("Reservations", "I", 5) is "Reservations!I5".
func Cell(sheet, col string, row int) string {
	return fmt.Sprintf("%s!%s%d", quoteSheet(sheet), col, row)
}

// Span addresses columns from..to of one row.
func Span(sheet, from, to string, row int) string {
	return fmt.Sprintf("%s!%s%d:%s%d", quoteSheet(sheet), from, row, to, row)
}

// Columns addresses whole columns, e.g. "Inventory!A:L".
func Columns(sheet, from, to string) string {
	return fmt.Sprintf("%s!%s:%s", quoteSheet(sheet), from, to)
}

func quoteSheet(name string) string {
	if strings.ContainsAny(name, " !'") {
		return "'" + strings.ReplaceAll(name, "'", "''") + "'"
	}
	return name
}

func cutLast(s, sep string) (before, after string, found bool) {
	if i := strings.LastIndex(s, sep); i >= 0 {
		return s[:i], s[i+len(sep):], true
	}
	return s, "", false
}

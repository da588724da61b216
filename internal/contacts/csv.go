// Package contacts loads campaign cohorts from CSV exports.
package contacts

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/mail"
	"strings"

	"github.com/unclebandit/campaign-consent/internal/model"
)

// LoadResult is a parsed cohort plus the rows that were skipped.
type LoadResult struct {
	Contacts []model.Contact
	Dropped  int
}

// LoadCSV reads a header row followed by one contact per row. The "email"
// column is required; "name" is optional and every other column becomes an
// attribute. Rows without a usable, unique email are dropped.
func LoadCSV(r io.Reader) (LoadResult, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return LoadResult{}, errors.New("contacts: empty file")
		}
		return LoadResult{}, fmt.Errorf("contacts: read header: %w", err)
	}

	emailCol, nameCol := -1, -1
	cols := make([]string, len(header))
	for i, h := range header {
		cols[i] = strings.ToLower(strings.TrimSpace(h))
		switch cols[i] {
		case "email":
			emailCol = i
		case "name":
			nameCol = i
		}
	}
	if emailCol < 0 {
		return LoadResult{}, errors.New("contacts: header has no email column")
	}

	var res LoadResult
	seen := map[string]bool{}
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return LoadResult{}, fmt.Errorf("contacts: read row: %w", err)
		}

		email := field(row, emailCol)
		key := strings.ToLower(email)
		if _, perr := mail.ParseAddress(email); email == "" || perr != nil || seen[key] {
			res.Dropped++
			continue
		}
		seen[key] = true

		c := model.Contact{Name: field(row, nameCol), Email: email}
		for i, col := range cols {
			if i == emailCol || i == nameCol || col == "" {
				continue
			}
			if v := field(row, i); v != "" {
				if c.Attributes == nil {
					c.Attributes = map[string]string{}
				}
				c.Attributes[col] = v
			}
		}
		res.Contacts = append(res.Contacts, c)
	}
	return res, nil
}

func field(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

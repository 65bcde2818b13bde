package serverlist

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Azure/azsqlaudit/internal/errs"
	"github.com/hashicorp/go-multierror"
)

// The header names of the required columns. Header matching is case insensitive.
const (
	ColumnSubscriptionName = "subscriptionName"
	ColumnResourceGroup    = "resourceGroup"
	ColumnName             = "name"
)

var requiredColumns = []string{ColumnSubscriptionName, ColumnResourceGroup, ColumnName}

// Server is one row of the server list.
type Server struct {
	SubscriptionName string
	ResourceGroup    string
	Name             string

	// Line is the line number in the source file, zero if the server doesn't come from a file.
	Line int
}

func (s Server) String() string {
	return s.SubscriptionName + "/" + s.ResourceGroup + "/" + s.Name
}

type MissingColumnError struct {
	Column string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("missing column %q", e.Column)
}

// DetectDelimiter returns ';' if the last line of the content contains a semicolon, otherwise ','.
func DetectDelimiter(b []byte) rune {
	content := strings.TrimRight(string(b), "\r\n")
	last := content
	if idx := strings.LastIndex(content, "\n"); idx != -1 {
		last = content[idx+1:]
	}
	if strings.Contains(last, ";") {
		return ';'
	}
	return ','
}

// Load reads the server list file at path.
func Load(path string) ([]Server, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, &errs.ConfigError{Err: fmt.Errorf("reading server list %s: %w", path, err)}
	}
	servers, err := Parse(b)
	if err != nil {
		return nil, &errs.ConfigError{Err: fmt.Errorf("parsing server list %s: %w", path, err)}
	}
	return servers, nil
}

// Parse parses the content of a server list. The first record is the header.
// Malformed rows are all collected and reported together.
func Parse(b []byte) ([]Server, error) {
	// Removing the preceding BOM (Byte Order Mark)
	b = bytes.TrimPrefix(b, []byte("\xef\xbb\xbf"))

	r := csv.NewReader(bytes.NewReader(b))
	r.Comma = DetectDelimiter(b)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		if err == io.EOF {
			return nil, errors.New("no header found")
		}
		return nil, err
	}

	index, err := columnIndex(header)
	if err != nil {
		return nil, err
	}

	var (
		servers []Server
		result  *multierror.Error
	)
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		line, _ := r.FieldPos(0)

		if len(record) != len(header) {
			result = multierror.Append(result, fmt.Errorf("line %d: expect %d fields, got %d", line, len(header), len(record)))
			continue
		}

		server := Server{
			SubscriptionName: strings.TrimSpace(record[index[ColumnSubscriptionName]]),
			ResourceGroup:    strings.TrimSpace(record[index[ColumnResourceGroup]]),
			Name:             strings.TrimSpace(record[index[ColumnName]]),
			Line:             line,
		}
		var empty []string
		if server.SubscriptionName == "" {
			empty = append(empty, ColumnSubscriptionName)
		}
		if server.ResourceGroup == "" {
			empty = append(empty, ColumnResourceGroup)
		}
		if server.Name == "" {
			empty = append(empty, ColumnName)
		}
		if len(empty) != 0 {
			result = multierror.Append(result, fmt.Errorf("line %d: empty value for %s", line, strings.Join(empty, ", ")))
			continue
		}
		servers = append(servers, server)
	}

	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	return servers, nil
}

func columnIndex(header []string) (map[string]int, error) {
	index := map[string]int{}
	for i, h := range header {
		for _, col := range requiredColumns {
			if strings.EqualFold(strings.TrimSpace(h), col) {
				if _, ok := index[col]; !ok {
					index[col] = i
				}
			}
		}
	}

	var result *multierror.Error
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			result = multierror.Append(result, &MissingColumnError{Column: col})
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	return index, nil
}

// Write writes the servers in the format that Load accepts, using the specified delimiter.
func Write(w io.Writer, servers []Server, delim rune) error {
	cw := csv.NewWriter(w)
	cw.Comma = delim
	if err := cw.Write(requiredColumns); err != nil {
		return err
	}
	for _, s := range servers {
		if err := cw.Write([]string{s.SubscriptionName, s.ResourceGroup, s.Name}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

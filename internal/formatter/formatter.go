// package formatter renders account data as CSV, Markdown, JSON or plain text for export and CLI output.
package formatter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/desertthunder/agx/internal/models"
	"github.com/desertthunder/agx/internal/shared"
)

// Format is an export encoding.
type Format string

const (
	FormatJSON     Format = "json"
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "markdown"
	FormatText     Format = "txt"
)

// ParseFormat accepts a format name or a common alias (md, text).
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "txt", "text":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	case "csv":
		return FormatCSV, nil
	case "md", "markdown":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("%w: unknown format %q (want json, csv, markdown or txt)", shared.ErrInvalidArgument, s)
	}
}

// Extension returns the file extension for f, including the dot.
func (f Format) Extension() string {
	switch f {
	case FormatJSON:
		return ".json"
	case FormatCSV:
		return ".csv"
	case FormatMarkdown:
		return ".md"
	default:
		return ".txt"
	}
}

func quotaCell(q *models.Quota) string {
	if low := q.Lowest(); low >= 0 {
		return strconv.Itoa(low) + "%"
	}
	return "-"
}

// ExportToCSV converts accounts to CSV with columns: ID, Email, Name, Status, Lowest Quota, Last Used
func ExportToCSV(accounts []models.Account) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"ID", "Email", "Name", "Status", "Lowest Quota", "Last Used"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, a := range accounts {
		record := []string{a.ID, a.Email, a.Name, a.StatusText(), quotaCell(a.Quota), shared.FormatUnix(a.LastUsed)}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}
	return buf.Bytes(), nil
}

// ExportToMarkdown converts accounts to a Markdown report with one quota table per account.
func ExportToMarkdown(accounts []models.Account, current string) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString("# Accounts\n\n")
	buf.WriteString(fmt.Sprintf("**Total**: %d\n\n", len(accounts)))

	for i, a := range accounts {
		marker := ""
		if a.ID == current {
			marker = " (current)"
		}
		buf.WriteString(fmt.Sprintf("## %d. %s%s\n\n", i+1, a.Label(), marker))
		buf.WriteString(fmt.Sprintf("- **ID**: `%s`\n", a.ID))
		buf.WriteString(fmt.Sprintf("- **Status**: %s\n", a.StatusText()))
		if a.ProxyDisabledReason != "" {
			buf.WriteString(fmt.Sprintf("- **Proxy disabled**: %s\n", a.ProxyDisabledReason))
		}
		buf.WriteString(fmt.Sprintf("- **Last used**: %s\n\n", shared.FormatUnix(a.LastUsed)))

		if a.Quota == nil || len(a.Quota.Models) == 0 {
			buf.WriteString("_No quota data._\n\n")
			continue
		}
		buf.WriteString("| Model | Remaining | Resets |\n|---|---|---|\n")
		for _, m := range a.Quota.Models {
			reset := m.ResetTime
			if reset == "" {
				reset = "-"
			}
			buf.WriteString(fmt.Sprintf("| %s | %d%% | %s |\n", m.Name, m.Percentage, reset))
		}
		buf.WriteString("\n")
	}
	return buf.Bytes(), nil
}

// ExportToText renders accounts as an aligned table. The current account is starred.
func ExportToText(accounts []models.Account, current string) ([]byte, error) {
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 4, 2, ' ', 0)

	fmt.Fprintln(w, "\tID\tEMAIL\tSTATUS\tQUOTA\tLAST USED")
	for _, a := range accounts {
		star := ""
		if a.ID == current {
			star = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", star, a.ID, a.Email, a.StatusText(), quotaCell(a.Quota), shared.FormatUnix(a.LastUsed))
	}
	if err := w.Flush(); err != nil {
		return nil, fmt.Errorf("failed to render table: %w", err)
	}
	return buf.Bytes(), nil
}

// Export renders accounts in format.
func Export(accounts []models.Account, current string, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		return shared.MarshalJSON(accounts, true)
	case FormatCSV:
		return ExportToCSV(accounts)
	case FormatMarkdown:
		return ExportToMarkdown(accounts, current)
	default:
		return ExportToText(accounts, current)
	}
}

// WriteExport writes accounts to path, creating parent directories. An empty path defaults to accounts plus
// the format's extension.
func WriteExport(accounts []models.Account, current string, format Format, path string) (string, error) {
	if path == "" {
		path = "accounts" + format.Extension()
	}
	data, err := Export(accounts, current, format)
	if err != nil {
		return "", err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("failed to create directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write export file: %w", err)
	}
	return path, nil
}

// ImportRunsToText renders import history as an aligned table.
func ImportRunsToText(runs []*models.ImportRun) ([]byte, error) {
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 4, 2, ' ', 0)

	fmt.Fprintln(w, "ID\tSOURCE\tTOTAL\tOK\tFAILED\tWHEN")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n", shared.Truncate(r.RunID, 8), r.Source, r.Total, r.Succeeded, r.Failed, r.Created.Format("2006-01-02 15:04"))
	}
	if err := w.Flush(); err != nil {
		return nil, fmt.Errorf("failed to render table: %w", err)
	}
	return buf.Bytes(), nil
}

// ProxyLogsToText renders monitor entries one per line.
func ProxyLogsToText(logs []models.ProxyLog) []byte {
	var buf bytes.Buffer
	for _, l := range logs {
		line := fmt.Sprintf("%s %d %s %s %dms", shared.FormatUnix(l.Timestamp), l.Status, l.Method, l.URL, l.Duration)
		if l.Model != "" {
			line += " model=" + l.Model
		}
		if l.Account != "" {
			line += " account=" + l.Account
		}
		if l.Error != "" {
			line += " error=" + strconv.Quote(l.Error)
		}
		buf.WriteString(line + "\n")
	}
	return buf.Bytes()
}

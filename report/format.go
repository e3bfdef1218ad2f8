package report

import "fmt"

// Format is an output format for report files.
type Format string

const (
	// FormatJSON writes the ATT&CK Navigator layer.
	FormatJSON Format = "json"

	// FormatCSV writes mapping, classification and technique summary tables.
	FormatCSV Format = "csv"

	// FormatText writes the executive summary as Markdown text.
	FormatText Format = "text"

	// FormatHTML writes the executive summary rendered to HTML.
	FormatHTML Format = "html"
)

// IsValid returns true if the format is valid.
func (f Format) IsValid() bool {
	switch f {
	case FormatJSON, FormatCSV, FormatText, FormatHTML:
		return true
	default:
		return false
	}
}

// String returns the string representation of the format.
func (f Format) String() string {
	return string(f)
}

// FileExtension returns the file extension for the format.
func (f Format) FileExtension() string {
	switch f {
	case FormatJSON:
		return ".json"
	case FormatCSV:
		return ".csv"
	case FormatText:
		return ".md"
	case FormatHTML:
		return ".html"
	default:
		return ""
	}
}

// MimeType returns the MIME type for the format.
func (f Format) MimeType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatCSV:
		return "text/csv"
	case FormatText:
		return "text/markdown"
	case FormatHTML:
		return "text/html"
	default:
		return "application/octet-stream"
	}
}

// ParseFormat parses a string into a Format.
func ParseFormat(s string) (Format, error) {
	f := Format(s)
	if !f.IsValid() {
		return "", fmt.Errorf("invalid report format: %s", s)
	}
	return f, nil
}

// AllFormats returns every supported format.
func AllFormats() []Format {
	return []Format{FormatJSON, FormatCSV, FormatText, FormatHTML}
}

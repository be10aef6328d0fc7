package rag

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// FileParser extracts a document's text from a file on disk. Implementations
// can be registered with a ParserManager to handle additional file types.
type FileParser interface {
	Parse(filePath string) (Document, error)
}

// ParserManager routes files to the parser registered for their detected
// type. The default detector matches on file extension.
type ParserManager struct {
	fileTypeDetector func(string) string
	parsers          map[string]FileParser
}

// NewParserManager creates a ParserManager with the built-in parsers for
// plain text, Markdown, and PDF files.
func NewParserManager() *ParserManager {
	pm := &ParserManager{
		fileTypeDetector: defaultFileTypeDetector,
		parsers:          make(map[string]FileParser),
	}
	pm.parsers["pdf"] = &PDFParser{}
	pm.parsers["text"] = &TextParser{}
	return pm
}

// Parse extracts the document for filePath using the parser registered for
// its detected type.
func (pm *ParserManager) Parse(filePath string) (Document, error) {
	fileType := pm.fileTypeDetector(filePath)
	parser, ok := pm.parsers[fileType]
	if !ok {
		return Document{}, fmt.Errorf("no parser available for file type: %s", fileType)
	}
	doc, err := parser.Parse(filePath)
	if err != nil {
		return Document{}, err
	}
	GlobalLogger.Debug("parsed document", "path", filePath, "type", fileType)
	return doc, nil
}

// Supports reports whether the manager has a parser for filePath.
func (pm *ParserManager) Supports(filePath string) bool {
	_, ok := pm.parsers[pm.fileTypeDetector(filePath)]
	return ok
}

// SetFileTypeDetector replaces the extension-based type detection.
func (pm *ParserManager) SetFileTypeDetector(detector func(string) string) {
	pm.fileTypeDetector = detector
}

// AddParser registers a parser for a file type, replacing any existing one.
func (pm *ParserManager) AddParser(fileType string, parser FileParser) {
	pm.parsers[fileType] = parser
}

// defaultFileTypeDetector maps the file extension to a parser key. Markdown
// is parsed as plain text; chunking on line boundaries keeps its structure.
func defaultFileTypeDetector(filePath string) string {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".pdf":
		return "pdf"
	case ".txt", ".md", ".markdown":
		return "text"
	default:
		return "unknown"
	}
}

// PDFParser extracts text from PDF files using the ledongthuc/pdf library.
type PDFParser struct{}

// Parse extracts the text of every page, separated by blank lines.
func (p *PDFParser) Parse(filePath string) (Document, error) {
	content, err := p.extractText(filePath)
	if err != nil {
		return Document{}, fmt.Errorf("failed to extract text: %w", err)
	}
	return Document{
		Content: content,
		Metadata: map[string]any{
			"fileType": "pdf",
			"filePath": filePath,
		},
	}, nil
}

func (p *PDFParser) extractText(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	fileInfo, err := file.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to get file info: %w", err)
	}

	reader, err := pdf.NewReader(file, fileInfo.Size())
	if err != nil {
		return "", fmt.Errorf("failed to create PDF reader: %w", err)
	}

	var textBuilder strings.Builder
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("failed to extract text from page %d: %w", i, err)
		}
		textBuilder.WriteString(content)
		textBuilder.WriteString("\n\n")
	}

	return textBuilder.String(), nil
}

// TextParser reads plain text and Markdown files verbatim.
type TextParser struct{}

// Parse reads the whole file as the document content.
func (p *TextParser) Parse(filePath string) (Document, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return Document{}, fmt.Errorf("failed to read file: %w", err)
	}
	return Document{
		Content: string(content),
		Metadata: map[string]any{
			"fileType": "text",
			"filePath": filePath,
		},
	}, nil
}

package ingestion

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// SupportedExtensions lists the file types the extractor understands.
var SupportedExtensions = []string{".txt", ".md", ".pdf", ".docx"}

// SupportedExtension reports whether the extractor can handle files with the
// given extension (lowercase, including the dot).
func SupportedExtension(ext string) bool {
	for _, s := range SupportedExtensions {
		if ext == s {
			return true
		}
	}
	return false
}

// ExtractFile reads the file at path and returns its plain text plus a
// metadata map carrying "source" and "file_name". The returned text is
// arbitrary UTF-8; callers own chunking and validation.
func ExtractFile(path string) (string, map[string]string, error) {
	if _, err := os.Stat(path); err != nil {
		return "", nil, fmt.Errorf("ingestion: file not found: %s: %w", path, err)
	}

	var (
		text string
		err  error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".txt", ".md":
		var data []byte
		data, err = os.ReadFile(path)
		text = string(data)
	case ".pdf":
		text, err = extractPDF(path)
	case ".docx":
		text, err = extractDOCX(path)
	default:
		return "", nil, fmt.Errorf("ingestion: unsupported file extension %q (supported: %s)",
			ext, strings.Join(SupportedExtensions, ", "))
	}
	if err != nil {
		return "", nil, fmt.Errorf("ingestion: extracting %s: %w", path, err)
	}

	metadata := map[string]string{
		"source":    path,
		"file_name": filepath.Base(path),
	}
	return text, metadata, nil
}

// extractPDF pulls the plain text out of a PDF file.
func extractPDF(path string) (string, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}
	defer f.Close()

	r, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return "", fmt.Errorf("copying pdf text: %w", err)
	}
	return buf.String(), nil
}

// extractDOCX pulls paragraph text out of a .docx file. The format is a zip
// archive whose word/document.xml carries the body; text runs live in <w:t>
// elements and paragraphs end at </w:p>.
func extractDOCX(path string) (string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("opening docx archive: %w", err)
	}
	defer zr.Close()

	var doc *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			doc = f
			break
		}
	}
	if doc == nil {
		return "", fmt.Errorf("docx has no word/document.xml")
	}

	rc, err := doc.Open()
	if err != nil {
		return "", fmt.Errorf("opening document.xml: %w", err)
	}
	defer rc.Close()

	var (
		sb      strings.Builder
		decoder = xml.NewDecoder(rc)
		inText  bool
	)
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parsing document.xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				inText = true
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				sb.WriteString("\n")
			}
		case xml.CharData:
			if inText {
				sb.Write(t)
			}
		}
	}
	return sb.String(), nil
}

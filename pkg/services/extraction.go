package services

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/chronicle-ai/chronicle-engine/pkg/apperrors"
)

const (
	MimePDF      = "application/pdf"
	MimeMarkdown = "text/markdown"
	MimeSQL      = "text/sql"
	MimePlain    = "text/plain"
	MimeBinary   = "application/octet-stream"
)

// mimeByExtension is the closed set of supported upload types. Anything not
// listed maps to application/octet-stream and is rejected by extraction.
var mimeByExtension = map[string]string{
	".pdf": MimePDF,
	".md":  MimeMarkdown,
	".sql": MimeSQL,
	".txt": MimePlain,
}

// MimeForPath maps a file path to its mime type by extension.
func MimeForPath(path string) string {
	if mime, ok := mimeByExtension[strings.ToLower(filepath.Ext(path))]; ok {
		return mime
	}
	return MimeBinary
}

// ExtractedContent is the text pulled out of an uploaded file.
type ExtractedContent struct {
	Content string
	Mime    string
}

// ExtractContent reads a document from disk and returns its text content.
// Markdown, plain text and SQL files are read directly. PDFs are converted to
// markdown by the configured converter command, which receives the file path
// as its single argument and writes markdown to stdout. All failures wrap
// apperrors.ErrExtraction.
func ExtractContent(ctx context.Context, path, pdfConverter string) (*ExtractedContent, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: stat %s: %v", apperrors.ErrExtraction, path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a file", apperrors.ErrExtraction, path)
	}

	mime := MimeForPath(path)
	switch mime {
	case MimePDF:
		content, err := convertPDF(ctx, path, pdfConverter)
		if err != nil {
			return nil, err
		}
		return &ExtractedContent{Content: content, Mime: mime}, nil

	case MimeMarkdown, MimeSQL, MimePlain:
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", apperrors.ErrExtraction, path, err)
		}
		return &ExtractedContent{Content: string(data), Mime: mime}, nil

	default:
		return nil, fmt.Errorf("%w: unsupported file type %s for %s", apperrors.ErrExtraction, filepath.Ext(path), path)
	}
}

func convertPDF(ctx context.Context, path, converter string) (string, error) {
	if converter == "" {
		return "", fmt.Errorf("%w: no PDF converter configured for %s", apperrors.ErrExtraction, path)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, converter, path)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%w: convert %s: %v: %s", apperrors.ErrExtraction, path, err, strings.TrimSpace(stderr.String()))
	}

	return stdout.String(), nil
}

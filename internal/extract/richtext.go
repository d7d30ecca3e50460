package extract

import (
	"bytes"
	"fmt"
	"os"

	"github.com/lu4p/cat"
	"github.com/lu4p/cat/rtftxt"
)

// extractRTF strips RTF control words and returns the plain text.
func extractRTF(content []byte) (string, error) {
	buf, err := rtftxt.Text(bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("extract RTF: %w", err)
	}
	return buf.String(), nil
}

// extractODT extracts text from an OpenDocument Text file. The odt reader
// works on paths, so the upload goes through a temp file.
func extractODT(content []byte) (string, error) {
	tmp, err := os.CreateTemp("", "upload-*.odt")
	if err != nil {
		return "", fmt.Errorf("extract ODT: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("extract ODT: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("extract ODT: %w", err)
	}
	text, err := cat.File(tmp.Name())
	if err != nil {
		return "", fmt.Errorf("extract ODT: %w", err)
	}
	return text, nil
}

package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// runText matches the inner text of <w:t> elements, with or without attributes.
var runText = regexp.MustCompile(`<w:t[^>]*>([^<]*)</w:t>`)

// extractDOCX pulls the text runs out of the OOXML main document part.
// Paragraph and run attributes vary between producers, so text is taken from
// every <w:t> node instead of parsing the document structure.
func extractDOCX(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("extract DOCX: not a zip: %w", err)
	}

	docXML, err := readZipEntry(zr, "word/document.xml")
	if err != nil {
		return "", err
	}
	if docXML == nil {
		// Some producers relocate the main part under another directory.
		for _, f := range zr.File {
			if strings.HasSuffix(f.Name, "/document.xml") {
				if docXML, err = readZipEntry(zr, f.Name); err != nil {
					return "", err
				}
				break
			}
		}
	}
	if docXML == nil {
		return "", fmt.Errorf("extract DOCX: document.xml not found")
	}

	parts := runText.FindAllStringSubmatch(string(docXML), -1)
	var b strings.Builder
	for _, p := range parts {
		text := strings.TrimSpace(p[1])
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(text)
	}
	return b.String(), nil
}

// readZipEntry returns the bytes of the named entry, or nil when absent.
func readZipEntry(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("extract DOCX: open %s: %w", name, err)
		}
		data, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return nil, fmt.Errorf("extract DOCX: read %s: %w", name, err)
		}
		return data, nil
	}
	return nil, nil
}

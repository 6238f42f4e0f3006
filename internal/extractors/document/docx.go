package document

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// documentXML represents the structure of word/document.xml.
type documentXML struct {
	Body struct {
		Paragraphs []paragraph `xml:"p"`
	} `xml:"body"`
}

type paragraph struct {
	Runs []run `xml:"r"`
}

type run struct {
	Text []textElement `xml:"t"`
}

type textElement struct {
	Content string `xml:",chardata"`
}

// coreXML represents the structure of docProps/core.xml.
type coreXML struct {
	Title string `xml:"title"`
}

func parseDOCX(content []byte) (parsed, error) {
	reader, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return parsed{}, fmt.Errorf("open docx: %w", err)
	}

	body, err := readZipFile(reader, "word/document.xml")
	if err != nil {
		return parsed{}, err
	}
	if body == nil {
		return parsed{}, errors.New("docx has no word/document.xml")
	}

	var doc documentXML
	if err := xml.Unmarshal(body, &doc); err != nil {
		return parsed{}, fmt.Errorf("parse document.xml: %w", err)
	}

	var text strings.Builder
	for i, para := range doc.Body.Paragraphs {
		if i > 0 {
			text.WriteString("\n")
		}
		for _, r := range para.Runs {
			for _, t := range r.Text {
				text.WriteString(t.Content)
			}
		}
	}

	out := parsed{text: strings.TrimSpace(text.String())}
	if core, err := readZipFile(reader, "docProps/core.xml"); err == nil && core != nil {
		var props coreXML
		if xml.Unmarshal(core, &props) == nil {
			out.title = strings.TrimSpace(props.Title)
		}
	}
	return out, nil
}

// readZipFile returns the named entry, or nil when it is absent.
func readZipFile(reader *zip.Reader, name string) ([]byte, error) {
	for _, file := range reader.File {
		if file.Name != name {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		defer rc.Close()
		content, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		return content, nil
	}
	return nil, nil
}

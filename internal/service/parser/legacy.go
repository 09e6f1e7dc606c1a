package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"path"

	chatModels "sandchat/internal/domain/models/chat"
)

// legacyFile is the inline file-creation markup:
//
//	{"file": {"name": "notes.md", "content": "...", "mimeType": "text/markdown"}}
type legacyFile struct {
	File *struct {
		Name     string  `json:"name"`
		Filename string  `json:"filename"`
		Content  *string `json:"content"`
		MimeType string  `json:"mimeType"`
	} `json:"file"`
}

func parseLegacyFile(raw string) (*chatModels.DownloadableFile, error) {
	var lf legacyFile
	if err := json.Unmarshal([]byte(raw), &lf); err != nil {
		return nil, fmt.Errorf("decode file markup: %w", err)
	}
	if lf.File == nil {
		return nil, errors.New("file markup has no file object")
	}
	name := lf.File.Name
	if name == "" {
		name = lf.File.Filename
	}
	if name == "" {
		return nil, errors.New("file markup has no name")
	}
	if lf.File.Content == nil {
		return nil, errors.New("file markup has no content")
	}

	mimeType := lf.File.MimeType
	if mimeType == "" {
		mimeType = mime.TypeByExtension(path.Ext(name))
	}
	if mimeType == "" {
		mimeType = "text/plain"
	}
	return &chatModels.DownloadableFile{Name: name, Content: *lf.File.Content, MimeType: mimeType}, nil
}

// matchObject returns the offset just past the JSON object that opens at
// start, honouring string literals and escapes
func matchObject(buf string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(buf); i++ {
		c := buf[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1, true
			}
		}
	}
	return 0, false
}

package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"sandchat/internal/config"
	chatModels "sandchat/internal/domain/models/chat"
)

// fileOpEntry is the wire form of one batch entry before validation
type fileOpEntry struct {
	Operation chatModels.OperationKind `json:"operation"`
	Path      string                   `json:"path"`
	Content   *string                  `json:"content"`
}

// Validate implements validation.Validatable
func (e fileOpEntry) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Operation,
			validation.Required.Error("operation is required"),
			validation.In(chatModels.OperationCreate, chatModels.OperationUpdate, chatModels.OperationDelete).
				Error("operation must be create, update or delete"),
		),
		validation.Field(&e.Path,
			validation.Required.Error("path is required"),
			validation.RuneLength(1, config.MaxSandboxPathLength),
			validation.By(validateSandboxPath),
		),
		validation.Field(&e.Content,
			validation.When(e.Operation != chatModels.OperationDelete,
				validation.NotNil.Error("content is required for create and update"),
			),
		),
	)
}

func validateSandboxPath(value interface{}) error {
	p, _ := value.(string)
	if p == "" {
		return nil
	}
	if p == ".." || strings.HasPrefix(p, "../") {
		return errors.New("path escapes the sandbox")
	}
	// "/", "./" and "a/.." clean to nothing
	if NormalizePath(p) == "" {
		return errors.New("path names no file")
	}
	return nil
}

// NormalizePath cleans a sandbox path: no leading slash or "./", no
// duplicate separators. An empty input stays empty.
func NormalizePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	p = path.Clean("/" + strings.ReplaceAll(p, "\\", "/"))
	return strings.TrimPrefix(p, "/")
}

func (s *scanner) addBatch(content string, offset int) {
	batch := FileBatch{Index: len(s.proj.FileBatches), Offset: offset}
	defer func() { s.proj.FileBatches = append(s.proj.FileBatches, batch) }()

	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &raw); err != nil {
		s.fail(FailureBatchJSON, offset, fmt.Sprintf("decode batch: %v", err))
		return
	}

	for i, item := range raw {
		var entry fileOpEntry
		if err := json.Unmarshal(item, &entry); err != nil {
			s.fail(FailureBatchEntry, offset, fmt.Sprintf("entry %d: %v", i, err))
			continue
		}
		entry.Operation = chatModels.OperationKind(strings.ToLower(strings.TrimSpace(string(entry.Operation))))
		entry.Path = strings.TrimSpace(entry.Path)
		if err := entry.Validate(); err != nil {
			s.fail(FailureBatchEntry, offset, fmt.Sprintf("entry %d: %v", i, err))
			continue
		}
		batch.Operations = append(batch.Operations, chatModels.FileOperation{
			Operation: entry.Operation,
			Path:      NormalizePath(entry.Path),
			Content:   entry.Content,
		})
	}
}

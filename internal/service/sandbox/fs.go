// Package sandbox implements a chat's virtual file system and the runtime
// bridge that previews and executes it.
package sandbox

import (
	"slices"

	chatModels "sandchat/internal/domain/models/chat"
)

// ApplyOperations applies a file-operation batch in order. Create and
// update upsert the file and make it the active, open file. Delete removes
// the file and moves the selection to a neighbouring open file.
func ApplyOperations(state *chatModels.SandboxState, ops []chatModels.FileOperation) {
	for _, op := range ops {
		switch op.Operation {
		case chatModels.OperationCreate, chatModels.OperationUpdate:
			content := ""
			if op.Content != nil {
				content = *op.Content
			}
			upsert(state, op.Path, content, "")
		case chatModels.OperationDelete:
			remove(state, op.Path)
		}
	}
}

// ApplyCodeBlock writes a complete fenced code block to the implicit
// path of its language and selects it
func ApplyCodeBlock(state *chatModels.SandboxState, language chatModels.Language, content string) string {
	path := language.DefaultPath()
	upsert(state, path, content, language)
	return path
}

// Edit replaces the content of an existing file. Unknown paths are ignored.
func Edit(state *chatModels.SandboxState, path, content string) bool {
	f, ok := state.Files[path]
	if !ok {
		return false
	}
	f.Content = content
	state.Files[path] = f
	return true
}

// Select opens path and makes it active
func Select(state *chatModels.SandboxState, path string) bool {
	if _, ok := state.Files[path]; !ok {
		return false
	}
	open(state, path)
	return true
}

// Close removes path from the open files, moving the selection like a delete
func Close(state *chatModels.SandboxState, path string) bool {
	idx := slices.Index(state.OpenFiles, path)
	if idx < 0 {
		return false
	}
	state.OpenFiles = slices.Delete(state.OpenFiles, idx, idx+1)
	if state.ActiveFile != nil && *state.ActiveFile == path {
		state.ActiveFile = fallback(state.OpenFiles, idx)
	}
	return true
}

func upsert(state *chatModels.SandboxState, path, content string, language chatModels.Language) {
	if language == "" {
		language = chatModels.LanguageForPath(path)
		// a python-api file keeps its tag across updates
		if existing, ok := state.Files[path]; ok && existing.Language == chatModels.LanguagePythonAPI {
			language = existing.Language
		}
	}
	state.Files[path] = chatModels.SandboxFile{Content: content, Language: language}
	open(state, path)
}

func open(state *chatModels.SandboxState, path string) {
	if !slices.Contains(state.OpenFiles, path) {
		state.OpenFiles = append(state.OpenFiles, path)
	}
	p := path
	state.ActiveFile = &p
}

func remove(state *chatModels.SandboxState, path string) {
	if _, ok := state.Files[path]; !ok {
		return
	}
	delete(state.Files, path)

	idx := slices.Index(state.OpenFiles, path)
	if idx >= 0 {
		state.OpenFiles = slices.Delete(state.OpenFiles, idx, idx+1)
	}
	if state.ActiveFile == nil || *state.ActiveFile != path {
		return
	}
	if idx < 0 {
		idx = len(state.OpenFiles)
	}
	state.ActiveFile = fallback(state.OpenFiles, idx)
}

// fallback picks the open file now at the removed index, else the one
// before it, else nothing
func fallback(openFiles []string, idx int) *string {
	switch {
	case idx < len(openFiles):
		p := openFiles[idx]
		return &p
	case len(openFiles) > 0:
		p := openFiles[len(openFiles)-1]
		return &p
	default:
		return nil
	}
}

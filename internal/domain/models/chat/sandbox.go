package chat

import (
	"encoding/json"
	"sort"
)

// Language tags drive preview document construction
type Language string

const (
	LanguageHTML       Language = "html"
	LanguageJSX        Language = "jsx"
	LanguageJavaScript Language = "javascript"
	LanguagePython     Language = "python"
	LanguagePythonAPI  Language = "python-api"
	LanguageCSS        Language = "css"
	LanguageText       Language = "text"
)

// IsWebPreviewable reports whether the language renders in the preview document
func (l Language) IsWebPreviewable() bool {
	return l == LanguageHTML || l == LanguageJSX || l == LanguageJavaScript
}

// IsPython reports whether the language runs on the Python runtime
func (l Language) IsPython() bool {
	return l == LanguagePython || l == LanguagePythonAPI
}

// DefaultPath is the implicit path a single-file sandbox uses for the language
func (l Language) DefaultPath() string {
	switch l {
	case LanguageHTML:
		return "index.html"
	case LanguageJSX:
		return "App.jsx"
	case LanguageJavaScript:
		return "script.js"
	case LanguagePython:
		return "main.py"
	case LanguagePythonAPI:
		return "api.py"
	case LanguageCSS:
		return "styles.css"
	default:
		return "file.txt"
	}
}

// SandboxFile is one file of the virtual file system
type SandboxFile struct {
	Content  string   `json:"content"`
	Language Language `json:"language"`
}

// ConsoleKind classifies a captured console line
type ConsoleKind string

const (
	ConsoleLog   ConsoleKind = "log"
	ConsoleWarn  ConsoleKind = "warn"
	ConsoleError ConsoleKind = "error"
	ConsoleInfo  ConsoleKind = "info"
)

// ConsoleLine is one captured sandbox console event
type ConsoleLine struct {
	Kind    ConsoleKind `json:"kind"`
	Message string      `json:"message"`
}

// SandboxState is the virtual file system of a chat plus its editor and
// console state.
//
// Invariants: ActiveFile, if set, is a key of Files. OpenFiles has no
// duplicates and only contains keys of Files. Directories are never
// stored; they are implied by "/"-separated path prefixes.
type SandboxState struct {
	Files         map[string]SandboxFile `json:"files"`
	OpenFiles     []string               `json:"open_files"`
	ActiveFile    *string                `json:"active_file"`
	ConsoleOutput []ConsoleLine          `json:"console_output"`
}

// NewSandboxState returns an empty sandbox
func NewSandboxState() *SandboxState {
	return &SandboxState{
		Files:         make(map[string]SandboxFile),
		OpenFiles:     []string{},
		ConsoleOutput: []ConsoleLine{},
	}
}

// NewSingleFileState builds the degenerate one-file sandbox used by the
// legacy {code, language} snapshot format.
func NewSingleFileState(code string, language Language) *SandboxState {
	s := NewSandboxState()
	path := language.DefaultPath()
	s.Files[path] = SandboxFile{Content: code, Language: language}
	s.OpenFiles = []string{path}
	s.ActiveFile = &path
	return s
}

// Paths returns all file paths in lexical order
func (s *SandboxState) Paths() []string {
	paths := make([]string, 0, len(s.Files))
	for p := range s.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Active returns the active path and file, if any
func (s *SandboxState) Active() (string, SandboxFile, bool) {
	if s == nil || s.ActiveFile == nil {
		return "", SandboxFile{}, false
	}
	f, ok := s.Files[*s.ActiveFile]
	return *s.ActiveFile, f, ok
}

// Clone returns a deep copy of the sandbox state
func (s *SandboxState) Clone() *SandboxState {
	if s == nil {
		return nil
	}
	out := &SandboxState{
		Files:         make(map[string]SandboxFile, len(s.Files)),
		OpenFiles:     append([]string{}, s.OpenFiles...),
		ConsoleOutput: append([]ConsoleLine{}, s.ConsoleOutput...),
	}
	for k, v := range s.Files {
		out.Files[k] = v
	}
	if s.ActiveFile != nil {
		active := *s.ActiveFile
		out.ActiveFile = &active
	}
	return out
}

// legacySandboxState is the single-file snapshot format of older chats
type legacySandboxState struct {
	Code     *string  `json:"code"`
	Language Language `json:"language"`
}

// UnmarshalJSON accepts both the multi-file format and the legacy
// {code, language} format, upgrading the latter to a one-file sandbox.
func (s *SandboxState) UnmarshalJSON(data []byte) error {
	var legacy legacySandboxState
	if err := json.Unmarshal(data, &legacy); err == nil && legacy.Code != nil {
		lang := legacy.Language
		if lang == "" {
			lang = LanguageText
		}
		*s = *NewSingleFileState(*legacy.Code, lang)
		return nil
	}

	type plain SandboxState
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*s = SandboxState(p)
	if s.Files == nil {
		s.Files = make(map[string]SandboxFile)
	}
	if s.OpenFiles == nil {
		s.OpenFiles = []string{}
	}
	if s.ConsoleOutput == nil {
		s.ConsoleOutput = []ConsoleLine{}
	}
	return nil
}

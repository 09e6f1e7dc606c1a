package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"sandchat/internal/config"
	"sandchat/internal/domain"
	chatModels "sandchat/internal/domain/models/chat"
	domainchat "sandchat/internal/domain/services/chat"
)

// Publisher delivers chat events to subscribers
type Publisher interface {
	Publish(evt chatModels.Event)
}

// service implements the SandboxService interface
type service struct {
	conv       domainchat.ConversationService
	previewer  *Previewer
	python     *PythonRuntime
	runner     *Runner
	publisher  Publisher
	runTimeout time.Duration
	logger     *slog.Logger

	apiMu sync.Mutex
	apis  map[string][]domainchat.APIFunction
}

// NewService creates the sandbox service
func NewService(
	conv domainchat.ConversationService,
	previewer *Previewer,
	python *PythonRuntime,
	runner *Runner,
	publisher Publisher,
	runTimeout time.Duration,
	logger *slog.Logger,
) domainchat.SandboxService {
	return &service{
		conv:       conv,
		previewer:  previewer,
		python:     python,
		runner:     runner,
		publisher:  publisher,
		runTimeout: runTimeout,
		logger:     logger,
		apis:       make(map[string][]domainchat.APIFunction),
	}
}

// PreviewPath is the URL the preview document of a chat is served at
func PreviewPath(chatID string) string {
	return "/api/chats/" + chatID + "/preview"
}

// GetSandbox returns the chat's sandbox state
func (s *service) GetSandbox(ctx context.Context, chatID string) (*chatModels.SandboxState, error) {
	chat, err := s.conv.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if chat.SandboxState == nil {
		return nil, fmt.Errorf("chat %s: %w", chatID, domain.ErrNoSandbox)
	}
	return chat.SandboxState, nil
}

// EditFile applies a direct user edit. Assistant file operations that
// arrive later for the same path overwrite it.
func (s *service) EditFile(ctx context.Context, chatID string, req *domainchat.EditFileRequest) (*chatModels.SandboxState, error) {
	if err := s.validateEditFileRequest(req); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	state, err := s.conv.UpdateSandbox(ctx, chatID, false, func(st *chatModels.SandboxState) error {
		if !Edit(st, req.Path, req.Content) {
			return &domain.NotFoundError{Message: fmt.Sprintf("file not found: %s", req.Path)}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.sandboxChanged(chatID, state)
	s.conv.Persist(ctx)
	return state, nil
}

// SelectFile opens a file and makes it active
func (s *service) SelectFile(ctx context.Context, chatID string, req *domainchat.SelectFileRequest) (*chatModels.SandboxState, error) {
	if err := validation.ValidateStruct(req, validation.Field(&req.Path, validation.Required)); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	state, err := s.conv.UpdateSandbox(ctx, chatID, false, func(st *chatModels.SandboxState) error {
		if !Select(st, req.Path) {
			return &domain.NotFoundError{Message: fmt.Sprintf("file not found: %s", req.Path)}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.sandboxChanged(chatID, state)
	return state, nil
}

// Preview returns the chat's executable preview document
func (s *service) Preview(ctx context.Context, chatID string) (string, error) {
	state, err := s.GetSandbox(ctx, chatID)
	if err != nil {
		return "", err
	}
	return s.previewer.Document(chatID, state), nil
}

// Run executes the active file. Web languages are (re)rendered for the
// preview, whose console output arrives through RelayConsole. Python runs
// on the shared interpreter with its output streamed to the console.
func (s *service) Run(ctx context.Context, chatID string) (*domainchat.RunResult, error) {
	release, err := s.runner.Acquire(chatID)
	if err != nil {
		return nil, err
	}
	defer release()

	state, err := s.GetSandbox(ctx, chatID)
	if err != nil {
		return nil, err
	}
	path, file, ok := state.Active()
	if !ok {
		return nil, fmt.Errorf("%w: no active file to run", domain.ErrValidation)
	}
	if !file.Language.IsWebPreviewable() && !file.Language.IsPython() {
		return nil, fmt.Errorf("%w: %s files cannot be run", domain.ErrValidation, file.Language)
	}

	if err := s.conv.ClearConsole(ctx, chatID); err != nil {
		return nil, err
	}
	s.publish(chatModels.EventConsoleClear, chatID, nil)

	result := &domainchat.RunResult{Path: path, Language: file.Language}

	if file.Language.IsWebPreviewable() {
		s.previewer.Forget(chatID)
		s.previewer.Document(chatID, state)
		result.PreviewURL = PreviewPath(chatID)
		result.Console = []chatModels.ConsoleLine{}
		s.logger.Info("preview run", "chat_id", chatID, "path", path, "language", file.Language)
		return result, nil
	}

	s.runPython(ctx, chatID, path, file)

	if file.Language == chatModels.LanguagePythonAPI {
		api := ScanAPI(file.Content)
		s.apiMu.Lock()
		s.apis[chatID] = api
		s.apiMu.Unlock()
		result.API = api
	}

	chat, err := s.conv.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	result.Console = chat.SandboxState.ConsoleOutput
	s.conv.Persist(ctx)
	return result, nil
}

// runPython executes the file. Failures of the user code or the
// interpreter end up as console errors, never as an error return.
func (s *service) runPython(ctx context.Context, chatID, path string, file chatModels.SandboxFile) {
	runCtx := ctx
	if s.runTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.runTimeout)
		defer cancel()
	}

	started := time.Now()
	res, err := s.python.Exec(runCtx, chatID, path, file.Content, func(line chatModels.ConsoleLine) {
		s.appendConsole(context.WithoutCancel(ctx), chatID, line)
	})

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		s.appendConsole(ctx, chatID, chatModels.ConsoleLine{
			Kind:    chatModels.ConsoleError,
			Message: fmt.Sprintf("Execution timed out after %s", s.runTimeout),
		})
	case err != nil:
		s.logger.Error("python run failed", "chat_id", chatID, "path", path, "error", err)
		s.appendConsole(context.WithoutCancel(ctx), chatID, chatModels.ConsoleLine{
			Kind:    chatModels.ConsoleError,
			Message: "Python runtime unavailable: " + err.Error(),
		})
	case !res.OK:
		s.logger.Debug("python run raised", "chat_id", chatID, "path", path, "error", res.Error)
	}

	s.logger.Info("python run finished",
		"chat_id", chatID,
		"path", path,
		"language", file.Language,
		"duration_ms", time.Since(started).Milliseconds(),
	)
}

// API returns the python-api surface found by the last run
func (s *service) API(ctx context.Context, chatID string) ([]domainchat.APIFunction, error) {
	if _, err := s.GetSandbox(ctx, chatID); err != nil {
		return nil, err
	}
	s.apiMu.Lock()
	defer s.apiMu.Unlock()
	api := s.apis[chatID]
	if api == nil {
		return []domainchat.APIFunction{}, nil
	}
	return append([]domainchat.APIFunction(nil), api...), nil
}

// CallAPI invokes a function of the python-api surface
func (s *service) CallAPI(ctx context.Context, chatID string, req *domainchat.CallAPIRequest) (*domainchat.CallAPIResponse, error) {
	if err := validation.ValidateStruct(req, validation.Field(&req.Function, validation.Required)); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	api, err := s.API(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if len(api) == 0 {
		return nil, fmt.Errorf("%w: run the python-api file before calling it", domain.ErrValidation)
	}

	release, err := s.runner.Acquire(chatID)
	if err != nil {
		return nil, err
	}
	defer release()

	callCtx := ctx
	if s.runTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.runTimeout)
		defer cancel()
	}

	resp, err := s.python.Call(callCtx, chatID, api, req.Function, req.Args)
	if err != nil {
		s.logger.Error("python api call failed", "chat_id", chatID, "function", req.Function, "error", err)
		return &domainchat.CallAPIResponse{Error: "Python runtime unavailable"}, nil
	}
	return resp, nil
}

// RelayConsole records a console event posted by the preview document
func (s *service) RelayConsole(ctx context.Context, chatID string, msg *domainchat.PreviewMessage) error {
	if err := s.validatePreviewMessage(msg); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	if _, err := s.GetSandbox(ctx, chatID); err != nil {
		return err
	}

	payload := truncateLine(msg.Payload, config.MaxConsoleLineLength)
	s.appendConsole(ctx, chatID, chatModels.ConsoleLine{Kind: msg.Kind, Message: payload})
	return nil
}

// truncateLine cuts s to at most limit bytes on a rune boundary and marks
// the cut with an ellipsis
func truncateLine(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}

// Forget drops the runtime state held for a chat
func (s *service) Forget(ctx context.Context, chatID string) {
	s.previewer.Forget(chatID)
	s.apiMu.Lock()
	delete(s.apis, chatID)
	s.apiMu.Unlock()
	if err := s.python.Reset(ctx, chatID); err != nil {
		s.logger.Debug("python namespace reset failed", "chat_id", chatID, "error", err)
	}
}

func (s *service) appendConsole(ctx context.Context, chatID string, line chatModels.ConsoleLine) {
	if err := s.conv.AppendConsole(ctx, chatID, line); err != nil {
		s.logger.Warn("console line dropped", "chat_id", chatID, "error", err)
		return
	}
	s.publish(chatModels.EventConsole, chatID, line)
}

func (s *service) sandboxChanged(chatID string, state *chatModels.SandboxState) {
	s.previewer.Schedule(chatID, state)
	s.publish(chatModels.EventSandboxUpdate, chatID, state)
}

func (s *service) publish(eventType, chatID string, data interface{}) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(chatModels.Event{Type: eventType, ChatID: chatID, Data: data})
}

// Validation methods

func (s *service) validateEditFileRequest(req *domainchat.EditFileRequest) error {
	return validation.ValidateStruct(req,
		validation.Field(&req.Path,
			validation.Required,
			validation.RuneLength(1, config.MaxSandboxPathLength),
		),
		validation.Field(&req.Content, validation.Length(0, config.MaxSandboxFileSize)),
	)
}

func (s *service) validatePreviewMessage(msg *domainchat.PreviewMessage) error {
	return validation.ValidateStruct(msg,
		validation.Field(&msg.Source,
			validation.Required,
			validation.In(domainchat.PreviewMessageSource),
		),
		validation.Field(&msg.Kind,
			validation.Required,
			validation.In(chatModels.ConsoleLog, chatModels.ConsoleWarn, chatModels.ConsoleError, chatModels.ConsoleInfo),
		),
	)
}

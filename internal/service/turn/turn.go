package turn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	mstream "github.com/haowjy/meridian-stream-go"

	chatModels "sandchat/internal/domain/models/chat"
	domainchat "sandchat/internal/domain/services/chat"
	"sandchat/internal/service/parser"
	"sandchat/internal/service/sandbox"
)

// ErrIdleTimeout fails a turn whose token stream went quiet
var ErrIdleTimeout = errors.New("token stream idle timeout")

// turn is one assistant turn. The work function owns buf, tracker and
// status; the revealer goroutine only writes the message text.
type turn struct {
	id        string
	chatID    string
	messageID string
	req       *domainchat.StreamRequest

	c        *Controller
	stream   *mstream.Stream
	cancel   context.CancelFunc
	ctx      context.Context
	done     chan struct{}
	stopOnce sync.Once

	buf       strings.Builder
	tracker   *parser.Tracker
	revealer  *parser.Revealer
	status    chatModels.MessageStatus
	grounding map[string]interface{}
	pending   atomic.Pointer[string]
}

func (c *Controller) newTurn(chatID, messageID string, req *domainchat.StreamRequest) *turn {
	ctx, cancel := context.WithCancel(context.Background())
	t := &turn{
		id:        uuid.NewString(),
		chatID:    chatID,
		messageID: messageID,
		req:       req,
		c:         c,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		tracker:   parser.NewTracker(),
		status:    chatModels.StatusThinking,
	}
	t.revealer = parser.NewRevealer(c.cfg.RevealInterval, t.reveal)
	t.stream = mstream.NewStream(
		t.id,
		t.workFunc,
		mstream.WithCatchup(c.catchup(chatID)),
		mstream.WithEventIDs(c.cfg.Debug),
	)
	return t
}

// stop raises the cancellation signal. Safe to call multiple times.
func (t *turn) stop() {
	t.stopOnce.Do(func() {
		t.cancel()
		t.stream.Cancel()
	})
}

// workFunc is the mstream WorkFunc that consumes the token stream
func (t *turn) workFunc(ctx context.Context, send func(mstream.Event)) error {
	defer close(t.done)
	defer t.c.release(t)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopAfter := context.AfterFunc(t.ctx, cancel)
	defer stopAfter()

	chunks, err := t.c.source.Stream(ctx, t.req)
	if err != nil {
		if ctx.Err() != nil {
			return t.finishCancelled(ctx, send)
		}
		return t.finishFailed(ctx, send, fmt.Errorf("failed to start token stream: %w", err))
	}

	var idle <-chan time.Time
	var timer *time.Timer
	if t.c.cfg.IdleTimeout > 0 {
		timer = time.NewTimer(t.c.cfg.IdleTimeout)
		defer timer.Stop()
		idle = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return t.finishCancelled(ctx, send)

		case <-idle:
			return t.finishFailed(ctx, send, ErrIdleTimeout)

		case chunk, ok := <-chunks:
			// Nothing received after cancellation is acted upon
			if ctx.Err() != nil {
				return t.finishCancelled(ctx, send)
			}
			if !ok {
				return t.finishComplete(ctx, send)
			}
			if chunk.Err != nil {
				return t.finishFailed(ctx, send, chunk.Err)
			}
			if timer != nil {
				timer.Reset(t.c.cfg.IdleTimeout)
			}
			if chunk.GroundingMetadata != nil {
				t.grounding = chunk.GroundingMetadata
			}
			if chunk.TextDelta == "" && chunk.GroundingMetadata == nil {
				continue
			}
			t.buf.WriteString(chunk.TextDelta)
			t.apply(ctx, send, parser.Parse(t.buf.String(), false))
		}
	}
}

// apply projects the parsed buffer onto the sandbox and the message.
// Already-applied constructs are skipped by the tracker, so replaying the
// same buffer changes nothing.
func (t *turn) apply(ctx context.Context, send func(mstream.Event), proj *parser.Projection) {
	for _, f := range proj.Failures {
		t.c.logger.Debug("parse failure",
			"turn_id", t.id,
			"kind", f.Kind,
			"offset", f.Offset,
			"detail", f.Detail,
		)
	}

	t.applySandbox(ctx, send, proj)
	if ctx.Err() != nil {
		return
	}

	if t.status == chatModels.StatusThinking && !proj.Thinking && proj.HasContent() {
		t.status = chatModels.StatusGenerating
	}
	if proj.Pending != nil {
		lang := proj.Pending.Language
		t.pending.Store(&lang)
	} else {
		t.pending.Store(nil)
	}

	status := t.status
	grounding := t.grounding
	t.updateMessage(ctx, send, func(m *chatModels.Message) {
		m.Status = status
		m.Reasoning = proj.Reasoning
		m.Plan = proj.Plan
		m.CreatedFiles = proj.LegacyFiles
		if grounding != nil {
			m.GroundingMetadata = grounding
		}
	})
	t.revealer.SetTarget(proj.DisplayText)
}

func (t *turn) applySandbox(ctx context.Context, send func(mstream.Event), proj *parser.Projection) {
	var actions []parser.Action
	for _, a := range t.tracker.Pending(proj) {
		if a.Kind == parser.ActionCodeBlock && !a.Code.Language.PopulatesSandbox() {
			continue
		}
		actions = append(actions, a)
	}
	if len(actions) == 0 {
		return
	}

	state, err := t.c.conv.UpdateSandbox(ctx, t.chatID, true, func(st *chatModels.SandboxState) error {
		for _, a := range actions {
			switch a.Kind {
			case parser.ActionFileBatch:
				sandbox.ApplyOperations(st, a.Batch.Operations)
			case parser.ActionCodeBlock:
				sandbox.ApplyCodeBlock(st, a.Code.Language, a.Code.Content)
			}
		}
		return nil
	})
	if err != nil {
		t.c.logger.Error("failed to apply sandbox operations",
			"chat_id", t.chatID,
			"turn_id", t.id,
			"error", err,
		)
		return
	}

	t.c.logger.Debug("sandbox updated by turn",
		"chat_id", t.chatID,
		"turn_id", t.id,
		"actions", len(actions),
		"files", len(state.Files),
	)
	t.c.previewer.Schedule(t.chatID, state)
	t.emit(send, chatModels.EventSandboxUpdate, state)
}

// reveal is the revealer callback; it commits newly revealed text
func (t *turn) reveal(text string) {
	t.updateMessage(t.ctx, nil, func(m *chatModels.Message) {
		m.Text = text
	})
}

func (t *turn) updateMessage(ctx context.Context, send func(mstream.Event), fn func(*chatModels.Message)) {
	msg, err := t.c.conv.UpdateMessage(ctx, t.chatID, t.messageID, fn)
	if err != nil {
		t.c.logger.Warn("failed to update assistant message",
			"chat_id", t.chatID,
			"turn_id", t.id,
			"error", err,
		)
		return
	}
	t.emit(send, chatModels.EventMessageUpdate, chatModels.MessageUpdateData{
		Message:         msg,
		PendingLanguage: t.pending.Load(),
	})
}

// finishComplete runs the final parse pass, settles the message and persists
func (t *turn) finishComplete(ctx context.Context, send func(mstream.Event)) error {
	t.apply(ctx, send, parser.Parse(t.buf.String(), true))
	t.pending.Store(nil)
	text := t.revealer.Flush()

	t.updateMessage(ctx, send, func(m *chatModels.Message) {
		m.Text = text
		m.Status = chatModels.StatusIdle
	})
	t.persist(ctx)

	t.c.logger.Info("turn complete",
		"chat_id", t.chatID,
		"turn_id", t.id,
		"bytes", t.buf.Len(),
	)
	t.emit(send, chatModels.EventTurnComplete, chatModels.TurnEndData{
		MessageID: t.messageID,
		Status:    chatModels.StatusIdle,
	})
	return nil
}

// finishCancelled keeps whatever text was committed and returns to Idle
func (t *turn) finishCancelled(ctx context.Context, send func(mstream.Event)) error {
	t.revealer.Stop()
	t.pending.Store(nil)

	ctx = context.WithoutCancel(ctx)
	t.updateMessage(ctx, send, func(m *chatModels.Message) {
		m.Status = chatModels.StatusIdle
	})
	t.persist(ctx)

	t.c.logger.Info("turn cancelled",
		"chat_id", t.chatID,
		"turn_id", t.id,
		"bytes", t.buf.Len(),
	)
	t.emit(send, chatModels.EventTurnCancelled, chatModels.TurnEndData{
		MessageID: t.messageID,
		Status:    chatModels.StatusIdle,
	})
	return nil
}

// finishFailed marks the message Error. The raw error is logged only.
func (t *turn) finishFailed(ctx context.Context, send func(mstream.Event), cause error) error {
	t.revealer.Stop()
	t.pending.Store(nil)

	ctx = context.WithoutCancel(ctx)
	t.updateMessage(ctx, send, func(m *chatModels.Message) {
		m.Status = chatModels.StatusError
		if strings.TrimSpace(m.Text) == "" {
			m.Text = FailureText
		} else {
			m.Text += "\n\n" + FailureText
		}
	})
	t.persist(ctx)

	t.c.logger.Error("turn failed",
		"chat_id", t.chatID,
		"turn_id", t.id,
		"error", cause,
	)
	t.emit(send, chatModels.EventTurnError, chatModels.TurnEndData{
		MessageID: t.messageID,
		Status:    chatModels.StatusError,
	})
	return cause
}

// persist flushes the conversation and drops the buffered stream events
func (t *turn) persist(ctx context.Context) {
	// Persist even when the turn was cancelled so partial output survives.
	// PersistAndClear skips the callback when the buffer is empty.
	persisted := false
	err := t.stream.PersistAndClear(func(events []mstream.Event) error {
		t.c.conv.Persist(ctx)
		persisted = true
		return nil
	})
	if !persisted && err == nil {
		t.c.conv.Persist(ctx)
	}
	if err != nil {
		t.c.logger.Error("failed to persist turn",
			"chat_id", t.chatID,
			"turn_id", t.id,
			"error", err,
		)
	}
}

// emit publishes to chat subscribers and, when send is set, to the turn stream
func (t *turn) emit(send func(mstream.Event), eventType string, data interface{}) {
	t.c.publish(t, eventType, data)
	if send == nil {
		return
	}
	jsonData, err := json.Marshal(data)
	if err != nil {
		t.c.logger.Error("failed to marshal event data", "error", err, "event_type", eventType)
		return
	}
	send(mstream.NewEvent(jsonData).WithType(eventType))
}

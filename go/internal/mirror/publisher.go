package mirror

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/codeclash/go/internal/models"
	"github.com/mcdev12/codeclash/go/internal/session"
	"github.com/mcdev12/codeclash/go/internal/wire"
)

var (
	ErrNoEditor       = errors.New("editor state not set")
	ErrAlreadyStarted = errors.New("publisher already started")
)

// Publisher is the mirrored player's side: it owns the local editor state, publishes every
// change and answers new spectators with a full snapshot.
type Publisher struct {
	session Session
	roomID  string
	user    models.User

	mu        sync.Mutex
	problems  []models.Problem
	code      []string
	languages []models.Language
	index     int
	ready     bool
	sub       *session.Subscription

	// held from snapshot to send so views go out in the order they were taken
	publishMu sync.Mutex

	wg sync.WaitGroup
}

// NewPublisher creates a publisher for user's editor in roomID
func NewPublisher(sess Session, roomID string, user models.User) *Publisher {
	return &Publisher{
		session: sess,
		roomID:  roomID,
		user:    user,
	}
}

// Start listens on the player's own view channel for spectator announcements until ctx ends
// or Stop is called.
func (p *Publisher) Start(ctx context.Context) error {
	if err := wire.ValidateIdentifier(p.user.UserID); err != nil {
		return fmt.Errorf("user id: %w", err)
	}

	p.mu.Lock()
	if p.sub != nil {
		p.mu.Unlock()
		return ErrAlreadyStarted
	}
	p.mu.Unlock()

	sub, err := p.session.Subscribe(ctx, wire.PlayerView(p.roomID, p.user.UserID))
	if err != nil {
		return fmt.Errorf("subscribe to own view channel: %w", err)
	}

	p.mu.Lock()
	p.sub = sub
	p.mu.Unlock()

	p.wg.Add(1)
	go p.listen(ctx, sub)
	return nil
}

// Stop ends the listener. It is safe to call repeatedly.
func (p *Publisher) Stop() error {
	p.mu.Lock()
	sub := p.sub
	p.sub = nil
	p.mu.Unlock()

	if sub == nil {
		return nil
	}
	err := sub.Unsubscribe()
	p.wg.Wait()
	return err
}

// SetEditor replaces the whole editor state and publishes it. code and languages hold one entry
// per problem.
func (p *Publisher) SetEditor(ctx context.Context, problems []models.Problem, code []string, languages []models.Language, index int) error {
	if len(code) != len(problems) || len(languages) != len(problems) {
		return fmt.Errorf("%w: %d problems, %d code, %d languages",
			models.ErrEditorStateLengthInvalid, len(problems), len(code), len(languages))
	}
	if err := checkIndex(index, len(problems)); err != nil {
		return err
	}

	p.publishMu.Lock()
	defer p.publishMu.Unlock()

	p.mu.Lock()
	p.problems = append([]models.Problem(nil), problems...)
	p.code = append([]string(nil), code...)
	p.languages = append([]models.Language(nil), languages...)
	p.index = index
	p.ready = true
	view := p.viewLocked()
	p.mu.Unlock()

	return p.publish(ctx, view)
}

// SetCode replaces the code of the current problem and publishes the change.
func (p *Publisher) SetCode(ctx context.Context, code string) error {
	return p.edit(ctx, func() error {
		p.code[p.index] = code
		return nil
	})
}

// SetLanguage replaces the language of the current problem and publishes the change.
func (p *Publisher) SetLanguage(ctx context.Context, language models.Language) error {
	return p.edit(ctx, func() error {
		p.languages[p.index] = language
		return nil
	})
}

// SelectProblem moves the editor to another problem and publishes the change.
func (p *Publisher) SelectProblem(ctx context.Context, index int) error {
	return p.edit(ctx, func() error {
		if err := checkIndex(index, len(p.problems)); err != nil {
			return err
		}
		p.index = index
		return nil
	})
}

// View returns the snapshot a new spectator would receive.
func (p *Publisher) View() (wire.ViewState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.ready {
		return wire.ViewState{}, ErrNoEditor
	}
	return p.viewLocked(), nil
}

func (p *Publisher) edit(ctx context.Context, fn func() error) error {
	p.publishMu.Lock()
	defer p.publishMu.Unlock()

	p.mu.Lock()
	if !p.ready {
		p.mu.Unlock()
		return ErrNoEditor
	}
	if err := fn(); err != nil {
		p.mu.Unlock()
		return err
	}
	view := p.viewLocked()
	p.mu.Unlock()

	return p.publish(ctx, view)
}

func (p *Publisher) viewLocked() wire.ViewState {
	return wire.ViewState{
		User:         p.user,
		Problem:      p.problems[p.index],
		ProblemIndex: p.index,
		Code:         p.code[p.index],
		Language:     p.languages[p.index],
	}
}

func (p *Publisher) publish(ctx context.Context, view wire.ViewState) error {
	return PublishViewState(ctx, p.session, p.roomID, p.user, view)
}

func (p *Publisher) listen(ctx context.Context, sub *session.Subscription) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case in, ok := <-sub.Messages():
			if !ok {
				return
			}
			announce, ok := in.Message.(wire.NewSpectator)
			if !ok {
				// our own view states
				continue
			}
			p.answer(ctx, announce.Spectator)
		}
	}
}

// answer sends the full snapshot to a newly announced spectator.
func (p *Publisher) answer(ctx context.Context, spectator models.User) {
	p.publishMu.Lock()
	defer p.publishMu.Unlock()

	view, err := p.View()
	if err != nil {
		log.Debug().Str("spectator", spectator.Nickname).Msg("no editor state to share yet")
		return
	}
	if err := p.publish(ctx, view); err != nil {
		log.Error().Err(err).Str("spectator", spectator.Nickname).Msg("failed to answer new spectator")
		return
	}
	log.Debug().
		Str("room_id", p.roomID).
		Str("spectator", spectator.Nickname).
		Int("problem_index", view.ProblemIndex).
		Msg("sent view snapshot to spectator")
}

func checkIndex(index, n int) error {
	if index < 0 || index >= n {
		return fmt.Errorf("%w: %d not in [0,%d)", models.ErrProblemIndexOutOfRange, index, n)
	}
	return nil
}

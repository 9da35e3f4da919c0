package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/mcdev12/codeclash/go/internal/models"
	"github.com/mcdev12/codeclash/go/internal/wire"
)

type createRoomRequest struct {
	Host models.User `json:"host"`
}

type joinRoomRequest struct {
	User models.User `json:"user"`
}

type updateSettingsRequest struct {
	Initiator models.User `json:"initiator"`
	models.RoomSettings
}

type changeHostRequest struct {
	Initiator models.User `json:"initiator"`
	NewHost   models.User `json:"new_host"`
}

type removeUserRequest struct {
	Initiator    models.User `json:"initiator"`
	UserToDelete models.User `json:"user_to_delete"`
}

type spectatorRequest struct {
	Initiator models.User `json:"initiator"`
	Receiver  models.User `json:"receiver"`
	Spectator bool        `json:"spectator"`
}

type startGameRequest struct {
	Initiator models.User `json:"initiator"`
}

// SubmissionRequest is the body of a run-code or submit call.
type SubmissionRequest struct {
	Initiator    models.User     `json:"initiator"`
	Input        *string         `json:"input,omitempty"` // run-code only
	Code         string          `json:"code"`
	Language     models.Language `json:"language"`
	ProblemIndex int             `json:"problem_index"`
}

type instantResponse struct {
	Instant time.Time `json:"instant"`
}

func roomPath(roomID string, suffix string) (string, error) {
	if err := wire.ValidateIdentifier(roomID); err != nil {
		return "", fmt.Errorf("room id: %w", err)
	}
	return "/rooms/" + url.PathEscape(roomID) + suffix, nil
}

func gamePath(roomID string, suffix string) (string, error) {
	if err := wire.ValidateIdentifier(roomID); err != nil {
		return "", fmt.Errorf("room id: %w", err)
	}
	return "/games/" + url.PathEscape(roomID) + suffix, nil
}

// CreateRoom creates a room hosted by host.
func (c *Client) CreateRoom(ctx context.Context, host models.User) (*models.Room, error) {
	if err := models.ValidateNickname(host.Nickname); err != nil {
		return nil, err
	}
	var room models.Room
	if err := c.do(ctx, http.MethodPost, "/rooms", createRoomRequest{Host: host}, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

// JoinRoom adds user to the room.
func (c *Client) JoinRoom(ctx context.Context, roomID string, user models.User) (*models.Room, error) {
	if err := models.ValidateNickname(user.Nickname); err != nil {
		return nil, err
	}
	return c.roomCall(ctx, http.MethodPut, roomID, "/users", joinRoomRequest{User: user})
}

// GetRoom fetches the current room snapshot.
func (c *Client) GetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	return c.roomCall(ctx, http.MethodGet, roomID, "", nil)
}

// UpdateRoomSettings changes difficulty, duration, problems, size and problem count.
func (c *Client) UpdateRoomSettings(ctx context.Context, roomID string, initiator models.User, settings models.RoomSettings) (*models.Room, error) {
	return c.roomCall(ctx, http.MethodPut, roomID, "/settings", updateSettingsRequest{Initiator: initiator, RoomSettings: settings})
}

// ChangeHost transfers the host role.
func (c *Client) ChangeHost(ctx context.Context, roomID string, initiator, newHost models.User) (*models.Room, error) {
	return c.roomCall(ctx, http.MethodPut, roomID, "/host", changeHostRequest{Initiator: initiator, NewHost: newHost})
}

// RemoveUser kicks a user, or removes the initiator when they leave voluntarily.
func (c *Client) RemoveUser(ctx context.Context, roomID string, initiator, user models.User) (*models.Room, error) {
	return c.roomCall(ctx, http.MethodDelete, roomID, "/users", removeUserRequest{Initiator: initiator, UserToDelete: user})
}

// SetSpectator sets the spectator flag of receiver.
func (c *Client) SetSpectator(ctx context.Context, roomID string, initiator, receiver models.User, spectator bool) (*models.Room, error) {
	return c.roomCall(ctx, http.MethodPost, roomID, "/spectator", spectatorRequest{Initiator: initiator, Receiver: receiver, Spectator: spectator})
}

// StartGame starts the game of a room.
func (c *Client) StartGame(ctx context.Context, roomID string, initiator models.User) (*models.Room, error) {
	return c.roomCall(ctx, http.MethodPost, roomID, "/start", startGameRequest{Initiator: initiator})
}

// GetGame fetches the game of a room that is in progress.
func (c *Client) GetGame(ctx context.Context, roomID string) (*models.Game, error) {
	path, err := gamePath(roomID, "")
	if err != nil {
		return nil, err
	}
	var game models.Game
	if err := c.do(ctx, http.MethodGet, path, nil, &game); err != nil {
		return nil, err
	}
	return &game, nil
}

// RunCode runs code against custom input.
func (c *Client) RunCode(ctx context.Context, roomID string, req SubmissionRequest) (*models.Submission, error) {
	if req.Input == nil {
		empty := ""
		req.Input = &empty
	}
	return c.submissionCall(ctx, roomID, "/run-code", req)
}

// SubmitCode submits code against the full test suite.
func (c *Client) SubmitCode(ctx context.Context, roomID string, req SubmissionRequest) (*models.Submission, error) {
	req.Input = nil
	return c.submissionCall(ctx, roomID, "/submission", req)
}

// GetInstant returns the server's current time, used to compute countdowns without trusting the
// local clock.
func (c *Client) GetInstant(ctx context.Context) (time.Time, error) {
	var resp instantResponse
	if err := c.do(ctx, http.MethodPost, "/get-instant", nil, &resp); err != nil {
		return time.Time{}, err
	}
	return resp.Instant, nil
}

func (c *Client) roomCall(ctx context.Context, method, roomID, suffix string, body any) (*models.Room, error) {
	path, err := roomPath(roomID, suffix)
	if err != nil {
		return nil, err
	}
	var room models.Room
	if err := c.do(ctx, method, path, body, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

func (c *Client) submissionCall(ctx context.Context, roomID, suffix string, req SubmissionRequest) (*models.Submission, error) {
	path, err := gamePath(roomID, suffix)
	if err != nil {
		return nil, err
	}
	var sub models.Submission
	if err := c.do(ctx, http.MethodPost, path, req, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

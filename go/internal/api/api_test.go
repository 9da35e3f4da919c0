package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/codeclash/go/internal/models"
)

func testRoom(id string) models.Room {
	host := models.User{Nickname: "alice", UserID: "u1"}
	return models.Room{
		RoomID:     id,
		Host:       host,
		Users:      []models.User{host},
		Difficulty: models.DifficultyRandom,
		Duration:   900000,
		Version:    3,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestServer(t *testing.T, r chi.Router) *Client {
	t.Helper()
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL + "/")
}

func TestClient_GetRoom(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/rooms/{roomID}", func(w http.ResponseWriter, req *http.Request) {
		id := chi.URLParam(req, "roomID")
		if id != "abc" {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "room not found"})
			return
		}
		writeJSON(w, http.StatusOK, testRoom(id))
	})
	c := newTestServer(t, r)

	room, err := c.GetRoom(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, testRoom("abc"), *room)

	_, err = c.GetRoom(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRoomNotFound)
	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "room not found", apiErr.Message)
}

func TestClient_ErrorsAreNormalized(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/rooms/{roomID}/start", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "only the host can start"})
	})
	r.Put("/rooms/{roomID}/host", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	})
	r.Put("/rooms/{roomID}/settings", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})
	c := newTestServer(t, r)
	ctx := context.Background()
	alice := models.User{Nickname: "alice"}

	tests := []struct {
		name    string
		call    func() error
		status  int
		message string
	}{
		{
			name: "json error field",
			call: func() error {
				_, err := c.StartGame(ctx, "abc", alice)
				return err
			},
			status:  http.StatusForbidden,
			message: "only the host can start",
		},
		{
			name: "plain text body",
			call: func() error {
				_, err := c.ChangeHost(ctx, "abc", alice, models.User{Nickname: "bob"})
				return err
			},
			status:  http.StatusInternalServerError,
			message: "boom",
		},
		{
			name: "empty body",
			call: func() error {
				_, err := c.UpdateRoomSettings(ctx, "abc", alice, models.RoomSettings{})
				return err
			},
			status:  http.StatusBadRequest,
			message: "Bad Request",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			var apiErr *Error
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.Status)
			assert.Equal(t, tt.message, apiErr.Message)
			assert.False(t, errors.Is(err, ErrRoomNotFound))
		})
	}
}

func TestClient_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(url)
	_, err := c.GetRoom(context.Background(), "abc")
	assert.ErrorIs(t, err, ErrNetwork)
	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 0, apiErr.Status)
}

func TestClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	c := NewClient(srv.URL)
	c.SetTimeout(50 * time.Millisecond)
	_, err := c.GetRoom(context.Background(), "abc")
	assert.ErrorIs(t, err, ErrNetwork)
}

func TestClient_NicknameValidatedBeforeRequest(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writeJSON(w, http.StatusOK, testRoom("abc"))
	}))
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL)

	for _, nickname := range []string{"", "has space", "seventeen-chars-xy"} {
		_, err := c.CreateRoom(context.Background(), models.User{Nickname: nickname})
		var invalid *models.InvalidNicknameError
		assert.True(t, errors.As(err, &invalid), nickname)

		_, err = c.JoinRoom(context.Background(), "abc", models.User{Nickname: nickname})
		assert.True(t, errors.As(err, &invalid), nickname)
	}
	assert.EqualValues(t, 0, hits.Load())

	_, err := c.CreateRoom(context.Background(), models.User{Nickname: "alice"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, hits.Load())
}

func TestClient_RejectsInvalidRoomID(t *testing.T) {
	c := NewClient("http://127.0.0.1:1")
	_, err := c.GetRoom(context.Background(), "a.b")
	assert.Error(t, err)
	_, err = c.GetGame(context.Background(), "")
	assert.Error(t, err)
}

func TestClient_RoomRequests(t *testing.T) {
	type seen struct {
		method string
		path   string
		body   map[string]any
	}
	requests := make(chan seen, 1)

	record := func(w http.ResponseWriter, req *http.Request) {
		s := seen{method: req.Method, path: req.URL.Path}
		if req.ContentLength > 0 {
			_ = json.NewDecoder(req.Body).Decode(&s.body)
		}
		requests <- s
		writeJSON(w, http.StatusOK, testRoom("abc"))
	}
	r := chi.NewRouter()
	r.Post("/rooms", record)
	r.Put("/rooms/{roomID}/users", record)
	r.Delete("/rooms/{roomID}/users", record)
	r.Post("/rooms/{roomID}/spectator", record)
	r.Put("/rooms/{roomID}/settings", record)
	c := newTestServer(t, r)
	ctx := context.Background()

	alice := models.User{Nickname: "alice", UserID: "u1"}
	bob := models.User{Nickname: "bob"}

	_, err := c.CreateRoom(ctx, alice)
	require.NoError(t, err)
	last := <-requests
	assert.Equal(t, http.MethodPost, last.method)
	assert.Equal(t, "/rooms", last.path)
	assert.Equal(t, "alice", last.body["host"].(map[string]any)["nickname"])

	_, err = c.JoinRoom(ctx, "abc", bob)
	require.NoError(t, err)
	last = <-requests
	assert.Equal(t, http.MethodPut, last.method)
	assert.Equal(t, "/rooms/abc/users", last.path)

	_, err = c.RemoveUser(ctx, "abc", alice, bob)
	require.NoError(t, err)
	last = <-requests
	assert.Equal(t, http.MethodDelete, last.method)
	assert.Equal(t, "bob", last.body["user_to_delete"].(map[string]any)["nickname"])

	_, err = c.SetSpectator(ctx, "abc", alice, bob, true)
	require.NoError(t, err)
	last = <-requests
	assert.Equal(t, true, last.body["spectator"])

	_, err = c.UpdateRoomSettings(ctx, "abc", alice, models.RoomSettings{Difficulty: models.DifficultyHard, Duration: 60000, Size: 4})
	require.NoError(t, err)
	last = <-requests
	assert.Equal(t, "HARD", last.body["difficulty"])
	assert.EqualValues(t, 4, last.body["size"])
	assert.Equal(t, "alice", last.body["initiator"].(map[string]any)["nickname"])
}

func TestClient_GameRequests(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	instant := start.Add(90 * time.Second)
	bodies := make(chan SubmissionRequest, 1)

	r := chi.NewRouter()
	r.Get("/games/{roomID}", func(w http.ResponseWriter, req *http.Request) {
		room := testRoom(chi.URLParam(req, "roomID"))
		writeJSON(w, http.StatusOK, models.Game{
			Room:     room,
			Problems: []models.Problem{{ProblemID: "p1", Name: "Two Sum"}},
			Players: []models.Player{{
				User:     room.Host,
				Code:     []string{""},
				Language: []models.Language{models.LanguagePython},
				Solved:   []bool{false},
			}},
			Timer: models.GameTimer{Duration: 900, StartTime: start, EndTime: start.Add(15 * time.Minute)},
		})
	})
	submit := func(w http.ResponseWriter, req *http.Request) {
		var body SubmissionRequest
		_ = json.NewDecoder(req.Body).Decode(&body)
		bodies <- body
		writeJSON(w, http.StatusOK, models.Submission{
			ID:           "s1",
			Code:         body.Code,
			Language:     body.Language,
			ProblemIndex: body.ProblemIndex,
			NumCorrect:   3,
			NumTestCases: 4,
			StartTime:    instant,
		})
	}
	r.Post("/games/{roomID}/run-code", submit)
	r.Post("/games/{roomID}/submission", submit)
	r.Post("/get-instant", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]time.Time{"instant": instant})
	})
	c := newTestServer(t, r)
	ctx := context.Background()

	game, err := c.GetGame(ctx, "abc")
	require.NoError(t, err)
	require.NoError(t, game.Validate())
	assert.Equal(t, "abc", game.Room.RoomID)

	got, err := c.GetInstant(ctx)
	require.NoError(t, err)
	assert.True(t, got.Equal(instant))

	sub, err := c.RunCode(ctx, "abc", SubmissionRequest{
		Initiator: models.User{Nickname: "alice"},
		Code:      "print(1)",
		Language:  models.LanguagePython,
	})
	require.NoError(t, err)
	lastBody := <-bodies
	require.NotNil(t, lastBody.Input)
	assert.Equal(t, "", *lastBody.Input)
	assert.Equal(t, 3, sub.NumCorrect)

	input := "1 2"
	_, err = c.SubmitCode(ctx, "abc", SubmissionRequest{
		Initiator: models.User{Nickname: "alice"},
		Input:     &input,
		Code:      "print(3)",
		Language:  models.LanguagePython,
	})
	require.NoError(t, err)
	lastBody = <-bodies
	assert.Nil(t, lastBody.Input)
	assert.Equal(t, "print(3)", lastBody.Code)
}

package wire

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/codeclash/go/internal/models"
)

func testRoom() models.Room {
	host := models.User{Nickname: "alice", UserID: "u1"}
	return models.Room{
		RoomID:        "r1",
		Host:          host,
		Users:         []models.User{host},
		ActiveUsers:   []models.User{host},
		InactiveUsers: []models.User{},
		Spectators:    []models.User{},
		Active:        true,
		Difficulty:    models.DifficultyEasy,
		Duration:      900,
		Problems:      []models.Problem{},
		Size:          10,
		NumProblems:   1,
		Version:       3,
	}
}

func TestChannelNames(t *testing.T) {
	assert.Equal(t, "room.r1.updates", RoomUpdates("r1"))
	assert.Equal(t, "room.r1.start", RoomStart("r1"))
	assert.Equal(t, "room.r1.player.u7.view", PlayerView("r1", "u7"))
	assert.Len(t, RoomChannels("r1"), 5)
}

func TestParseChannel(t *testing.T) {
	cases := []struct {
		name    string
		channel string
		want    Channel
		wantErr bool
	}{
		{name: "updates", channel: "room.r1.updates", want: Channel{Kind: KindUpdates, RoomID: "r1"}},
		{name: "roster", channel: "room.r1.roster", want: Channel{Kind: KindRoster, RoomID: "r1"}},
		{name: "player view", channel: "room.r1.player.u2.view", want: Channel{Kind: KindPlayerView, RoomID: "r1", UserID: "u2"}},
		{name: "unknown kind", channel: "room.r1.chat", wantErr: true},
		{name: "wrong prefix", channel: "lobby.r1.updates", wantErr: true},
		{name: "wildcard", channel: "room.*.updates", wantErr: true},
		{name: "too short", channel: "room.r1", wantErr: true},
		{name: "bad player segment", channel: "room.r1.user.u2.view", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseChannel(tc.channel)
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrInvalidChannel)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.channel, got.String())
		})
	}
}

func TestValidateIdentifier(t *testing.T) {
	assert.NoError(t, ValidateIdentifier("abc-123"))
	for _, bad := range []string{"", "a.b", "a b", "a>", "a*"} {
		assert.ErrorIs(t, ValidateIdentifier(bad), ErrInvalidIdentifier, bad)
	}
}

func TestEncodeDecodeRoomUpdated(t *testing.T) {
	room := testRoom()
	raw, err := Encode(RoomUpdated{Room: room})
	require.NoError(t, err)

	in, err := Decode(RoomUpdates("r1"), raw)
	require.NoError(t, err)
	assert.NotEmpty(t, in.ID)
	assert.Equal(t, RoomUpdates("r1"), in.Channel)

	msg, ok := in.Message.(RoomUpdated)
	require.True(t, ok)

	// re-serializing the decoded room loses nothing
	want, err := json.Marshal(room)
	require.NoError(t, err)
	got, err := json.Marshal(msg.Room)
	require.NoError(t, err)
	assert.JSONEq(t, string(want), string(got))
}

func TestDecodeRejectsMalformed(t *testing.T) {
	room := testRoom()
	roomData, _ := json.Marshal(RoomUpdated{Room: room})

	noHost := testRoom()
	noHost.Host = models.User{}
	noHostData, _ := json.Marshal(RoomUpdated{Room: noHost})

	envelope := func(typ MessageType, data []byte) []byte {
		b, _ := json.Marshal(Envelope{ID: "e1", Type: typ, Timestamp: time.Now(), Data: data})
		return b
	}

	cases := []struct {
		name    string
		channel string
		raw     []byte
	}{
		{name: "not json", channel: RoomUpdates("r1"), raw: []byte("{nope")},
		{name: "unknown channel", channel: "room.r1.chat", raw: envelope(TypeRoomUpdated, roomData)},
		{name: "wrong type for channel", channel: RoomStart("r1"), raw: envelope(TypeRoomUpdated, roomData)},
		{name: "unknown type", channel: RoomUpdates("r1"), raw: envelope("Bogus", roomData)},
		{name: "null data", channel: RoomUpdates("r1"), raw: envelope(TypeRoomUpdated, []byte("null"))},
		{name: "payload shape", channel: RoomUpdates("r1"), raw: envelope(TypeRoomUpdated, []byte(`{"room":"r1"}`))},
		{name: "room without host", channel: RoomUpdates("r1"), raw: envelope(TypeRoomUpdated, noHostData)},
		{name: "room mismatch", channel: RoomUpdates("r2"), raw: envelope(TypeRoomUpdated, roomData)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(tc.channel, tc.raw)
			var malformed *MalformedMessageError
			require.True(t, errors.As(err, &malformed), "got %v", err)
			assert.Equal(t, tc.channel, malformed.Channel)
		})
	}
}

func TestDecodePlayerViewChannel(t *testing.T) {
	user := models.User{Nickname: "bob", UserID: "u2"}
	raw, err := Encode(ViewState{User: user, Code: "print(1)", Language: models.LanguagePython})
	require.NoError(t, err)

	in, err := Decode(PlayerView("r1", "u2"), raw)
	require.NoError(t, err)
	assert.Equal(t, "print(1)", in.Message.(ViewState).Code)

	_, err = Decode(PlayerView("r1", "u3"), raw)
	assert.Error(t, err, "view state for another user must be rejected")

	raw, err = Encode(NewSpectator{Spectator: models.User{Nickname: "eve"}})
	require.NoError(t, err)
	in, err = Decode(PlayerView("r1", "u2"), raw)
	require.NoError(t, err)
	assert.IsType(t, NewSpectator{}, in.Message)
}

func TestSubmissionMadeValidate(t *testing.T) {
	ok := SubmissionMade{RoomID: "r1", Submission: models.Submission{
		Initiator: models.User{Nickname: "bob"}, NumCorrect: 2, NumTestCases: 4,
	}}
	assert.NoError(t, ok.Validate())

	tooMany := ok
	tooMany.Submission.NumCorrect = 5
	assert.Error(t, tooMany.Validate())

	negative := ok
	negative.Submission.ProblemIndex = -1
	assert.ErrorIs(t, negative.Validate(), models.ErrProblemIndexOutOfRange)
}

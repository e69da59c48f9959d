package memory

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/qrave1/meshroom/internal/domain/models"
)

func newTestRegistry(opts ...RegistryOption) SessionRegistry {
	return NewSessionRegistry(append([]RegistryOption{WithPasswordCost(bcrypt.MinCost)}, opts...)...)
}

func participant(id string) models.Participant {
	return models.NewParticipant(id, "name-"+id, models.MediaFlags{VideoEnabled: true, AudioEnabled: true})
}

func ids(roster []models.Participant) []string {
	out := make([]string, 0, len(roster))
	for _, p := range roster {
		out = append(out, p.ID)
	}
	return out
}

func TestAdmitCreatesRoomAndExcludesNewcomer(t *testing.T) {
	reg := newTestRegistry()

	roster, err := reg.Admit("r1", "", participant("a"))
	require.NoError(t, err)
	require.Empty(t, roster)
	require.Equal(t, 1, reg.RoomCount())

	roster, err = reg.Admit("r1", "", participant("b"))
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, ids(roster))

	roster, err = reg.Admit("r1", "", participant("c"))
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, ids(roster))

	require.Equal(t, []string{"a", "b", "c"}, ids(reg.Roster("r1")))
}

func TestAdmitPasswordSetByFirstJoiner(t *testing.T) {
	reg := newTestRegistry()

	_, err := reg.Admit("r1", "pw1", participant("a"))
	require.NoError(t, err)
	_, err = reg.Admit("r1", "pw1", participant("b"))
	require.NoError(t, err)

	for _, wrong := range []string{"wrong", "", "pw1 ", "PW1"} {
		_, err = reg.Admit("r1", wrong, participant("c"))
		require.ErrorIs(t, err, ErrInvalidPassword, "password %q", wrong)
		require.Equal(t, ReasonInvalidPassword, Reason(err))
	}

	require.Equal(t, []string{"a", "b"}, ids(reg.Roster("r1")))
	_, inRoom := reg.RoomOf("c")
	require.False(t, inRoom)
}

func TestAdmitRoomWithoutPasswordIgnoresSuppliedOne(t *testing.T) {
	reg := newTestRegistry()

	_, err := reg.Admit("r1", "", participant("a"))
	require.NoError(t, err)

	_, err = reg.Admit("r1", "anything", participant("b"))
	require.NoError(t, err)
}

func TestAdmitRejectsRoomErrors(t *testing.T) {
	reg := newTestRegistry(WithMaxParticipants(2))

	_, err := reg.Admit("", "", participant("a"))
	require.ErrorIs(t, err, ErrRoomError)
	require.Equal(t, ReasonRoomError, Reason(err))

	_, err = reg.Admit("r1", "", models.Participant{ID: "x"})
	require.ErrorIs(t, err, ErrRoomError)

	_, err = reg.Admit("r1", "", participant("a"))
	require.NoError(t, err)

	_, err = reg.Admit("r2", "", participant("a"))
	require.ErrorIs(t, err, ErrRoomError, "one socket may be in one room only")

	_, err = reg.Admit("r1", "", participant("b"))
	require.NoError(t, err)

	_, err = reg.Admit("r1", "", participant("c"))
	require.ErrorIs(t, err, ErrRoomError, "room is full")

	_, err = reg.Admit("r3", strings.Repeat("x", 100), participant("d"))
	require.ErrorIs(t, err, ErrRoomError, "bcrypt rejects passwords over 72 bytes")
	require.Equal(t, 1, reg.RoomCount())
}

func TestRemoveDeletesEmptyRoom(t *testing.T) {
	reg := newTestRegistry()

	_, err := reg.Admit("r1", "pw", participant("a"))
	require.NoError(t, err)
	_, err = reg.Admit("r1", "pw", participant("b"))
	require.NoError(t, err)

	removed, remaining, ok := reg.Remove("r1", "a")
	require.True(t, ok)
	require.Equal(t, "name-a", removed.DisplayName)
	require.Equal(t, []string{"b"}, ids(remaining))

	_, _, ok = reg.Remove("r1", "a")
	require.False(t, ok)

	_, remaining, ok = reg.Remove("r1", "b")
	require.True(t, ok)
	require.Empty(t, remaining)
	require.Zero(t, reg.RoomCount())
	require.Nil(t, reg.Roster("r1"))

	// Комната пересоздаётся с новым паролем
	_, err = reg.Admit("r1", "", participant("c"))
	require.NoError(t, err)
	_, err = reg.Admit("r1", "", participant("d"))
	require.NoError(t, err)
}

func TestUpdateMediaFlagsAndSummaries(t *testing.T) {
	reg := newTestRegistry()

	_, err := reg.Admit("r1", "pw", participant("a"))
	require.NoError(t, err)
	_, err = reg.Admit("r2", "", participant("b"))
	require.NoError(t, err)

	require.True(t, reg.UpdateMediaFlags("a", models.MediaFlags{AudioEnabled: true}))
	require.False(t, reg.UpdateMediaFlags("ghost", models.MediaFlags{}))

	p, ok := reg.Member("r1", "a")
	require.True(t, ok)
	require.False(t, p.MediaFlags.VideoEnabled)

	_, ok = reg.Member("r2", "a")
	require.False(t, ok)

	summaries := reg.Rooms()
	require.Len(t, summaries, 2)

	byID := map[string]models.RoomSummary{}
	for _, s := range summaries {
		byID[s.ID] = s
	}
	require.True(t, byID["r1"].Protected)
	require.False(t, byID["r2"].Protected)
	require.Equal(t, 1, byID["r1"].Participants)
}

func TestRegistryConcurrentJoinLeave(t *testing.T) {
	reg := newTestRegistry()

	done := make(chan struct{})
	for i := 0; i < 20; i++ {
		go func(i int) {
			defer func() { done <- struct{}{} }()

			id := fmt.Sprintf("p%d", i)
			_, err := reg.Admit("r1", "", participant(id))
			if err != nil {
				return
			}
			reg.Remove("r1", id)
		}(i)
	}

	for i := 0; i < 20; i++ {
		<-done
	}

	require.Zero(t, reg.RoomCount())
}

func TestAdmitRacingCreatorsAgreeOnOnePassword(t *testing.T) {
	reg := newTestRegistry()

	const n = 8

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted []string
		rejected int
	)

	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()

			id := fmt.Sprintf("p%d", i)
			_, err := reg.Admit("r1", "pw-"+id, participant(id))

			mu.Lock()
			defer mu.Unlock()

			switch {
			case err == nil:
				admitted = append(admitted, id)
			case errors.Is(err, ErrInvalidPassword):
				rejected++
			}
		}()
	}
	wg.Wait()

	// Пароль задаёт ровно один создатель, остальные его не знают
	require.Len(t, admitted, 1)
	require.Equal(t, n-1, rejected)
	require.Equal(t, admitted, ids(reg.Roster("r1")))

	_, err := reg.Admit("r1", "pw-"+admitted[0], participant("late"))
	require.NoError(t, err)
}

func TestReadsAreNotBlockedByPasswordHashing(t *testing.T) {
	reg := NewSessionRegistry(WithPasswordCost(14))

	_, err := reg.Admit("r1", "", participant("a"))
	require.NoError(t, err)

	hashed := make(chan error, 1)
	go func() {
		_, err := reg.Admit("r2", "secret", participant("c"))
		hashed <- err
	}()

	// Даём bcrypt начаться
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	roomID, ok := reg.RoomOf("a")
	require.True(t, ok)
	require.Equal(t, "r1", roomID)
	require.Len(t, reg.Roster("r1"), 1)
	elapsed := time.Since(start)

	select {
	case <-hashed:
		t.Fatal("password hashing finished before reads, nothing was measured")
	default:
	}

	require.Less(t, elapsed, 50*time.Millisecond)
	require.NoError(t, <-hashed)
}

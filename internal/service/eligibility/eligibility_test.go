package eligibility

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDirectory implements Directory for testing
type fakeDirectory struct {
	subjects map[int64]Subject
	err      error
	lookups  []int64
}

func (f *fakeDirectory) Subject(_ context.Context, userID int64) (Subject, error) {
	f.lookups = append(f.lookups, userID)
	if f.err != nil {
		return Subject{}, f.err
	}
	s, ok := f.subjects[userID]
	if !ok {
		return Subject{}, ErrUnknownUser
	}
	return s, nil
}

func newDirectory() *fakeDirectory {
	return &fakeDirectory{subjects: map[int64]Subject{
		10: {Consented: true},
		20: {Consented: false},
	}}
}

func forwardedFrom(id int64) Provenance {
	return Provenance{Origin: OriginUser, OriginUserID: id}
}

func TestGroup(t *testing.T) {
	consented := Subject{Consented: true}
	refused := Subject{}

	tests := []struct {
		name     string
		in       GroupInput
		expected Decision
		lookups  int
	}{
		{"chat override, direct refused sender", GroupInput{IgnoreConsent: true, Sender: refused}, allow(ReasonChatOverride), 0},
		{"chat override, forward from unknown", GroupInput{IgnoreConsent: true, Provenance: forwardedFrom(99)}, allow(ReasonChatOverride), 0},
		{"direct, sender not consented", GroupInput{Sender: refused}, deny(ReasonSenderNotConsented), 0},
		{"direct, sender consented", GroupInput{Sender: consented}, allow(ReasonSenderConsented), 0},
		{"forward, hidden sender", GroupInput{Sender: refused, Provenance: Provenance{Origin: OriginHidden}}, allow(ReasonHiddenSender), 0},
		{"forward, bot", GroupInput{Sender: refused, Provenance: Provenance{Origin: OriginBot}}, allow(ReasonOriginIsBot), 0},
		{"forward, known consented", GroupInput{Sender: refused, Provenance: forwardedFrom(10)}, allow(ReasonOriginConsented), 1},
		{"forward, known not consented", GroupInput{Sender: consented, Provenance: forwardedFrom(20)}, deny(ReasonOriginNotConsented), 1},
		{"forward, unknown", GroupInput{Sender: consented, Provenance: forwardedFrom(99)}, deny(ReasonOriginUnknown), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := newDirectory()
			got, err := New(dir).Group(context.Background(), tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
			assert.Len(t, dir.lookups, tt.lookups)
		})
	}
}

func TestPrivate(t *testing.T) {
	tests := []struct {
		name     string
		in       PrivateInput
		expected Decision
	}{
		{"direct, consented", PrivateInput{Requester: Subject{Consented: true}}, allow(ReasonSenderConsented)},
		{"direct, not consented", PrivateInput{}, deny(ReasonSenderNotConsented)},
		{"direct, superuser still needs consent", PrivateInput{Requester: Subject{Superuser: true}}, deny(ReasonSenderNotConsented)},
		{"forward, hidden sender", PrivateInput{Requester: Subject{Consented: true}, Provenance: Provenance{Origin: OriginHidden}}, deny(ReasonHiddenSender)},
		{"forward, hidden sender, superuser", PrivateInput{Requester: Subject{Superuser: true}, Provenance: Provenance{Origin: OriginHidden}}, allow(ReasonPrivileged)},
		{"forward, hidden sender, admin", PrivateInput{Admin: true, Provenance: Provenance{Origin: OriginHidden}}, allow(ReasonPrivileged)},
		{"forward, admin skips lookup", PrivateInput{Admin: true, Provenance: forwardedFrom(20)}, allow(ReasonPrivileged)},
		{"forward, bot", PrivateInput{Provenance: Provenance{Origin: OriginBot}}, allow(ReasonOriginIsBot)},
		{"forward, known consented", PrivateInput{Provenance: forwardedFrom(10)}, allow(ReasonOriginConsented)},
		{"forward, known not consented", PrivateInput{Provenance: forwardedFrom(20)}, deny(ReasonOriginNotConsented)},
		{"forward, unknown", PrivateInput{Provenance: forwardedFrom(99)}, deny(ReasonOriginUnknown)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := New(newDirectory()).Private(context.Background(), tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestHiddenSenderAsymmetry(t *testing.T) {
	e := New(newDirectory())
	hidden := Provenance{Origin: OriginHidden}

	group, err := e.Group(context.Background(), GroupInput{Provenance: hidden})
	require.NoError(t, err)
	private, err := e.Private(context.Background(), PrivateInput{Provenance: hidden})
	require.NoError(t, err)

	assert.True(t, group.Allow)
	assert.False(t, private.Allow)
}

func TestLookupErrorPropagates(t *testing.T) {
	dir := newDirectory()
	dir.err = errors.New("database locked")

	_, err := New(dir).Group(context.Background(), GroupInput{Provenance: forwardedFrom(10)})
	require.Error(t, err)
	assert.ErrorIs(t, err, dir.err)
}

func TestUnexpectedOrigin(t *testing.T) {
	_, err := New(newDirectory()).Group(context.Background(), GroupInput{Provenance: Provenance{Origin: Origin(42)}})
	assert.Error(t, err)
}

func TestStrings(t *testing.T) {
	assert.Equal(t, "allow: chat_override", allow(ReasonChatOverride).String())
	assert.Equal(t, "deny: origin_unknown", deny(ReasonOriginUnknown).String())
	assert.Equal(t, "hidden", OriginHidden.String())
	assert.Equal(t, "unknown(42)", Reason(42).String())
	assert.True(t, OriginBot.Forwarded())
	assert.False(t, OriginDirect.Forwarded())
}

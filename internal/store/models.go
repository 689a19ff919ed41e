package store

import (
	"time"

	"voice-transcriber-bot/internal/service/eligibility"
)

// User is a Telegram user the bot has interacted with.
type User struct {
	ID            int64      `json:"id"`
	Name          string     `json:"name"`
	Username      string     `json:"username,omitempty"`
	TOSAccepted   bool       `json:"tos_accepted"`
	TOSAcceptedAt *time.Time `json:"tos_accepted_at,omitempty"`
	OptedOut      bool       `json:"opted_out"`
	Superuser     bool       `json:"superuser"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Consented reports whether the user's voice messages may be transcribed.
func (u *User) Consented() bool {
	return u.TOSAccepted && !u.OptedOut
}

// Subject returns the consent view used by eligibility decisions.
func (u *User) Subject() eligibility.Subject {
	return eligibility.Subject{Consented: u.Consented(), Superuser: u.Superuser}
}

// Chat is a private or group chat.
type Chat struct {
	ID            int64  `json:"id"`
	Title         string `json:"title,omitempty"`
	Type          string `json:"type,omitempty"`
	IgnoreConsent bool   `json:"ignore_consent"`
	// Punctuation overrides the configured default when set.
	Punctuation *bool  `json:"punctuation,omitempty"`
	Language    string `json:"language,omitempty"`
	// IgnoreShorterThan and IgnoreLongerThan skip voice messages by duration
	// in seconds; zero disables the check.
	IgnoreShorterThan       int       `json:"ignore_shorter_than,omitempty"`
	IgnoreLongerThan        int       `json:"ignore_longer_than,omitempty"`
	Left                    bool      `json:"left"`
	AdministratorsFetchedAt time.Time `json:"administrators_fetched_at,omitempty"`
	CreatedAt               time.Time `json:"created_at"`
}

// IgnoresDuration reports whether a voice message of the given duration is
// outside the chat's configured bounds.
func (c *Chat) IgnoresDuration(seconds int) bool {
	if c.IgnoreShorterThan > 0 && seconds < c.IgnoreShorterThan {
		return true
	}
	if c.IgnoreLongerThan > 0 && seconds > c.IgnoreLongerThan {
		return true
	}
	return false
}

// Administrator is a chat administrator and their rights.
type Administrator struct {
	ChatID             int64     `json:"chat_id"`
	UserID             int64     `json:"user_id"`
	Status             string    `json:"status"`
	IsAnonymous        bool      `json:"is_anonymous"`
	IsBot              bool      `json:"is_bot"`
	CanChangeInfo      bool      `json:"can_change_info"`
	CanDeleteMessages  bool      `json:"can_delete_messages"`
	CanManageChat      bool      `json:"can_manage_chat"`
	CanPinMessages     bool      `json:"can_pin_messages"`
	CanPromoteMembers  bool      `json:"can_promote_members"`
	CanRestrictMembers bool      `json:"can_restrict_members"`
	CanInviteUsers     bool      `json:"can_invite_users"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// IsCreator reports whether the administrator owns the chat.
func (a *Administrator) IsCreator() bool {
	return a.Status == "creator"
}

// TranscriptionRecord is a statistics row for one recognition.
type TranscriptionRecord struct {
	ID            string    `json:"id"`
	ChatID        int64     `json:"chat_id"`
	AudioDuration int       `json:"audio_duration"`
	SampleRate    uint32    `json:"sample_rate,omitempty"`
	Strategy      string    `json:"strategy,omitempty"`
	ResponseTime  float64   `json:"response_time"`
	Success       bool      `json:"success"`
	CreatedAt     time.Time `json:"created_at"`
}

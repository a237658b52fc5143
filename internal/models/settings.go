package models

import (
	"reflect"
	"time"
)

// NotificationSettings is the per-user notification preference record for a
// workspace. The PazPaz API owns the canonical copy; id, user_id, workspace_id
// and the timestamps are server-assigned and treated as read-only here.
type NotificationSettings struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	WorkspaceID string `json:"workspace_id"`

	EmailEnabled                 bool `json:"email_enabled"`
	NotifyAppointmentBooked      bool `json:"notify_appointment_booked"`
	NotifyAppointmentCancelled   bool `json:"notify_appointment_cancelled"`
	NotifyAppointmentRescheduled bool `json:"notify_appointment_rescheduled"`
	NotifyAppointmentConfirmed   bool `json:"notify_appointment_confirmed"`

	DigestEnabled      bool    `json:"digest_enabled"`
	DigestSkipWeekends bool    `json:"digest_skip_weekends"`
	DigestTime         *string `json:"digest_time"` // "HH:MM", nil when digest unused

	ReminderEnabled bool `json:"reminder_enabled"`
	ReminderMinutes *int `json:"reminder_minutes"`

	NotesReminderEnabled bool    `json:"notes_reminder_enabled"`
	NotesReminderTime    *string `json:"notes_reminder_time"`

	// Extended holds settings not yet promoted to named fields.
	Extended map[string]interface{} `json:"extended_settings"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy. Pointer fields and the extended map are
// duplicated so the copy can cross a goroutine boundary safely.
func (s *NotificationSettings) Clone() *NotificationSettings {
	if s == nil {
		return nil
	}
	c := *s
	if s.DigestTime != nil {
		v := *s.DigestTime
		c.DigestTime = &v
	}
	if s.ReminderMinutes != nil {
		v := *s.ReminderMinutes
		c.ReminderMinutes = &v
	}
	if s.NotesReminderTime != nil {
		v := *s.NotesReminderTime
		c.NotesReminderTime = &v
	}
	if s.Extended != nil {
		c.Extended = make(map[string]interface{}, len(s.Extended))
		for k, v := range s.Extended {
			c.Extended[k] = v
		}
	}
	return &c
}

// SetExtended stores a forward-compatible setting under key, creating the
// map on first use.
func (s *NotificationSettings) SetExtended(key string, value interface{}) {
	if s.Extended == nil {
		s.Extended = make(map[string]interface{})
	}
	s.Extended[key] = value
}

// GetExtended reads a forward-compatible setting.
func (s *NotificationSettings) GetExtended(key string) (interface{}, bool) {
	if s.Extended == nil {
		return nil, false
	}
	v, ok := s.Extended[key]
	return v, ok
}

// Diff lists the wire names of fields whose values differ between s and
// other. Identifiers and timestamps are skipped; they are server-owned and
// never count as edits.
func (s *NotificationSettings) Diff(other *NotificationSettings) []string {
	if s == nil || other == nil {
		if s == other {
			return nil
		}
		return []string{"record"}
	}

	var changed []string
	add := func(name string, differs bool) {
		if differs {
			changed = append(changed, name)
		}
	}

	add("email_enabled", s.EmailEnabled != other.EmailEnabled)
	add("notify_appointment_booked", s.NotifyAppointmentBooked != other.NotifyAppointmentBooked)
	add("notify_appointment_cancelled", s.NotifyAppointmentCancelled != other.NotifyAppointmentCancelled)
	add("notify_appointment_rescheduled", s.NotifyAppointmentRescheduled != other.NotifyAppointmentRescheduled)
	add("notify_appointment_confirmed", s.NotifyAppointmentConfirmed != other.NotifyAppointmentConfirmed)
	add("digest_enabled", s.DigestEnabled != other.DigestEnabled)
	add("digest_skip_weekends", s.DigestSkipWeekends != other.DigestSkipWeekends)
	add("digest_time", !eqStringPtr(s.DigestTime, other.DigestTime))
	add("reminder_enabled", s.ReminderEnabled != other.ReminderEnabled)
	add("reminder_minutes", !eqIntPtr(s.ReminderMinutes, other.ReminderMinutes))
	add("notes_reminder_enabled", s.NotesReminderEnabled != other.NotesReminderEnabled)
	add("notes_reminder_time", !eqStringPtr(s.NotesReminderTime, other.NotesReminderTime))
	add("extended_settings", !extendedEqual(s.Extended, other.Extended))

	return changed
}

func eqStringPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func eqIntPtr(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func extendedEqual(a, b map[string]interface{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || !reflect.DeepEqual(av, bv) {
			return false
		}
	}
	return true
}

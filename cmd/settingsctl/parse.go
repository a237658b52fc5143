package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/yussieik/pazpaz-sub021/internal/models"
)

// boolFields maps wire names to their toggle on the record.
var boolFields = map[string]func(*models.NotificationSettings, bool){
	"email_enabled":                  func(s *models.NotificationSettings, v bool) { s.EmailEnabled = v },
	"notify_appointment_booked":      func(s *models.NotificationSettings, v bool) { s.NotifyAppointmentBooked = v },
	"notify_appointment_cancelled":   func(s *models.NotificationSettings, v bool) { s.NotifyAppointmentCancelled = v },
	"notify_appointment_rescheduled": func(s *models.NotificationSettings, v bool) { s.NotifyAppointmentRescheduled = v },
	"notify_appointment_confirmed":   func(s *models.NotificationSettings, v bool) { s.NotifyAppointmentConfirmed = v },
	"digest_enabled":                 func(s *models.NotificationSettings, v bool) { s.DigestEnabled = v },
	"digest_skip_weekends":           func(s *models.NotificationSettings, v bool) { s.DigestSkipWeekends = v },
	"reminder_enabled":               func(s *models.NotificationSettings, v bool) { s.ReminderEnabled = v },
	"notes_reminder_enabled":         func(s *models.NotificationSettings, v bool) { s.NotesReminderEnabled = v },
}

var serverOwned = map[string]bool{
	"id":           true,
	"user_id":      true,
	"workspace_id": true,
	"created_at":   true,
	"updated_at":   true,
}

// settingSetter turns a field/value pair into a record mutation. Nullable
// fields accept "none" to clear. Unknown fields land in extended settings so
// the CLI keeps working when the server grows new toggles.
func settingSetter(key, value string) (func(*models.NotificationSettings), error) {
	if assign, ok := boolFields[key]; ok {
		v, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("field %s wants true or false, got %q", key, value)
		}
		return func(s *models.NotificationSettings) { assign(s, v) }, nil
	}

	switch key {
	case "digest_time":
		return clockSetter(key, value, func(s *models.NotificationSettings, v *string) { s.DigestTime = v })
	case "notes_reminder_time":
		return clockSetter(key, value, func(s *models.NotificationSettings, v *string) { s.NotesReminderTime = v })
	case "reminder_minutes":
		if value == "none" {
			return func(s *models.NotificationSettings) { s.ReminderMinutes = nil }, nil
		}
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("field %s wants a non-negative number of minutes, got %q", key, value)
		}
		return func(s *models.NotificationSettings) { s.ReminderMinutes = &n }, nil
	}

	if serverOwned[key] {
		return nil, fmt.Errorf("field %s is server-owned and cannot be edited", key)
	}

	v := parseExtendedValue(value)
	return func(s *models.NotificationSettings) { s.SetExtended(key, v) }, nil
}

func clockSetter(key, value string, assign func(*models.NotificationSettings, *string)) (func(*models.NotificationSettings), error) {
	if value == "none" {
		return func(s *models.NotificationSettings) { assign(s, nil) }, nil
	}
	if _, err := time.Parse("15:04", value); err != nil {
		return nil, fmt.Errorf("field %s wants HH:MM or none, got %q", key, value)
	}
	return func(s *models.NotificationSettings) { assign(s, &value) }, nil
}

// parseExtendedValue keeps extended settings typed when the input allows it.
func parseExtendedValue(value string) interface{} {
	if n, err := strconv.Atoi(value); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}
	return value
}

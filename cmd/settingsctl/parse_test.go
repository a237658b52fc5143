package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yussieik/pazpaz-sub021/internal/models"
)

func TestSettingSetter(t *testing.T) {
	t.Run("bool toggle", func(t *testing.T) {
		set, err := settingSetter("email_enabled", "false")
		require.NoError(t, err)

		s := &models.NotificationSettings{EmailEnabled: true}
		set(s)
		assert.False(t, s.EmailEnabled)
	})

	t.Run("bad bool", func(t *testing.T) {
		_, err := settingSetter("digest_enabled", "maybe")
		assert.Error(t, err)
	})

	t.Run("clock value", func(t *testing.T) {
		set, err := settingSetter("digest_time", "08:30")
		require.NoError(t, err)

		s := &models.NotificationSettings{}
		set(s)
		require.NotNil(t, s.DigestTime)
		assert.Equal(t, "08:30", *s.DigestTime)
	})

	t.Run("clock none clears", func(t *testing.T) {
		set, err := settingSetter("notes_reminder_time", "none")
		require.NoError(t, err)

		prior := "17:00"
		s := &models.NotificationSettings{NotesReminderTime: &prior}
		set(s)
		assert.Nil(t, s.NotesReminderTime)
	})

	t.Run("bad clock", func(t *testing.T) {
		_, err := settingSetter("digest_time", "25:99")
		assert.Error(t, err)
	})

	t.Run("reminder minutes", func(t *testing.T) {
		set, err := settingSetter("reminder_minutes", "45")
		require.NoError(t, err)

		s := &models.NotificationSettings{}
		set(s)
		require.NotNil(t, s.ReminderMinutes)
		assert.Equal(t, 45, *s.ReminderMinutes)
	})

	t.Run("negative minutes rejected", func(t *testing.T) {
		_, err := settingSetter("reminder_minutes", "-5")
		assert.Error(t, err)
	})

	t.Run("server-owned rejected", func(t *testing.T) {
		_, err := settingSetter("workspace_id", "ws-2")
		assert.Error(t, err)
	})

	t.Run("unknown key goes to extended", func(t *testing.T) {
		set, err := settingSetter("sms_enabled", "true")
		require.NoError(t, err)

		s := &models.NotificationSettings{}
		set(s)
		v, ok := s.GetExtended("sms_enabled")
		require.True(t, ok)
		assert.Equal(t, true, v)
	})
}

func TestParseExtendedValue(t *testing.T) {
	assert.Equal(t, 7, parseExtendedValue("7"))
	assert.Equal(t, 2.5, parseExtendedValue("2.5"))
	assert.Equal(t, true, parseExtendedValue("true"))
	assert.Equal(t, "quiet", parseExtendedValue("quiet"))
}

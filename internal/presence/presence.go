package presence

import (
	"fmt"
	"strings"
	"time"

	"guildchat-backend/internal/keyValue"
	"guildchat-backend/internal/models"

	"go.uber.org/zap"
)

// TTL on presence:{user_id}; refreshed by every connected session's
// heartbeat so a crashed gateway can't leave users online forever.
const presenceTTL = 300 * time.Second

const statusField = "status"

var sugar *zap.SugaredLogger

func Setup(_sugar *zap.SugaredLogger) {
	sugar = _sugar
}

func presenceKey(userID int64) string {
	return fmt.Sprintf("presence:%d", userID)
}

func sessionField(sessionID string) string {
	return fmt.Sprintf("session:%s", sessionID)
}

func IsValidStatus(status string) bool {
	switch status {
	case models.StatusOnline, models.StatusIdle, models.StatusDnd, models.StatusOffline:
		return true
	}
	return false
}

// AddSession marks a session online for the user. The first session
// sets the status to online unless one is already chosen.
func AddSession(userID int64, sessionID string) error {
	key := presenceKey(userID)

	status, err := keyValue.HGet(key, statusField)
	if err != nil {
		return err
	}
	if status == "" {
		err = keyValue.HSet(key, statusField, models.StatusOnline)
		if err != nil {
			return err
		}
	}

	err = keyValue.HSet(key, sessionField(sessionID), "1")
	if err != nil {
		return err
	}

	return keyValue.Expire(key, presenceTTL)
}

// RemoveSession drops a session entry. It reports whether that was the
// user's last session, in which case the whole entry lapses to offline.
func RemoveSession(userID int64, sessionID string) (bool, error) {
	key := presenceKey(userID)

	err := keyValue.HDel(key, sessionField(sessionID))
	if err != nil {
		return false, err
	}

	fields, err := keyValue.HGetAll(key)
	if err != nil {
		return false, err
	}

	for field := range fields {
		if strings.HasPrefix(field, "session:") {
			return false, nil
		}
	}

	err = keyValue.Delete(key)
	if err != nil {
		return false, err
	}

	sugar.Debugf("User ID [%d] has no sessions left, presence lapsed to offline", userID)

	return true, nil
}

func SetStatus(userID int64, status string) error {
	key := presenceKey(userID)

	err := keyValue.HSet(key, statusField, status)
	if err != nil {
		return err
	}
	return keyValue.Expire(key, presenceTTL)
}

// GetStatus returns offline for users with no presence entry.
func GetStatus(userID int64) (string, error) {
	status, err := keyValue.HGet(presenceKey(userID), statusField)
	if err != nil {
		return "", err
	}
	if status == "" {
		return models.StatusOffline, nil
	}
	return status, nil
}

// Refresh re-arms the TTL, called on each heartbeat.
func Refresh(userID int64) error {
	return keyValue.Expire(presenceKey(userID), presenceTTL)
}

package app

import (
	"context"
	"fmt"

	"github.com/cubicbyte/dteubot-sub000/internal/domain/chat"

	"github.com/sirupsen/logrus"
)

// Custom application-level errors for the settings service
var ErrUnknownOffset = fmt.Errorf("unknown notification offset")

// SettingsService owns per-chat notification preferences. Offset mutual
// exclusivity is policy decided here, never by the scheduler: the sweep only
// reads the flags this service wrote.
type SettingsService struct {
	chatRepo   chat.Repository
	offsetsMin []int
	logger     *logrus.Entry
}

func NewSettingsService(chatRepo chat.Repository, offsetsMin []int, logger *logrus.Entry) *SettingsService {
	return &SettingsService{
		chatRepo:   chatRepo,
		offsetsMin: offsetsMin,
		logger:     logger,
	}
}

// Register creates the chat's notification state on first contact, or marks
// it reachable again if it already exists. The first configured offset is
// enabled by default.
func (s *SettingsService) Register(ctx context.Context, chatID int64) (*chat.NotificationState, error) {
	enabled := make(map[int]bool, len(s.offsetsMin))
	for i, m := range s.offsetsMin {
		enabled[m] = i == 0
	}
	state := &chat.NotificationState{
		ChatID:    chatID,
		Reachable: true,
		Enabled:   enabled,
	}
	if err := s.chatRepo.Upsert(ctx, state); err != nil {
		return nil, fmt.Errorf("failed to register chat %d: %w", chatID, err)
	}
	s.logger.WithField("chat_id", chatID).Info("Chat registered")
	return state, nil
}

// GetState returns the chat's current notification state.
func (s *SettingsService) GetState(ctx context.Context, chatID int64) (*chat.NotificationState, error) {
	return s.chatRepo.GetByChatID(ctx, chatID)
}

// AssignGroup sets the timetable group this chat tracks.
func (s *SettingsService) AssignGroup(ctx context.Context, chatID int64, groupID int64) error {
	if err := s.chatRepo.SetGroup(ctx, chatID, groupID); err != nil {
		return fmt.Errorf("failed to assign group %d to chat %d: %w", groupID, chatID, err)
	}
	s.logger.WithFields(logrus.Fields{"chat_id": chatID, "group_id": groupID}).Info("Group assigned")
	return nil
}

// SetOffsetEnabled flips one reminder offset. Turning an offset on
// force-disables the others, so at most one lead time is active per chat.
func (s *SettingsService) SetOffsetEnabled(ctx context.Context, chatID int64, offsetMin int, enabled bool) error {
	if !s.knownOffset(offsetMin) {
		return ErrUnknownOffset
	}
	if err := s.chatRepo.SetOffsetEnabled(ctx, chatID, offsetMin, enabled); err != nil {
		return fmt.Errorf("failed to set offset %dm for chat %d: %w", offsetMin, chatID, err)
	}
	if enabled {
		for _, other := range s.offsetsMin {
			if other == offsetMin {
				continue
			}
			if err := s.chatRepo.SetOffsetEnabled(ctx, chatID, other, false); err != nil {
				return fmt.Errorf("failed to disable conflicting offset %dm for chat %d: %w", other, chatID, err)
			}
		}
	}
	s.logger.WithFields(logrus.Fields{
		"chat_id":    chatID,
		"offset_min": offsetMin,
		"enabled":    enabled,
	}).Info("Notification offset updated")
	return nil
}

func (s *SettingsService) knownOffset(offsetMin int) bool {
	for _, m := range s.offsetsMin {
		if m == offsetMin {
			return true
		}
	}
	return false
}

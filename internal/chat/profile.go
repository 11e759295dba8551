package chat

import (
	"github.com/harborchat/harbor/internal/models"
	"github.com/harborchat/harbor/internal/store"
	"github.com/harborchat/harbor/internal/store/keys"
)

// SetAppData stores an opaque metadata blob for (user, appID), overwriting
// any previous value. Only the owning user may set their own app data.
func (s *Service) SetAppData(actor, user models.ID, appID string, data []byte) error {
	if actor != user {
		return errPermissionDenied("profile.manage.appdata", user.String())
	}
	if appID == "" {
		return errInvalidField("app_id")
	}
	if err := s.profile.Insert(keys.UserMetadata(uint64(user), appID), data); err != nil {
		return errInternal(err)
	}
	return nil
}

// GetAppData returns the opaque metadata blob for (user, appID).
func (s *Service) GetAppData(actor, user models.ID, appID string) ([]byte, error) {
	v, err := s.profile.Get(keys.UserMetadata(uint64(user), appID))
	if err != nil {
		if err == store.ErrNotFound {
			return nil, nil
		}
		return nil, errInternal(err)
	}
	return v, nil
}

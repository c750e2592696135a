//go:generate go run go.uber.org/mock/mockgen -source=profile.go -destination=../mocks/mock_profile_repository.go -package=mocks
package repositories

import (
	"encoding/json"

	"herdchat/domain"

	"github.com/dgraph-io/badger/v4"
)

type IProfileRepository interface {
	Get(userID string) (domain.Profile, bool, error)
	Put(profile domain.Profile) error
}

// ProfileRepository stores the identity collaborator records. A missing
// profile is a normal case, not an error.
type ProfileRepository struct {
	db *badger.DB
}

func NewProfileRepository(db *badger.DB) ProfileRepository {
	return ProfileRepository{db: db}
}

type diskProfile struct {
	ID        string `json:"id"`
	Username  string `json:"username,omitempty"`
	FullName  string `json:"full_name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

func profileKey(userID string) []byte {
	return []byte("profile:" + userID)
}

func (p ProfileRepository) Get(userID string) (domain.Profile, bool, error) {
	var dp diskProfile
	err := p.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(profileKey(userID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &dp)
		})
	})
	if err == badger.ErrKeyNotFound {
		return domain.Profile{}, false, nil
	}
	if err != nil {
		return domain.Profile{}, false, err
	}
	return domain.Profile{
		ID:        dp.ID,
		Username:  dp.Username,
		FullName:  dp.FullName,
		AvatarURL: dp.AvatarURL,
	}, true, nil
}

func (p ProfileRepository) Put(profile domain.Profile) error {
	value, err := json.Marshal(diskProfile{
		ID:        profile.ID,
		Username:  profile.Username,
		FullName:  profile.FullName,
		AvatarURL: profile.AvatarURL,
	})
	if err != nil {
		return err
	}
	return p.db.Update(func(txn *badger.Txn) error {
		return txn.Set(profileKey(profile.ID), value)
	})
}

package repository

import (
	"time"

	"github.com/vmelnikau/echolink/internal/models"
	"gorm.io/gorm"
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(user *models.User) error {
	return r.db.Create(user).Error
}

func (r *UserRepository) FindByID(id uint) (*models.User, error) {
	var user models.User
	err := r.db.First(&user, id).Error
	return &user, err
}

func (r *UserRepository) FindByUsername(username string) (*models.User, error) {
	var user models.User
	err := r.db.Where("username = ?", username).First(&user).Error
	return &user, err
}

// UpdateMetadataSync moves the user's discovery watermark. The watermark
// may regress when a discovery batch was incomplete; that is intentional,
// the next call resumes from the last returned chat.
func (r *UserRepository) UpdateMetadataSync(userID uint, watermark time.Time) error {
	return r.db.Model(&models.User{}).Where("id = ?", userID).
		Update("last_metadata_sync", watermark).Error
}

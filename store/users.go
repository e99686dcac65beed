package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"agri-price-api/apperr"
	"agri-price-api/models"

	"gorm.io/gorm"
)

func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if u.Role == "" {
		u.Role = models.RoleFarmer
	}
	if err := s.db.WithContext(ctx).Create(u).Error; err != nil {
		if IsDuplicate(err) {
			return apperr.Conflict("email already registered")
		}
		return apperr.Internal("failed to create user", err)
	}
	return nil
}

func (s *Store) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	err := s.db.WithContext(ctx).Where("email = ?", strings.ToLower(strings.TrimSpace(email))).First(&u).Error
	if err != nil {
		return nil, notFound(err, "user not found")
	}
	return &u, nil
}

func (s *Store) UserByID(ctx context.Context, id uint) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, notFound(err, "user %d not found", id)
	}
	return &u, nil
}

type ProfileInput struct {
	FullName *string `json:"full_name"`
	Phone    *string `json:"phone"`
	RegionID *uint   `json:"region_id"`
}

func (s *Store) UpdateProfile(ctx context.Context, id uint, in ProfileInput) (*models.User, error) {
	u, err := s.UserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.FullName != nil {
		u.FullName = strings.TrimSpace(*in.FullName)
	}
	if in.Phone != nil {
		u.Phone = strings.TrimSpace(*in.Phone)
	}
	if in.RegionID != nil {
		if *in.RegionID == 0 {
			u.RegionID = nil
		} else {
			if _, err := s.GetRegion(ctx, *in.RegionID); err != nil {
				return nil, err
			}
			u.RegionID = in.RegionID
		}
	}
	if err := s.db.WithContext(ctx).Save(u).Error; err != nil {
		return nil, apperr.Internal("failed to update profile", err)
	}
	return u, nil
}

// CreateAdminRequest files a self-service request for the admin role. A user
// may hold only one pending request.
func (s *Store) CreateAdminRequest(ctx context.Context, userID uint, reason string) (*models.AdminRequest, error) {
	u, err := s.UserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.IsAdmin() {
		return nil, apperr.Conflict("user is already an admin")
	}

	req := models.AdminRequest{
		UserID:   u.ID,
		FullName: u.FullName,
		Email:    u.Email,
		Phone:    u.Phone,
		Reason:   strings.TrimSpace(reason),
		Status:   models.AdminRequestPending,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var pending int64
		if err := tx.Model(&models.AdminRequest{}).
			Where("user_id = ? AND status = ?", u.ID, models.AdminRequestPending).
			Count(&pending).Error; err != nil {
			return err
		}
		if pending > 0 {
			return apperr.Conflict("an admin request is already pending")
		}
		return tx.Create(&req).Error
	})
	if err != nil {
		if apperr.KindOf(err) == apperr.KindConflict {
			return nil, err
		}
		return nil, apperr.Internal("failed to create admin request", err)
	}
	return &req, nil
}

func (s *Store) ListAdminRequests(ctx context.Context, status models.AdminRequestStatus, p Page) ([]models.AdminRequest, PageMeta, error) {
	q := s.db.Model(&models.AdminRequest{}).Order("created_at DESC").Order("id DESC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var rows []models.AdminRequest
	meta, err := paginate(ctx, q, p, &rows)
	if err != nil {
		return nil, PageMeta{}, apperr.Internal("failed to list admin requests", err)
	}
	return rows, meta, nil
}

// ReviewAdminRequest resolves a pending request. Approval promotes the
// requesting user in the same transaction.
func (s *Store) ReviewAdminRequest(ctx context.Context, id, reviewerID uint, approve bool, note string) (*models.AdminRequest, error) {
	var req models.AdminRequest
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&req, id).Error; err != nil {
			return err
		}
		if req.Status != models.AdminRequestPending {
			return apperr.Conflict("admin request %d was already %s", id, req.Status)
		}

		now := time.Now().UTC()
		req.Status = models.AdminRequestRejected
		if approve {
			req.Status = models.AdminRequestApproved
		}
		req.ReviewedBy = &reviewerID
		req.ReviewedAt = &now
		req.ReviewNote = strings.TrimSpace(note)
		if err := tx.Save(&req).Error; err != nil {
			return err
		}
		if approve {
			return tx.Model(&models.User{}).Where("id = ?", req.UserID).Update("role", models.RoleAdmin).Error
		}
		return nil
	})
	switch {
	case err == nil:
		return &req, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, apperr.NotFound("admin request %d not found", id)
	case apperr.KindOf(err) == apperr.KindConflict:
		return nil, err
	default:
		return nil, apperr.Internal("failed to review admin request", err)
	}
}

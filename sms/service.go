package sms

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"text/template"

	"agri-price-api/apperr"
	"agri-price-api/models"
	"agri-price-api/store"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const maxRecipients = 100

var phonePattern = regexp.MustCompile(`^\+[1-9][0-9]{7,14}$`)

// NormalizePhone converts local Kenyan numbers (07.., 01.., 254..) to E.164.
func NormalizePhone(s string) (string, error) {
	p := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(strings.TrimSpace(s))
	switch {
	case strings.HasPrefix(p, "+"):
	case strings.HasPrefix(p, "254"):
		p = "+" + p
	case strings.HasPrefix(p, "0") && len(p) == 10:
		p = "+254" + p[1:]
	}
	if !phonePattern.MatchString(p) {
		return "", apperr.Validation("invalid phone number %q", s)
	}
	return p, nil
}

type Service struct {
	db     *gorm.DB
	sender Sender
	logger *zap.Logger
}

func NewService(db *gorm.DB, sender Sender, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: db, sender: sender, logger: logger}
}

type SendInput struct {
	Recipients []string       `json:"recipients" binding:"required,min=1"`
	Message    string         `json:"message"`
	Template   string         `json:"template"`
	Data       map[string]any `json:"data"`
}

// Send delivers a message, given inline or rendered from a stored template,
// and logs one row per recipient. A provider failure is logged on every row
// and returned.
func (s *Service) Send(ctx context.Context, sentBy uint, in SendInput) ([]models.SMSLog, error) {
	if len(in.Recipients) == 0 || len(in.Recipients) > maxRecipients {
		return nil, apperr.Validation("between 1 and %d recipients required", maxRecipients)
	}
	phones := make([]string, 0, len(in.Recipients))
	seen := make(map[string]bool)
	for _, r := range in.Recipients {
		p, err := NormalizePhone(r)
		if err != nil {
			return nil, err
		}
		if !seen[p] {
			seen[p] = true
			phones = append(phones, p)
		}
	}

	message := strings.TrimSpace(in.Message)
	if in.Template != "" {
		rendered, err := s.Render(ctx, in.Template, in.Data)
		if err != nil {
			return nil, err
		}
		message = rendered
	}
	if message == "" {
		return nil, apperr.Validation("message or template is required")
	}

	ref, sendErr := s.sender.Send(ctx, phones, message)
	status := models.SMSStatusSent
	errText := ""
	if sendErr != nil {
		status = models.SMSStatusFailed
		errText = sendErr.Error()
		s.logger.Warn("sms send failed", zap.Int("recipients", len(phones)), zap.Error(sendErr))
	}

	var by *uint
	if sentBy != 0 {
		by = &sentBy
	}
	logs := make([]models.SMSLog, len(phones))
	for i, p := range phones {
		logs[i] = models.SMSLog{Recipient: p, Message: message, Status: status, ProviderRef: ref, Error: errText, SentBy: by}
	}
	if err := s.db.WithContext(ctx).Create(&logs).Error; err != nil {
		return nil, apperr.Internal("failed to record sms log", err)
	}
	if sendErr != nil {
		return logs, apperr.Internal("sms gateway rejected the message", sendErr)
	}
	return logs, nil
}

// Render executes the named template with data.
func (s *Service) Render(ctx context.Context, name string, data map[string]any) (string, error) {
	var tpl models.SMSTemplate
	if err := s.db.WithContext(ctx).Where("name = ?", name).First(&tpl).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", apperr.NotFound("sms template %q not found", name)
		}
		return "", apperr.Internal("failed to load sms template", err)
	}
	t, err := template.New(tpl.Name).Option("missingkey=error").Parse(tpl.Body)
	if err != nil {
		return "", apperr.Internal("stored sms template is invalid", err)
	}
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", apperr.Validation("template %q: %v", name, err)
	}
	return strings.TrimSpace(b.String()), nil
}

func (s *Service) ListTemplates(ctx context.Context) ([]models.SMSTemplate, error) {
	var out []models.SMSTemplate
	if err := s.db.WithContext(ctx).Order("name").Find(&out).Error; err != nil {
		return nil, apperr.Internal("failed to list sms templates", err)
	}
	return out, nil
}

// SaveTemplate creates or replaces a template by name after checking that
// it parses.
func (s *Service) SaveTemplate(ctx context.Context, name, body string) (*models.SMSTemplate, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.TrimSpace(body) == "" {
		return nil, apperr.Validation("template name and body are required")
	}
	if _, err := template.New(name).Parse(body); err != nil {
		return nil, apperr.Validation("template does not parse: %v", err)
	}
	tpl := models.SMSTemplate{Name: name, Body: body}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"body", "updated_at"}),
	}).Create(&tpl).Error
	if err != nil {
		return nil, apperr.Internal("failed to save sms template", err)
	}
	return &tpl, nil
}

func (s *Service) ListLogs(ctx context.Context, p store.Page) ([]models.SMSLog, store.PageMeta, error) {
	p = p.Normalize()
	q := s.db.WithContext(ctx).Model(&models.SMSLog{})
	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, store.PageMeta{}, apperr.Internal("failed to count sms logs", err)
	}
	var logs []models.SMSLog
	if err := q.Session(&gorm.Session{}).Order("created_at DESC").Order("id DESC").
		Offset(p.Offset()).Limit(p.Limit).Find(&logs).Error; err != nil {
		return nil, store.PageMeta{}, apperr.Internal("failed to list sms logs", err)
	}
	return logs, p.Meta(total), nil
}

type SubscribeInput struct {
	Phone    string `json:"phone"`
	CropID   uint   `json:"crop_id" binding:"required"`
	RegionID uint   `json:"region_id" binding:"required"`
}

// Subscribe registers a phone for alerts on one (crop, region) pair. An
// existing subscription is reactivated.
func (s *Service) Subscribe(ctx context.Context, user *models.User, in SubscribeInput) (*models.SMSSubscription, error) {
	raw := in.Phone
	if raw == "" {
		raw = user.Phone
	}
	phone, err := NormalizePhone(raw)
	if err != nil {
		return nil, err
	}

	var sub models.SMSSubscription
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.Crop{}).Where("id = ? AND active = ?", in.CropID, true).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return apperr.Validation("crop %d does not exist or is inactive", in.CropID)
		}
		if err := tx.Model(&models.Region{}).Where("id = ? AND active = ?", in.RegionID, true).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return apperr.Validation("region %d does not exist or is inactive", in.RegionID)
		}

		err := tx.Where("phone = ? AND crop_id = ? AND region_id = ?", phone, in.CropID, in.RegionID).First(&sub).Error
		switch {
		case err == nil:
			return tx.Model(&sub).Updates(map[string]any{"active": true, "user_id": user.ID}).Error
		case errors.Is(err, gorm.ErrRecordNotFound):
			sub = models.SMSSubscription{UserID: &user.ID, Phone: phone, CropID: in.CropID, RegionID: in.RegionID, Active: true}
			return tx.Create(&sub).Error
		default:
			return err
		}
	})
	if err != nil {
		if apperr.KindOf(err) != apperr.KindInternal {
			return nil, err
		}
		return nil, apperr.Internal("failed to subscribe", err)
	}
	sub.Active = true
	return &sub, nil
}

// Unsubscribe deactivates a subscription owned by user. Admins may
// deactivate any subscription.
func (s *Service) Unsubscribe(ctx context.Context, user *models.User, id uint) error {
	q := s.db.WithContext(ctx).Model(&models.SMSSubscription{}).Where("id = ?", id)
	if !user.IsAdmin() {
		q = q.Where("user_id = ?", user.ID)
	}
	res := q.Update("active", false)
	if res.Error != nil {
		return apperr.Internal("failed to unsubscribe", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("subscription %d not found", id)
	}
	return nil
}

func (s *Service) Subscriptions(ctx context.Context, userID uint) ([]models.SMSSubscription, error) {
	var subs []models.SMSSubscription
	err := s.db.WithContext(ctx).Where("user_id = ? AND active = ?", userID, true).Order("id").Find(&subs).Error
	if err != nil {
		return nil, apperr.Internal("failed to list subscriptions", err)
	}
	return subs, nil
}

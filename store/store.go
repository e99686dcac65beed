// Package store is the gorm-backed price store used by the API and agrictl.
package store

import (
	"context"
	"errors"
	"math"

	"agri-price-api/apperr"

	"gorm.io/gorm"
)

const (
	DefaultLimit = 20
	MaxLimit     = 200
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) DB() *gorm.DB { return s.db }

// Page is a 1-based page request.
type Page struct {
	Page  int
	Limit int
}

// Normalize clamps the page into valid bounds.
func (p Page) Normalize() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 {
		p.Limit = DefaultLimit
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	return p
}

func (p Page) Offset() int { return (p.Page - 1) * p.Limit }

type PageMeta struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
	Pages int   `json:"pages"`
}

func (p Page) Meta(total int64) PageMeta {
	pages := 0
	if p.Limit > 0 {
		pages = int(math.Ceil(float64(total) / float64(p.Limit)))
	}
	return PageMeta{Page: p.Page, Limit: p.Limit, Total: total, Pages: pages}
}

// paginate counts q, then loads one page of it into dest. Preloads are only
// applied to the page query.
func paginate(ctx context.Context, q *gorm.DB, p Page, dest any, preloads ...string) (PageMeta, error) {
	p = p.Normalize()
	q = q.WithContext(ctx)
	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return PageMeta{}, err
	}
	page := q.Session(&gorm.Session{})
	for _, name := range preloads {
		page = page.Preload(name)
	}
	if err := page.Offset(p.Offset()).Limit(p.Limit).Find(dest).Error; err != nil {
		return PageMeta{}, err
	}
	return p.Meta(total), nil
}

// notFound maps gorm.ErrRecordNotFound to an apperr NotFound and wraps every
// other failure as internal.
func notFound(err error, format string, args ...any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound(format, args...)
	}
	return apperr.Internal("database query failed", err)
}

// IsDuplicate reports whether err is a unique constraint violation.
func IsDuplicate(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

package shared

import (
	"strings"
)

// ═══════════════════════════════════════════════════════════════════════════
// XP Value Object (Experience Points)
// ═══════════════════════════════════════════════════════════════════════════

// XP represents experience points earned by a user. Never negative.
type XP int

// XPPerLevel is the width of every level band.
const XPPerLevel = 100

// Int returns the underlying int value.
func (x XP) Int() int {
	return int(x)
}

// Add adds XP, flooring the result at zero.
func (x XP) Add(amount int) XP {
	result := XP(int(x) + amount)
	if result < 0 {
		return 0
	}
	return result
}

// Level derives the level: floor(xp/100) + 1. It is never stored.
func (x XP) Level() int {
	if x <= 0 {
		return 1
	}
	return int(x)/XPPerLevel + 1
}

// ToNextLevel returns the XP still missing for the next level.
func (x XP) ToNextLevel() int {
	return x.Level()*XPPerLevel - int(x)
}

// ═══════════════════════════════════════════════════════════════════════════
// Percent Value Object
// ═══════════════════════════════════════════════════════════════════════════

// Percent is an integer in [0, 100]. Used for progress, mastery and scores.
type Percent int

// Max returns the larger of two percents.
func (p Percent) Max(other Percent) Percent {
	if other > p {
		return other
	}
	return p
}

// ═══════════════════════════════════════════════════════════════════════════
// Topic
// ═══════════════════════════════════════════════════════════════════════════

// NormalizeTopic lower-cases and trims a topic label. Topic boards match on
// the normalized value only.
func NormalizeTopic(topic string) string {
	return strings.ToLower(strings.TrimSpace(topic))
}

// ═══════════════════════════════════════════════════════════════════════════
// Pagination Value Object
// ═══════════════════════════════════════════════════════════════════════════

// Pagination represents pagination parameters.
type Pagination struct {
	Page     int
	PageSize int
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Offset returns the offset for database queries.
func (p Pagination) Offset() int {
	if p.Page <= 0 {
		return 0
	}
	return (p.Page - 1) * p.Limit()
}

// Limit returns the limit for database queries.
func (p Pagination) Limit() int {
	if p.PageSize <= 0 {
		return DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		return MaxPageSize
	}
	return p.PageSize
}

// NewPagination creates a new Pagination with defaults.
func NewPagination(page, pageSize int) Pagination {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return Pagination{Page: page, PageSize: pageSize}
}

// PageInfo describes a returned page.
type PageInfo struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// NewPageInfo builds page metadata for a total row count.
func NewPageInfo(p Pagination, total int) PageInfo {
	limit := p.Limit()
	pages := 0
	if total > 0 {
		pages = (total + limit - 1) / limit
	}
	page := p.Page
	if page <= 0 {
		page = 1
	}
	return PageInfo{Page: page, Limit: limit, Total: total, TotalPages: pages}
}

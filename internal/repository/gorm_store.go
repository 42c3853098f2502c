package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"catalogsync/internal/clock"
	"catalogsync/internal/models"
	apperrors "catalogsync/pkg/errors"
)

const pgUniqueViolation = "23505"

type GormStore struct {
	db    *gorm.DB
	clock clock.Clock
}

func NewGormStore(db *gorm.DB, clk clock.Clock) *GormStore {
	if clk == nil {
		clk = clock.New()
	}
	return &GormStore{db: db, clock: clk}
}

func (s *GormStore) Create(ctx context.Context, p *models.Product) error {
	if err := prepareInsert(p, s.clock.Now()); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return classifyGormError(err, p)
	}
	return nil
}

func (s *GormStore) Update(ctx context.Context, p *models.Product) error {
	if err := prepareUpdate(p, s.clock.Now()); err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Model(&models.Product{}).
		Where("id = ?", p.ID).
		Select("*").Omit("id", "created_at").
		Updates(p)
	if res.Error != nil {
		return classifyGormError(res.Error, p)
	}
	if res.RowsAffected == 0 {
		return &apperrors.ErrNotFound{Resource: "product", ID: p.ID}
	}
	return nil
}

func (s *GormStore) UpsertByKey(ctx context.Context, imageID string, p *models.Product) (bool, error) {
	p.ImageID = imageID
	existing, err := s.FindByKey(ctx, KeyImageID, imageID)
	if err != nil && !apperrors.IsNotFound(err) {
		return false, err
	}
	if existing == nil {
		p.ID = ""
		return true, s.Create(ctx, p)
	}
	p.ID = existing.ID
	p.CreatedAt = existing.CreatedAt
	return false, s.Update(ctx, p)
}

func (s *GormStore) FindByKey(ctx context.Context, key Key, value string) (*models.Product, error) {
	if !isKnownKey(key) {
		return nil, &apperrors.ErrValidation{Message: "unknown lookup key " + string(key)}
	}
	var product models.Product
	err := s.db.WithContext(ctx).Where(clause.Eq{Column: clause.Column{Name: string(key)}, Value: value}).Take(&product).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &apperrors.ErrNotFound{Resource: "product", ID: value}
		}
		return nil, err
	}
	return &product, nil
}

func (s *GormStore) FindMany(ctx context.Context, q Query) (*Page, error) {
	q = q.normalize()
	order, err := parseSort(q.Sort)
	if err != nil {
		return nil, err
	}

	query := s.filtered(ctx, q.Filter)

	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, err
	}

	var products []models.Product
	err = query.
		Order(clause.OrderByColumn{Column: clause.Column{Name: order.Field}, Desc: order.Desc}).
		Order("id").
		Offset(q.offset()).
		Limit(q.Limit).
		Find(&products).Error
	if err != nil {
		return nil, err
	}
	return newPage(products, total, q.Page, q.Limit), nil
}

func (s *GormStore) FindAll(ctx context.Context, f Filter) ([]models.Product, error) {
	var products []models.Product
	if err := s.filtered(ctx, f).Order("created_at").Find(&products).Error; err != nil {
		return nil, err
	}
	return products, nil
}

func (s *GormStore) Count(ctx context.Context, f Filter) (int64, error) {
	var total int64
	err := s.filtered(ctx, f).Count(&total).Error
	return total, err
}

func (s *GormStore) LatestUpdate(ctx context.Context) (time.Time, error) {
	var product models.Product
	err := s.db.WithContext(ctx).Select("updated_at").Order("updated_at DESC").Take(&product).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	return product.UpdatedAt, nil
}

func (s *GormStore) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Product{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return &apperrors.ErrNotFound{Resource: "product", ID: id}
	}
	return nil
}

func (s *GormStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{ByStatus: map[string]int64{}, ByCategory: map[string]int64{}}

	var err error
	if stats.Total, err = s.Count(ctx, Filter{}); err != nil {
		return nil, err
	}
	yes := true
	if stats.WithImages, err = s.Count(ctx, Filter{HasImages: &yes}); err != nil {
		return nil, err
	}
	if stats.Synced, err = s.Count(ctx, Filter{Synced: &yes}); err != nil {
		return nil, err
	}

	type bucket struct {
		Name  string
		Count int64
	}
	for column, target := range map[string]map[string]int64{"status": stats.ByStatus, "category": stats.ByCategory} {
		var buckets []bucket
		err := s.db.WithContext(ctx).Model(&models.Product{}).
			Select(column + " AS name, COUNT(*) AS count").
			Group(column).
			Scan(&buckets).Error
		if err != nil {
			return nil, err
		}
		for _, b := range buckets {
			target[b.Name] = b.Count
		}
	}

	latest, err := s.LatestUpdate(ctx)
	if err != nil {
		return nil, err
	}
	if !latest.IsZero() {
		stats.LastUpdated = &latest
	}
	return stats, nil
}

func (s *GormStore) filtered(ctx context.Context, f Filter) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.Product{})

	for column, value := range map[string]string{
		"category":   string(f.Category),
		"status":     string(f.Status),
		"price_band": string(f.PriceBand),
		"view":       string(f.View),
	} {
		if value != "" {
			query = query.Where(clause.Eq{Column: clause.Column{Name: column}, Value: value})
		}
	}
	if search := strings.TrimSpace(f.Search); search != "" {
		pattern := "%" + escapeLike(strings.ToLower(search)) + "%"
		query = query.Where(
			`LOWER(title) LIKE ? ESCAPE '\' OR LOWER(concept_name) LIKE ? ESCAPE '\' OR LOWER(description) LIKE ? ESCAPE '\' OR LOWER(CAST(tags AS TEXT)) LIKE ? ESCAPE '\'`,
			pattern, pattern, pattern, pattern,
		)
	}
	if f.Synced != nil {
		if *f.Synced {
			query = query.Where("shopify_product_id IS NOT NULL AND shopify_product_id <> ''")
		} else {
			query = query.Where("shopify_product_id IS NULL OR shopify_product_id = ''")
		}
	}
	if f.HasImages != nil {
		if *f.HasImages {
			query = query.Where("images IS NOT NULL AND CAST(images AS TEXT) NOT IN ('', '[]', 'null')")
		} else {
			query = query.Where("images IS NULL OR CAST(images AS TEXT) IN ('', '[]', 'null')")
		}
	}
	return query
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// classifyGormError maps unique violations from any of the supported drivers
// onto ErrDuplicateKey.
func classifyGormError(err error, p *models.Product) error {
	var (
		pgErr *pgconn.PgError
		pqErr *pq.Error
		field string
	)
	switch {
	case errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation:
		field = duplicateField(pgErr.ConstraintName + " " + pgErr.Message)
	case errors.As(err, &pqErr) && string(pqErr.Code) == pgUniqueViolation:
		field = duplicateField(pqErr.Constraint + " " + pqErr.Message)
	case errors.Is(err, gorm.ErrDuplicatedKey),
		strings.Contains(err.Error(), "UNIQUE constraint failed"),
		strings.Contains(err.Error(), "duplicate key value"):
		field = duplicateField(err.Error())
	default:
		return err
	}
	return &apperrors.ErrDuplicateKey{Field: field, Value: duplicateValue(p, field), Err: err}
}

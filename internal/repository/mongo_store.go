package repository

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"catalogsync/internal/clock"
	"catalogsync/internal/models"
	apperrors "catalogsync/pkg/errors"
)

// MongoStore keeps products in a single collection, the layout the storefront
// used before the relational store.
type MongoStore struct {
	collection *mongo.Collection
	clock      clock.Clock
}

func NewMongoStore(collection *mongo.Collection, clk clock.Clock) *MongoStore {
	if clk == nil {
		clk = clock.New()
	}
	return &MongoStore{collection: collection, clock: clk}
}

// EnsureIndexes creates the unique and listing indexes. Safe to call on every start.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "image_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "handle", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "sku", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "category", Value: 1}, {Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "handle_fragment", Value: 1}}},
		{Keys: bson.D{{Key: "shopify_product_id", Value: 1}}, Options: options.Index().SetSparse(true)},
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "visual_coolness_score", Value: -1}}},
	}
	_, err := s.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

func (s *MongoStore) Create(ctx context.Context, p *models.Product) error {
	if err := prepareInsert(p, s.clock.Now()); err != nil {
		return err
	}
	if _, err := s.collection.InsertOne(ctx, p); err != nil {
		return classifyMongoError(err, p)
	}
	return nil
}

func (s *MongoStore) Update(ctx context.Context, p *models.Product) error {
	if err := prepareUpdate(p, s.clock.Now()); err != nil {
		return err
	}
	res, err := s.collection.ReplaceOne(ctx, bson.M{"_id": p.ID}, p)
	if err != nil {
		return classifyMongoError(err, p)
	}
	if res.MatchedCount == 0 {
		return &apperrors.ErrNotFound{Resource: "product", ID: p.ID}
	}
	return nil
}

func (s *MongoStore) UpsertByKey(ctx context.Context, imageID string, p *models.Product) (bool, error) {
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

func (s *MongoStore) FindByKey(ctx context.Context, key Key, value string) (*models.Product, error) {
	if !isKnownKey(key) {
		return nil, &apperrors.ErrValidation{Message: "unknown lookup key " + string(key)}
	}
	field := string(key)
	if key == KeyID {
		field = "_id"
	}
	var product models.Product
	err := s.collection.FindOne(ctx, bson.M{field: value}).Decode(&product)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, &apperrors.ErrNotFound{Resource: "product", ID: value}
		}
		return nil, err
	}
	return &product, nil
}

func (s *MongoStore) FindMany(ctx context.Context, q Query) (*Page, error) {
	q = q.normalize()
	order, err := parseSort(q.Sort)
	if err != nil {
		return nil, err
	}
	filter := mongoFilter(q.Filter)

	total, err := s.collection.CountDocuments(ctx, filter)
	if err != nil {
		return nil, err
	}

	opts := options.Find().
		SetSort(mongoSort(order)).
		SetSkip(int64(q.offset())).
		SetLimit(int64(q.Limit))
	products, err := s.find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	return newPage(products, total, q.Page, q.Limit), nil
}

func (s *MongoStore) FindAll(ctx context.Context, f Filter) ([]models.Product, error) {
	return s.find(ctx, mongoFilter(f), options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
}

func (s *MongoStore) Count(ctx context.Context, f Filter) (int64, error) {
	return s.collection.CountDocuments(ctx, mongoFilter(f))
}

func (s *MongoStore) LatestUpdate(ctx context.Context) (time.Time, error) {
	var product models.Product
	opts := options.FindOne().
		SetSort(bson.D{{Key: "updated_at", Value: -1}}).
		SetProjection(bson.M{"updated_at": 1})
	err := s.collection.FindOne(ctx, bson.M{}, opts).Decode(&product)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	return product.UpdatedAt, nil
}

func (s *MongoStore) Delete(ctx context.Context, id string) error {
	res, err := s.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return &apperrors.ErrNotFound{Resource: "product", ID: id}
	}
	return nil
}

func (s *MongoStore) Stats(ctx context.Context) (*Stats, error) {
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

	for field, target := range map[string]map[string]int64{"status": stats.ByStatus, "category": stats.ByCategory} {
		cursor, err := s.collection.Aggregate(ctx, mongo.Pipeline{
			{{Key: "$group", Value: bson.D{{Key: "_id", Value: "$" + field}, {Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}}}}},
		})
		if err != nil {
			return nil, err
		}
		var buckets []struct {
			ID    string `bson:"_id"`
			Count int64  `bson:"count"`
		}
		if err := cursor.All(ctx, &buckets); err != nil {
			return nil, err
		}
		for _, b := range buckets {
			target[b.ID] = b.Count
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

func (s *MongoStore) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]models.Product, error) {
	cursor, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var products []models.Product
	if err := cursor.All(ctx, &products); err != nil {
		return nil, err
	}
	return products, nil
}

func mongoFilter(f Filter) bson.M {
	filter := bson.M{}
	if f.Category != "" {
		filter["category"] = f.Category
	}
	if f.Status != "" {
		filter["status"] = f.Status
	}
	if f.PriceBand != "" {
		filter["price_band"] = f.PriceBand
	}
	if f.View != "" {
		filter["view"] = f.View
	}
	if search := strings.TrimSpace(f.Search); search != "" {
		re := primitive.Regex{Pattern: regexp.QuoteMeta(search), Options: "i"}
		filter["$or"] = bson.A{
			bson.M{"title": re},
			bson.M{"concept_name": re},
			bson.M{"description": re},
			bson.M{"tags": re},
		}
	}
	if f.Synced != nil {
		if *f.Synced {
			filter["shopify_product_id"] = bson.M{"$exists": true, "$nin": bson.A{nil, ""}}
		} else {
			filter["shopify_product_id"] = bson.M{"$in": bson.A{nil, ""}}
		}
	}
	if f.HasImages != nil {
		if *f.HasImages {
			filter["images.0"] = bson.M{"$exists": true}
		} else {
			filter["images.0"] = bson.M{"$exists": false}
		}
	}
	return filter
}

func mongoSort(order sortSpec) bson.D {
	dir := 1
	if order.Desc {
		dir = -1
	}
	return bson.D{{Key: order.Field, Value: dir}, {Key: "_id", Value: 1}}
}

func classifyMongoError(err error, p *models.Product) error {
	if !mongo.IsDuplicateKeyError(err) {
		return err
	}
	field := duplicateField(err.Error())
	return &apperrors.ErrDuplicateKey{Field: field, Value: duplicateValue(p, field), Err: err}
}

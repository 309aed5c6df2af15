package documents

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// mongoIDField is assigned by MongoDB and stripped on read
const mongoIDField = "_id"

// MongoStore keeps records in a single MongoDB collection
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// NewMongoStore connects to MongoDB and binds the configured collection
func NewMongoStore(ctx context.Context, uri, database, collection string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	return &MongoStore{
		client:     client,
		collection: client.Database(database).Collection(collection),
	}, nil
}

// ReplaceAll deletes every document and inserts records. A failed insert is not rolled back.
func (s *MongoStore) ReplaceAll(ctx context.Context, records []Record) (int64, error) {
	if _, err := s.collection.DeleteMany(ctx, bson.D{}); err != nil {
		return 0, fmt.Errorf("purge collection: %w", err)
	}

	if len(records) == 0 {
		return 0, nil
	}

	docs := make([]interface{}, len(records))
	for i, rec := range records {
		doc := make(bson.M, len(rec))
		for k, v := range rec {
			doc[k] = v
		}
		docs[i] = doc
	}

	res, err := s.collection.InsertMany(ctx, docs)
	if err != nil {
		inserted := int64(0)
		if res != nil {
			inserted = int64(len(res.InsertedIDs))
		}
		return inserted, fmt.Errorf("insert records: %w", err)
	}

	return int64(len(res.InsertedIDs)), nil
}

// All returns every document in insertion order without the _id field
func (s *MongoStore) All(ctx context.Context) ([]Record, error) {
	opts := options.Find().SetSort(bson.D{{Key: mongoIDField, Value: 1}})
	cur, err := s.collection.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("find records: %w", err)
	}
	defer cur.Close(ctx)

	var records []Record
	for cur.Next(ctx) {
		var doc bson.M
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		rec := make(Record, len(doc))
		for k, v := range doc {
			if k == mongoIDField {
				continue
			}
			rec[k] = stringValue(v)
		}
		records = append(records, rec)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}

	return records, nil
}

// Count returns the number of documents in the collection
func (s *MongoStore) Count(ctx context.Context) (int64, error) {
	return s.collection.CountDocuments(ctx, bson.D{})
}

// Ping checks the primary is reachable
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// stringValue renders a stored value as a cell. Documents written by other
// tools may hold non-string values.
func stringValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

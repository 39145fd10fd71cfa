package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

type mongoRecord struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	UserEmail string             `bson:"userEmail"`
	ToolName  string             `bson:"toolName"`
	Prompt    *string            `bson:"prompt"`
	Image     string             `bson:"image"`
	CreatedAt time.Time          `bson:"createdAt"`
}

func (m mongoRecord) record() Record {
	return Record{
		ID:        m.ID.Hex(),
		UserEmail: m.UserEmail,
		ToolName:  m.ToolName,
		Prompt:    m.Prompt,
		Image:     m.Image,
		CreatedAt: m.CreatedAt,
	}
}

// MongoStore keeps records in a MongoDB collection.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// OpenMongo connects to uri and verifies the connection with a ping.
func OpenMongo(ctx context.Context, uri, database, collection string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	coll := client.Database(database).Collection(collection)
	index := mongo.IndexModel{Keys: bson.D{{Key: "userEmail", Value: 1}, {Key: "createdAt", Value: -1}}}
	if _, err := coll.Indexes().CreateOne(ctx, index); err != nil {
		slog.Warn("history.index", "collection", collection, "error", err)
	}
	return &MongoStore{client: client, coll: coll}, nil
}

func (s *MongoStore) Insert(ctx context.Context, rec Record) (string, error) {
	doc := mongoRecord{
		UserEmail: rec.UserEmail,
		ToolName:  rec.ToolName,
		Prompt:    rec.Prompt,
		Image:     rec.Image,
		CreatedAt: rec.CreatedAt,
	}
	res, err := s.coll.InsertOne(ctx, doc)
	if err != nil {
		return "", fmt.Errorf("mongo insert failed: %w", err)
	}
	oid, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return "", errors.New("mongo insert failed: no object id returned")
	}
	return oid.Hex(), nil
}

func (s *MongoStore) ListByUser(ctx context.Context, email string) ([]Record, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	cur, err := s.coll.Find(ctx, bson.M{"userEmail": email}, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo find failed: %w", err)
	}
	var docs []mongoRecord
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongo find failed: %w", err)
	}

	out := make([]Record, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.record())
	}
	return out, nil
}

func (s *MongoStore) Delete(ctx context.Context, id string) error {
	oid, err := ParseID(id)
	if err != nil {
		return err
	}
	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return fmt.Errorf("mongo delete failed: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

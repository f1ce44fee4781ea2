package storage

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoMetadataStore implements MetadataStore over a Mongo collection, one
// document per key. Only metadata crosses this boundary; ciphertext never
// leaves the local sandbox. Useful when the host mirrors its record index
// into an existing Mongo deployment.
type MongoMetadataStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

func NewMongoMetadataStore(ctx context.Context, uri, dbName, collName string) (*MongoMetadataStore, error) {
	if uri == "" {
		return nil, errors.New("mongo uri is empty")
	}
	cli, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	// Verify connection quickly
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := cli.Ping(pctx, nil); err != nil {
		_ = cli.Disconnect(ctx)
		return nil, err
	}

	coll := cli.Database(dbName).Collection(collName)
	return &MongoMetadataStore{client: cli, coll: coll}, nil
}

func (m *MongoMetadataStore) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

func (m *MongoMetadataStore) GetString(key string) (string, error) {
	var doc struct {
		Value string `bson:"value"`
	}
	err := m.coll.FindOne(context.Background(), bson.M{"_id": key}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return doc.Value, nil
}

func (m *MongoMetadataStore) SetString(key, value string) error {
	_, err := m.coll.UpdateByID(
		context.Background(),
		key,
		bson.M{
			"$set": bson.M{
				"value":     value,
				"updatedAt": time.Now(),
			},
			"$setOnInsert": bson.M{
				"createdAt": time.Now(),
			},
		},
		options.Update().SetUpsert(true),
	)
	return err
}

func (m *MongoMetadataStore) Delete(key string) error {
	_, err := m.coll.DeleteOne(context.Background(), bson.M{"_id": key})
	return err
}

func (m *MongoMetadataStore) ClearAll() error {
	_, err := m.coll.DeleteMany(context.Background(), bson.M{})
	return err
}

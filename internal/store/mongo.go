package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var mongoOps = map[string]string{
	"==": "$eq",
	"<":  "$lt",
	"<=": "$lte",
	">":  "$gt",
	">=": "$gte",
}

type mongoStore struct {
	collection *mongo.Collection
}

// NewMongoStore creates a Store backed by a MongoDB collection. Watch uses
// a change stream, so the deployment must be a replica set.
func NewMongoStore(db *mongo.Database, collection string) Store {
	return &mongoStore{
		collection: db.Collection(collection),
	}
}

func (s *mongoStore) Create(ctx context.Context, id string, doc Document) error {
	body := bson.M{"_id": id}
	for k, v := range doc {
		body[k] = v
	}
	opts := options.Replace().SetUpsert(true)
	_, err := s.collection.ReplaceOne(ctx, map[string]interface{}{"_id": id}, body, opts)
	return translateMongoErr(err)
}

func (s *mongoStore) Get(ctx context.Context, id string) (Document, error) {
	var doc bson.M
	err := s.collection.FindOne(ctx, map[string]interface{}{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, translateMongoErr(err)
	}
	delete(doc, "_id")
	return Document(doc), nil
}

func (s *mongoStore) Update(ctx context.Context, id string, fields Document) error {
	set := bson.M{}
	for k, v := range fields {
		set[k] = v
	}
	_, err := s.collection.UpdateOne(ctx, map[string]interface{}{"_id": id}, bson.M{"$set": set})
	return translateMongoErr(err)
}

func (s *mongoStore) Delete(ctx context.Context, id string) error {
	_, err := s.collection.DeleteOne(ctx, map[string]interface{}{"_id": id})
	return translateMongoErr(err)
}

func (s *mongoStore) Query(ctx context.Context, field, op string, value interface{}) ([]Document, error) {
	mop, ok := mongoOps[op]
	if !ok {
		return nil, fmt.Errorf("unsupported query operator %q", op)
	}

	cursor, err := s.collection.Find(ctx, bson.M{field: bson.M{mop: value}})
	if err != nil {
		return nil, translateMongoErr(err)
	}
	defer cursor.Close(ctx)

	var out []Document
	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		delete(doc, "_id")
		out = append(out, Document(doc))
	}
	return out, translateMongoErr(cursor.Err())
}

func (s *mongoStore) Watch(ctx context.Context, id string, onChange func(Document), onError func(error)) (func(), error) {
	streamCtx, cancel := context.WithCancel(ctx)

	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.M{"documentKey._id": id}}},
	}
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	stream, err := s.collection.Watch(streamCtx, pipeline, opts)
	if err != nil {
		cancel()
		return nil, translateMongoErr(err)
	}

	// Deliver the current state before streaming changes. A never-written
	// document is delivered as an empty Document.
	current, err := s.Get(streamCtx, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		stream.Close(streamCtx)
		cancel()
		return nil, err
	}
	if current == nil {
		current = Document{}
	}
	onChange(current)

	var once sync.Once
	stop := func() {
		once.Do(cancel)
	}

	go func() {
		defer stream.Close(context.Background())
		for stream.Next(streamCtx) {
			var event struct {
				OperationType string `bson:"operationType"`
				FullDocument  bson.M `bson:"fullDocument"`
			}
			if err := stream.Decode(&event); err != nil {
				continue
			}
			if event.OperationType == "delete" {
				onChange(Document{})
				continue
			}
			if event.FullDocument == nil {
				continue
			}
			delete(event.FullDocument, "_id")
			onChange(Document(event.FullDocument))
		}
		if streamCtx.Err() != nil {
			return // stopped by the caller
		}
		if err := stream.Err(); err != nil {
			onError(translateMongoErr(err))
		} else {
			onError(ErrStreamClosed)
		}
	}()

	return stop, nil
}

func translateMongoErr(err error) error {
	if err == nil {
		return nil
	}
	if mongo.IsTimeout(err) || mongo.IsNetworkError(err) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) && cmdErr.Code == 13 { // Unauthorized
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return err
}

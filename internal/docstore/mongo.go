package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// createdField orders documents by insertion. Fields starting with an
// underscore never reach callers.
const createdField = "_created_at"

// Mongo stores each collection as a MongoDB collection.
type Mongo struct {
	client *mongo.Client
	db     *mongo.Database
}

// OpenMongo connects to uri and uses the named database.
func OpenMongo(ctx context.Context, uri, database string) (*Mongo, error) {
	if database == "" {
		database = "examforge"
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return &Mongo{client: client, db: client.Database(database)}, nil
}

// Close disconnects the client.
func (m *Mongo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

func (m *Mongo) Create(ctx context.Context, coll string, doc any) (string, error) {
	body, err := marshalObject(doc)
	if err != nil {
		return "", err
	}
	var d bson.D
	if err := bson.UnmarshalExtJSON(body, false, &d); err != nil {
		return "", fmt.Errorf("convert document: %w", err)
	}
	id := newID()
	d = append(bson.D{{Key: "_id", Value: id}, {Key: createdField, Value: time.Now().UTC()}}, d...)
	if _, err := m.db.Collection(coll).InsertOne(ctx, d); err != nil {
		return "", fmt.Errorf("insert into %s: %w", coll, err)
	}
	return id, nil
}

func (m *Mongo) Get(ctx context.Context, coll, id string) (Document, error) {
	var d bson.D
	err := m.db.Collection(coll).FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("get %s/%s: %w", coll, id, err)
	}
	return toDocument(d)
}

func (m *Mongo) Find(ctx context.Context, coll string, filter Filter) ([]Document, error) {
	q, err := mongoFilter(filter)
	if err != nil {
		return nil, err
	}
	opts := options.Find().SetSort(bson.D{{Key: createdField, Value: 1}, {Key: "_id", Value: 1}})
	cur, err := m.db.Collection(coll).Find(ctx, q, opts)
	if err != nil {
		return nil, fmt.Errorf("find in %s: %w", coll, err)
	}
	defer cur.Close(ctx)

	var docs []Document
	for cur.Next(ctx) {
		var d bson.D
		if err := cur.Decode(&d); err != nil {
			return nil, err
		}
		doc, err := toDocument(d)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, cur.Err()
}

func (m *Mongo) Update(ctx context.Context, coll, id string, partial map[string]any) error {
	ok, err := m.UpdateIf(ctx, coll, id, nil, partial)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (m *Mongo) UpdateIf(ctx context.Context, coll, id string, match Filter, partial map[string]any) (bool, error) {
	fields, err := marshalFields(partial)
	if err != nil {
		return false, err
	}
	set := make(bson.D, 0, len(fields))
	for _, k := range sortedKeys(fields) {
		v, err := fromJSON(fields[k])
		if err != nil {
			return false, fmt.Errorf("convert field %q: %w", k, err)
		}
		set = append(set, bson.E{Key: k, Value: v})
	}

	q, err := mongoFilter(match)
	if err != nil {
		return false, err
	}
	q = append(q, bson.E{Key: "_id", Value: id})

	res, err := m.db.Collection(coll).UpdateOne(ctx, q, bson.D{{Key: "$set", Value: set}})
	if err != nil {
		return false, fmt.Errorf("update %s/%s: %w", coll, id, err)
	}
	if res.MatchedCount > 0 {
		return true, nil
	}
	if _, err := m.Get(ctx, coll, id); err != nil {
		return false, err
	}
	return false, nil
}

func (m *Mongo) Delete(ctx context.Context, coll, id string) error {
	res, err := m.db.Collection(coll).DeleteOne(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", coll, id, err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func mongoFilter(filter Filter) (bson.D, error) {
	if err := checkFilter(filter); err != nil {
		return nil, err
	}
	q := bson.D{}
	for _, k := range sortedKeys(filter) {
		key := k
		if k == "id" {
			key = "_id"
		}
		q = append(q, bson.E{Key: key, Value: filter[k]})
	}
	return q, nil
}

// fromJSON converts one JSON value to its BSON form by wrapping it in a
// document, since extended JSON decoding needs a top-level object.
func fromJSON(raw json.RawMessage) (any, error) {
	var wrapper bson.D
	if err := bson.UnmarshalExtJSON([]byte(`{"v":`+string(raw)+`}`), false, &wrapper); err != nil {
		return nil, err
	}
	return wrapper[0].Value, nil
}

func toDocument(d bson.D) (Document, error) {
	var id string
	body := make(bson.D, 0, len(d))
	for _, e := range d {
		if e.Key == "_id" {
			id = fmt.Sprint(e.Value)
			continue
		}
		if strings.HasPrefix(e.Key, "_") {
			continue
		}
		body = append(body, e)
	}
	b, err := bson.MarshalExtJSON(body, false, false)
	if err != nil {
		return Document{}, fmt.Errorf("encode document %s: %w", id, err)
	}
	return Document{ID: id, Body: b}, nil
}

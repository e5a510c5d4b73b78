package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	corep "github.com/petrijr/flowstate/internal/persistence"
	"github.com/petrijr/flowstate/pkg/api"
)

// MongoStore is a DefinitionStore, InstanceStore and EventStore backed by
// MongoDB.
//
// Definition names are protected by a unique index. Listing order comes
// from a per-collection counter document, since ObjectIDs minted by
// different clients are not strictly ordered.
type MongoStore struct {
	definitions *mongo.Collection
	instances   *mongo.Collection
	events      *mongo.Collection
	counters    *mongo.Collection
}

var (
	_ corep.DefinitionStore = (*MongoStore)(nil)
	_ corep.InstanceStore   = (*MongoStore)(nil)
	_ corep.EventStore      = (*MongoStore)(nil)
)

type definitionDoc struct {
	ID      string       `bson:"_id"`
	Seq     int64        `bson:"seq"`
	Name    string       `bson:"name"`
	States  []api.State  `bson:"states"`
	Actions []api.Action `bson:"actions"`
}

type historyDoc struct {
	ActionID string    `bson:"action_id"`
	At       time.Time `bson:"at"`
}

type instanceDoc struct {
	ID           string       `bson:"_id"`
	Seq          int64        `bson:"seq"`
	DefinitionID string       `bson:"definition_id"`
	CurrentState string       `bson:"current_state"`
	Version      int          `bson:"version"`
	History      []historyDoc `bson:"history"`
}

type eventDoc struct {
	Seq          int64     `bson:"seq"`
	InstanceID   string    `bson:"instance_id"`
	At           time.Time `bson:"at"`
	Type         string    `bson:"type"`
	DefinitionID string    `bson:"definition_id,omitempty"`
	ActionID     string    `bson:"action_id,omitempty"`
	FromState    string    `bson:"from_state,omitempty"`
	ToState      string    `bson:"to_state,omitempty"`
	Detail       string    `bson:"detail,omitempty"`
}

// NewMongoStore creates a Mongo-backed store and its indexes.
// dbName defaults to "flowstate" if empty.
func NewMongoStore(ctx context.Context, client *mongo.Client, dbName string) (*MongoStore, error) {
	if dbName == "" {
		dbName = "flowstate"
	}
	db := client.Database(dbName)
	s := &MongoStore{
		definitions: db.Collection("definitions"),
		instances:   db.Collection("instances"),
		events:      db.Collection("events"),
		counters:    db.Collection("counters"),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	if _, err := s.definitions.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "name", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "seq", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("create definition indexes: %w", err)
	}
	if _, err := s.instances.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "seq", Value: 1}}},
		{Keys: bson.D{{Key: "definition_id", Value: 1}, {Key: "seq", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("create instance indexes: %w", err)
	}
	if _, err := s.events.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "instance_id", Value: 1}, {Key: "seq", Value: 1}},
	}); err != nil {
		return fmt.Errorf("create event indexes: %w", err)
	}
	return nil
}

// nextSeq atomically increments and returns the named counter.
func (s *MongoStore) nextSeq(ctx context.Context, name string) (int64, error) {
	var doc struct {
		Value int64 `bson:"value"`
	}
	err := s.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"value": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return 0, fmt.Errorf("next %s sequence: %w", name, err)
	}
	return doc.Value, nil
}

func (s *MongoStore) SaveDefinition(ctx context.Context, def *api.Definition) error {
	seq, err := s.nextSeq(ctx, "definitions")
	if err != nil {
		return err
	}

	_, err = s.definitions.InsertOne(ctx, definitionDoc{
		ID:      def.ID,
		Seq:     seq,
		Name:    def.Name,
		States:  def.States,
		Actions: def.Actions,
	})
	if mongo.IsDuplicateKeyError(err) {
		// Name wins if both collide, matching the engine's rule order.
		n, cerr := s.definitions.CountDocuments(ctx, bson.M{"name": def.Name})
		if cerr != nil {
			return cerr
		}
		if n > 0 {
			return corep.ErrDuplicateName
		}
		return corep.ErrDuplicateID
	}
	return err
}

func (s *MongoStore) GetDefinition(ctx context.Context, id string) (*api.Definition, error) {
	return s.findDefinition(ctx, bson.M{"_id": id})
}

func (s *MongoStore) GetDefinitionByName(ctx context.Context, name string) (*api.Definition, error) {
	return s.findDefinition(ctx, bson.M{"name": name})
}

func (s *MongoStore) findDefinition(ctx context.Context, filter bson.M) (*api.Definition, error) {
	var doc definitionDoc
	if err := s.definitions.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, corep.ErrDefinitionNotFound
		}
		return nil, err
	}
	return doc.toAPI(), nil
}

func (s *MongoStore) ListDefinitions(ctx context.Context) ([]*api.Definition, error) {
	cur, err := s.definitions.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	defs := make([]*api.Definition, 0)
	for cur.Next(ctx) {
		var doc definitionDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		defs = append(defs, doc.toAPI())
	}
	return defs, cur.Err()
}

func (s *MongoStore) CreateInstance(ctx context.Context, inst *api.Instance) error {
	seq, err := s.nextSeq(ctx, "instances")
	if err != nil {
		return err
	}

	history := make([]historyDoc, 0, len(inst.History))
	for _, h := range inst.History {
		history = append(history, historyDoc{ActionID: h.ActionID, At: h.Timestamp})
	}

	_, err = s.instances.InsertOne(ctx, instanceDoc{
		ID:           inst.ID,
		Seq:          seq,
		DefinitionID: inst.DefinitionID,
		CurrentState: inst.CurrentStateID,
		Version:      len(inst.History),
		History:      history,
	})
	if mongo.IsDuplicateKeyError(err) {
		return corep.ErrDuplicateID
	}
	return err
}

func (s *MongoStore) GetInstance(ctx context.Context, id string) (*api.Instance, error) {
	var doc instanceDoc
	if err := s.instances.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, corep.ErrInstanceNotFound
		}
		return nil, err
	}
	return doc.toAPI(), nil
}

func (s *MongoStore) ListInstances(ctx context.Context, opts api.InstanceListOptions) ([]*api.Instance, error) {
	filter := bson.M{}
	if opts.DefinitionID != "" {
		filter["definition_id"] = opts.DefinitionID
	}
	if opts.CurrentState != "" {
		filter["current_state"] = opts.CurrentState
	}

	cur, err := s.instances.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := make([]*api.Instance, 0)
	for cur.Next(ctx) {
		var doc instanceDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toAPI())
	}
	return out, cur.Err()
}

// AppendTransition applies the move with a single FindOneAndUpdate whose
// filter pins the expected version, so the check and the write are one
// atomic document operation.
func (s *MongoStore) AppendTransition(ctx context.Context, id string, expectedVersion int, toState string, item api.HistoryItem) (*api.Instance, error) {
	var doc instanceDoc
	err := s.instances.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "version": expectedVersion},
		bson.M{
			"$set":  bson.M{"current_state": toState},
			"$inc":  bson.M{"version": 1},
			"$push": bson.M{"history": historyDoc{ActionID: item.ActionID, At: item.Timestamp}},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err == nil {
		return doc.toAPI(), nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, err
	}

	n, err := s.instances.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, corep.ErrInstanceNotFound
	}
	return nil, corep.ErrVersionMismatch
}

func (s *MongoStore) AppendEvent(ctx context.Context, ev api.Event) error {
	seq, err := s.nextSeq(ctx, "events")
	if err != nil {
		return err
	}
	_, err = s.events.InsertOne(ctx, eventDoc{
		Seq:          seq,
		InstanceID:   ev.InstanceID,
		At:           ev.At,
		Type:         string(ev.Type),
		DefinitionID: ev.DefinitionID,
		ActionID:     ev.ActionID,
		FromState:    ev.FromState,
		ToState:      ev.ToState,
		Detail:       ev.Detail,
	})
	return err
}

func (s *MongoStore) ListEvents(ctx context.Context, instanceID string) ([]api.Event, error) {
	cur, err := s.events.Find(ctx, bson.M{"instance_id": instanceID}, options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []api.Event
	for cur.Next(ctx) {
		var doc eventDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, api.Event{
			InstanceID:   doc.InstanceID,
			At:           doc.At.UTC(),
			Type:         api.EventType(doc.Type),
			DefinitionID: doc.DefinitionID,
			ActionID:     doc.ActionID,
			FromState:    doc.FromState,
			ToState:      doc.ToState,
			Detail:       doc.Detail,
		})
	}
	return out, cur.Err()
}

func (d definitionDoc) toAPI() *api.Definition {
	def := &api.Definition{
		ID:      d.ID,
		Name:    d.Name,
		States:  d.States,
		Actions: d.Actions,
	}
	if def.States == nil {
		def.States = []api.State{}
	}
	if def.Actions == nil {
		def.Actions = []api.Action{}
	}
	for i := range def.Actions {
		if def.Actions[i].FromStates == nil {
			def.Actions[i].FromStates = []string{}
		}
	}
	return def
}

func (d instanceDoc) toAPI() *api.Instance {
	history := make([]api.HistoryItem, 0, len(d.History))
	for _, h := range d.History {
		history = append(history, api.HistoryItem{ActionID: h.ActionID, Timestamp: h.At.UTC()})
	}
	return &api.Instance{
		ID:             d.ID,
		DefinitionID:   d.DefinitionID,
		CurrentStateID: d.CurrentState,
		Version:        d.Version,
		History:        history,
	}
}

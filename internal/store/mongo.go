package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ticket-backoffice/internal/status"
	"ticket-backoffice/models"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// NewMongoClient connects and pings the deployment at uri.
func NewMongoClient(ctx context.Context, uri, username, password string) (*mongo.Client, error) {
	clientOptions := options.Client().ApplyURI(uri)
	if username != "" && password != "" {
		clientOptions.SetAuth(options.Credential{
			Username: username,
			Password: password,
		})
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, err
	}
	return client, nil
}

type ticketDoc struct {
	ID          string     `bson:"_id"`
	EventID     string     `bson:"event_id"`
	AssistantID string     `bson:"assistant_id"`
	PhaseID     string     `bson:"phase_id"`
	LocalityID  string     `bson:"locality_id"`
	PromoterID  string     `bson:"promoter_id"`
	TicketType  string     `bson:"ticket_type"`
	Price       string     `bson:"price"`
	QRCode      string     `bson:"qr_code"`
	Status      string     `bson:"status"`
	CheckedInAt *time.Time `bson:"checked_in_at,omitempty"`
	Created     time.Time  `bson:"created"`
	Updated     time.Time  `bson:"updated"`
}

type assistantDoc struct {
	ID                 string    `bson:"_id"`
	Name               string    `bson:"name"`
	Email              string    `bson:"email"`
	Phone              string    `bson:"phone"`
	IdentificationNum  string    `bson:"identification_number"`
	IdentificationType string    `bson:"identification_type"`
	Created            time.Time `bson:"created"`
	Updated            time.Time `bson:"updated"`
}

type namedDoc struct {
	ID   string `bson:"_id"`
	Name string `bson:"name"`
}

// MongoStore keeps the directory collections in one MongoDB database.
// Subscriptions are driven by a change stream on tickets when the deployment
// supports it, and by this process's own writes otherwise.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
	hub    *changeHub
	now    func() time.Time

	watchOnce   sync.Once
	watchDone   chan struct{}
	watchCtx    context.Context
	watchCancel context.CancelFunc
}

func NewMongoStore(client *mongo.Client, database string) *MongoStore {
	watchCtx, watchCancel := context.WithCancel(context.Background())
	return &MongoStore{
		client:      client,
		db:          client.Database(database),
		hub:         newChangeHub(),
		now:         time.Now,
		watchCtx:    watchCtx,
		watchCancel: watchCancel,
	}
}

// EnsureIndexes creates the ticket ordering index used by every directory query.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.collection(CollectionTickets).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "event_id", Value: 1}, {Key: "created", Value: -1}, {Key: "_id", Value: -1}}},
		{Keys: bson.D{{Key: "event_id", Value: 1}, {Key: "status", Value: 1}}},
	})
	return err
}

func (s *MongoStore) collection(c Collection) *mongo.Collection {
	return s.db.Collection(string(c))
}

func (s *MongoStore) GetTicket(ctx context.Context, id string) (*models.Ticket, error) {
	var doc ticketDoc
	if err := s.collection(CollectionTickets).FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return nil, mongoErr(err)
	}
	t := doc.ticket()
	return &t, nil
}

func (s *MongoStore) QueryTickets(ctx context.Context, q TicketQuery) (*Page, error) {
	if q.Limit <= 0 {
		return nil, status.ErrInvalidInput
	}
	after, err := DecodeCursor(q.After)
	if err != nil {
		return nil, err
	}

	opts := options.Find().
		SetSort(ticketSort(q.Direction)).
		SetLimit(int64(q.Limit + 1))
	items, err := s.findTickets(ctx, ticketFilter(q.EventID, after, q.Direction), opts)
	if err != nil {
		return nil, err
	}
	return pageFrom(items, q.Limit), nil
}

func (s *MongoStore) ListTickets(ctx context.Context, eventID string, dir Direction) ([]models.Ticket, error) {
	return s.findTickets(ctx, ticketFilter(eventID, nil, dir), options.Find().SetSort(ticketSort(dir)))
}

func (s *MongoStore) findTickets(ctx context.Context, filter bson.D, opts *options.FindOptions) ([]models.Ticket, error) {
	cursor, err := s.collection(CollectionTickets).Find(ctx, filter, opts)
	if err != nil {
		return nil, mongoErr(err)
	}
	defer cursor.Close(ctx)

	var docs []ticketDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, mongoErr(err)
	}
	tickets := make([]models.Ticket, 0, len(docs))
	for _, doc := range docs {
		tickets = append(tickets, doc.ticket())
	}
	return tickets, nil
}

func (s *MongoStore) SubscribeTickets(ctx context.Context, eventID string, dir Direction) (<-chan TicketSnapshot, error) {
	s.watchOnce.Do(s.startWatch)

	signals, unsubscribe := s.hub.subscribe(eventID)
	out := make(chan TicketSnapshot, 1)
	go runSubscription(ctx, eventID, signals, unsubscribe, func(ctx context.Context) ([]models.Ticket, error) {
		return s.ListTickets(ctx, eventID, dir)
	}, out)
	return out, nil
}

// startWatch follows the tickets change stream. Standalone servers reject
// change streams; the store then only sees its own writes.
func (s *MongoStore) startWatch() {
	stream, err := s.collection(CollectionTickets).Watch(s.watchCtx, mongo.Pipeline{},
		options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		slog.Warn("Ticket change stream unavailable, live views follow local writes only", "error", err)
		return
	}

	s.watchDone = make(chan struct{})
	go func() {
		defer close(s.watchDone)
		defer stream.Close(context.Background())

		for stream.Next(s.watchCtx) {
			var change struct {
				FullDocument *ticketDoc `bson:"fullDocument"`
			}
			if err := stream.Decode(&change); err != nil || change.FullDocument == nil {
				// deletes carry no document
				s.hub.notifyAll()
				continue
			}
			s.hub.notify(change.FullDocument.EventID)
		}
		if err := stream.Err(); err != nil && s.watchCtx.Err() == nil {
			slog.Error("Ticket change stream stopped", "error", err)
		}
	}()
}

func (s *MongoStore) UpdateTicketStatus(ctx context.Context, id string, patch StatusPatch, expect models.TicketStatus) error {
	set := bson.M{
		"status":  string(patch.Status),
		"updated": s.now().UTC(),
	}
	update := bson.M{"$set": set}
	if patch.CheckedInAt != nil {
		set["checked_in_at"] = patch.CheckedInAt.UTC()
	} else {
		update["$unset"] = bson.M{"checked_in_at": ""}
	}

	tickets := s.collection(CollectionTickets)
	result, err := tickets.UpdateOne(ctx, bson.M{"_id": id, "status": string(expect)}, update)
	if err != nil {
		return mongoErr(err)
	}
	if result.MatchedCount == 0 {
		n, err := tickets.CountDocuments(ctx, bson.M{"_id": id})
		if err != nil {
			return mongoErr(err)
		}
		if n == 0 {
			return status.ErrNotFound
		}
		return status.ErrPreconditionFailed
	}

	s.notifyTicket(ctx, id)
	return nil
}

func (s *MongoStore) GetAssistant(ctx context.Context, id string) (*models.Assistant, error) {
	var doc assistantDoc
	if err := s.collection(CollectionAssistants).FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return nil, mongoErr(err)
	}
	a := doc.assistant()
	return &a, nil
}

func (s *MongoStore) GetNamed(ctx context.Context, c Collection, id string) (*models.NamedEntity, error) {
	if !isNamedCollection(c) {
		return nil, fmt.Errorf("%w: %s is not a named collection", status.ErrInvalidInput, c)
	}
	var doc namedDoc
	if err := s.collection(c).FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return nil, mongoErr(err)
	}
	return &models.NamedEntity{ID: doc.ID, Name: doc.Name}, nil
}

func (s *MongoStore) FindAssistants(ctx context.Context, ids []string) (map[string]*models.Assistant, error) {
	ids = dedup(ids)
	out := make(map[string]*models.Assistant, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	cursor, err := s.collection(CollectionAssistants).Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, mongoErr(err)
	}
	defer cursor.Close(ctx)

	var docs []assistantDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, mongoErr(err)
	}
	for _, doc := range docs {
		a := doc.assistant()
		out[a.ID] = &a
	}
	return out, nil
}

func (s *MongoStore) FindNamed(ctx context.Context, c Collection, ids []string) (map[string]*models.NamedEntity, error) {
	if !isNamedCollection(c) {
		return nil, fmt.Errorf("%w: %s is not a named collection", status.ErrInvalidInput, c)
	}
	ids = dedup(ids)
	out := make(map[string]*models.NamedEntity, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	cursor, err := s.collection(c).Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, mongoErr(err)
	}
	defer cursor.Close(ctx)

	var docs []namedDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, mongoErr(err)
	}
	for _, doc := range docs {
		out[doc.ID] = &models.NamedEntity{ID: doc.ID, Name: doc.Name}
	}
	return out, nil
}

func (s *MongoStore) CreateNamed(ctx context.Context, c Collection, e *models.NamedEntity) error {
	if !isNamedCollection(c) {
		return fmt.Errorf("%w: %s is not a named collection", status.ErrInvalidInput, c)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	_, err := s.collection(c).InsertOne(ctx, namedDoc{ID: e.ID, Name: e.Name})
	return mongoErr(err)
}

// CreateRegistration inserts the assistant, then the ticket. A failed ticket
// insert deletes the assistant again; multi-document transactions need a
// replica set, which this backend does not require.
func (s *MongoStore) CreateRegistration(ctx context.Context, a *models.Assistant, t *models.Ticket) error {
	now := s.now().UTC()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	a.CreatedAt, a.UpdatedAt = now, now
	t.AssistantID = a.ID
	t.CreatedAt, t.UpdatedAt = now, now

	assistants := s.collection(CollectionAssistants)
	_, err := assistants.InsertOne(ctx, assistantDoc{
		ID:                 a.ID,
		Name:               a.Name,
		Email:              a.Email,
		Phone:              a.Phone,
		IdentificationNum:  a.IdentificationNum,
		IdentificationType: a.IdentificationType,
		Created:            now,
		Updated:            now,
	})
	if err != nil {
		return mongoErr(err)
	}

	if _, err := s.collection(CollectionTickets).InsertOne(ctx, newTicketDoc(*t)); err != nil {
		if _, delErr := assistants.DeleteOne(context.WithoutCancel(ctx), bson.M{"_id": a.ID}); delErr != nil {
			slog.Error("Failed to remove assistant of failed registration", "assistantID", a.ID, "error", delErr)
		}
		return mongoErr(err)
	}
	s.hub.notify(t.EventID)
	return nil
}

func (s *MongoStore) UpdateTicketDetails(ctx context.Context, id string, edit models.TicketEdit) (*models.Ticket, error) {
	set := bson.M{"updated": s.now().UTC()}
	if edit.PhaseID != nil {
		set["phase_id"] = *edit.PhaseID
	}
	if edit.LocalityID != nil {
		set["locality_id"] = *edit.LocalityID
	}
	if edit.PromoterID != nil {
		set["promoter_id"] = *edit.PromoterID
	}
	if edit.TicketType != nil {
		set["ticket_type"] = string(*edit.TicketType)
	}
	if edit.Price != nil {
		set["price"] = formatPrice(*edit.Price)
	}

	var doc ticketDoc
	err := s.collection(CollectionTickets).FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&doc)
	if err != nil {
		return nil, mongoErr(err)
	}

	s.hub.notify(doc.EventID)
	t := doc.ticket()
	return &t, nil
}

// DeleteTicket removes the ticket before its assistant, so a failure in
// between leaves an orphan assistant rather than a ticket without one.
func (s *MongoStore) DeleteTicket(ctx context.Context, id string) (*models.Ticket, error) {
	var doc ticketDoc
	if err := s.collection(CollectionTickets).FindOneAndDelete(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return nil, mongoErr(err)
	}
	s.hub.notify(doc.EventID)

	if _, err := s.collection(CollectionAssistants).DeleteOne(ctx, bson.M{"_id": doc.AssistantID}); err != nil {
		return nil, mongoErr(err)
	}
	t := doc.ticket()
	return &t, nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return mongoErr(s.client.Ping(ctx, readpref.Primary()))
}

func (s *MongoStore) Close(ctx context.Context) error {
	s.watchCancel()
	if s.watchDone != nil {
		select {
		case <-s.watchDone:
		case <-ctx.Done():
		}
	}
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) notifyTicket(ctx context.Context, id string) {
	var doc struct {
		EventID string `bson:"event_id"`
	}
	err := s.collection(CollectionTickets).FindOne(ctx, bson.M{"_id": id},
		options.FindOne().SetProjection(bson.M{"event_id": 1})).Decode(&doc)
	if err != nil {
		s.hub.notifyAll()
		return
	}
	s.hub.notify(doc.EventID)
}

// ticketFilter selects an event's tickets positioned strictly after the cursor.
func ticketFilter(eventID string, after *Cursor, dir Direction) bson.D {
	filter := bson.D{{Key: "event_id", Value: eventID}}
	if after != nil {
		op := "$lt"
		if dir == Ascending {
			op = "$gt"
		}
		createdAt := after.CreatedAt.UTC()
		filter = append(filter, bson.E{Key: "$or", Value: bson.A{
			bson.M{"created": bson.M{op: createdAt}},
			bson.M{"created": createdAt, "_id": bson.M{op: after.ID}},
		}})
	}
	return filter
}

func ticketSort(dir Direction) bson.D {
	order := -1
	if dir == Ascending {
		order = 1
	}
	return bson.D{{Key: "created", Value: order}, {Key: "_id", Value: order}}
}

func newTicketDoc(t models.Ticket) ticketDoc {
	return ticketDoc{
		ID:          t.ID,
		EventID:     t.EventID,
		AssistantID: t.AssistantID,
		PhaseID:     t.PhaseID,
		LocalityID:  t.LocalityID,
		PromoterID:  t.PromoterID,
		TicketType:  string(t.TicketType),
		Price:       formatPrice(t.Price),
		QRCode:      t.QRCode,
		Status:      string(t.Status),
		CheckedInAt: t.CheckedInAt,
		Created:     t.CreatedAt.UTC(),
		Updated:     t.UpdatedAt.UTC(),
	}
}

func (d ticketDoc) ticket() models.Ticket {
	return models.Ticket{
		ID:          d.ID,
		EventID:     d.EventID,
		AssistantID: d.AssistantID,
		PhaseID:     d.PhaseID,
		LocalityID:  d.LocalityID,
		PromoterID:  d.PromoterID,
		TicketType:  models.TicketType(d.TicketType),
		Price:       parsePrice(d.ID, d.Price),
		QRCode:      d.QRCode,
		Status:      models.TicketStatus(d.Status),
		CheckedInAt: d.CheckedInAt,
		CreatedAt:   d.Created,
		UpdatedAt:   d.Updated,
	}
}

func (d assistantDoc) assistant() models.Assistant {
	return models.Assistant{
		ID:                 d.ID,
		Name:               d.Name,
		Email:              d.Email,
		Phone:              d.Phone,
		IdentificationNum:  d.IdentificationNum,
		IdentificationType: d.IdentificationType,
		CreatedAt:          d.Created,
		UpdatedAt:          d.Updated,
	}
}

func mongoErr(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return status.ErrNotFound
	}
	return transient(err)
}

var _ Store = (*MongoStore)(nil)

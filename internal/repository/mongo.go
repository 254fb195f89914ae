package repository

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"gorm.io/gorm"

	"github.com/chachabrian/mooveit-rides/internal/models"
)

const (
	ridesCol         = "rides"
	bookingsCol      = "bookings"
	notificationsCol = "notifications"
	usersCol         = "users"
	preferencesCol   = "notification_preferences"
	countersCol      = "counters"
)

// MongoStore implements Store on MongoDB. Records keep the numeric IDs used by
// the SQL store; they are allocated from a counters collection. Seat and
// status changes are single FindOneAndUpdate calls with the guard in the
// filter.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

func NewMongoStore(client *mongo.Client, database string) *MongoStore {
	return &MongoStore{client: client, db: client.Database(database)}
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// EnsureIndexes creates the indexes the store relies on, including the
// partial unique index that allows one live booking per passenger and ride.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	specs := map[string][]mongo.IndexModel{
		bookingsCol: {
			{
				Keys: bson.D{{Key: "ride_id", Value: 1}, {Key: "passenger_id", Value: 1}},
				Options: options.Index().
					SetName("active_pair_idx").
					SetUnique(true).
					SetPartialFilterExpression(bson.M{"holds_seats": true}),
			},
			{Keys: bson.D{{Key: "payment_reference", Value: 1}}, Options: options.Index().SetName("payment_reference_idx")},
			{Keys: bson.D{{Key: "passenger_id", Value: 1}, {Key: "created_at", Value: -1}}, Options: options.Index().SetName("passenger_created_idx")},
			{Keys: bson.D{{Key: "driver_id", Value: 1}, {Key: "created_at", Value: -1}}, Options: options.Index().SetName("driver_created_idx")},
		},
		ridesCol: {
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "departure_at", Value: 1}}, Options: options.Index().SetName("status_departure_idx")},
			{Keys: bson.D{{Key: "driver_id", Value: 1}}, Options: options.Index().SetName("driver_idx")},
		},
		notificationsCol: {
			{Keys: bson.D{{Key: "recipient_id", Value: 1}, {Key: "created_at", Value: -1}}, Options: options.Index().SetName("recipient_created_idx")},
		},
	}
	for col, indexes := range specs {
		if _, err := s.db.Collection(col).Indexes().CreateMany(ctx, indexes); err != nil {
			return fmt.Errorf("create %s indexes: %w", col, err)
		}
	}
	return nil
}

func (s *MongoStore) nextID(ctx context.Context, name string) (uint, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := s.db.Collection(countersCol).FindOneAndUpdate(ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"seq": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("allocate %s id: %w", name, err)
	}
	return uint(counter.Seq), nil
}

func mongoErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return ErrDuplicate
	}
	return err
}

// conditional maps a miss on a guarded update to ErrConditionFailed.
func conditional(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrConditionFailed
	}
	return mongoErr(err)
}

var afterUpdate = options.FindOneAndUpdate().SetReturnDocument(options.After)

// documents

type rideDoc struct {
	ID             uint              `bson:"_id"`
	DriverID       uint              `bson:"driver_id"`
	Origin         string            `bson:"origin"`
	Destination    string            `bson:"destination"`
	DepartureAt    time.Time         `bson:"departure_at"`
	PricePerSeat   float64           `bson:"price_per_seat"`
	TotalSeats     int               `bson:"total_seats"`
	AvailableSeats int               `bson:"available_seats"`
	Status         models.RideStatus `bson:"status"`
	CreatedAt      time.Time         `bson:"created_at"`
	UpdatedAt      time.Time         `bson:"updated_at"`
}

func toRideDoc(r *models.Ride) rideDoc {
	return rideDoc{
		ID:             r.ID,
		DriverID:       r.DriverID,
		Origin:         r.Origin,
		Destination:    r.Destination,
		DepartureAt:    r.DepartureAt,
		PricePerSeat:   r.PricePerSeat,
		TotalSeats:     r.TotalSeats,
		AvailableSeats: r.AvailableSeats,
		Status:         r.Status,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func (d rideDoc) model() *models.Ride {
	return &models.Ride{
		Model:          gorm.Model{ID: d.ID, CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt},
		DriverID:       d.DriverID,
		Origin:         d.Origin,
		Destination:    d.Destination,
		DepartureAt:    d.DepartureAt,
		PricePerSeat:   d.PricePerSeat,
		TotalSeats:     d.TotalSeats,
		AvailableSeats: d.AvailableSeats,
		Status:         d.Status,
	}
}

type bookingDoc struct {
	ID          uint                 `bson:"_id"`
	RideID      uint                 `bson:"ride_id"`
	PassengerID uint                 `bson:"passenger_id"`
	DriverID    uint                 `bson:"driver_id"`
	SeatsBooked int                  `bson:"seats_booked"`
	Status      models.BookingStatus `bson:"status"`
	HoldsSeats  bool                 `bson:"holds_seats"`
	TotalAmount float64              `bson:"total_amount"`
	Message     string               `bson:"message,omitempty"`
	CancelledAt *time.Time           `bson:"cancelled_at,omitempty"`
	CreatedAt   time.Time            `bson:"created_at"`
	UpdatedAt   time.Time            `bson:"updated_at"`

	PaymentStatus        models.PaymentStatus `bson:"payment_status"`
	PaymentReference     string               `bson:"payment_reference"`
	PaymentReceipt       string               `bson:"payment_receipt,omitempty"`
	PaymentTransactionID string               `bson:"payment_transaction_id,omitempty"`
	PaymentFailureReason string               `bson:"payment_failure_reason,omitempty"`
	PaymentInitiatedAt   *time.Time           `bson:"payment_initiated_at,omitempty"`
	PaidAt               *time.Time           `bson:"paid_at,omitempty"`
}

func toBookingDoc(b *models.Booking) bookingDoc {
	return bookingDoc{
		ID:                   b.ID,
		RideID:               b.RideID,
		PassengerID:          b.PassengerID,
		DriverID:             b.DriverID,
		SeatsBooked:          b.SeatsBooked,
		Status:               b.Status,
		HoldsSeats:           b.Status.HoldsSeats(),
		TotalAmount:          b.TotalAmount,
		Message:              b.Message,
		CancelledAt:          b.CancelledAt,
		CreatedAt:            b.CreatedAt,
		UpdatedAt:            b.UpdatedAt,
		PaymentStatus:        b.PaymentStatus,
		PaymentReference:     b.PaymentReference,
		PaymentReceipt:       b.PaymentReceipt,
		PaymentTransactionID: b.PaymentTransactionID,
		PaymentFailureReason: b.PaymentFailureReason,
		PaymentInitiatedAt:   b.PaymentInitiatedAt,
		PaidAt:               b.PaidAt,
	}
}

func (d bookingDoc) model() *models.Booking {
	return &models.Booking{
		Model:                gorm.Model{ID: d.ID, CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt},
		RideID:               d.RideID,
		PassengerID:          d.PassengerID,
		DriverID:             d.DriverID,
		SeatsBooked:          d.SeatsBooked,
		Status:               d.Status,
		TotalAmount:          d.TotalAmount,
		Message:              d.Message,
		CancelledAt:          d.CancelledAt,
		PaymentStatus:        d.PaymentStatus,
		PaymentReference:     d.PaymentReference,
		PaymentReceipt:       d.PaymentReceipt,
		PaymentTransactionID: d.PaymentTransactionID,
		PaymentFailureReason: d.PaymentFailureReason,
		PaymentInitiatedAt:   d.PaymentInitiatedAt,
		PaidAt:               d.PaidAt,
	}
}

type userDoc struct {
	ID          uint            `bson:"_id"`
	Username    string          `bson:"username"`
	PhoneNumber string          `bson:"phone_number"`
	Role        models.UserRole `bson:"role"`
	FCMToken    string          `bson:"fcm_token,omitempty"`
	CreatedAt   time.Time       `bson:"created_at"`
	UpdatedAt   time.Time       `bson:"updated_at"`
}

type preferencesDoc struct {
	UserID           uint      `bson:"_id"`
	PushEnabled      bool      `bson:"push_enabled"`
	BookingAlerts    bool      `bson:"booking_alerts"`
	RideStatusAlerts bool      `bson:"ride_status_alerts"`
	PaymentAlerts    bool      `bson:"payment_alerts"`
	SMSEnabled       bool      `bson:"sms_enabled"`
	CreatedAt        time.Time `bson:"created_at"`
	UpdatedAt        time.Time `bson:"updated_at"`
}

type notificationDoc struct {
	ID            uint                    `bson:"_id"`
	RecipientID   uint                    `bson:"recipient_id"`
	RecipientRole models.UserRole         `bson:"recipient_role"`
	Type          models.NotificationType `bson:"type"`
	Title         string                  `bson:"title"`
	Message       string                  `bson:"message"`
	RideID        *uint                   `bson:"ride_id,omitempty"`
	BookingID     *uint                   `bson:"booking_id,omitempty"`
	Read          bool                    `bson:"read"`
	ReadAt        *time.Time              `bson:"read_at,omitempty"`
	CreatedAt     time.Time               `bson:"created_at"`
}

func (d notificationDoc) model() models.Notification {
	return models.Notification{
		ID:            d.ID,
		RecipientID:   d.RecipientID,
		RecipientRole: d.RecipientRole,
		Type:          d.Type,
		Title:         d.Title,
		Message:       d.Message,
		RideID:        d.RideID,
		BookingID:     d.BookingID,
		Read:          d.Read,
		ReadAt:        d.ReadAt,
		CreatedAt:     d.CreatedAt,
	}
}

func findOptions(page Page, sort bson.D) *options.FindOptions {
	page = page.Normalize()
	return options.Find().SetSort(sort).SetLimit(int64(page.Limit)).SetSkip(int64(page.Offset))
}

func containsPattern(s string) primitive.Regex {
	return primitive.Regex{Pattern: regexp.QuoteMeta(s), Options: "i"}
}

// Rides

func (s *MongoStore) CreateRide(ctx context.Context, ride *models.Ride) error {
	id, err := s.nextID(ctx, ridesCol)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	ride.ID, ride.CreatedAt, ride.UpdatedAt = id, now, now
	_, err = s.db.Collection(ridesCol).InsertOne(ctx, toRideDoc(ride))
	return mongoErr(err)
}

func (s *MongoStore) GetRide(ctx context.Context, id uint) (*models.Ride, error) {
	var doc rideDoc
	if err := s.db.Collection(ridesCol).FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return nil, mongoErr(err)
	}
	return doc.model(), nil
}

func (s *MongoStore) ReserveSeats(ctx context.Context, rideID uint, count int) (*models.Ride, error) {
	var doc rideDoc
	err := s.db.Collection(ridesCol).FindOneAndUpdate(ctx,
		bson.M{
			"_id":             rideID,
			"status":          models.RideStatusActive,
			"available_seats": bson.M{"$gte": count},
			"deleting":        bson.M{"$ne": true},
		},
		bson.M{
			"$inc": bson.M{"available_seats": -count},
			"$set": bson.M{"updated_at": time.Now().UTC()},
		},
		afterUpdate,
	).Decode(&doc)
	if err != nil {
		return nil, conditional(err)
	}
	return doc.model(), nil
}

func (s *MongoStore) ReleaseSeats(ctx context.Context, rideID uint, count int) (*models.Ride, bool, error) {
	// The pipeline caps the increment at total_seats in the same write; the
	// pre-image tells whether the cap applied.
	pipeline := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"available_seats": bson.M{"$min": bson.A{
				bson.M{"$add": bson.A{"$available_seats", count}},
				"$total_seats",
			}},
			"updated_at": time.Now().UTC(),
		}}},
	}
	var before rideDoc
	err := s.db.Collection(ridesCol).FindOneAndUpdate(ctx,
		bson.M{"_id": rideID},
		pipeline,
		options.FindOneAndUpdate().SetReturnDocument(options.Before),
	).Decode(&before)
	if err != nil {
		return nil, false, mongoErr(err)
	}

	after := before.model()
	clamped := before.AvailableSeats+count > before.TotalSeats
	after.AvailableSeats = min(before.AvailableSeats+count, before.TotalSeats)
	return after, clamped, nil
}

func (s *MongoStore) UpdateRideStatus(ctx context.Context, rideID uint, from []models.RideStatus, to models.RideStatus) (*models.Ride, error) {
	var doc rideDoc
	err := s.db.Collection(ridesCol).FindOneAndUpdate(ctx,
		bson.M{"_id": rideID, "status": bson.M{"$in": from}},
		bson.M{"$set": bson.M{"status": to, "updated_at": time.Now().UTC()}},
		afterUpdate,
	).Decode(&doc)
	if err != nil {
		return nil, conditional(err)
	}
	return doc.model(), nil
}

// DeleteRide flags the ride so ReserveSeats stops matching it, checks for
// bookings, then deletes. A booking can only be inserted after a successful
// reservation, so none can appear once the flag is set.
func (s *MongoStore) DeleteRide(ctx context.Context, rideID uint) error {
	rides := s.db.Collection(ridesCol)
	err := rides.FindOneAndUpdate(ctx,
		bson.M{
			"_id":      rideID,
			"deleting": bson.M{"$ne": true},
			"$expr":    bson.M{"$eq": bson.A{"$available_seats", "$total_seats"}},
		},
		bson.M{"$set": bson.M{"deleting": true}},
	).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		if _, gerr := s.GetRide(ctx, rideID); gerr != nil {
			return gerr
		}
		return ErrConditionFailed
	}
	if err != nil {
		return mongoErr(err)
	}

	n, err := s.CountBookingsForRide(ctx, rideID)
	if err == nil && n == 0 {
		_, err = rides.DeleteOne(ctx, bson.M{"_id": rideID, "deleting": true})
		return mongoErr(err)
	}
	if _, uerr := rides.UpdateOne(context.WithoutCancel(ctx), bson.M{"_id": rideID}, bson.M{"$unset": bson.M{"deleting": ""}}); uerr != nil {
		return fmt.Errorf("clear delete flag: %w", uerr)
	}
	if err != nil {
		return err
	}
	return ErrConditionFailed
}

func (s *MongoStore) ListRides(ctx context.Context, f RideFilter) ([]models.Ride, error) {
	filter := bson.M{}
	if f.DriverID != 0 {
		filter["driver_id"] = f.DriverID
	}
	if len(f.Statuses) > 0 {
		filter["status"] = bson.M{"$in": f.Statuses}
	}
	if f.Origin != "" {
		filter["origin"] = containsPattern(f.Origin)
	}
	if f.Destination != "" {
		filter["destination"] = containsPattern(f.Destination)
	}
	departure := bson.M{}
	if f.DepartsAfter != nil {
		departure["$gt"] = *f.DepartsAfter
	}
	if f.DepartsBefore != nil {
		departure["$lte"] = *f.DepartsBefore
	}
	if len(departure) > 0 {
		filter["departure_at"] = departure
	}
	if f.MinSeats > 0 {
		filter["available_seats"] = bson.M{"$gte": f.MinSeats}
	}

	cursor, err := s.db.Collection(ridesCol).Find(ctx, filter,
		findOptions(f.Page, bson.D{{Key: "departure_at", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, mongoErr(err)
	}
	var docs []rideDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, mongoErr(err)
	}

	rides := make([]models.Ride, 0, len(docs))
	for _, d := range docs {
		rides = append(rides, *d.model())
	}
	return rides, nil
}

// Bookings

func (s *MongoStore) CreateBooking(ctx context.Context, booking *models.Booking) error {
	id, err := s.nextID(ctx, bookingsCol)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	booking.ID, booking.CreatedAt, booking.UpdatedAt = id, now, now
	_, err = s.db.Collection(bookingsCol).InsertOne(ctx, toBookingDoc(booking))
	return mongoErr(err)
}

func (s *MongoStore) GetBooking(ctx context.Context, id uint) (*models.Booking, error) {
	return s.findBooking(ctx, bson.M{"_id": id})
}

func (s *MongoStore) FindActiveBooking(ctx context.Context, rideID, passengerID uint) (*models.Booking, error) {
	var doc bookingDoc
	err := s.db.Collection(bookingsCol).FindOne(ctx,
		bson.M{"ride_id": rideID, "passenger_id": passengerID, "holds_seats": true},
	).Decode(&doc)
	if err != nil {
		return nil, mongoErr(err)
	}
	return doc.model(), nil
}

func (s *MongoStore) FindBookingByPaymentReference(ctx context.Context, reference string) (*models.Booking, error) {
	if reference == "" {
		return nil, ErrNotFound
	}
	return s.findBooking(ctx, bson.M{"payment_reference": reference})
}

func (s *MongoStore) findBooking(ctx context.Context, filter bson.M) (*models.Booking, error) {
	var doc bookingDoc
	if err := s.db.Collection(bookingsCol).FindOne(ctx, filter).Decode(&doc); err != nil {
		return nil, mongoErr(err)
	}
	return s.attachRide(ctx, doc.model())
}

func (s *MongoStore) attachRide(ctx context.Context, b *models.Booking) (*models.Booking, error) {
	ride, err := s.GetRide(ctx, b.RideID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	b.Ride = ride
	return b, nil
}

func (s *MongoStore) TransitionBooking(ctx context.Context, id uint, from []models.BookingStatus, to models.BookingStatus) (*models.Booking, error) {
	now := time.Now().UTC()
	set := bson.M{"status": to, "holds_seats": to.HoldsSeats(), "updated_at": now}
	if to == models.BookingStatusCancelled {
		set["cancelled_at"] = now
	}

	var doc bookingDoc
	err := s.db.Collection(bookingsCol).FindOneAndUpdate(ctx,
		bson.M{"_id": id, "status": bson.M{"$in": from}},
		bson.M{"$set": set},
		afterUpdate,
	).Decode(&doc)
	if err != nil {
		return nil, conditional(err)
	}
	return s.attachRide(ctx, doc.model())
}

func (s *MongoStore) UpdatePayment(ctx context.Context, id uint, cond PaymentCondition, u PaymentUpdate) (*models.Booking, error) {
	filter := bson.M{"_id": id}
	if len(cond.BookingStatuses) > 0 {
		filter["status"] = bson.M{"$in": cond.BookingStatuses}
	}
	if len(cond.PaymentStatuses) > 0 {
		filter["payment_status"] = bson.M{"$in": cond.PaymentStatuses}
	}
	if cond.Reference != nil {
		filter["payment_reference"] = *cond.Reference
	}

	set := bson.M{"payment_status": u.Status, "updated_at": time.Now().UTC()}
	if u.Reference != nil {
		set["payment_reference"] = *u.Reference
	}
	if u.Receipt != nil {
		set["payment_receipt"] = *u.Receipt
	}
	if u.TransactionID != nil {
		set["payment_transaction_id"] = *u.TransactionID
	}
	if u.FailureReason != nil {
		set["payment_failure_reason"] = *u.FailureReason
	}
	if u.InitiatedAt != nil {
		set["payment_initiated_at"] = *u.InitiatedAt
	}
	if u.PaidAt != nil {
		set["paid_at"] = *u.PaidAt
	}

	var doc bookingDoc
	err := s.db.Collection(bookingsCol).FindOneAndUpdate(ctx, filter, bson.M{"$set": set}, afterUpdate).Decode(&doc)
	if err != nil {
		return nil, conditional(err)
	}
	return s.attachRide(ctx, doc.model())
}

func (s *MongoStore) ListBookings(ctx context.Context, f BookingFilter) ([]models.Booking, error) {
	filter := bson.M{}
	if f.PassengerID != 0 {
		filter["passenger_id"] = f.PassengerID
	}
	if f.DriverID != 0 {
		filter["driver_id"] = f.DriverID
	}
	if f.RideID != 0 {
		filter["ride_id"] = f.RideID
	}
	if len(f.Statuses) > 0 {
		filter["status"] = bson.M{"$in": f.Statuses}
	}
	return s.listBookings(ctx, filter, findOptions(f.Page, bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}))
}

func (s *MongoStore) listBookings(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]models.Booking, error) {
	cursor, err := s.db.Collection(bookingsCol).Find(ctx, filter, opts)
	if err != nil {
		return nil, mongoErr(err)
	}
	var docs []bookingDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, mongoErr(err)
	}

	rideIDs := make([]uint, 0, len(docs))
	for _, d := range docs {
		rideIDs = append(rideIDs, d.RideID)
	}
	rides := map[uint]*models.Ride{}
	if len(rideIDs) > 0 {
		rc, err := s.db.Collection(ridesCol).Find(ctx, bson.M{"_id": bson.M{"$in": rideIDs}})
		if err != nil {
			return nil, mongoErr(err)
		}
		var rideDocs []rideDoc
		if err := rc.All(ctx, &rideDocs); err != nil {
			return nil, mongoErr(err)
		}
		for _, r := range rideDocs {
			rides[r.ID] = r.model()
		}
	}

	bookings := make([]models.Booking, 0, len(docs))
	for _, d := range docs {
		b := d.model()
		b.Ride = rides[d.RideID]
		bookings = append(bookings, *b)
	}
	return bookings, nil
}

func (s *MongoStore) CountBookingsForRide(ctx context.Context, rideID uint) (int64, error) {
	n, err := s.db.Collection(bookingsCol).CountDocuments(ctx, bson.M{"ride_id": rideID})
	return n, mongoErr(err)
}

func (s *MongoStore) ListStalePayments(ctx context.Context, before time.Time) ([]models.Booking, error) {
	filter := bson.M{
		"status":               models.BookingStatusAccepted,
		"payment_status":       models.PaymentStatusPending,
		"payment_reference":    bson.M{"$ne": ""},
		"payment_initiated_at": bson.M{"$lt": before},
	}
	return s.listBookings(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
}

// Notifications

func (s *MongoStore) CreateNotification(ctx context.Context, n *models.Notification) error {
	id, err := s.nextID(ctx, notificationsCol)
	if err != nil {
		return err
	}
	n.ID, n.CreatedAt = id, time.Now().UTC()
	_, err = s.db.Collection(notificationsCol).InsertOne(ctx, notificationDoc{
		ID:            n.ID,
		RecipientID:   n.RecipientID,
		RecipientRole: n.RecipientRole,
		Type:          n.Type,
		Title:         n.Title,
		Message:       n.Message,
		RideID:        n.RideID,
		BookingID:     n.BookingID,
		Read:          n.Read,
		ReadAt:        n.ReadAt,
		CreatedAt:     n.CreatedAt,
	})
	return mongoErr(err)
}

func (s *MongoStore) ListNotifications(ctx context.Context, recipientID uint, unreadOnly bool, page Page) ([]models.Notification, error) {
	filter := bson.M{"recipient_id": recipientID}
	if unreadOnly {
		filter["read"] = false
	}
	cursor, err := s.db.Collection(notificationsCol).Find(ctx, filter,
		findOptions(page, bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}))
	if err != nil {
		return nil, mongoErr(err)
	}
	var docs []notificationDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, mongoErr(err)
	}
	list := make([]models.Notification, 0, len(docs))
	for _, d := range docs {
		list = append(list, d.model())
	}
	return list, nil
}

func (s *MongoStore) CountUnread(ctx context.Context, recipientID uint) (int64, error) {
	n, err := s.db.Collection(notificationsCol).CountDocuments(ctx, bson.M{"recipient_id": recipientID, "read": false})
	return n, mongoErr(err)
}

func (s *MongoStore) MarkNotificationRead(ctx context.Context, id, recipientID uint) (*models.Notification, error) {
	col := s.db.Collection(notificationsCol)
	_, err := col.UpdateOne(ctx,
		bson.M{"_id": id, "recipient_id": recipientID, "read": false},
		bson.M{"$set": bson.M{"read": true, "read_at": time.Now().UTC()}},
	)
	if err != nil {
		return nil, mongoErr(err)
	}

	var doc notificationDoc
	if err := col.FindOne(ctx, bson.M{"_id": id, "recipient_id": recipientID}).Decode(&doc); err != nil {
		return nil, mongoErr(err)
	}
	n := doc.model()
	return &n, nil
}

func (s *MongoStore) MarkAllNotificationsRead(ctx context.Context, recipientID uint) (int64, error) {
	res, err := s.db.Collection(notificationsCol).UpdateMany(ctx,
		bson.M{"recipient_id": recipientID, "read": false},
		bson.M{"$set": bson.M{"read": true, "read_at": time.Now().UTC()}},
	)
	if err != nil {
		return 0, mongoErr(err)
	}
	return res.ModifiedCount, nil
}

// Users

func (s *MongoStore) GetUser(ctx context.Context, id uint) (*models.User, error) {
	var doc userDoc
	if err := s.db.Collection(usersCol).FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return nil, mongoErr(err)
	}
	return &models.User{
		Model:       gorm.Model{ID: doc.ID, CreatedAt: doc.CreatedAt, UpdatedAt: doc.UpdatedAt},
		Username:    doc.Username,
		PhoneNumber: doc.PhoneNumber,
		Role:        doc.Role,
		FCMToken:    doc.FCMToken,
	}, nil
}

func (s *MongoStore) UpsertUser(ctx context.Context, user *models.User) error {
	if user.ID == 0 {
		id, err := s.nextID(ctx, usersCol)
		if err != nil {
			return err
		}
		user.ID = id
	}
	now := time.Now().UTC()
	user.UpdatedAt = now
	_, err := s.db.Collection(usersCol).UpdateOne(ctx,
		bson.M{"_id": user.ID},
		bson.M{
			"$set": bson.M{
				"username":     user.Username,
				"phone_number": user.PhoneNumber,
				"role":         user.Role,
				"updated_at":   now,
			},
			"$setOnInsert": bson.M{"created_at": now},
		},
		options.Update().SetUpsert(true),
	)
	return mongoErr(err)
}

func (s *MongoStore) SetDeviceToken(ctx context.Context, userID uint, token string) error {
	res, err := s.db.Collection(usersCol).UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{"$set": bson.M{"fcm_token": token, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return mongoErr(err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) GetPreferences(ctx context.Context, userID uint) (*models.NotificationPreference, error) {
	var doc preferencesDoc
	err := s.db.Collection(preferencesCol).FindOne(ctx, bson.M{"_id": userID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.DefaultPreferences(userID), nil
	}
	if err != nil {
		return nil, mongoErr(err)
	}
	return &models.NotificationPreference{
		ID:               doc.UserID,
		UserID:           doc.UserID,
		CreatedAt:        doc.CreatedAt,
		UpdatedAt:        doc.UpdatedAt,
		PushEnabled:      doc.PushEnabled,
		BookingAlerts:    doc.BookingAlerts,
		RideStatusAlerts: doc.RideStatusAlerts,
		PaymentAlerts:    doc.PaymentAlerts,
		SMSEnabled:       doc.SMSEnabled,
	}, nil
}

// SavePreferences keys the document by user, so ID mirrors UserID.
func (s *MongoStore) SavePreferences(ctx context.Context, prefs *models.NotificationPreference) error {
	now := time.Now().UTC()
	prefs.ID = prefs.UserID
	prefs.UpdatedAt = now
	_, err := s.db.Collection(preferencesCol).UpdateOne(ctx,
		bson.M{"_id": prefs.UserID},
		bson.M{
			"$set": bson.M{
				"push_enabled":       prefs.PushEnabled,
				"booking_alerts":     prefs.BookingAlerts,
				"ride_status_alerts": prefs.RideStatusAlerts,
				"payment_alerts":     prefs.PaymentAlerts,
				"sms_enabled":        prefs.SMSEnabled,
				"updated_at":         now,
			},
			"$setOnInsert": bson.M{"created_at": now},
		},
		options.Update().SetUpsert(true),
	)
	return mongoErr(err)
}

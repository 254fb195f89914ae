package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"firebase.google.com/go/v4/messaging"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/gorilla/websocket"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/chachabrian/mooveit-rides/internal/models"
	"github.com/chachabrian/mooveit-rides/internal/repository"
)

type fakePusher struct {
	mu    sync.Mutex
	name  string
	users []uint
	err   error
}

func (p *fakePusher) Name() string { return p.name }

func (p *fakePusher) Push(_ context.Context, user *models.User, prefs *models.NotificationPreference, n *models.Notification) error {
	if !prefs.Allows(n.Type) {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users = append(p.users, user.ID)
	return p.err
}

func seedUser(t *testing.T, store repository.Store, id uint, phone, token string) {
	t.Helper()
	u := &models.User{Role: models.UserRolePassenger, PhoneNumber: phone, FCMToken: token}
	u.ID = id
	if err := store.UpsertUser(context.Background(), u); err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}
}

func TestNotifier(t *testing.T) {
	ctx := context.Background()
	bookingID, rideID := uint(9), uint(4)
	refs := Refs{RideID: &rideID, BookingID: &bookingID}

	t.Run("GivenPublisher_WhenNotifying_ThenPersistedThenPublished", func(t *testing.T) {
		store := repository.NewMemoryStore()
		pub := &recordingPublisher{}
		log, _ := logtest.NewNullLogger()
		n := NewNotifier(store, pub, log)

		note, err := n.Notify(ctx, DriverRecipient(7), models.NotificationBookingCreated, "New Booking Request", "2 seats", refs)
		if err != nil {
			t.Fatalf("Notify: %v", err)
		}
		if note.ID == 0 || note.Read {
			t.Errorf("unexpected notification %+v", note)
		}
		events := pub.on("driver:7")
		if len(events) != 1 {
			t.Fatalf("expected one event, got %d", len(events))
		}
		if events[0].NotificationID != note.ID || *events[0].BookingID != bookingID || events[0].ID == "" {
			t.Errorf("unexpected event %+v", events[0])
		}
	})

	t.Run("GivenNoChannel_WhenNotifying_ThenStoredAndNotInitializedLogged", func(t *testing.T) {
		store := repository.NewMemoryStore()
		log, hook := logtest.NewNullLogger()
		n := NewNotifier(store, nil, log)

		if _, err := n.Notify(ctx, PassengerRecipient(3), models.NotificationBookingAccepted, "Accepted", "", refs); err != nil {
			t.Fatalf("Notify: %v", err)
		}
		count, _ := store.CountUnread(ctx, 3)
		if count != 1 {
			t.Errorf("expected the notification to be stored, got %d", count)
		}
		entry := hook.LastEntry()
		if entry == nil || entry.Level != logrus.WarnLevel {
			t.Fatalf("expected a warning, got %+v", entry)
		}
		if logged, _ := entry.Data[logrus.ErrorKey].(error); !errors.Is(logged, ErrChannelNotInitialized) {
			t.Errorf("expected ErrChannelNotInitialized, got %v", logged)
		}
	})

	t.Run("GivenFailingPublisher_WhenNotifying_ThenErrorSwallowed", func(t *testing.T) {
		store := repository.NewMemoryStore()
		log, _ := logtest.NewNullLogger()
		n := NewNotifier(store, &recordingPublisher{err: errors.New("broker down")}, log)

		if _, err := n.Notify(ctx, PassengerRecipient(3), models.NotificationBookingDeclined, "Declined", "", refs); err != nil {
			t.Fatalf("publish failures must not fail Notify: %v", err)
		}
	})

	t.Run("GivenPreferences_WhenNotifying_ThenPushersRespectThem", func(t *testing.T) {
		store := repository.NewMemoryStore()
		seedUser(t, store, 3, "0712345678", "device-token")
		prefs := models.DefaultPreferences(3)
		prefs.PaymentAlerts = false
		if err := store.SavePreferences(ctx, prefs); err != nil {
			t.Fatalf("SavePreferences: %v", err)
		}

		log, _ := logtest.NewNullLogger()
		pusher := &fakePusher{name: "fake", err: errors.New("push rejected")}
		n := NewNotifier(store, &recordingPublisher{}, log, pusher)

		if _, err := n.Notify(ctx, PassengerRecipient(3), models.NotificationBookingAccepted, "Accepted", "", refs); err != nil {
			t.Fatalf("Notify: %v", err)
		}
		if _, err := n.Notify(ctx, PassengerRecipient(3), models.NotificationPaymentFailed, "Failed", "", refs); err != nil {
			t.Fatalf("Notify: %v", err)
		}
		if _, err := n.Notify(ctx, PassengerRecipient(99), models.NotificationBookingAccepted, "Unknown user", "", refs); err != nil {
			t.Fatalf("Notify: %v", err)
		}
		n.Wait()

		if len(pusher.users) != 1 || pusher.users[0] != 3 {
			t.Errorf("expected a single push to user 3, got %v", pusher.users)
		}
	})
}

type fakeFCM struct {
	messages []*messaging.Message
}

func (f *fakeFCM) Send(_ context.Context, m *messaging.Message) (string, error) {
	f.messages = append(f.messages, m)
	return "projects/mooveit/messages/1", nil
}

func TestFCMPusher(t *testing.T) {
	log, _ := logtest.NewNullLogger()
	sender := &fakeFCM{}
	p := &FCMPusher{client: sender, log: log}
	bookingID := uint(12)
	note := &models.Notification{ID: 5, Type: models.NotificationPaymentReceived, Title: "Payment Received", Message: "KES 900", BookingID: &bookingID}
	user := &models.User{FCMToken: "tok"}

	if err := p.Push(context.Background(), user, models.DefaultPreferences(1), note); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if len(sender.messages) != 1 {
		t.Fatalf("expected one message, got %d", len(sender.messages))
	}
	msg := sender.messages[0]
	if msg.Token != "tok" || msg.Data["bookingId"] != "12" || msg.Data["type"] != "payment_received" {
		t.Errorf("unexpected message %+v", msg)
	}
	if msg.Android.Notification.ChannelID != "mooveit_payments" {
		t.Errorf("unexpected channel %s", msg.Android.Notification.ChannelID)
	}

	prefs := models.DefaultPreferences(1)
	prefs.PushEnabled = false
	_ = p.Push(context.Background(), user, prefs, note)
	_ = p.Push(context.Background(), &models.User{}, models.DefaultPreferences(1), note)
	if len(sender.messages) != 1 {
		t.Error("disabled preferences or missing token must skip the push")
	}
}

type fakeSMS struct {
	messages   []string
	recipients []string
}

func (f *fakeSMS) Send(_ context.Context, message string, recipients []string) error {
	f.messages = append(f.messages, message)
	f.recipients = append(f.recipients, recipients...)
	return nil
}

func TestSMSPusher(t *testing.T) {
	sender := &fakeSMS{}
	p := &SMSPusher{client: sender}
	note := &models.Notification{Type: models.NotificationBookingDeclined, Title: "Booking Declined", Message: "Sorry"}

	if err := p.Push(context.Background(), &models.User{PhoneNumber: "0712 345 678"}, models.DefaultPreferences(1), note); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if len(sender.messages) != 1 || sender.messages[0] != "Booking Declined: Sorry" || sender.recipients[0] != "254712345678" {
		t.Errorf("unexpected sms %v to %v", sender.messages, sender.recipients)
	}

	prefs := models.DefaultPreferences(1)
	prefs.SMSEnabled = false
	if err := p.Push(context.Background(), &models.User{PhoneNumber: "0712345678"}, prefs, note); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if len(sender.messages) != 1 {
		t.Error("sms disabled must skip the message")
	}
}

func TestTopics(t *testing.T) {
	if DriverTopic(12) != "driver:12" || PassengerTopic(3) != "passenger:3" {
		t.Fatal("unexpected topic format")
	}
	role, id, err := ParseTopic("passenger:42")
	if err != nil || role != models.UserRolePassenger || id != 42 {
		t.Errorf("ParseTopic: %v %v %v", role, id, err)
	}
	for _, bad := range []string{"passenger", "pilot:1", "driver:x"} {
		if _, _, err := ParseTopic(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
	if RoutingKey("driver:12") != "driver.12" {
		t.Error("unexpected routing key")
	}
}

func TestMultiPublisher(t *testing.T) {
	ok := &recordingPublisher{}
	failing := &recordingPublisher{err: errors.New("down")}

	err := MultiPublisher{ok, failing}.Publish(context.Background(), "driver:1", Event{ID: "e1"})
	if err == nil {
		t.Error("expected joined error")
	}
	if len(ok.on("driver:1")) != 1 {
		t.Error("healthy publisher should still receive the event")
	}
	if err := (MultiPublisher{}).Publish(context.Background(), "driver:1", Event{}); !errors.Is(err, ErrChannelNotInitialized) {
		t.Errorf("expected ErrChannelNotInitialized, got %v", err)
	}
}

type fakeAMQPChannel struct {
	exchange, key string
	msg           amqp.Publishing
	closed        bool
}

func (c *fakeAMQPChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	c.exchange, c.key, c.msg = exchange, key, msg
	return nil
}

func (c *fakeAMQPChannel) Close() error {
	c.closed = true
	return nil
}

func TestAMQPPublisher(t *testing.T) {
	log, _ := logtest.NewNullLogger()
	ch := &fakeAMQPChannel{}
	p := &AMQPPublisher{ch: ch, log: log}

	event := Event{ID: "evt-1", Type: models.NotificationBookingCreated, Title: "New Booking Request"}
	if err := p.Publish(context.Background(), "driver:12", event); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if ch.exchange != BookingExchange || ch.key != "driver.12" {
		t.Errorf("unexpected exchange/key %s %s", ch.exchange, ch.key)
	}
	if ch.msg.MessageId != "evt-1" || ch.msg.DeliveryMode != amqp.Persistent || ch.msg.Type != "booking_created" {
		t.Errorf("unexpected publishing %+v", ch.msg)
	}
	var decoded Event
	if err := json.Unmarshal(ch.msg.Body, &decoded); err != nil || decoded.Title != event.Title {
		t.Errorf("unexpected body %s", ch.msg.Body)
	}

	if err := p.Close(); err != nil || !ch.closed {
		t.Errorf("Close: %v closed=%v", err, ch.closed)
	}
}

func TestRedisRelay_Forward(t *testing.T) {
	log, hook := logtest.NewNullLogger()
	local := &recordingPublisher{}
	relay := NewRedisRelay(nil, "booking_events", local, log)

	payload, _ := json.Marshal(relayEnvelope{Topic: "passenger:8", Event: Event{ID: "evt-2", Title: "Booking Accepted"}})
	relay.forward(context.Background(), string(payload))
	if events := local.on("passenger:8"); len(events) != 1 || events[0].ID != "evt-2" {
		t.Errorf("expected relayed event, got %+v", events)
	}

	relay.forward(context.Background(), "{broken")
	if entry := hook.LastEntry(); entry == nil || entry.Level != logrus.WarnLevel {
		t.Error("malformed payload should be logged")
	}
}

func TestHub(t *testing.T) {
	log, _ := logtest.NewNullLogger()
	hub := NewHub(log)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.ServeClient(w, r, 5)
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ConnectedClients() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	_ = hub.Publish(context.Background(), "driver:6", Event{ID: "other"})
	if err := hub.Publish(context.Background(), "passenger:5", Event{ID: "mine", Type: models.NotificationBookingAccepted}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Type string `json:"type"`
		Data Event  `json:"data"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if msg.Type != "booking_accepted" || msg.Data.ID != "mine" {
		t.Errorf("unexpected message %+v", msg)
	}
}

type fakeUploader struct {
	input *s3manager.UploadInput
}

func (u *fakeUploader) UploadWithContext(_ aws.Context, input *s3manager.UploadInput, _ ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error) {
	u.input = input
	return &s3manager.UploadOutput{Location: "https://bucket.s3.amazonaws.com/" + *input.Key}, nil
}

func TestCallbackArchive(t *testing.T) {
	fixed := func() time.Time { return time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC) }

	t.Run("GivenLocalDir_WhenArchiving_ThenFileWrittenUnderDate", func(t *testing.T) {
		a := NewLocalCallbackArchive(t.TempDir())
		a.now = fixed

		loc, err := a.Archive(context.Background(), "ws_CO_1", []byte(`{"ok":true}`))
		if err != nil {
			t.Fatalf("Archive: %v", err)
		}
		if !strings.Contains(loc, "2024") || !strings.HasSuffix(loc, ".json") {
			t.Errorf("unexpected location %s", loc)
		}
		data, err := os.ReadFile(loc)
		if err != nil || string(data) != `{"ok":true}` {
			t.Errorf("unexpected file contents %q (%v)", data, err)
		}
	})

	t.Run("GivenS3_WhenArchiving_ThenUploadedWithDatedKey", func(t *testing.T) {
		up := &fakeUploader{}
		a := &CallbackArchive{uploader: up, bucket: "mooveit-payments", now: fixed}

		loc, err := a.Archive(context.Background(), "ws_CO_2", []byte(`{}`))
		if err != nil {
			t.Fatalf("Archive: %v", err)
		}
		if !strings.HasPrefix(*up.input.Key, "mpesa-callbacks/2024/05/06/ws_CO_2-") || *up.input.Bucket != "mooveit-payments" {
			t.Errorf("unexpected upload %s/%s", *up.input.Bucket, *up.input.Key)
		}
		if !strings.HasPrefix(loc, "s3://mooveit-payments/") {
			t.Errorf("unexpected location %s", loc)
		}
	})
}

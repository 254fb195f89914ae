package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/chachabrian/mooveit-rides/internal/models"
	"github.com/chachabrian/mooveit-rides/internal/repository"
	"github.com/chachabrian/mooveit-rides/pkg/utils"
)

const (
	reasonTimedOut = "payment timed out"
	claimPrefix    = "claim-"
)

// Outcome is a gateway callback reduced to what settlement needs.
type Outcome struct {
	Reference     string
	Success       bool
	ResultCode    int
	ReceiptNumber string
	TransactionID string
	Amount        float64
	Phone         string
	Reason        string
	Raw           []byte
}

type PaymentOptions struct {
	Timeout     time.Duration
	CallbackTTL time.Duration
}

// PaymentService collects the fare for accepted bookings and applies the
// gateway's asynchronous results.
type PaymentService struct {
	store    repository.Store
	gateway  PaymentGateway
	archive  CallbackArchiver
	notifier *Notifier
	opts     PaymentOptions
	log      logrus.FieldLogger
	now      func() time.Time
}

// NewPaymentService builds the settlement adapter. archive may be nil.
func NewPaymentService(store repository.Store, gateway PaymentGateway, archive CallbackArchiver, notifier *Notifier, opts PaymentOptions, log logrus.FieldLogger) *PaymentService {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.CallbackTTL <= 0 {
		opts.CallbackTTL = 5 * time.Minute
	}
	return &PaymentService{
		store:    store,
		gateway:  gateway,
		archive:  archive,
		notifier: notifier,
		opts:     opts,
		log:      log,
		now:      time.Now,
	}
}

// InitiatePayment starts an STK push for an accepted booking. phone falls
// back to the passenger's registered number.
func (s *PaymentService) InitiatePayment(ctx context.Context, bookingID, actorID uint, phone string) (*models.Booking, error) {
	const op = "InitiatePayment"

	booking, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, storeError(op, "booking", err)
	}
	if booking.PassengerID != actorID {
		return nil, newError(op, KindUnauthorized, "only the passenger can pay for this booking")
	}
	if booking.Status != models.BookingStatusAccepted {
		return nil, newError(op, KindInvalidState, "booking must be accepted before payment")
	}
	switch {
	case booking.PaymentStatus == models.PaymentStatusPending && booking.PaymentReference != "":
		return nil, newError(op, KindInvalidState, "a payment is already in progress")
	case booking.PaymentStatus != models.PaymentStatusPending && booking.PaymentStatus != models.PaymentStatusFailed:
		return nil, newError(op, KindInvalidState, fmt.Sprintf("payment is already %s", booking.PaymentStatus))
	}
	if utils.ChargeableAmount(booking.TotalAmount) <= 0 {
		return nil, newError(op, KindValidation, "booking has no amount to pay")
	}

	if phone == "" {
		if user, err := s.store.GetUser(ctx, actorID); err == nil {
			phone = user.PhoneNumber
		}
	}
	msisdn, err := utils.NormalizeMSISDN(phone)
	if err != nil {
		return nil, newError(op, KindValidation, "a valid phone number is required")
	}

	// Claim the booking so concurrent initiations cannot both reach the gateway.
	prevRef := booking.PaymentReference
	claim := claimPrefix + uuid.NewString()
	now := s.now()
	empty := ""
	booking, err = s.store.UpdatePayment(ctx, bookingID,
		repository.PaymentCondition{
			BookingStatuses: []models.BookingStatus{models.BookingStatusAccepted},
			PaymentStatuses: []models.PaymentStatus{models.PaymentStatusPending, models.PaymentStatusFailed},
			Reference:       &prevRef,
		},
		repository.PaymentUpdate{
			Status:        models.PaymentStatusPending,
			Reference:     &claim,
			InitiatedAt:   &now,
			FailureReason: &empty,
		})
	if errors.Is(err, repository.ErrConditionFailed) {
		return nil, newError(op, KindInvalidState, "booking changed while starting payment")
	}
	if err != nil {
		return nil, storeError(op, "booking", err)
	}

	gwCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()
	started, gwErr := s.gateway.Initiate(gwCtx, PaymentRequest{
		Phone:       msisdn,
		Amount:      booking.TotalAmount,
		Reference:   fmt.Sprintf("BK%d", booking.ID),
		Description: fmt.Sprintf("Ride %d seat booking", booking.RideID),
	})

	fields := logrus.Fields{"booking_id": booking.ID, "passenger_id": actorID}
	if gwErr == nil && started.CheckoutID == "" {
		gwErr = errors.New("gateway returned no checkout id")
	}
	if gwErr != nil {
		reason := "payment request failed"
		if errors.Is(gwErr, context.DeadlineExceeded) {
			reason = "payment request timed out"
		}
		s.log.WithFields(fields).WithError(gwErr).Warn("Payment initiation failed")
		_, err := s.store.UpdatePayment(context.WithoutCancel(ctx), bookingID,
			repository.PaymentCondition{
				PaymentStatuses: []models.PaymentStatus{models.PaymentStatusPending},
				Reference:       &claim,
			},
			repository.PaymentUpdate{Status: models.PaymentStatusFailed, FailureReason: &reason})
		if err != nil {
			s.log.WithFields(fields).WithError(err).Error("Recording failed payment initiation")
		}
		return nil, upstream(op, gwErr)
	}

	checkout := started.CheckoutID
	booking, err = s.store.UpdatePayment(ctx, bookingID,
		repository.PaymentCondition{Reference: &claim},
		repository.PaymentUpdate{Status: models.PaymentStatusPending, Reference: &checkout})
	if err != nil {
		return nil, storeError(op, "booking", err)
	}

	s.log.WithFields(fields).WithField("checkout_id", checkout).Info("Payment initiated")
	return booking, nil
}

// Settle applies a gateway callback. Replaying an outcome that was already
// applied returns the booking unchanged.
func (s *PaymentService) Settle(ctx context.Context, out Outcome) (*models.Booking, error) {
	const op = "Settle"

	fields := logrus.Fields{"reference": out.Reference, "success": out.Success}
	if s.archive != nil && len(out.Raw) > 0 {
		if _, err := s.archive.Archive(ctx, out.Reference, out.Raw); err != nil {
			s.log.WithFields(fields).WithError(err).Warn("Archiving payment callback failed")
		}
	}

	if out.Reference == "" {
		return nil, newError(op, KindValidation, "callback has no payment reference")
	}
	booking, err := s.store.FindBookingByPaymentReference(ctx, out.Reference)
	if err != nil {
		return nil, storeError(op, "payment", err)
	}
	fields["booking_id"] = booking.ID

	if s.alreadyApplied(booking, out) {
		s.log.WithFields(fields).Info("Duplicate payment callback ignored")
		return booking, nil
	}
	if booking.Status != models.BookingStatusAccepted {
		return nil, newError(op, KindInvalidState, fmt.Sprintf("booking is %s", booking.Status))
	}

	ref := out.Reference
	if out.Success {
		now := s.now()
		receipt, txID := out.ReceiptNumber, out.TransactionID
		empty := ""
		booking, err = s.store.UpdatePayment(ctx, booking.ID,
			repository.PaymentCondition{
				BookingStatuses: []models.BookingStatus{models.BookingStatusAccepted},
				PaymentStatuses: []models.PaymentStatus{models.PaymentStatusPending, models.PaymentStatusFailed},
				Reference:       &ref,
			},
			repository.PaymentUpdate{
				Status:        models.PaymentStatusPaid,
				Receipt:       &receipt,
				TransactionID: &txID,
				FailureReason: &empty,
				PaidAt:        &now,
			})
		if err != nil {
			return s.settleConflict(ctx, op, ref, out, err)
		}
		s.log.WithFields(fields).WithField("receipt", receipt).Info("Payment received")

		msg := fmt.Sprintf("Payment of KES %.2f received for booking #%d", booking.TotalAmount, booking.ID)
		s.notify(ctx, DriverRecipient(booking.DriverID), models.NotificationPaymentReceived, "Payment Received", msg, booking)
		s.notify(ctx, PassengerRecipient(booking.PassengerID), models.NotificationPaymentReceived, "Payment Confirmed", msg, booking)
		return booking, nil
	}

	reason := out.Reason
	if reason == "" {
		reason = "payment failed"
	}
	booking, err = s.store.UpdatePayment(ctx, booking.ID,
		repository.PaymentCondition{
			BookingStatuses: []models.BookingStatus{models.BookingStatusAccepted},
			PaymentStatuses: []models.PaymentStatus{models.PaymentStatusPending},
			Reference:       &ref,
		},
		repository.PaymentUpdate{Status: models.PaymentStatusFailed, FailureReason: &reason})
	if err != nil {
		return s.settleConflict(ctx, op, ref, out, err)
	}
	s.log.WithFields(fields).WithField("reason", reason).Info("Payment failed")
	s.notify(ctx, PassengerRecipient(booking.PassengerID), models.NotificationPaymentFailed, "Payment Failed",
		fmt.Sprintf("Payment for booking #%d failed: %s", booking.ID, reason), booking)
	return booking, nil
}

func (s *PaymentService) alreadyApplied(b *models.Booking, out Outcome) bool {
	if out.Success {
		// A payment reconciled by query is stored without a receipt.
		return b.PaymentStatus == models.PaymentStatusPaid &&
			(b.PaymentReceipt == out.ReceiptNumber || b.PaymentReceipt == "")
	}
	reason := out.Reason
	if reason == "" {
		reason = "payment failed"
	}
	return b.PaymentStatus == models.PaymentStatusFailed && b.PaymentFailureReason == reason
}

// settleConflict re-reads the booking after a lost race to report either an
// idempotent replay or the state that blocked the update.
func (s *PaymentService) settleConflict(ctx context.Context, op, ref string, out Outcome, err error) (*models.Booking, error) {
	if !errors.Is(err, repository.ErrConditionFailed) {
		return nil, storeError(op, "payment", err)
	}
	current, rerr := s.store.FindBookingByPaymentReference(ctx, ref)
	if rerr != nil {
		return nil, storeError(op, "payment", rerr)
	}
	if s.alreadyApplied(current, out) {
		return current, nil
	}
	return nil, newError(op, KindInvalidState, fmt.Sprintf("payment is %s on a %s booking", current.PaymentStatus, current.Status))
}

// ExpireStalePayments resolves payments whose callback never arrived. A
// gateway that can be queried gets asked for the result first; a payment
// fails once the gateway has stayed silent for three callback windows, or
// straight away when it cannot be queried.
func (s *PaymentService) ExpireStalePayments(ctx context.Context) (int, error) {
	now := s.now()
	stale, err := s.store.ListStalePayments(ctx, now.Add(-s.opts.CallbackTTL))
	if err != nil {
		return 0, upstream("ExpireStalePayments", err)
	}

	querier, _ := s.gateway.(PaymentQuerier)
	giveUp := now.Add(-3 * s.opts.CallbackTTL)
	resolved := 0
	for i := range stale {
		b := &stale[i]
		// A claim reference never reached the gateway, so there is nothing to ask.
		if querier != nil && !strings.HasPrefix(b.PaymentReference, claimPrefix) {
			settled, err := s.reconcile(ctx, querier, b)
			if err != nil {
				s.log.WithField("booking_id", b.ID).WithError(err).Warn("Querying stale payment failed")
			}
			if settled {
				resolved++
				continue
			}
			if b.PaymentInitiatedAt != nil && !b.PaymentInitiatedAt.Before(giveUp) {
				continue
			}
		}
		if s.expire(ctx, b) {
			resolved++
		}
	}
	if resolved > 0 {
		s.log.WithField("count", resolved).Info("Resolved stale payments")
	}
	return resolved, nil
}

// reconcile applies the gateway's recorded result for b, reporting whether
// the payment was settled.
func (s *PaymentService) reconcile(ctx context.Context, q PaymentQuerier, b *models.Booking) (bool, error) {
	qctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()
	out, done, err := q.QueryPayment(qctx, b.PaymentReference)
	if err != nil || !done {
		return false, err
	}
	if _, err := s.Settle(ctx, out); err != nil {
		return false, err
	}
	return true, nil
}

func (s *PaymentService) expire(ctx context.Context, b *models.Booking) bool {
	ref, reason := b.PaymentReference, reasonTimedOut
	updated, err := s.store.UpdatePayment(ctx, b.ID,
		repository.PaymentCondition{
			PaymentStatuses: []models.PaymentStatus{models.PaymentStatusPending},
			Reference:       &ref,
		},
		repository.PaymentUpdate{Status: models.PaymentStatusFailed, FailureReason: &reason})
	if errors.Is(err, repository.ErrConditionFailed) {
		return false
	}
	if err != nil {
		s.log.WithField("booking_id", b.ID).WithError(err).Warn("Expiring stale payment failed")
		return false
	}
	s.notify(ctx, PassengerRecipient(updated.PassengerID), models.NotificationPaymentFailed, "Payment Failed",
		fmt.Sprintf("Payment for booking #%d timed out. Please try again.", updated.ID), updated)
	return true
}

func (s *PaymentService) notify(ctx context.Context, to Recipient, typ models.NotificationType, title, msg string, b *models.Booking) {
	if _, err := s.notifier.Notify(ctx, to, typ, title, msg, BookingRefs(b)); err != nil {
		s.log.WithFields(logrus.Fields{"booking_id": b.ID, "type": typ}).WithError(err).Error("Failed to create notification")
	}
}

package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/chachabrian/mooveit-rides/internal/models"
	"github.com/chachabrian/mooveit-rides/internal/services"
)

// CreateBooking handles the creation of a new booking
func CreateBooking(svc *services.BookingService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input services.CreateBookingInput
		if err := c.ShouldBindJSON(&input); err != nil {
			badRequest(c, err)
			return
		}

		booking, err := svc.CreateBooking(c.Request.Context(), c.GetUint("userId"), input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(201, booking)
	}
}

// GetBooking returns a booking to its passenger or driver.
func GetBooking(q *services.QueryService) gin.HandlerFunc {
	return func(c *gin.Context) {
		bookingID, ok := idParam(c, "id")
		if !ok {
			return
		}

		booking, err := q.GetBooking(c.Request.Context(), bookingID, c.GetUint("userId"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(200, booking)
	}
}

// GetPassengerBookings retrieves all bookings made by the caller
func GetPassengerBookings(q *services.QueryService) gin.HandlerFunc {
	return func(c *gin.Context) {
		statuses, ok := bookingStatuses(c)
		if !ok {
			return
		}

		bookings, err := q.PassengerBookings(c.Request.Context(), c.GetUint("userId"), statuses, pageQuery(c))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(200, bookings)
	}
}

// GetDriverBookings retrieves all bookings for a driver's rides
func GetDriverBookings(q *services.QueryService) gin.HandlerFunc {
	return func(c *gin.Context) {
		statuses, ok := bookingStatuses(c)
		if !ok {
			return
		}

		bookings, err := q.DriverBookings(c.Request.Context(), c.GetUint("userId"), statuses, pageQuery(c))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(200, bookings)
	}
}

func GetPendingRequests(q *services.QueryService) gin.HandlerFunc {
	return func(c *gin.Context) {
		bookings, err := q.PendingRequests(c.Request.Context(), c.GetUint("userId"), pageQuery(c))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(200, bookings)
	}
}

type bookingAction func(ctx context.Context, bookingID, actorID uint) (*models.Booking, error)

// bookingTransition adapts a lifecycle operation to a POST /bookings/:id/<action> route.
func bookingTransition(action bookingAction, message string) gin.HandlerFunc {
	return func(c *gin.Context) {
		bookingID, ok := idParam(c, "id")
		if !ok {
			return
		}

		booking, err := action(c.Request.Context(), bookingID, c.GetUint("userId"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(200, gin.H{"message": message, "booking": booking})
	}
}

func AcceptBooking(svc *services.BookingService) gin.HandlerFunc {
	return bookingTransition(svc.AcceptBooking, "Booking accepted")
}

func DeclineBooking(svc *services.BookingService) gin.HandlerFunc {
	return bookingTransition(svc.DeclineBooking, "Booking declined")
}

func CancelBooking(svc *services.BookingService) gin.HandlerFunc {
	return bookingTransition(svc.CancelBooking, "Booking cancelled")
}

func CompleteBooking(svc *services.BookingService) gin.HandlerFunc {
	return bookingTransition(svc.CompleteBooking, "Booking completed")
}

package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chachabrian/mooveit-rides/internal/middleware"
	"github.com/chachabrian/mooveit-rides/internal/models"
	"github.com/chachabrian/mooveit-rides/internal/services"
)

// CreateRide handles the creation of a new ride by a driver
func CreateRide(inv *services.Inventory) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input services.CreateRideInput
		if err := c.ShouldBindJSON(&input); err != nil {
			badRequest(c, err)
			return
		}

		ride, err := inv.CreateRide(c.Request.Context(), middleware.Principal(c), input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(201, ride)
	}
}

// GetAvailableRides searches bookable rides. Query: origin, destination,
// date (YYYY-MM-DD), seats, limit, offset.
func GetAvailableRides(q *services.QueryService) gin.HandlerFunc {
	return func(c *gin.Context) {
		search := services.RideSearch{
			Origin:      c.Query("origin"),
			Destination: c.Query("destination"),
			Page:        pageQuery(c),
		}
		if d := c.Query("date"); d != "" {
			date, err := time.Parse("2006-01-02", d)
			if err != nil {
				c.JSON(400, gin.H{"error": "date must be YYYY-MM-DD", "code": "validation_failed"})
				return
			}
			search.Date = &date
		}
		if s := c.Query("seats"); s != "" {
			var seats struct {
				Seats int `form:"seats" binding:"min=1,max=8"`
			}
			if err := c.ShouldBindQuery(&seats); err != nil {
				badRequest(c, err)
				return
			}
			search.Seats = seats.Seats
		}

		rides, err := q.AvailableRides(c.Request.Context(), search)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(200, rides)
	}
}

// GetDriverRides lists the caller's own rides.
func GetDriverRides(q *services.QueryService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var statuses []models.RideStatus
		if s := c.Query("status"); s != "" {
			statuses = append(statuses, models.RideStatus(s))
		}

		rides, err := q.DriverRides(c.Request.Context(), c.GetUint("userId"), statuses, pageQuery(c))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(200, rides)
	}
}

// CancelRide cancels the ride and every booking still holding seats on it.
func CancelRide(svc *services.BookingService) gin.HandlerFunc {
	return func(c *gin.Context) {
		rideID, ok := idParam(c, "id")
		if !ok {
			return
		}

		ride, cancelled, err := svc.CancelRide(c.Request.Context(), rideID, c.GetUint("userId"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(200, gin.H{
			"message":           "Ride cancelled successfully",
			"ride":              ride,
			"cancelledBookings": len(cancelled),
		})
	}
}

func CompleteRide(svc *services.BookingService) gin.HandlerFunc {
	return func(c *gin.Context) {
		rideID, ok := idParam(c, "id")
		if !ok {
			return
		}

		ride, settled, err := svc.CompleteRide(c.Request.Context(), rideID, c.GetUint("userId"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(200, gin.H{
			"message":  "Ride completed successfully",
			"ride":     ride,
			"bookings": settled,
		})
	}
}

// DeleteRide removes a ride that never received a booking.
func DeleteRide(inv *services.Inventory) gin.HandlerFunc {
	return func(c *gin.Context) {
		rideID, ok := idParam(c, "id")
		if !ok {
			return
		}

		if err := inv.DeleteRide(c.Request.Context(), rideID, c.GetUint("userId")); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(200, gin.H{"message": "Ride deleted successfully"})
	}
}

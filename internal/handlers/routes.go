package handlers

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/chachabrian/mooveit-rides/internal/middleware"
	"github.com/chachabrian/mooveit-rides/internal/models"
	"github.com/chachabrian/mooveit-rides/internal/services"
)

// Deps are the services the HTTP surface is built on. Payments and Hub may
// be nil, in which case their routes are not mounted.
type Deps struct {
	JWTSecret string
	Inventory *services.Inventory
	Bookings  *services.BookingService
	Payments  *services.PaymentService
	Queries   *services.QueryService
	Hub       *services.Hub
	Log       logrus.FieldLogger
}

// NewRouter builds the gin engine with every /api route.
func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(d.Log))

	// Configure CORS
	config := cors.DefaultConfig()
	config.AllowOrigins = []string{"*"}
	config.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.RequestIDHeader}
	config.ExposeHeaders = []string{middleware.RequestIDHeader}
	r.Use(cors.New(config))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	{
		// Gateway callback is public
		if d.Payments != nil {
			api.POST("/payments/mpesa/callback", MpesaCallback(d.Payments, d.Log))
		}

		auth := middleware.AuthMiddleware(d.JWTSecret)

		if d.Hub != nil {
			api.GET("/ws", auth, WebSocketHandler(d.Hub, d.Log))
		}

		protected := api.Group("/")
		protected.Use(auth)
		{
			driverOnly := middleware.RequireRole(models.UserRoleDriver)

			rides := protected.Group("/rides")
			{
				rides.GET("", GetAvailableRides(d.Queries))
				rides.POST("", driverOnly, CreateRide(d.Inventory))
				rides.GET("/driver", driverOnly, GetDriverRides(d.Queries))
				rides.POST("/:id/cancel", driverOnly, CancelRide(d.Bookings))
				rides.POST("/:id/complete", driverOnly, CompleteRide(d.Bookings))
				rides.DELETE("/:id", driverOnly, DeleteRide(d.Inventory))
			}

			bookings := protected.Group("/bookings")
			{
				bookings.POST("", CreateBooking(d.Bookings))
				bookings.GET("/passenger", GetPassengerBookings(d.Queries))
				bookings.GET("/driver", driverOnly, GetDriverBookings(d.Queries))
				bookings.GET("/pending", driverOnly, GetPendingRequests(d.Queries))
				bookings.GET("/:id", GetBooking(d.Queries))
				bookings.POST("/:id/accept", driverOnly, AcceptBooking(d.Bookings))
				bookings.POST("/:id/decline", driverOnly, DeclineBooking(d.Bookings))
				bookings.POST("/:id/cancel", CancelBooking(d.Bookings))
				bookings.POST("/:id/complete", driverOnly, CompleteBooking(d.Bookings))
				if d.Payments != nil {
					bookings.POST("/:id/pay", InitiatePayment(d.Payments))
				}
			}

			notifications := protected.Group("/notifications")
			{
				notifications.GET("", GetNotifications(d.Queries))
				notifications.GET("/unread-count", GetUnreadCount(d.Queries))
				notifications.POST("/read-all", MarkAllNotificationsRead(d.Queries))
				notifications.POST("/:id/read", MarkNotificationRead(d.Queries))
				notifications.POST("/register-token", RegisterFCMToken(d.Queries))

				// Notification preferences
				notifications.GET("/preferences", GetNotificationPreferences(d.Queries))
				notifications.PUT("/preferences", UpdateNotificationPreferences(d.Queries))
			}
		}
	}

	return r
}

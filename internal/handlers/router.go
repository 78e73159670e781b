package handlers

import (
	"log/slog"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/chachabrian/unipool-backend/internal/booking"
	"github.com/chachabrian/unipool-backend/internal/chat"
	"github.com/chachabrian/unipool-backend/internal/identity"
	"github.com/chachabrian/unipool-backend/internal/logging"
	"github.com/chachabrian/unipool-backend/internal/metrics"
	"github.com/chachabrian/unipool-backend/internal/middleware"
	"github.com/chachabrian/unipool-backend/internal/notify"
	"github.com/chachabrian/unipool-backend/internal/ratings"
	"github.com/chachabrian/unipool-backend/internal/rides"
	"github.com/chachabrian/unipool-backend/internal/services"
	"github.com/chachabrian/unipool-backend/internal/storage"
)

// Deps is everything the HTTP API is built from.
type Deps struct {
	Log      *slog.Logger
	Verifier identity.Verifier
	Rides    *rides.Inventory
	Workflow *booking.Workflow
	Ratings  *ratings.Service
	Chats    *chat.Service
	Inbox    *notify.Inbox
	Hub      *services.Hub
	Images   storage.Images

	// Idempotency is optional; without it mutating requests are not
	// deduplicated.
	Idempotency middleware.IdempotencyStore
	CORSOrigins []string
	// UploadDir is served at /uploads when images are kept on local disk.
	UploadDir string
	Health    map[string]Pinger
}

func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), logging.Requests(d.Log), metrics.Middleware())

	// Configure CORS
	config := cors.DefaultConfig()
	config.AllowOrigins = d.CORSOrigins
	if len(config.AllowOrigins) == 0 || config.AllowOrigins[0] == "*" {
		config.AllowOrigins = nil
		config.AllowAllOrigins = true
	}
	config.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.IdempotencyHeader}
	r.Use(cors.New(config))

	r.GET("/healthz", Health(d.Health))
	r.GET("/metrics", metrics.Handler())
	if d.UploadDir != "" {
		r.Static("/uploads", d.UploadDir)
	}

	auth := middleware.AuthMiddleware(d.Verifier, d.Log)
	log := d.Log

	api := r.Group("/api")
	{
		// WebSocket connection
		api.GET("/ws", auth, WebSocketHandler(d.Hub))

		// Protected routes
		protected := api.Group("/")
		protected.Use(auth)
		if d.Idempotency != nil {
			protected.Use(middleware.Idempotency(d.Idempotency, log))
		}
		{
			rideRoutes := protected.Group("/rides")
			{
				rideRoutes.GET("", ListRides(d.Rides, log))
				rideRoutes.POST("", CreateRide(d.Rides, log))
				rideRoutes.GET("/driver", DriverRides(d.Rides, log))
				rideRoutes.GET("/:id", GetRide(d.Rides, log))
				rideRoutes.POST("/:id/cancel", CancelRide(d.Rides, log))
				rideRoutes.POST("/:id/complete", CompleteRide(d.Rides, log))
				rideRoutes.DELETE("/:id", DeleteRide(d.Rides, log))
				rideRoutes.POST("/:id/requests", SubmitRequest(d.Workflow, log))
				rideRoutes.GET("/:id/requests", RideRequests(d.Workflow, log))
				rideRoutes.GET("/:id/bookings", RideBookings(d.Workflow, d.Rides, log))
			}

			requests := protected.Group("/requests")
			{
				requests.GET("/mine", MyRequests(d.Workflow, log))
				requests.POST("/:id/accept", AcceptRequest(d.Workflow, log))
				requests.POST("/:id/decline", DeclineRequest(d.Workflow, log))
			}

			bookings := protected.Group("/bookings")
			{
				bookings.POST("", CreateBooking(d.Workflow, log))
				bookings.GET("/rider", RiderBookings(d.Workflow, log))
				bookings.GET("/driver", DriverBookings(d.Workflow, log))
				bookings.POST("/:id/cancel", CancelBooking(d.Workflow, log))
			}

			ratingRoutes := protected.Group("/ratings")
			{
				ratingRoutes.POST("", SubmitRating(d.Ratings, log))
				ratingRoutes.GET("/:userId", UserRatings(d.Ratings, log))
			}

			notifications := protected.Group("/notifications")
			{
				notifications.GET("", ListNotifications(d.Inbox, log))
				notifications.GET("/unread-count", UnreadCount(d.Inbox, log))
				notifications.GET("/stream", NotificationStream(d.Inbox, log))
				notifications.POST("/:id/read", MarkNotificationRead(d.Inbox, log))
				notifications.POST("/read-all", MarkAllNotificationsRead(d.Inbox, log))
				notifications.POST("/register-token", RegisterDeviceToken(d.Inbox, log))
				notifications.DELETE("/remove-token", RemoveDeviceToken(d.Inbox, log))

				// Notification preferences
				notifications.GET("/preferences", GetNotificationPreferences(d.Inbox, log))
				notifications.PUT("/preferences", UpdateNotificationPreferences(d.Inbox, log))
			}

			chats := protected.Group("/chats")
			{
				chats.GET("", MyChats(d.Chats, log))
				chats.POST("", OpenChat(d.Chats, log))
				chats.GET("/:id", GetChat(d.Chats, log))
				chats.GET("/:id/messages", ChatMessages(d.Chats, log))
				chats.POST("/:id/messages", SendMessage(d.Chats, log))
				chats.POST("/:id/read", MarkChatRead(d.Chats, log))
			}

			users := protected.Group("/users")
			{
				users.POST("/photo", UploadProfilePhoto(d.Images, log))
			}
		}
	}

	return r
}

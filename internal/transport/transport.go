package transport

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ds124wfegd/library-reservations/internal/transport/middleware"
)

func InitRoutes(reservationHandler *ReservationHandler, queueHandler *QueueHandler, jwtSecret []byte, timeout time.Duration) *gin.Engine {

	router := gin.New()

	// Middleware
	router.Use(gin.Recovery())
	router.Use(middleware.CORS())
	router.Use(middleware.Logger())
	router.Use(middleware.Timeout(timeout))
	router.Use(middleware.Locale())

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().UTC(),
		})
	})

	// API routes
	api := router.Group("/api/v1")
	api.Use(middleware.Auth(jwtSecret))
	{
		// Reader routes
		reservations := api.Group("/reservations")
		{
			reservations.GET("/check", reservationHandler.CheckAllowToReserve)
			reservations.POST("", middleware.RequireRole(middleware.RoleMember), reservationHandler.CreateReservation)
			reservations.GET("/:id", reservationHandler.GetReservation)
			reservations.DELETE("/:id", reservationHandler.CancelReservation)
		}

		// Librarian routes
		staff := api.Group("/reservations")
		staff.Use(middleware.RequireRole(middleware.RoleLibrarian))
		{
			staff.GET("", reservationHandler.ListReservations)
			staff.GET("/:id/assignable", reservationHandler.CheckAssignable)
			staff.POST("/:id/assign", reservationHandler.AssignInstance)
			staff.POST("/assign-returned", reservationHandler.AssignReturned)
			staff.POST("/labels", reservationHandler.ApplyLabel)
			staff.POST("/collect", reservationHandler.Collect)
		}

		// Admin routes
		admin := api.Group("/admin")
		admin.Use(middleware.RequireRole(middleware.RoleLibrarian))
		{
			admin.GET("/queue/stats", queueHandler.Stats)
			admin.GET("/queue/dlq", queueHandler.FailedTasks)
			admin.POST("/queue/dlq/:task_id/requeue", queueHandler.Requeue)
		}
	}

	return router
}

package handlers

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/chachabrian/mooveit-rides/internal/models"
	"github.com/chachabrian/mooveit-rides/internal/repository"
	"github.com/chachabrian/mooveit-rides/internal/services"
)

type errorMapping struct {
	status int
	code   string
}

var kindMappings = map[services.Kind]errorMapping{
	services.KindUnauthorized:         {403, "unauthorized"},
	services.KindSelfBookingForbidden: {403, "self_booking_forbidden"},
	services.KindNotFound:             {404, "not_found"},
	services.KindInvalidState:         {409, "invalid_state"},
	services.KindAlreadyTerminal:      {409, "already_terminal"},
	services.KindInsufficientCapacity: {409, "insufficient_capacity"},
	services.KindRideNotActive:        {409, "ride_not_active"},
	services.KindDuplicateBooking:     {409, "duplicate_booking"},
	services.KindValidation:           {400, "validation_failed"},
	services.KindUpstreamFailure:      {502, "upstream_failure"},
}

// StatusFor maps a service error to its HTTP status and stable code.
func StatusFor(err error) (int, string) {
	if m, ok := kindMappings[services.KindOf(err)]; ok {
		return m.status, m.code
	}
	return 500, "internal_error"
}

func respondError(c *gin.Context, err error) {
	status, code := StatusFor(err)
	msg := "Internal server error"
	var svcErr *services.Error
	if errors.As(err, &svcErr) && status < 500 {
		msg = svcErr.Message
	} else if status == 502 {
		msg = "A dependent service failed, please retry"
	}
	if status >= 500 {
		_ = c.Error(err)
	}
	c.JSON(status, gin.H{"error": msg, "code": code})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(400, gin.H{"error": err.Error(), "code": "validation_failed"})
}

func idParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		c.JSON(400, gin.H{"error": "Invalid " + name, "code": "validation_failed"})
		return 0, false
	}
	return uint(id), true
}

func pageQuery(c *gin.Context) repository.Page {
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))
	return repository.Page{Limit: limit, Offset: offset}.Normalize()
}

// bookingStatuses parses ?status=pending,accepted.
func bookingStatuses(c *gin.Context) ([]models.BookingStatus, bool) {
	raw := c.Query("status")
	if raw == "" {
		return nil, true
	}
	var out []models.BookingStatus
	for _, s := range strings.Split(raw, ",") {
		st := models.BookingStatus(strings.TrimSpace(s))
		if !st.Valid() {
			c.JSON(400, gin.H{"error": "Unknown booking status " + string(st), "code": "validation_failed"})
			return nil, false
		}
		out = append(out, st)
	}
	return out, true
}

package handlers

import (
	"io"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/chachabrian/mooveit-rides/internal/services"
)

// InitiatePayment sends an M-Pesa STK push for an accepted booking.
func InitiatePayment(svc *services.PaymentService) gin.HandlerFunc {
	return func(c *gin.Context) {
		bookingID, ok := idParam(c, "id")
		if !ok {
			return
		}
		var input struct {
			PhoneNumber string `json:"phoneNumber"`
		}
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&input); err != nil {
				badRequest(c, err)
				return
			}
		}

		booking, err := svc.InitiatePayment(c.Request.Context(), bookingID, c.GetUint("userId"), input.PhoneNumber)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(202, gin.H{
			"message": "Payment request sent. Complete it on your phone.",
			"booking": booking,
		})
	}
}

// MpesaCallback receives Daraja STK results. Safaricom only needs an
// acknowledgement, so business errors are logged and still acknowledged;
// only infrastructure failures ask for a retry.
func MpesaCallback(svc *services.PaymentService, log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
		if err != nil {
			c.JSON(400, gin.H{"ResultCode": 1, "ResultDesc": "Unreadable body"})
			return
		}

		outcome, err := services.ParseSTKCallback(raw)
		if err != nil {
			log.WithError(err).Warn("Rejected malformed M-Pesa callback")
			c.JSON(400, gin.H{"ResultCode": 1, "ResultDesc": "Malformed callback"})
			return
		}

		fields := logrus.Fields{"reference": outcome.Reference, "result_code": outcome.ResultCode}
		if _, err := svc.Settle(c.Request.Context(), outcome); err != nil {
			status, code := StatusFor(err)
			if status >= 500 {
				log.WithFields(fields).WithError(err).Error("Settling M-Pesa callback failed")
				c.JSON(status, gin.H{"ResultCode": 1, "ResultDesc": "Temporary failure", "code": code})
				return
			}
			log.WithFields(fields).WithError(err).Warn("M-Pesa callback not applied")
		}

		c.JSON(200, gin.H{"ResultCode": 0, "ResultDesc": "Accepted"})
	}
}

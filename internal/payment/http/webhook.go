package httpx

import (
	"encoding/json"
	"log"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/omise/omise-go"
	"github.com/omise/omise-go/operations"

	"github.com/monoxchd/psicologia-platform-sub000/internal/payment/service"
)

type WebhookServer struct {
	omc *omise.Client
	svc *service.PaymentSvc
	pub service.Publisher
}

func NewWebhookServer(omc *omise.Client, svc *service.PaymentSvc, pub service.Publisher) *WebhookServer {
	return &WebhookServer{omc: omc, svc: svc, pub: pub}
}

type incomingEvent struct {
	ID   string          `json:"id"`
	Key  string          `json:"key"`
	Data json.RawMessage `json:"data"`
}

// Handler receives charge notifications. The payload is never trusted:
// the event is re-fetched from the processor by id before any credits
// move.
func (s *WebhookServer) Handler(c *gin.Context) {
	var inc incomingEvent
	if err := c.ShouldBindJSON(&inc); err != nil {
		c.JSON(400, gin.H{"error": "bad request"})
		return
	}

	ev := &omise.Event{}
	if err := s.omc.Do(ev, &operations.RetrieveEvent{EventID: inc.ID}); err != nil {
		log.Printf("[webhook] retrieve event error: %v", err)
		c.JSON(401, gin.H{"error": "unauthorized"})
		return
	}

	switch ev.Key {
	case "charge.complete":
		raw, err := json.Marshal(ev.Data)
		if err != nil {
			log.Printf("[webhook] marshal ev.Data error: %v", err)
			c.Status(200)
			return
		}
		var ch omise.Charge
		if err := json.Unmarshal(raw, &ch); err != nil {
			log.Printf("[webhook] unmarshal charge error: %v", err)
			c.Status(200)
			return
		}

		accountID, _ := ch.Metadata["account_id"].(string)
		creditsStr, _ := ch.Metadata["credits"].(string)
		credits, _ := strconv.ParseInt(creditsStr, 10, 64)
		if accountID == "" || credits <= 0 {
			log.Printf("[webhook] charge=%s missing metadata", ch.ID)
			c.Status(200)
			return
		}

		if ch.Status == "successful" {
			if err := s.svc.Settle(c.Request.Context(), accountID, credits, ch.ID); err != nil {
				log.Printf("[webhook] settle charge=%s error: %v", ch.ID, err)
				c.JSON(500, gin.H{"error": "settle failed"})
				return
			}
			log.Printf("[webhook] charge=%s account=%s credited=%d", ch.ID, accountID, credits)
		} else {
			reason := ""
			if ch.FailureCode != nil {
				reason = *ch.FailureCode
			}
			if s.pub != nil {
				_ = s.pub.PublishJSON(c.Request.Context(), "payment.failed", map[string]any{
					"account_id": accountID,
					"charge_id":  ch.ID,
					"reason":     reason,
				})
			}
		}
	default:
		// other event keys are not ours
	}
	c.Status(200)
}

package payment

import (
	"encoding/json"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

// webhookMaxBody bounds webhook payload reads.
const webhookMaxBody = 64 * 1024

// WebhookHandler terminates Stripe payment callbacks. Signature
// verification happens before anything else; redelivered events resolve
// through the dedup guard and are acknowledged without re-crediting.
type WebhookHandler struct {
	guard  *Guard
	secret string
	// creditMicrosPerMinorUnit converts the gateway's minor currency unit
	// into wallet micros (10000 for USD cents at par).
	creditMicrosPerMinorUnit float64
}

// NewWebhookHandler constructs a WebhookHandler.
func NewWebhookHandler(guard *Guard, secret string, creditMicrosPerMinorUnit float64) *WebhookHandler {
	if creditMicrosPerMinorUnit <= 0 {
		creditMicrosPerMinorUnit = 10000
	}
	return &WebhookHandler{
		guard:                    guard,
		secret:                   secret,
		creditMicrosPerMinorUnit: creditMicrosPerMinorUnit,
	}
}

// Handle processes one webhook delivery.
func (h *WebhookHandler) Handle(c *gin.Context) {
	body, errRead := io.ReadAll(io.LimitReader(c.Request.Body, webhookMaxBody))
	if errRead != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read body failed"})
		return
	}

	event, errVerify := webhook.ConstructEvent(body, c.GetHeader("Stripe-Signature"), h.secret)
	if errVerify != nil {
		log.WithError(errVerify).Warn("payment: webhook signature verification failed")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
		return
	}

	switch event.Type {
	case "payment_intent.succeeded":
		h.handleSucceeded(c, event)
	case "payment_intent.payment_failed":
		h.handleFailed(c, event)
	default:
		// Unknown event types are acknowledged so the gateway can add
		// events without breaking deliveries.
		log.WithField("event_type", event.Type).Debug("payment: ignoring webhook event")
		c.JSON(http.StatusOK, gin.H{"received": true})
	}
}

func (h *WebhookHandler) handleSucceeded(c *gin.Context, event stripe.Event) {
	intent, errParse := parseIntent(event)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payment intent"})
		return
	}

	userID := userIDFromMetadata(intent.Metadata)
	if userID == 0 {
		log.WithField("payment_intent", intent.ID).Warn("payment: missing user metadata on intent")
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing user metadata"})
		return
	}

	credited, errRecord := h.guard.RecordPayment(c.Request.Context(), Params{
		GatewayToken:    intent.ID,
		UserID:          userID,
		AmountMicros:    int64(math.Round(float64(intent.Amount) * h.creditMicrosPerMinorUnit)),
		GatewayAmount:   intent.Amount,
		GatewayCurrency: string(intent.Currency),
	})
	if errRecord != nil {
		log.WithError(errRecord).WithField("payment_intent", intent.ID).
			Error("payment: failed to record payment")
		// Non-2xx makes the gateway redeliver; the dedup guard makes the
		// retry safe.
		c.JSON(http.StatusInternalServerError, gin.H{"error": "record payment failed"})
		return
	}

	if !credited {
		log.WithField("payment_intent", intent.ID).Info("payment: duplicate delivery acknowledged")
	}
	c.JSON(http.StatusOK, gin.H{"received": true, "credited": credited})
}

func (h *WebhookHandler) handleFailed(c *gin.Context, event stripe.Event) {
	intent, errParse := parseIntent(event)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payment intent"})
		return
	}
	if errMark := h.guard.MarkFailed(c.Request.Context(), intent.ID); errMark != nil {
		log.WithError(errMark).WithField("payment_intent", intent.ID).
			Warn("payment: failed to mark transaction failed")
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

func parseIntent(event stripe.Event) (*stripe.PaymentIntent, error) {
	var intent stripe.PaymentIntent
	if errUnmarshal := json.Unmarshal(event.Data.Raw, &intent); errUnmarshal != nil {
		return nil, errUnmarshal
	}
	return &intent, nil
}

func userIDFromMetadata(meta map[string]string) uint64 {
	raw := strings.TrimSpace(meta["user_id"])
	if raw == "" {
		return 0
	}
	parsed, errParse := strconv.ParseUint(raw, 10, 64)
	if errParse != nil {
		return 0
	}
	return parsed
}

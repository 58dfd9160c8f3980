package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/rhino-ai/billing-gateway/internal/gateway"
	"github.com/rhino-ai/billing-gateway/internal/provider"
	"github.com/rhino-ai/billing-gateway/internal/usage"
)

// defaultProvider is used when a request does not name one.
const defaultProvider = "openai"

// speechClient is the subset of provider clients that synthesize speech.
type speechClient interface {
	Speech(ctx context.Context, model, voice, input string) ([]byte, error)
}

// imageClient is the subset of provider clients that generate images.
type imageClient interface {
	GenerateImage(ctx context.Context, model, prompt string, n int) ([]string, error)
}

// RelayHandler proxies model requests to upstream providers and settles
// billing through the gateway.
type RelayHandler struct {
	gateway   *gateway.Gateway
	providers *provider.Registry
}

// NewRelayHandler constructs a RelayHandler.
func NewRelayHandler(gw *gateway.Gateway, providers *provider.Registry) *RelayHandler {
	return &RelayHandler{gateway: gw, providers: providers}
}

// RegisterRelayRoutes registers the authenticated relay endpoints.
func RegisterRelayRoutes(r *gin.Engine, jwtSecret string, h *RelayHandler) {
	if r == nil || h == nil {
		return
	}
	v1 := r.Group("/v1")
	v1.Use(UserAuthMiddleware(jwtSecret))
	v1.POST("/chat/completions", h.ChatCompletions)
	v1.POST("/audio/speech", h.Speech)
	v1.POST("/images/generations", h.Images)
}

type chatCompletionRequest struct {
	Provider  string             `json:"provider"`
	Model     string             `json:"model"`
	Messages  []provider.Message `json:"messages"`
	MaxTokens int                `json:"max_tokens"`
	Stream    bool               `json:"stream"`
}

// ChatCompletions relays a chat completion request. The balance guard runs
// before the provider is invoked; billing settles after the response (or,
// for streams, after the final chunk) so the user is never charged for a
// request the provider rejected.
func (h *RelayHandler) ChatCompletions(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req chatCompletionRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Model == "" || len(req.Messages) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "model and messages are required"})
		return
	}

	client, errClient := h.resolveClient(req.Provider)
	if errClient != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown provider"})
		return
	}

	if !h.allow(c, userID) {
		return
	}

	preq := provider.Request{
		Model:     req.Model,
		Messages:  req.Messages,
		MaxTokens: req.MaxTokens,
	}
	if req.Stream {
		h.relayStream(c, userID, client, preq)
		return
	}

	resp, errInvoke := client.Invoke(c.Request.Context(), preq)
	if errInvoke != nil {
		h.gateway.RecordFailedRequest(c.Request.Context(), userID, client.Name(), req.Model, http.StatusBadGateway, errDetail(errInvoke))
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream provider error"})
		return
	}

	result := h.gateway.ChargeForUsage(c.Request.Context(), userID, client.Name(), req.Model, resp.Usage)
	c.JSON(http.StatusOK, gin.H{
		"model":       req.Model,
		"content":     resp.Content,
		"cost_micros": result.CostMicros,
	})
}

// relayStream forwards provider chunks as SSE. The metering wrapper settles
// the charge when the upstream stream completes; a client disconnect stops
// the relay without billing.
func (h *RelayHandler) relayStream(c *gin.Context, userID uint64, client provider.Client, preq provider.Request) {
	upstream, errStream := client.Stream(c.Request.Context(), preq)
	if errStream != nil {
		h.gateway.RecordFailedRequest(c.Request.Context(), userID, client.Name(), preq.Model, http.StatusBadGateway, errDetail(errStream))
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream provider error"})
		return
	}
	metered := h.gateway.WrapStreamWithMetering(c.Request.Context(), userID, client.Name(), preq.Model, upstream)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	for chunk := range metered {
		if chunk.Err != nil {
			fmt.Fprintf(c.Writer, "event: error\ndata: {\"error\":\"upstream provider error\"}\n\n")
			c.Writer.Flush()
			return
		}
		if chunk.Done {
			fmt.Fprint(c.Writer, "data: [DONE]\n\n")
			c.Writer.Flush()
			return
		}
		if len(chunk.Data) == 0 {
			continue
		}
		fmt.Fprintf(c.Writer, "data: %s\n\n", chunk.Data)
		c.Writer.Flush()
	}
}

type speechRequest struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Voice    string `json:"voice"`
	Input    string `json:"input"`
}

// Speech relays a speech synthesis request. Billing is by input characters,
// settled after the audio is produced.
func (h *RelayHandler) Speech(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req speechRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Model == "" || req.Input == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "model and input are required"})
		return
	}

	client, errClient := h.resolveClient(req.Provider)
	if errClient != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown provider"})
		return
	}
	sc, ok := client.(speechClient)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "provider does not support speech"})
		return
	}

	if !h.allow(c, userID) {
		return
	}

	audio, errSpeech := sc.Speech(c.Request.Context(), req.Model, req.Voice, req.Input)
	if errSpeech != nil {
		h.gateway.RecordFailedRequest(c.Request.Context(), userID, client.Name(), req.Model, http.StatusBadGateway, errDetail(errSpeech))
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream provider error"})
		return
	}

	chars := int64(utf8.RuneCountInString(req.Input))
	h.gateway.ChargeForUsage(c.Request.Context(), userID, client.Name(), req.Model, usage.CharacterUsage{Characters: chars})
	c.Data(http.StatusOK, "audio/mpeg", audio)
}

type imageRequest struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Prompt   string `json:"prompt"`
	N        int    `json:"n"`
}

// Images relays an image generation request. The flat per-image price is
// debited up front; a failed generation refunds the exact debited amount.
func (h *RelayHandler) Images(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req imageRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Model == "" || req.Prompt == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "model and prompt are required"})
		return
	}
	if req.N <= 0 {
		req.N = 1
	}

	client, errClient := h.resolveClient(req.Provider)
	if errClient != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown provider"})
		return
	}
	ic, ok := client.(imageClient)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "provider does not support image generation"})
		return
	}

	if !h.allow(c, userID) {
		return
	}

	receipt, errCharge := h.gateway.PrechargePerItem(c.Request.Context(), userID, client.Name(), req.Model, int64(req.N))
	if errCharge != nil {
		if errors.Is(errCharge, gateway.ErrUnknownModel) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown model"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "billing error"})
		return
	}

	urls, errGen := ic.GenerateImage(c.Request.Context(), req.Model, req.Prompt, req.N)
	if errGen != nil {
		if errRefund := h.gateway.RefundFailedCharge(c.Request.Context(), receipt); errRefund != nil {
			log.WithError(errRefund).WithField("user_id", userID).Error("image refund failed")
		}
		h.gateway.RecordFailedRequest(c.Request.Context(), userID, client.Name(), req.Model, http.StatusBadGateway, errDetail(errGen))
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream provider error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"urls": urls, "cost_micros": receipt.AmountMicro})
}

// errDetail packs an upstream error into the JSON audit column.
func errDetail(err error) []byte {
	if err == nil {
		return nil
	}
	detail, errMarshal := json.Marshal(gin.H{"error": err.Error()})
	if errMarshal != nil {
		return nil
	}
	return detail
}

// allow runs the advisory balance guard and writes the rejection response
// when the wallet is empty. Returns true when the request may proceed.
func (h *RelayHandler) allow(c *gin.Context, userID uint64) bool {
	_, errAllow := h.gateway.Allow(c.Request.Context(), userID)
	if errAllow == nil {
		return true
	}
	if errors.Is(errAllow, gateway.ErrInsufficientBalance) {
		c.JSON(http.StatusPaymentRequired, gin.H{"error": "insufficient balance"})
		return false
	}
	log.WithError(errAllow).Warn("balance check failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "balance check failed"})
	return false
}

func (h *RelayHandler) resolveClient(name string) (provider.Client, error) {
	if name == "" {
		name = defaultProvider
	}
	return h.providers.Get(name)
}

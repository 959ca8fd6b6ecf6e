package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/pagepilot/pagepilot/internal/recovery"
)

// Handler serves the platform webhook endpoint: the GET verification
// handshake and the POST event stream
type Handler struct {
	dispatcher  *Dispatcher
	verifyToken string
	appSecret   string
}

// NewHandler creates the webhook HTTP handler. Signature validation is
// enabled when appSecret is non-empty.
func NewHandler(dispatcher *Dispatcher, verifyToken, appSecret string) *Handler {
	return &Handler{
		dispatcher:  dispatcher,
		verifyToken: verifyToken,
		appSecret:   appSecret,
	}
}

// ServeHTTP routes the webhook endpoint
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleVerify(w, r)
	case http.MethodPost:
		h.handleEvent(w, r)
	default:
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

// handleVerify answers the platform's subscription handshake
func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "subscribe" && token == h.verifyToken {
		log.Info().Msg("Webhook verification successful")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(challenge))
		return
	}

	log.Warn().Str("mode", mode).Msg("Webhook verification failed")
	http.Error(w, "Forbidden", http.StatusForbidden)
}

// handleEvent accepts an event batch. The platform retries anything that is
// not a fast 200, so the response never depends on processing: validate,
// acknowledge, then work asynchronously.
func (h *Handler) handleEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read webhook body")
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if h.appSecret != "" {
		signature := r.Header.Get("X-Hub-Signature-256")
		if !h.validSignature(body, signature) {
			log.Warn().Msg("Webhook signature validation failed")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	}

	var envelope Envelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		// Still 200: a malformed batch would otherwise be redelivered forever
		log.Warn().Err(err).Msg("Discarding malformed webhook payload")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("EVENT_RECEIVED"))
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("EVENT_RECEIVED"))

	recovery.SafeGo(func() {
		h.dispatcher.Dispatch(context.Background(), &envelope)
	}, map[string]string{"type": "webhook_dispatch"}, nil)
}

// validSignature checks the X-Hub-Signature-256 HMAC of the raw body
func (h *Handler) validSignature(body []byte, header string) bool {
	signature, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}

	mac := hmac.New(sha256.New, []byte(h.appSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(signature), []byte(expected))
}

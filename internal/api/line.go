package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/nugget/aline-bot/internal/capability"
	"github.com/nugget/aline-bot/internal/notify"
)

// Webhook reply texts.
const (
	TurnFailedText   = "죄송합니다. 요청을 처리하지 못했습니다. 잠시 후 다시 시도해 주세요."
	TextOnlyText     = "텍스트 메시지만 이해할 수 있어요."
	maxWebhookBodyMB = 1
)

// lineWebhook is the subset of the LINE webhook payload the bot reads.
type lineWebhook struct {
	Events []lineEvent `json:"events"`
}

type lineEvent struct {
	Type       string `json:"type"` // message, follow, ...
	ReplyToken string `json:"replyToken"`
	Source     struct {
		Type   string `json:"type"`
		UserID string `json:"userId"`
	} `json:"source"`
	Message struct {
		Type string `json:"type"` // text, image, sticker, ...
		Text string `json:"text"`
	} `json:"message"`
}

// handleLineCallback acknowledges the webhook at once and runs each
// event's turn in the background: LINE expects a fast 200 and the
// answer goes out by reply token.
func (s *Server) handleLineCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyMB<<20))
	if err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "read body failed")
		return
	}

	sig := r.Header.Get("X-Line-Signature")
	switch {
	case s.deps.ChannelSecret != "":
		if !notify.VerifySignature(s.deps.ChannelSecret, body, sig) {
			s.logger.Warn("line webhook signature mismatch")
			httpError(w, http.StatusUnauthorized, "authentication_error", "invalid signature")
			return
		}
	case s.deps.RequireSignature:
		httpError(w, http.StatusUnauthorized, "authentication_error", "signature verification is not configured")
		return
	}

	var hook lineWebhook
	if err := json.Unmarshal(body, &hook); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid webhook body")
		return
	}

	for _, ev := range hook.Events {
		if ev.Source.UserID == "" || ev.ReplyToken == "" {
			continue
		}
		s.inflight.Add(1)
		go func() {
			defer s.inflight.Done()
			ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.deps.TurnTimeout)
			defer cancel()
			s.handleLineEvent(ctx, ev)
		}()
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, s.logger)
}

func (s *Server) handleLineEvent(ctx context.Context, ev lineEvent) {
	userID := ev.Source.UserID
	var answer string

	switch {
	case ev.Type == "follow":
		answer = capability.WelcomeMessage()
	case ev.Type != "message":
		return
	case ev.Message.Type != "text":
		answer = TextOnlyText
	default:
		reply, err := s.deps.Chat.Turn(ctx, userID, ev.Message.Text)
		if err != nil {
			s.logger.Error("line turn failed", "user_id", userID, "error", err)
			answer = TurnFailedText
			break
		}
		if reply.NewUser {
			if err := s.deps.Line.Push(ctx, userID, capability.WelcomeMessage()); err != nil {
				s.logger.Warn("welcome push failed", "user_id", userID, "error", err)
			}
		}
		answer = reply.Answer
	}

	if err := s.deps.Line.Reply(ctx, ev.ReplyToken, answer); err != nil {
		s.logger.Error("line reply failed", "user_id", userID, "error", err)
	}
}

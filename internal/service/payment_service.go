package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/digkill/tryon/internal/prodamus"
)

type WebhookOutcome string

const (
	WebhookCredited         WebhookOutcome = "credited"
	WebhookAlreadyProcessed WebhookOutcome = "already_processed"
	WebhookIgnored          WebhookOutcome = "ignored"
)

type WebhookResult struct {
	Outcome   WebhookOutcome
	UserID    string
	PaymentID string
	Credits   int
}

// PaymentService turns verified Prodamus notifications into ledger top-ups.
type PaymentService struct {
	secret  string
	ledger  *Ledger
	tariffs *Tariffs
	log     *slog.Logger
}

func NewPaymentService(secret string, ledger *Ledger, tariffs *Tariffs, log *slog.Logger) *PaymentService {
	return &PaymentService{secret: secret, ledger: ledger, tariffs: tariffs, log: log}
}

func (s *PaymentService) HandleWebhook(ctx context.Context, payload map[string]any, signature string) (WebhookResult, error) {
	if !prodamus.Verify(payload, s.secret, signature) {
		s.log.Warn("prodamus webhook rejected: bad signature", "order_id", payload["order_id"])
		return WebhookResult{}, ErrSignatureInvalid
	}

	ev := prodamus.ParseEvent(payload)
	result := WebhookResult{Outcome: WebhookIgnored, UserID: ev.UserID, PaymentID: ev.PaymentID}
	log := s.log.With("user_id", ev.UserID, "payment_id", ev.PaymentID)

	if ev.Status != prodamus.StatusSuccess {
		log.Info("prodamus webhook ignored", "status", ev.Status)
		return result, nil
	}
	// Redelivery cannot fix a payment without a user, so it is acknowledged
	// and left for manual crediting.
	if ev.UserID == "" {
		log.Error("prodamus payment without customer_extra, needs manual crediting", "sum", ev.Amount)
		return result, nil
	}

	credits := s.tariffs.Credits(ev)
	if credits <= 0 {
		log.Warn("prodamus payment maps to no credits", "sum", ev.Amount, "products", len(ev.Products))
		return result, nil
	}
	result.Credits = credits

	err := s.ledger.Topup(ctx, ev.UserID, credits, ev.PaymentID)
	switch {
	case errors.Is(err, ErrAlreadyProcessed):
		log.Info("prodamus payment already processed")
		result.Outcome = WebhookAlreadyProcessed
		return result, nil
	case err != nil:
		return WebhookResult{}, err
	}

	log.Info("prodamus payment credited", "credits", credits, "sum", ev.Amount)
	result.Outcome = WebhookCredited
	return result, nil
}

// Package stripe implements the payment gateway and webhook verification on
// top of Stripe PaymentIntents.
package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/sitebill/internal/config"
	paymentdomain "github.com/smallbiznis/sitebill/internal/payment/domain"
	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"
	"go.uber.org/zap"
)

const (
	ProviderName = "stripe"

	testEnv = "test"
	liveEnv = "live"

	signatureHeader = "Stripe-Signature"
)

var errInvalidStripeEnv = fmt.Errorf("stripe environment must be %q or %q", testEnv, liveEnv)

// zeroDecimalCurrencies are charged in whole units.
var zeroDecimalCurrencies = map[string]struct{}{
	"bif": {}, "clp": {}, "djf": {}, "gnf": {}, "jpy": {}, "kmf": {},
	"krw": {}, "mga": {}, "pyg": {}, "rwf": {}, "ugx": {}, "vnd": {},
	"vuv": {}, "xaf": {}, "xof": {}, "xpf": {},
}

type intentClient interface {
	Create(ctx context.Context, params *stripe.PaymentIntentCreateParams) (*stripe.PaymentIntent, error)
	Retrieve(ctx context.Context, id string, params *stripe.PaymentIntentRetrieveParams) (*stripe.PaymentIntent, error)
}

type Adapter struct {
	intents       intentClient
	webhookSecret string
	environment   string
	log           *zap.Logger
}

// New builds the adapter from the Stripe settings. An empty secret key leaves
// outbound calls disabled; webhook verification only needs the signing secret.
func New(cfg config.StripeConfig, log *zap.Logger) (*Adapter, error) {
	if log == nil {
		log = zap.NewNop()
	}
	env, err := normalizeEnv(cfg.Env)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", paymentdomain.ErrInvalidConfig, err)
	}

	adapter := &Adapter{
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		environment:   env,
		log:           log.Named("payment.stripe"),
	}

	apiKey := strings.TrimSpace(cfg.SecretKey)
	if apiKey == "" {
		adapter.log.Warn("stripe secret key not configured, outbound charges disabled")
		return adapter, nil
	}
	if err := validateAPIKey(env, apiKey); err != nil {
		return nil, fmt.Errorf("%w: %w", paymentdomain.ErrInvalidConfig, err)
	}

	adapter.intents = stripe.NewClient(apiKey).V1PaymentIntents
	adapter.log.Info("stripe client initialized", zap.String("environment", env))
	return adapter, nil
}

func (a *Adapter) Name() string {
	return ProviderName
}

func (a *Adapter) CreateChargeIntent(ctx context.Context, amount decimal.Decimal, currency string, metadata map[string]string) (*paymentdomain.ChargeIntent, error) {
	if a.intents == nil {
		return nil, paymentdomain.ErrGatewayUnavailable
	}
	currency = strings.ToLower(strings.TrimSpace(currency))
	if len(currency) != 3 {
		return nil, paymentdomain.ErrInvalidCurrency
	}
	if !amount.IsPositive() {
		return nil, paymentdomain.ErrInvalidAmount
	}

	params := &stripe.PaymentIntentCreateParams{
		Amount:   stripe.Int64(toMinorUnits(amount, currency)),
		Currency: stripe.String(currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentCreateAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	for key, value := range metadata {
		if key == paymentdomain.MetadataIdempotencyKey {
			params.SetIdempotencyKey(value)
			continue
		}
		params.AddMetadata(key, value)
	}

	intent, err := a.intents.Create(ctx, params)
	if err != nil {
		return nil, classifyError(err)
	}
	return toChargeIntent(intent), nil
}

func (a *Adapter) GetChargeIntent(ctx context.Context, id string) (*paymentdomain.ChargeIntent, error) {
	if a.intents == nil {
		return nil, paymentdomain.ErrGatewayUnavailable
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, paymentdomain.ErrIntentNotFound
	}

	intent, err := a.intents.Retrieve(ctx, id, &stripe.PaymentIntentRetrieveParams{})
	if err != nil {
		return nil, classifyError(err)
	}
	charge := toChargeIntent(intent)
	charge.ClientSecret = ""
	return charge, nil
}

// VerifyEvent checks the Stripe-Signature header and maps the event onto
// the gateway event shape. Unmodelled types keep their Stripe name.
func (a *Adapter) VerifyEvent(payload []byte, headers http.Header) (*paymentdomain.GatewayEvent, error) {
	if a.webhookSecret == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}
	sigHeader := strings.TrimSpace(headers.Get(signatureHeader))
	if sigHeader == "" {
		return nil, paymentdomain.ErrInvalidSignature
	}

	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, a.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", paymentdomain.ErrInvalidSignature, err)
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	out := &paymentdomain.GatewayEvent{
		ID:         event.ID,
		Provider:   ProviderName,
		Type:       string(event.Type),
		OccurredAt: time.Unix(event.Created, 0).UTC(),
		Payload:    payload,
	}

	switch event.Type {
	case stripe.EventTypePaymentIntentSucceeded, stripe.EventTypePaymentIntentPaymentFailed:
		var intent stripe.PaymentIntent
		if err := unmarshalObject(event, &intent); err != nil {
			return nil, err
		}
		out.Reference = intent.ID
		out.Type = paymentdomain.EventTypeChargeFailed
		if event.Type == stripe.EventTypePaymentIntentSucceeded {
			out.Type = paymentdomain.EventTypeChargeSucceeded
		}
	case stripe.EventTypeChargeSucceeded, stripe.EventTypeChargeFailed:
		var charge stripe.Charge
		if err := unmarshalObject(event, &charge); err != nil {
			return nil, err
		}
		out.Reference = charge.ID
		if charge.PaymentIntent != nil && charge.PaymentIntent.ID != "" {
			out.Reference = charge.PaymentIntent.ID
		}
		out.Type = paymentdomain.EventTypeChargeFailed
		if event.Type == stripe.EventTypeChargeSucceeded {
			out.Type = paymentdomain.EventTypeChargeSucceeded
		}
	}

	return out, nil
}

func unmarshalObject(event stripe.Event, target any) error {
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return paymentdomain.ErrInvalidPayload
	}
	if err := json.Unmarshal(event.Data.Raw, target); err != nil {
		return paymentdomain.ErrInvalidPayload
	}
	return nil
}

func toChargeIntent(intent *stripe.PaymentIntent) *paymentdomain.ChargeIntent {
	if intent == nil {
		return &paymentdomain.ChargeIntent{Status: paymentdomain.IntentStatusRequiresPayment}
	}
	currency := string(intent.Currency)
	return &paymentdomain.ChargeIntent{
		ID:           intent.ID,
		ClientSecret: intent.ClientSecret,
		Status:       mapIntentStatus(intent.Status),
		Amount:       fromMinorUnits(intent.Amount, currency),
		Currency:     strings.ToUpper(currency),
		Metadata:     intent.Metadata,
	}
}

func mapIntentStatus(status stripe.PaymentIntentStatus) paymentdomain.IntentStatus {
	switch status {
	case stripe.PaymentIntentStatusSucceeded:
		return paymentdomain.IntentStatusSucceeded
	case stripe.PaymentIntentStatusProcessing, stripe.PaymentIntentStatusRequiresCapture:
		return paymentdomain.IntentStatusProcessing
	case stripe.PaymentIntentStatusCanceled:
		return paymentdomain.IntentStatusCanceled
	default:
		return paymentdomain.IntentStatusRequiresPayment
	}
}

func classifyError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.Code == stripe.ErrorCodeResourceMissing || stripeErr.HTTPStatusCode == http.StatusNotFound {
			return paymentdomain.ErrIntentNotFound
		}
		if stripeErr.HTTPStatusCode >= http.StatusInternalServerError || stripeErr.HTTPStatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("%w: %v", paymentdomain.ErrGatewayUnavailable, err)
		}
	}
	return fmt.Errorf("stripe: %w", err)
}

func toMinorUnits(amount decimal.Decimal, currency string) int64 {
	if isZeroDecimal(currency) {
		return amount.Round(0).IntPart()
	}
	return amount.Shift(2).Round(0).IntPart()
}

func fromMinorUnits(amount int64, currency string) decimal.Decimal {
	if isZeroDecimal(currency) {
		return decimal.NewFromInt(amount)
	}
	return decimal.New(amount, -2)
}

func isZeroDecimal(currency string) bool {
	_, ok := zeroDecimalCurrencies[strings.ToLower(strings.TrimSpace(currency))]
	return ok
}

func normalizeEnv(raw string) (string, error) {
	env := strings.TrimSpace(strings.ToLower(raw))
	if env == "" {
		env = testEnv
	}
	switch env {
	case testEnv, liveEnv:
		return env, nil
	default:
		return "", errInvalidStripeEnv
	}
}

func validateAPIKey(env, key string) error {
	switch env {
	case testEnv:
		if strings.HasPrefix(key, "sk_test") || strings.HasPrefix(key, "rk_test") {
			return nil
		}
		return fmt.Errorf("stripe environment %q requires a test secret key (sk_test/rk_test)", testEnv)
	case liveEnv:
		if strings.HasPrefix(key, "sk_live") || strings.HasPrefix(key, "rk_live") {
			return nil
		}
		return fmt.Errorf("stripe environment %q requires a live secret key (sk_live/rk_live)", liveEnv)
	default:
		return errInvalidStripeEnv
	}
}

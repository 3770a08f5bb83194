package webhookx

import "github.com/Abraxas-365/recibo/pkg/errx"

var webhookErrors = errx.NewRegistry("WEBHOOKX")

var (
	ErrSubscriptionNotFound = webhookErrors.Register("SUBSCRIPTION_NOT_FOUND", errx.TypeNotFound, 404, "Webhook subscription not found")
	ErrDeliveryNotFound     = webhookErrors.Register("DELIVERY_NOT_FOUND", errx.TypeNotFound, 404, "Delivery not found")
	ErrInvalidSubscription  = webhookErrors.Register("INVALID_SUBSCRIPTION", errx.TypeValidation, 400, "Invalid webhook subscription")
	ErrInvalidSignature     = webhookErrors.Register("INVALID_SIGNATURE", errx.TypeAuthorization, 401, "Webhook signature verification failed")
	ErrDeliveryNotRetryable = webhookErrors.Register("DELIVERY_NOT_RETRYABLE", errx.TypeNotFound, 404, "Delivery is not in failed state")
	ErrStore                = webhookErrors.Register("STORE", errx.TypeExternal, 500, "Webhook store operation failed")
	ErrDeliveryFailed       = webhookErrors.Register("DELIVERY_FAILED", errx.TypeExternal, 502, "Webhook delivery failed")
)

// SubscriptionNotFound builds the canonical missing-subscription error.
func SubscriptionNotFound(id string) *errx.Error {
	return webhookErrors.New(ErrSubscriptionNotFound).WithDetail("webhook_id", id)
}

// DeliveryNotFound builds the canonical missing-delivery error.
func DeliveryNotFound(id string) *errx.Error {
	return webhookErrors.New(ErrDeliveryNotFound).WithDetail("delivery_id", id)
}

// InvalidSubscription builds a validation error with a specific message.
func InvalidSubscription(msg string) *errx.Error {
	return webhookErrors.NewWithMessage(ErrInvalidSubscription, msg)
}

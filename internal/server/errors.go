package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	agentdomain "github.com/smallbiznis/agentmarket/internal/agent/domain"
	apikeydomain "github.com/smallbiznis/agentmarket/internal/apikey/domain"
	"github.com/smallbiznis/agentmarket/internal/authorization"
	entitlementdomain "github.com/smallbiznis/agentmarket/internal/entitlement/domain"
	orgdomain "github.com/smallbiznis/agentmarket/internal/organization/domain"
	paymentdomain "github.com/smallbiznis/agentmarket/internal/payment/domain"
	rundomain "github.com/smallbiznis/agentmarket/internal/run/domain"
	subscriptiondomain "github.com/smallbiznis/agentmarket/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/agentmarket/internal/usage/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

// errorResponse is the body of every non-2xx JSON reply.
type errorResponse struct {
	Error  string            `json:"error"`
	Code   string            `json:"code"`
	Errors []ValidationError `json:"errors,omitempty"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

const (
	messageUsageLimit      = "Monthly usage limit reached for your current plan."
	messageUpgradeRequired = "Upgrade required to use this agent on your current plan."
	messageAgentNotFound   = "Agent not available."
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, payload)
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorResponse) {
	if err == nil {
		return http.StatusInternalServerError, errorResponse{
			Error: "internal server error",
			Code:  "internal_error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorResponse{
			Error:  "validation error",
			Code:   "validation_error",
			Errors: vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorResponse{
			Error: validationErrorMessage(code),
			Code:  "validation_error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, apikeydomain.ErrUnauthenticated):
		return http.StatusUnauthorized, errorResponse{
			Error: "unauthorized",
			Code:  "unauthorized",
		}
	case errors.Is(err, usagedomain.ErrUsageLimitExceeded):
		return http.StatusPaymentRequired, errorResponse{
			Error: messageUsageLimit,
			Code:  "usage_limit_exceeded",
		}
	case errors.Is(err, rundomain.ErrUpgradeRequired):
		return http.StatusPaymentRequired, errorResponse{
			Error: messageUpgradeRequired,
			Code:  upgradeReason(err),
		}
	case errors.Is(err, rundomain.ErrAgentUnavailable):
		return http.StatusForbidden, errorResponse{
			Error: messageAgentNotFound,
			Code:  "agent_not_available",
		}
	case isForbiddenError(err):
		return http.StatusForbidden, errorResponse{
			Error: "forbidden",
			Code:  forbiddenCode(err),
		}
	case errors.Is(err, ErrConflict),
		errors.Is(err, gorm.ErrDuplicatedKey):
		return http.StatusConflict, errorResponse{
			Error: "conflict",
			Code:  "conflict",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorResponse{
			Error: "not found",
			Code:  "not_found",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorResponse{
			Error: "too many requests",
			Code:  "rate_limited",
		}
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, paymentdomain.ErrBillingNotConfigured):
		return http.StatusServiceUnavailable, errorResponse{
			Error: "service unavailable",
			Code:  "service_unavailable",
		}
	default:
		return http.StatusInternalServerError, errorResponse{
			Error: "internal server error",
			Code:  "internal_error",
		}
	}
}

// classifyErrorForLog feeds error_type and error_code on the request log line.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	status, payload := mapError(err)
	switch {
	case errors.Is(err, entitlementdomain.ErrContention):
		return "contention", entitlementdomain.ErrContention.Error()
	case status >= http.StatusInternalServerError:
		return payload.Code, err.Error()
	case len(payload.Errors) > 0:
		return payload.Code, payload.Errors[0].Code
	default:
		return payload.Code, payload.Code
	}
}

func upgradeReason(err error) string {
	var upgradeErr *rundomain.UpgradeRequiredError
	if errors.As(err, &upgradeErr) && upgradeErr.Reason != "" {
		return upgradeErr.Reason
	}
	return rundomain.ReasonUpgradeRequired
}

func forbiddenCode(err error) string {
	switch {
	case errors.Is(err, orgdomain.ErrOwnerSelfRemoval):
		return orgdomain.ErrOwnerSelfRemoval.Error()
	case errors.Is(err, orgdomain.ErrInviteEmailMismatch):
		return orgdomain.ErrInviteEmailMismatch.Error()
	case errors.Is(err, orgdomain.ErrNoMembership):
		return orgdomain.ErrNoMembership.Error()
	default:
		return "forbidden"
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, entitlementdomain.ErrInvalidRequest):
		return true
	case isRunValidationError(err),
		isAgentValidationError(err),
		isOrganizationValidationError(err),
		isAPIKeyValidationError(err),
		isPaymentValidationError(err),
		isUsageValidationError(err),
		isSubscriptionValidationError(err):
		return true
	default:
		return false
	}
}

func isRunValidationError(err error) bool {
	return errors.Is(err, rundomain.ErrInvalidInput) ||
		errors.Is(err, rundomain.ErrInvalidAgentID) ||
		errors.Is(err, rundomain.ErrInvalidOrganization)
}

func isAgentValidationError(err error) bool {
	switch {
	case errors.Is(err, agentdomain.ErrInvalidOrganization),
		errors.Is(err, agentdomain.ErrInvalidID),
		errors.Is(err, agentdomain.ErrInvalidName),
		errors.Is(err, agentdomain.ErrInvalidCategory),
		errors.Is(err, agentdomain.ErrInvalidTags),
		errors.Is(err, agentdomain.ErrInvalidShortDesc),
		errors.Is(err, agentdomain.ErrInvalidLongDesc),
		errors.Is(err, agentdomain.ErrInvalidRunCost):
		return true
	default:
		return false
	}
}

func isOrganizationValidationError(err error) bool {
	switch {
	case errors.Is(err, orgdomain.ErrInvalidUser),
		errors.Is(err, orgdomain.ErrInvalidOrganization),
		errors.Is(err, orgdomain.ErrInvalidName),
		errors.Is(err, orgdomain.ErrInvalidURL),
		errors.Is(err, orgdomain.ErrInvalidEmail),
		errors.Is(err, orgdomain.ErrInvalidRole),
		errors.Is(err, orgdomain.ErrInvalidMember),
		errors.Is(err, orgdomain.ErrInviteInvalid):
		return true
	default:
		return false
	}
}

func isAPIKeyValidationError(err error) bool {
	return errors.Is(err, apikeydomain.ErrInvalidOrganization) ||
		errors.Is(err, apikeydomain.ErrInvalidName) ||
		errors.Is(err, apikeydomain.ErrInvalidKeyID) ||
		errors.Is(err, apikeydomain.ErrInvalidScope)
}

func isPaymentValidationError(err error) bool {
	switch {
	case errors.Is(err, paymentdomain.ErrInvalidProvider),
		errors.Is(err, paymentdomain.ErrInvalidSignature),
		errors.Is(err, paymentdomain.ErrInvalidPayload),
		errors.Is(err, paymentdomain.ErrInvalidEvent),
		errors.Is(err, paymentdomain.ErrWebhookNotConfigured),
		errors.Is(err, paymentdomain.ErrInvalidOrganization),
		errors.Is(err, paymentdomain.ErrInvalidPlan),
		errors.Is(err, paymentdomain.ErrFreePlanCheckout):
		return true
	default:
		return false
	}
}

func isUsageValidationError(err error) bool {
	return errors.Is(err, usagedomain.ErrInvalidDelta) ||
		errors.Is(err, usagedomain.ErrInvalidOrganization)
}

func isSubscriptionValidationError(err error) bool {
	return errors.Is(err, subscriptiondomain.ErrInvalidOrganization) ||
		errors.Is(err, subscriptiondomain.ErrInvalidSubscriptionRef) ||
		errors.Is(err, subscriptiondomain.ErrInvalidCustomerRef)
}

func isForbiddenError(err error) bool {
	switch {
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden),
		errors.Is(err, authorization.ErrInvalidRole),
		errors.Is(err, orgdomain.ErrForbidden),
		errors.Is(err, orgdomain.ErrOwnerSelfRemoval),
		errors.Is(err, orgdomain.ErrInviteEmailMismatch),
		errors.Is(err, orgdomain.ErrNoMembership),
		errors.Is(err, agentdomain.ErrForbidden):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, agentdomain.ErrNotFound),
		errors.Is(err, apikeydomain.ErrNotFound),
		errors.Is(err, orgdomain.ErrOrganizationNotFound),
		errors.Is(err, orgdomain.ErrMembershipNotFound),
		errors.Is(err, paymentdomain.ErrProviderNotFound),
		errors.Is(err, paymentdomain.ErrCustomerNotFound),
		errors.Is(err, usagedomain.ErrPeriodNotFound),
		errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	default:
		return err.Error()
	}
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "invalid_input":
		return "input must be between 2 and 2000 characters"
	case "invalid_signature":
		return "webhook signature verification failed"
	case "webhook_not_configured":
		return "missing webhook configuration"
	case "free_plan_checkout":
		return "the free plan does not require checkout"
	case "invite_invalid":
		return "invite is invalid or expired"
	default:
		return "invalid value"
	}
}

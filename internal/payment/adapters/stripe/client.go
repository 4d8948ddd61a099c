package stripe

import (
	"context"
	"errors"
	"strings"

	"github.com/smallbiznis/agentmarket/internal/config"
	paymentdomain "github.com/smallbiznis/agentmarket/internal/payment/domain"
	stripelib "github.com/stripe/stripe-go/v82"
	portalsession "github.com/stripe/stripe-go/v82/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/customer"
)

// Client calls the Stripe API with a process-wide secret key.
type Client struct {
	createCustomer func(params *stripelib.CustomerParams) (*stripelib.Customer, error)
	createCheckout func(params *stripelib.CheckoutSessionParams) (*stripelib.CheckoutSession, error)
	createPortal   func(params *stripelib.BillingPortalSessionParams) (*stripelib.BillingPortalSession, error)
}

// NewClient returns nil when no secret key is configured.
func NewClient(cfg config.Config) paymentdomain.BillingClient {
	key := strings.TrimSpace(cfg.Stripe.SecretKey)
	if key == "" {
		return nil
	}
	stripelib.Key = key
	return &Client{
		createCustomer: customer.New,
		createCheckout: checkoutsession.New,
		createPortal:   portalsession.New,
	}
}

func (c *Client) CreateCustomer(ctx context.Context, req paymentdomain.CustomerRequest) (string, error) {
	params := &stripelib.CustomerParams{
		Name: stripelib.String(req.Name),
	}
	if email := strings.TrimSpace(req.Email); email != "" {
		params.Email = stripelib.String(email)
	}
	params.AddMetadata("orgId", req.OrgID)
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	created, err := c.createCustomer(params)
	if err != nil {
		return "", err
	}
	if created == nil || created.ID == "" {
		return "", errors.New("stripe returned no customer id")
	}
	return created.ID, nil
}

func (c *Client) CreateCheckoutSession(ctx context.Context, req paymentdomain.CheckoutSessionRequest) (*paymentdomain.CheckoutSessionResult, error) {
	params := &stripelib.CheckoutSessionParams{
		Mode:       stripelib.String(string(stripelib.CheckoutSessionModeSubscription)),
		Customer:   stripelib.String(req.CustomerRef),
		SuccessURL: stripelib.String(req.SuccessURL),
		CancelURL:  stripelib.String(req.CancelURL),
		LineItems: []*stripelib.CheckoutSessionLineItemParams{{
			Price:    stripelib.String(req.PriceRef),
			Quantity: stripelib.Int64(1),
		}},
	}
	for key, value := range req.Metadata {
		params.AddMetadata(key, value)
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	session, err := c.createCheckout(params)
	if err != nil {
		return nil, err
	}
	return &paymentdomain.CheckoutSessionResult{ID: session.ID, URL: session.URL}, nil
}

func (c *Client) CreatePortalSession(ctx context.Context, customerRef, returnURL string) (string, error) {
	params := &stripelib.BillingPortalSessionParams{
		Customer:  stripelib.String(customerRef),
		ReturnURL: stripelib.String(returnURL),
	}
	params.Context = ctx

	session, err := c.createPortal(params)
	if err != nil {
		return "", err
	}
	return session.URL, nil
}

package service

import (
	"context"
	"strings"

	"github.com/oklog/ulid/v2"
	paymentdomain "github.com/smallbiznis/agentmarket/internal/payment/domain"
	"github.com/smallbiznis/agentmarket/internal/plan"
	subscriptiondomain "github.com/smallbiznis/agentmarket/internal/subscription/domain"
	"go.uber.org/zap"
)

// StartCheckout opens a hosted subscription checkout for a paid plan.
// The organization's customer reference is created once and reused.
func (s *Service) StartCheckout(ctx context.Context, req paymentdomain.CheckoutRequest) (*paymentdomain.CheckoutResponse, error) {
	orgID := strings.TrimSpace(req.OrgID)
	if orgID == "" {
		return nil, paymentdomain.ErrInvalidOrganization
	}
	target, err := plan.Parse(req.Plan)
	if err != nil {
		return nil, paymentdomain.ErrInvalidPlan
	}
	if !target.IsPaid() {
		return nil, paymentdomain.ErrFreePlanCheckout
	}
	price, ok := s.prices.PriceFor(target)
	if !ok {
		return nil, paymentdomain.ErrPriceNotConfigured
	}
	if s.client == nil {
		return nil, paymentdomain.ErrBillingNotConfigured
	}

	sub, err := s.ensureCustomer(ctx, orgID, req)
	if err != nil {
		return nil, err
	}
	customerRef := *sub.ProviderCustomerRef

	session, err := s.client.CreateCheckoutSession(ctx, paymentdomain.CheckoutSessionRequest{
		CustomerRef: customerRef,
		PriceRef:    price,
		SuccessURL:  s.publicURL + "/dashboard/billing?success=1",
		CancelURL:   s.publicURL + "/pricing?canceled=1",
		Metadata: map[string]string{
			"orgId": orgID,
			"plan":  string(target),
		},
		IdempotencyKey: "checkout-" + ulid.Make().String(),
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("checkout session created",
		zap.String("org_id", orgID),
		zap.String("plan", string(target)),
		zap.String("session_id", session.ID),
	)
	return &paymentdomain.CheckoutResponse{URL: session.URL, SubscriptionID: sub.ID}, nil
}

// ensureCustomer returns the org's subscription row with a provider customer
// attached, creating the customer and a provisional row on first checkout.
func (s *Service) ensureCustomer(ctx context.Context, orgID string, req paymentdomain.CheckoutRequest) (*subscriptiondomain.Subscription, error) {
	sub, err := s.subs.Get(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if sub != nil && sub.ProviderCustomerRef != nil && *sub.ProviderCustomerRef != "" {
		return sub, nil
	}

	name := strings.TrimSpace(req.OrgName)
	if name == "" {
		name = orgID
	}
	customerRef, err := s.client.CreateCustomer(ctx, paymentdomain.CustomerRequest{
		OrgID:          orgID,
		Name:           name,
		Email:          req.Email,
		IdempotencyKey: "customer-" + orgID,
	})
	if err != nil {
		return nil, err
	}
	if err := s.subs.MarkProvisional(ctx, orgID, customerRef); err != nil {
		return nil, err
	}
	sub, err = s.subs.Get(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if sub == nil || sub.ProviderCustomerRef == nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	return sub, nil
}

// PortalURL prefers the statically configured portal link.
func (s *Service) PortalURL(ctx context.Context, orgID string) (string, error) {
	if s.portalURL != "" {
		return s.portalURL, nil
	}
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return "", paymentdomain.ErrInvalidOrganization
	}
	if s.client == nil {
		return "", paymentdomain.ErrBillingNotConfigured
	}

	sub, err := s.subs.Get(ctx, orgID)
	if err != nil {
		return "", err
	}
	if sub == nil || sub.ProviderCustomerRef == nil || *sub.ProviderCustomerRef == "" {
		return "", paymentdomain.ErrCustomerNotFound
	}
	return s.client.CreatePortalSession(ctx, *sub.ProviderCustomerRef, s.publicURL+"/dashboard/billing")
}

package checkout

import (
	"context"
	"fmt"
	"testing"

	"github.com/cucumber/godog"
	"github.com/go-faster/errors"

	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/payment"
)

type checkoutFeature struct {
	h    *harness
	view View
	err  error
}

func (c *checkoutFeature) aSignedInCustomer() error {
	c.h = buildHarness(true)
	c.view = View{}
	c.err = nil
	return nil
}

func (c *checkoutFeature) theCartHolds(n1 int, id1 string, n2 int, id2 string) error {
	for range n1 {
		if err := c.h.cart.AddOrIncrement(id1); err != nil {
			return err
		}
	}
	for range n2 {
		if err := c.h.cart.AddOrIncrement(id2); err != nil {
			return err
		}
	}
	return nil
}

func (c *checkoutFeature) theBackendAssignsOrderNumber(num string) error {
	c.h.orders.setErr(nil)
	c.h.orders.number = num
	return nil
}

func (c *checkoutFeature) theBackendIsUnreachable() error {
	c.h.orders.setErr(&order.NetworkError{Kind: order.NetworkUnreachable})
	return nil
}

func (c *checkoutFeature) theProcessorDeclinesWith(reason string) error {
	c.h.payments.confirmErr = &payment.DeclinedError{Reason: reason}
	return nil
}

func (c *checkoutFeature) theCustomerEntersCheckout(ctx context.Context) error {
	c.view, c.err = c.h.m.Enter(ctx)
	return nil
}

func (c *checkoutFeature) theCustomerSubmitsAValidFormPayingBy(ctx context.Context, method string) error {
	c.view, c.err = c.h.m.SubmitForm(ctx, validForm(order.PaymentMethod(method)))
	return nil
}

func (c *checkoutFeature) theCustomerConfirmsTheCardPayment(ctx context.Context) error {
	c.view, c.err = c.h.m.ConfirmPayment(ctx, payment.Details{PaymentMethod: "pm_card_visa"})
	return nil
}

func (c *checkoutFeature) theCustomerRetriesTheSubmission(ctx context.Context) error {
	c.view, c.err = c.h.m.Retry(ctx)
	return nil
}

func (c *checkoutFeature) theGraceDelayElapses() error {
	c.h.fireTimers()
	return nil
}

func (c *checkoutFeature) checkoutFailsWith(msg string) error {
	if c.err == nil {
		return errors.New("expected checkout to fail but it succeeded")
	}
	if c.err.Error() != msg {
		return fmt.Errorf("expected error %q, got %q", msg, c.err.Error())
	}
	return nil
}

func (c *checkoutFeature) theCheckoutStateIs(state string) error {
	if got := c.h.m.State().String(); got != state {
		return fmt.Errorf("expected state %s, got %s", state, got)
	}
	return nil
}

func (c *checkoutFeature) theOrderTotalIs(total string) error {
	d := c.h.orders.lastDraft()
	if !d.Total.Equal(dec(total)) {
		return fmt.Errorf("expected total %s, got %s", total, d.Total)
	}
	return nil
}

func (c *checkoutFeature) theConfirmationShowsOrderNumber(num string) error {
	if c.view.Confirmation == nil {
		return errors.New("no confirmation")
	}
	if c.view.Confirmation.OrderNumber != num {
		return fmt.Errorf("expected order number %s, got %s", num, c.view.Confirmation.OrderNumber)
	}
	return nil
}

func (c *checkoutFeature) theCartStillHoldsItems(n int) error {
	if got := c.h.cart.ItemCount(); got != n {
		return fmt.Errorf("expected %d items, got %d", n, got)
	}
	return nil
}

func (c *checkoutFeature) theCartIsEmpty() error {
	return c.theCartStillHoldsItems(0)
}

func (c *checkoutFeature) noDraftIsKept() error {
	if c.view.Draft != nil {
		return fmt.Errorf("expected no draft, got %s", c.view.Draft.ID)
	}
	return nil
}

func (c *checkoutFeature) theFormStreetIs(street string) error {
	if c.view.Form.Street != street {
		return fmt.Errorf("expected street %q, got %q", street, c.view.Form.Street)
	}
	return nil
}

func (c *checkoutFeature) submissionsWereSentForTheSameDraft(n int) error {
	c.h.orders.mu.Lock()
	defer c.h.orders.mu.Unlock()
	if len(c.h.orders.drafts) != n {
		return fmt.Errorf("expected %d submissions, got %d", n, len(c.h.orders.drafts))
	}
	for _, d := range c.h.orders.drafts[1:] {
		if d.ID != c.h.orders.drafts[0].ID {
			return fmt.Errorf("draft changed between submissions: %s != %s", d.ID, c.h.orders.drafts[0].ID)
		}
	}
	return nil
}

func initializeCheckoutScenario(sc *godog.ScenarioContext) {
	c := &checkoutFeature{}

	sc.Step(`^a signed-in customer$`, c.aSignedInCustomer)
	sc.Step(`^the cart holds (\d+) "([^"]*)" and (\d+) "([^"]*)"$`, c.theCartHolds)
	sc.Step(`^the backend assigns order number "([^"]*)"$`, c.theBackendAssignsOrderNumber)
	sc.Step(`^the backend is unreachable$`, c.theBackendIsUnreachable)
	sc.Step(`^the processor declines with "([^"]*)"$`, c.theProcessorDeclinesWith)

	sc.Step(`^the customer enters checkout$`, c.theCustomerEntersCheckout)
	sc.Step(`^the customer submits a valid form paying by "([^"]*)"$`, c.theCustomerSubmitsAValidFormPayingBy)
	sc.Step(`^the customer confirms the card payment$`, c.theCustomerConfirmsTheCardPayment)
	sc.Step(`^the customer retries the submission$`, c.theCustomerRetriesTheSubmission)
	sc.Step(`^the grace delay elapses$`, c.theGraceDelayElapses)

	sc.Step(`^checkout fails with "([^"]*)"$`, c.checkoutFailsWith)
	sc.Step(`^the checkout state is "([^"]*)"$`, c.theCheckoutStateIs)
	sc.Step(`^the order total is "([^"]*)"$`, c.theOrderTotalIs)
	sc.Step(`^the confirmation shows order number "([^"]*)"$`, c.theConfirmationShowsOrderNumber)
	sc.Step(`^the cart still holds (\d+) items$`, c.theCartStillHoldsItems)
	sc.Step(`^the cart is empty$`, c.theCartIsEmpty)
	sc.Step(`^no draft is kept$`, c.noDraftIsKept)
	sc.Step(`^the form street is "([^"]*)"$`, c.theFormStreetIs)
	sc.Step(`^(\d+) submissions were sent for the same draft$`, c.submissionsWereSentForTheSameDraft)
}

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		Name:                "checkout",
		ScenarioInitializer: initializeCheckoutScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
			Strict:   true,
		},
	}
	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}

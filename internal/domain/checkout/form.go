package checkout

import (
	"strings"

	"github.com/xenking/kart-checkout/internal/domain/order"
)

// Form is the checkout form as typed by the customer.
type Form struct {
	FirstName     string
	LastName      string
	Email         string
	Phone         string
	Street        string
	City          string
	State         string
	ZipCode       string
	Country       string
	PaymentMethod order.PaymentMethod
}

func (f Form) normalize() Form {
	f.FirstName = strings.TrimSpace(f.FirstName)
	f.LastName = strings.TrimSpace(f.LastName)
	f.Email = strings.TrimSpace(f.Email)
	f.Phone = strings.TrimSpace(f.Phone)
	f.Street = strings.TrimSpace(f.Street)
	f.City = strings.TrimSpace(f.City)
	f.State = strings.TrimSpace(f.State)
	f.ZipCode = strings.TrimSpace(f.ZipCode)
	f.Country = strings.TrimSpace(f.Country)
	return f
}

// Validate checks that every required field is non-empty after trimming and
// that the payment method is supported. Country is optional.
func (f Form) Validate() error {
	f = f.normalize()
	required := []struct {
		name  string
		value string
	}{
		{"firstName", f.FirstName},
		{"lastName", f.LastName},
		{"email", f.Email},
		{"street", f.Street},
		{"city", f.City},
		{"state", f.State},
		{"zipCode", f.ZipCode},
		{"phone", f.Phone},
	}

	var missing []string
	for _, r := range required {
		if r.value == "" {
			missing = append(missing, r.name)
		}
	}
	if !f.PaymentMethod.Valid() {
		missing = append(missing, "paymentMethod")
	}
	if len(missing) > 0 {
		return &ValidationError{Fields: missing}
	}
	return nil
}

func (f Form) customer() order.Customer {
	return order.Customer{
		FirstName: f.FirstName,
		LastName:  f.LastName,
		Email:     f.Email,
		Phone:     f.Phone,
	}
}

func (f Form) address() order.Address {
	return order.Address{
		Street:  f.Street,
		City:    f.City,
		State:   f.State,
		ZipCode: f.ZipCode,
		Country: f.Country,
	}
}

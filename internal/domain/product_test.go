package domain

import (
	"errors"
	"testing"
)

func int64Ptr(v int64) *int64 { return &v }

func TestResolveUnitPrice(t *testing.T) {
	withWholesale := Product{ID: "p1", Price: 25000, WholesalePrice: int64Ptr(20000)}
	retailOnly := Product{ID: "p2", Price: 25000}

	tests := []struct {
		name      string
		product   Product
		orderType OrderType
		want      int64
	}{
		{name: "b2c uses retail", product: withWholesale, orderType: OrderTypeB2C, want: 25000},
		{name: "b2b uses wholesale", product: withWholesale, orderType: OrderTypeB2B, want: 20000},
		{name: "b2b falls back to retail", product: retailOnly, orderType: OrderTypeB2B, want: 25000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolveUnitPrice(tt.product, tt.orderType); got != tt.want {
				t.Fatalf("ResolveUnitPrice() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestParseEnums(t *testing.T) {
	if v, err := ParseOrderType(""); err != nil || v != OrderTypeB2C {
		t.Fatalf("empty order type: %q, %v", v, err)
	}
	if _, err := ParseOrderType("B2G"); !errors.Is(err, ErrOrderTypeInvalid) {
		t.Fatalf("expected ErrOrderTypeInvalid, got %v", err)
	}
	if v, err := ParsePaymentMethod(""); err != nil || v != PaymentWebpay {
		t.Fatalf("empty payment method: %q, %v", v, err)
	}
	if _, err := ParsePaymentMethod("bitcoin"); !errors.Is(err, ErrPaymentMethodInvalid) {
		t.Fatalf("expected ErrPaymentMethodInvalid, got %v", err)
	}
}

func TestActorCanAccess(t *testing.T) {
	order := Order{UserID: "owner"}

	if !(Actor{UserID: "owner", Role: RoleClient}).CanAccess(order) {
		t.Fatal("owner must access own order")
	}
	if !(Actor{UserID: "root", Role: RoleAdmin}).CanAccess(order) {
		t.Fatal("admin must access any order")
	}
	if (Actor{UserID: "other", Role: RoleDistributor}).CanAccess(order) {
		t.Fatal("foreign user must not access order")
	}
	if (Actor{Role: RoleAdmin}).CanAccess(order) {
		t.Fatal("anonymous actor must not access order")
	}
}

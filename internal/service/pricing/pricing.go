// Package pricing содержит политики налога и стоимости доставки.
// Конфигурация передаётся при создании и не читается из глобального состояния.
package pricing

import (
	"context"
	"fmt"

	"github.com/vladislavdragonenkov/autoparts/internal/domain"
)

const (
	// DefaultTaxRate — ставка IVA по умолчанию, в процентах.
	DefaultTaxRate = 19.0
	// DefaultFreeShippingThreshold — сумма позиций, начиная с которой доставка бесплатна.
	DefaultFreeShippingThreshold int64 = 50000
	// DefaultShippingFee — фиксированная стоимость доставки ниже порога.
	DefaultShippingFee int64 = 5000
)

// Config — параметры ценообразования заказа.
type Config struct {
	TaxRate               float64 `yaml:"tax_rate"`
	FreeShippingThreshold int64   `yaml:"free_shipping_threshold"`
	ShippingFee           int64   `yaml:"shipping_fee"`
}

// DefaultConfig возвращает значения по умолчанию.
func DefaultConfig() Config {
	return Config{
		TaxRate:               DefaultTaxRate,
		FreeShippingThreshold: DefaultFreeShippingThreshold,
		ShippingFee:           DefaultShippingFee,
	}
}

// Validate проверяет диапазоны.
func (c Config) Validate() error {
	if err := domain.ValidTaxRate(c.TaxRate); err != nil {
		return fmt.Errorf("pricing tax rate %v: %w", c.TaxRate, err)
	}
	if c.FreeShippingThreshold < 0 {
		return fmt.Errorf("pricing free shipping threshold must be >= 0, got %d", c.FreeShippingThreshold)
	}
	if c.ShippingFee <= 0 {
		return fmt.Errorf("pricing shipping fee must be > 0, got %d", c.ShippingFee)
	}
	return nil
}

// TaxProvider отдаёт сконфигурированную ставку.
type TaxProvider struct {
	rate float64
}

// NewTaxProvider создаёт провайдера налога.
func NewTaxProvider(cfg Config) *TaxProvider {
	return &TaxProvider{rate: cfg.TaxRate}
}

// CurrentRate возвращает действующую ставку в процентах.
func (p *TaxProvider) CurrentRate(context.Context) (float64, error) {
	return p.rate, nil
}

// Calculate возвращает round(amount × rate / 100).
func (p *TaxProvider) Calculate(amount int64, rate float64) int64 {
	return domain.TaxAmount(amount, rate)
}

// ShippingPolicy — бесплатная доставка от порога, иначе фиксированный тариф.
type ShippingPolicy struct {
	freeThreshold int64
	fee           int64
}

// NewShippingPolicy создаёт политику доставки.
func NewShippingPolicy(cfg Config) *ShippingPolicy {
	return &ShippingPolicy{freeThreshold: cfg.FreeShippingThreshold, fee: cfg.ShippingFee}
}

// Quote возвращает стоимость доставки. Самовывоз всегда бесплатный.
func (p *ShippingPolicy) Quote(method domain.FulfillmentMethod, itemsPrice int64) int64 {
	if method != domain.FulfillmentDelivery {
		return 0
	}
	if itemsPrice >= p.freeThreshold {
		return 0
	}
	return p.fee
}

var (
	_ domain.TaxPolicy      = (*TaxProvider)(nil)
	_ domain.ShippingPolicy = (*ShippingPolicy)(nil)
)

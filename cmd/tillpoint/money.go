package main

import (
	"fmt"
	"strings"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"tillpoint/internal/config"
)

// moneyFormatter renders amounts in the till's currency and locale.
type moneyFormatter struct {
	printer *message.Printer
	unit    currency.Unit
}

func newMoneyFormatter(code, locale string) (moneyFormatter, error) {
	unit, err := currency.ParseISO(strings.TrimSpace(code))
	if err != nil {
		return moneyFormatter{}, fmt.Errorf("currency %q: %w", code, err)
	}
	tag, err := language.Parse(strings.TrimSpace(locale))
	if err != nil {
		return moneyFormatter{}, fmt.Errorf("locale %q: %w", locale, err)
	}
	return moneyFormatter{printer: message.NewPrinter(tag), unit: unit}, nil
}

// moneyFromConfig falls back to plain numbers when the checkout section
// names an unknown currency or locale.
func moneyFromConfig(cfg *config.Config) moneyFormatter {
	if cfg == nil {
		return moneyFormatter{}
	}
	m, err := newMoneyFormatter(cfg.Checkout.Currency, cfg.Checkout.Locale)
	if err != nil {
		return moneyFormatter{}
	}
	return m
}

func (m moneyFormatter) format(amount float64) string {
	if m.printer == nil {
		return fmt.Sprintf("%.2f", amount)
	}
	return m.printer.Sprint(currency.Symbol(m.unit.Amount(amount)))
}

func formatQty(qty float64, weighed bool) string {
	if weighed {
		return fmt.Sprintf("%.3f kg", qty)
	}
	return fmt.Sprintf("%g", qty)
}

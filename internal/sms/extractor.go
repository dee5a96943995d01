// Package sms turns a device SMS history into typed mobile-money
// transactions, utility bills and aggregates. It runs entirely in-process;
// message content never leaves the caller.
package sms

import (
	"math"
	"slices"
	"time"

	"github.com/sells-group/phonetrust/internal/model"
	"github.com/sells-group/phonetrust/internal/momo"
)

// Parser extracts a transaction from a single message.
type Parser interface {
	Parse(body, sender string, date time.Time) (*model.ParsedSMS, bool)
}

const daysPerMonth = 30

// Activity frequency labels.
const (
	FrequencyNone    = "none"
	FrequencyDaily   = "daily"
	FrequencyWeekly  = "weekly"
	FrequencyMonthly = "monthly"
	FrequencyRare    = "rare"
)

// Extractor orchestrates the single-message parser over a history.
type Extractor struct {
	parser Parser
	now    func() time.Time
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithClock overrides the clock used for phone-age inference.
func WithClock(now func() time.Time) Option {
	return func(e *Extractor) { e.now = now }
}

// NewExtractor creates an Extractor. A nil parser selects momo.NewParser.
func NewExtractor(p Parser, opts ...Option) *Extractor {
	if p == nil {
		p = momo.NewParser()
	}
	e := &Extractor{parser: p, now: time.Now}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Extract parses every mobile-money and utility message in the history.
func (e *Extractor) Extract(messages []model.SMSMessage) *model.ExtractionResult {
	start := time.Now()

	res := &model.ExtractionResult{
		Transactions: []model.ExtractedTransaction{},
		UtilityBills: []model.UtilityBill{},
	}

	for _, msg := range messages {
		if momo.IsMobileMoneySender(msg.Sender) {
			if p, ok := e.parser.Parse(msg.Body, msg.Sender, msg.Date); ok && p != nil {
				res.Transactions = append(res.Transactions, model.ExtractedTransaction{
					MessageID:    msg.ID,
					Provider:     p.Provider,
					Type:         p.Type,
					Amount:       p.Amount,
					Currency:     p.Currency,
					BalanceAfter: p.BalanceAfter,
					Counterparty: p.Counterparty,
					Reference:    p.Reference,
					Date:         msg.Date,
					Confidence:   p.Confidence,
					SourceType:   model.SourceSMSParsed,
				})
			}
		}

		if isUtilityCandidate(msg) {
			if bill, ok := extractUtilityBill(msg); ok {
				res.UtilityBills = append(res.UtilityBills, bill)
			}
		}
	}

	res.Summary = Summarize(res.Transactions)
	res.PhoneAgeMonths = PhoneAgeMonths(res.Transactions, e.now())
	res.ProcessingStats = model.ProcessingStats{
		TotalMessages:     len(messages),
		ParsedCount:       len(res.Transactions),
		UtilityBillsFound: len(res.UtilityBills),
		DurationMs:        time.Since(start).Milliseconds(),
	}
	return res
}

// Summarize aggregates parsed transactions.
func Summarize(txs []model.ExtractedTransaction) model.TransactionSummary {
	sum := model.TransactionSummary{
		Providers:         []string{},
		TransactionCount:  len(txs),
		ActivityFrequency: FrequencyNone,
	}
	if len(txs) == 0 {
		return sum
	}

	var latestBalanceAt time.Time
	for _, tx := range txs {
		switch tx.Type {
		case model.TxCredit:
			sum.TotalCredits += tx.Amount
			sum.CreditCount++
		case model.TxDebit:
			sum.TotalDebits += tx.Amount
			sum.DebitCount++
		}

		if tx.Provider != "" && !slices.Contains(sum.Providers, tx.Provider) {
			sum.Providers = append(sum.Providers, tx.Provider)
		}

		if tx.BalanceAfter != nil && (sum.LatestBalance == nil || !tx.Date.Before(latestBalanceAt)) {
			b := *tx.BalanceAfter
			sum.LatestBalance = &b
			latestBalanceAt = tx.Date
		}

		d := tx.Date
		if sum.OldestTransaction == nil || d.Before(*sum.OldestTransaction) {
			sum.OldestTransaction = &d
		}
		if sum.LatestTransaction == nil || d.After(*sum.LatestTransaction) {
			sum.LatestTransaction = &d
		}
	}
	slices.Sort(sum.Providers)

	if n := sum.CreditCount + sum.DebitCount; n > 0 {
		sum.AverageTransaction = (sum.TotalCredits + sum.TotalDebits) / float64(n)
	}
	sum.ActivityFrequency = activityFrequency(len(txs), *sum.OldestTransaction, *sum.LatestTransaction)
	return sum
}

// activityFrequency labels the transaction rate per 30-day month. Spans
// shorter than a month count as one month.
func activityFrequency(count int, oldest, latest time.Time) string {
	if count == 0 {
		return FrequencyNone
	}
	months := max(latest.Sub(oldest).Hours()/24/daysPerMonth, 1)
	rate := float64(count) / months
	switch {
	case rate >= 20:
		return FrequencyDaily
	case rate >= 4:
		return FrequencyWeekly
	case rate >= 1:
		return FrequencyMonthly
	default:
		return FrequencyRare
	}
}

// PhoneAgeMonths is the number of whole 30-day periods between the oldest
// transaction and now, or nil without transactions.
func PhoneAgeMonths(txs []model.ExtractedTransaction, now time.Time) *int {
	if len(txs) == 0 {
		return nil
	}
	oldest := txs[0].Date
	for _, tx := range txs[1:] {
		if tx.Date.Before(oldest) {
			oldest = tx.Date
		}
	}
	days := now.Sub(oldest).Hours() / 24
	months := max(int(math.Floor(days/daysPerMonth)), 0)
	return &months
}

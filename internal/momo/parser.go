// Package momo parses individual mobile-money notification SMS from the
// operators active in francophone West Africa.
package momo

import (
	"regexp"
	"strings"
	"time"

	"github.com/sells-group/phonetrust/internal/model"
)

// DefaultCurrency is used when a message carries no currency marker.
const DefaultCurrency = "XOF"

// AmountPattern matches a printed amount such as "25 000", "5.000" or
// "12 500,50" without crossing a line break.
const AmountPattern = `\d(?:[\d .,\x{00A0}\x{202F}]*\d)?`

type providerPattern struct {
	provider model.Provider
	re       *regexp.Regexp
}

var senderPatterns = []providerPattern{
	{model.ProviderOrangeMoney, regexp.MustCompile(`(?i)orange\s*money|^om$|orangemoney|#144`)},
	{model.ProviderMTNMoMo, regexp.MustCompile(`(?i)\bmtn\b|momo|mobile\s*money|\*133#`)},
	{model.ProviderWave, regexp.MustCompile(`(?i)\bwave\b`)},
	{model.ProviderMoov, regexp.MustCompile(`(?i)\bmoov\b|flooz|\*155#`)},
}

var (
	// Word ends are matched explicitly since \b does not see accented letters.
	creditRe = regexp.MustCompile(`(?i)\b(re[cç]u|received|d[ée]p[oô]t|deposit|cr[ée]dit[ée]?|credited)(?:[^\pL\d]|$)`)
	debitRe  = regexp.MustCompile(`(?i)\b(envoy[ée]|sent|transfert\s+de|transf[ée]r[ée]|paiement|payment|pay[ée]|paid|retrait|withdrawal|withdrawn|achat|purchase|d[ée]bit[ée]?|debited)(?:[^\pL\d]|$)`)

	balanceRe = regexp.MustCompile(`(?i)(votre\s+solde|your\s+balance|solde\s+(actuel|disponible)|balance\s+is)`)

	amountRe        = regexp.MustCompile(`(?i)(` + AmountPattern + `)\s*(f\s?cfa|fcfa|xof|cfa|f)\b`)
	balanceAfterRe  = regexp.MustCompile(`(?i)(?:nouveau\s+solde|new\s+balance|solde(?:\s+actuel|\s+disponible)?|balance)\s*(?:est\s+de|is|:)?\s*:?\s*(` + AmountPattern + `)`)
	counterpartyNum = regexp.MustCompile(`(?i)(?:^|\s)(?:de|du|from|vers|à|a|to|au)\s+(\+?\d[\d ]{6,16}\d)`)
	counterpartyNm  = regexp.MustCompile(`(?:^|\s)(?:de|du|from|vers|à|to|chez|aupr[eè]s\s+de)\s+(\p{Lu}[\pL'\-]+(?:\s+\p{Lu}[\pL'\-]+){0,3})`)
	referenceRe     = regexp.MustCompile(`(?i)\b(?:r[ée]f(?:[ée]rence)?|trans(?:action)?\s*id|id\s+transaction|txn\s*id|id)(?:\s*[:.#]\s*|\s+)([A-Z0-9][A-Z0-9.\-]{4,})`)
)

// Parser is the default single-message parser.
type Parser struct{}

// NewParser returns the default parser.
func NewParser() *Parser { return &Parser{} }

// Parse extracts a transaction from one SMS. It returns false when the
// message does not look like a mobile-money notification.
func (p *Parser) Parse(body, sender string, _ time.Time) (*model.ParsedSMS, bool) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, false
	}

	provider := DetectProvider(sender)
	if provider == model.ProviderUnknown {
		provider = DetectProvider(body)
	}

	txType := classify(body)

	out := &model.ParsedSMS{
		Provider: string(provider),
		Type:     txType,
		Currency: DefaultCurrency,
	}

	amount, currency, hasAmount := FindAmount(body)
	if hasAmount {
		out.Amount = amount
		out.Currency = currency
	}

	if m := balanceAfterRe.FindStringSubmatch(body); m != nil {
		if v, ok := ParseAmount(m[1]); ok {
			out.BalanceAfter = &v
		}
	}

	if txType == model.TxBalance && out.BalanceAfter != nil {
		out.Amount = *out.BalanceAfter
		hasAmount = true
	}

	if !hasAmount || (txType == model.TxOther && provider == model.ProviderUnknown) {
		return nil, false
	}

	if txType == model.TxCredit || txType == model.TxDebit {
		out.Counterparty = counterparty(body)
	}
	if m := referenceRe.FindStringSubmatch(body); m != nil {
		out.Reference = strings.TrimRight(m[1], ".")
	}

	out.Confidence = confidence(out, provider)
	return out, true
}

// DetectProvider returns the first operator whose vocabulary matches s.
func DetectProvider(s string) model.Provider {
	for _, p := range senderPatterns {
		if p.re.MatchString(s) {
			return p.provider
		}
	}
	return model.ProviderUnknown
}

// IsMobileMoneySender reports whether a sender id belongs to a known
// operator or one of their USSD short codes.
func IsMobileMoneySender(sender string) bool {
	return DetectProvider(sender) != model.ProviderUnknown
}

func classify(body string) model.TransactionType {
	credit := creditRe.FindStringIndex(body)
	debit := debitRe.FindStringIndex(body)
	switch {
	case credit != nil && debit != nil:
		// "Vous avez recu un transfert de ..." names both; the earlier verb wins.
		if credit[0] <= debit[0] {
			return model.TxCredit
		}
		return model.TxDebit
	case credit != nil:
		return model.TxCredit
	case debit != nil:
		return model.TxDebit
	case balanceRe.MatchString(body):
		return model.TxBalance
	default:
		return model.TxOther
	}
}

// FindAmount returns the first non-zero amount followed by a currency marker.
func FindAmount(body string) (float64, string, bool) {
	for _, m := range amountRe.FindAllStringSubmatch(body, -1) {
		v, ok := ParseAmount(m[1])
		if !ok || v == 0 {
			continue
		}
		return v, normalizeCurrency(m[2]), true
	}
	return 0, "", false
}

func normalizeCurrency(c string) string {
	c = strings.ToUpper(strings.ReplaceAll(c, " ", ""))
	switch c {
	case "FCFA", "CFA", "F", "XOF":
		return DefaultCurrency
	}
	return c
}

func counterparty(body string) string {
	if m := counterpartyNum.FindStringSubmatch(body); m != nil {
		return strings.ReplaceAll(m[1], " ", "")
	}
	if m := counterpartyNm.FindStringSubmatch(body); m != nil {
		name := strings.TrimSpace(m[1])
		switch name {
		case "FCFA", "XOF", "CFA":
			return ""
		}
		return name
	}
	return ""
}

func confidence(p *model.ParsedSMS, provider model.Provider) float64 {
	c := 40.0
	if p.Amount > 0 {
		c += 20
	}
	if p.Type != model.TxOther {
		c += 15
	}
	if p.BalanceAfter != nil {
		c += 10
	}
	if p.Reference != "" {
		c += 10
	}
	if provider != model.ProviderUnknown {
		c += 5
	}
	return min(c, 100)
}

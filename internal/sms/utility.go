package sms

import (
	"regexp"
	"strings"
	"time"

	"github.com/sells-group/phonetrust/internal/model"
	"github.com/sells-group/phonetrust/internal/momo"
)

// utilityRule classifies a bill message. Rules are evaluated in order and
// the first match wins.
type utilityRule struct {
	provider string
	kind     model.UtilityType
	re       *regexp.Regexp
}

var utilityRules = []utilityRule{
	{"CIE", model.UtilityElectricity, regexp.MustCompile(`(?i)\bCIE\b|compagnie ivoirienne d.electricit`)},
	{"SODECI", model.UtilityWater, regexp.MustCompile(`(?i)\bSODECI\b`)},
	{"SENELEC", model.UtilityElectricity, regexp.MustCompile(`(?i)\bSENELEC\b|woyofal`)},
	{"SEN'EAU", model.UtilityWater, regexp.MustCompile(`(?i)\bSEN.?EAU\b|\bSDE\b`)},
	{"CEET", model.UtilityElectricity, regexp.MustCompile(`(?i)\bCEET\b`)},
	{"SBEE", model.UtilityElectricity, regexp.MustCompile(`(?i)\bSBEE\b`)},
	{"SONEB", model.UtilityWater, regexp.MustCompile(`(?i)\bSONEB\b`)},
	{"ISP", model.UtilityInternet, regexp.MustCompile(`(?i)forfait\s+internet|\bbox\b|fibre|internet\s+(?:mensuel|illimit)|abonnement\s+(?:internet|canal)`)},
	{"landlord", model.UtilityRent, regexp.MustCompile(`(?i)\bloyer\b|\brent\b`)},
	{"other", model.UtilityElectricity, regexp.MustCompile(`(?i)[ée]lectricit[ée]|electricity|prepaid\s+token`)},
	{"other", model.UtilityWater, regexp.MustCompile(`(?i)\beau\b|water\s+bill`)},
	{"other", model.UtilityOther, regexp.MustCompile(`(?i)\bfacture\b|\bbill\b|\binvoice\b`)},
}

var (
	utilitySenderRe = regexp.MustCompile(`(?i)^(CIE|SODECI|SENELEC|WOYOFAL|SENEAU|SEN'EAU|SDE|CEET|SBEE|SONEB|CANAL\+?)$`)
	billKeywordRe   = regexp.MustCompile(`(?i)\bfacture\b|\bbill\b|\binvoice\b|\bloyer\b|\babonnement\b|[ée]lectricit[ée]|\bcompteur\b`)
	paidRe          = regexp.MustCompile(`(?i)\b(pay[ée]e?|r[ée]gl[ée]e?|paid|succ[eè]s|successful|confirm[ée]e?|confirmed|re[cç]u\s+votre\s+paiement)(?:[^\pL\d]|$)`)
	lateRe          = regexp.MustCompile(`(?i)\b(retard|late|overdue|p[ée]nalit[ée]s?|relance|impay[ée]e?)(?:[^\pL\d]|$)`)
	billRefRe       = regexp.MustCompile(`(?i)(?:r[ée]f(?:[ée]rence)?|facture|contrat|compteur|invoice|meter)\s*(?:n°)?\s*[:#]?\s*([A-Z]{0,4}\d[A-Z0-9\-]{3,})`)
	dueDateRe       = regexp.MustCompile(`(?i)(?:date\s+limite|avant\s+le|[ée]ch[ée]ance|due(?:\s+date)?|du)\s*:?\s*(\d{2}/\d{2}/\d{4})`)
)

func isUtilityCandidate(msg model.SMSMessage) bool {
	return utilitySenderRe.MatchString(strings.TrimSpace(msg.Sender)) || billKeywordRe.MatchString(msg.Body)
}

// extractUtilityBill runs the ordered rule list against one message.
func extractUtilityBill(msg model.SMSMessage) (model.UtilityBill, bool) {
	text := msg.Sender + " " + msg.Body

	var rule *utilityRule
	for i := range utilityRules {
		if utilityRules[i].re.MatchString(text) {
			rule = &utilityRules[i]
			break
		}
	}
	if rule == nil {
		return model.UtilityBill{}, false
	}

	amount, _, ok := momo.FindAmount(msg.Body)
	if !ok {
		return model.UtilityBill{}, false
	}

	bill := model.UtilityBill{
		MessageID: msg.ID,
		Type:      rule.kind,
		Provider:  rule.provider,
		Amount:    amount,
		Status:    model.PaymentUnpaid,
	}

	if m := billRefRe.FindStringSubmatch(msg.Body); m != nil {
		bill.Reference = m[1]
	}

	billDate := msg.Date
	if m := dueDateRe.FindStringSubmatch(msg.Body); m != nil {
		if d, err := time.Parse("02/01/2006", m[1]); err == nil {
			billDate = d
		}
	}
	if !billDate.IsZero() {
		bill.BillDate = &billDate
	}

	if paidRe.MatchString(msg.Body) {
		bill.Status = model.PaymentPaidOnTime
		if lateRe.MatchString(msg.Body) {
			bill.Status = model.PaymentPaidLate
		}
		if !msg.Date.IsZero() {
			paid := msg.Date
			bill.PaidDate = &paid
			if bill.BillDate != nil && paid.After(bill.BillDate.AddDate(0, 0, 1)) {
				bill.Status = model.PaymentPaidLate
			}
		}
	}

	bill.Confidence = 60
	if bill.Reference != "" {
		bill.Confidence += 20
	}
	if rule.provider != "other" {
		bill.Confidence += 20
	}
	return bill, true
}

package ussd

import (
	"regexp"

	"github.com/sells-group/phonetrust/internal/model"
	"github.com/sells-group/phonetrust/internal/momo"
)

type providerPatterns struct {
	provider model.Provider
	patterns []*regexp.Regexp
}

// providerRules are checked in order; the first operator with any matching
// pattern wins. Every matching pattern of the winner counts toward UI
// authenticity.
var providerRules = []providerPatterns{
	{model.ProviderOrangeMoney, []*regexp.Regexp{
		regexp.MustCompile(`(?i)orange\s*money`),
		regexp.MustCompile(`\bOM\b`),
		regexp.MustCompile(`#144`),
		regexp.MustCompile(`(?i)\borange\b`),
	}},
	{model.ProviderMTNMoMo, []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bmtn\b`),
		regexp.MustCompile(`(?i)\bmomo\b`),
		regexp.MustCompile(`\*133#`),
		regexp.MustCompile(`(?i)mobile\s*money`),
	}},
	{model.ProviderWave, []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bwave\b`),
		regexp.MustCompile(`(?i)wave\s+(?:money|mobile|s[ée]n[ée]gal|ci)`),
	}},
	{model.ProviderMoov, []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bmoov\b`),
		regexp.MustCompile(`(?i)\bflooz\b`),
		regexp.MustCompile(`\*155#`),
		regexp.MustCompile(`(?i)moov\s*money`),
	}},
}

// screenRules hold the indicator patterns per screen type. Each matching
// pattern is one hit.
var screenRules = map[model.ScreenType][]*regexp.Regexp{
	model.ScreenProfile: {
		regexp.MustCompile(`(?i)(?:^|[^\pL])nom(?:[^\pL]|$)|\bname\b`),
		regexp.MustCompile(`(?i)mon\s+compte|my\s+account|profil`),
		regexp.MustCompile(`(?i)num[ée]ro|t[ée]l[ée]phone|\bphone\b`),
		regexp.MustCompile(`(?i)titulaire|account\s+holder`),
		regexp.MustCompile(`(?i)statut|status`),
	},
	model.ScreenBalance: {
		regexp.MustCompile(`(?i)\bsolde\b`),
		regexp.MustCompile(`(?i)\bbalance\b`),
		regexp.MustCompile(`(?i)disponible|available`),
		regexp.MustCompile(`(?i)\b(?:f\s?cfa|xof)\b`),
	},
	model.ScreenHistory: {
		regexp.MustCompile(`(?i)historique|history`),
		regexp.MustCompile(`(?i)\btransactions?\b|derni[eè]res?\s+op[ée]rations?`),
		regexp.MustCompile(`\b\d{2}/\d{2}(?:/\d{2,4})?\b`),
		regexp.MustCompile(`(?i)re[cç]u|envoy[ée]|retrait|d[ée]p[oô]t`),
	},
	model.ScreenMenu: {
		regexp.MustCompile(`(?m)^\s*\d\s*[.)\-]\s*\S`),
		regexp.MustCompile(`(?i)choisissez|choose|s[ée]lectionnez|select`),
		regexp.MustCompile(`(?i)transfert|paiement|achat|services`),
		regexp.MustCompile(`(?i)retour|annuler|\bback\b|\bcancel\b`),
	},
}

// Field extractors. Each list is tried in order and the first candidate that
// passes validation is kept.
var (
	namePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?im)(?:^|[^\pL])(?:nom(?:\s+complet|\s+du\s+titulaire)?|name|full\s+name|titulaire|account\s+holder|client)[ \t]*[:\-][ \t]*(\pL[\pL'\- ]*)`),
		regexp.MustCompile(`(?im)(?:bonjour|bienvenue|welcome|hello)[ \t]+(\pL[\pL'\- ]*)`),
	}
	givenNameRe = regexp.MustCompile(`(?im)pr[ée]noms?[ \t]*[:\-][ \t]*(\pL[\pL'\- ]*)`)

	phonePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:num[ée]ro|t[ée]l[ée]phone|t[ée]l|phone|mobile|msisdn|compte)[ \t]*[:\-]?[ \t]*(\+?\d[\d .\-]{6,18}\d)`),
		regexp.MustCompile(`(\+?2[23]\d[\d .]{7,13}\d)`),
		regexp.MustCompile(`\b(0[1-9](?:[ .]?\d{2}){4})\b`),
	}

	balancePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)solde(?:\s+(?:disponible|actuel|principal))?[ \t]*(?:est\s+de|:|=)?[ \t]*:?[ \t]*(` + momo.AmountPattern + `)`),
		regexp.MustCompile(`(?i)(?:balance|available)[ \t]*(?:is|:)?[ \t]*:?[ \t]*(` + momo.AmountPattern + `)`),
	}

	statusLabeledRe = regexp.MustCompile(`(?i)(?:statut|status|[ée]tat)(?:\s+du\s+compte)?[ \t]*[:\-][ \t]*(\pL[\pL ]{1,30})`)
	statusWordRe    = regexp.MustCompile(`(?i)\b(actif|active|inactif|inactive|bloqu[ée]|blocked|suspendu|suspended)\b`)
)

// Tampering and UI heuristics.
var (
	amountTokenRe = regexp.MustCompile(`\b\d{1,3}(?:[ .,]\d{3})+\b|\b\d{4,7}\b`)
	shoutingRe    = regexp.MustCompile(`\b[a-z]+[A-Z]{2,}[a-z]*\b`)
	genericUIRe   = regexp.MustCompile(`(?i)\b(?:retour|annuler|valider|ok|menu|accueil|back|cancel|envoyer|suivant)\b`)
	timeDateRe    = regexp.MustCompile(`\b\d{1,2}[:h]\d{2}\b|\b\d{2}/\d{2}/\d{2,4}\b`)
	statusBarRe   = regexp.MustCompile(`\b(?:4G|3G|LTE|5G|H\+)|\b\d{1,3}\s?%`)
)

package ussd

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/phonetrust/internal/model"
	"github.com/sells-group/phonetrust/internal/ocr"
)

type mockRecognizer struct {
	mock.Mock
}

func (m *mockRecognizer) Recognize(ctx context.Context, image []byte, langHints []string) (ocr.Recognition, error) {
	args := m.Called(ctx, image, langHints)
	return args.Get(0).(ocr.Recognition), args.Error(1)
}

const orangeProfile = "Orange Money\n" +
	"Mon compte\n" +
	"Nom: KOUADIO JEAN\n" +
	"Numéro: 07 07 07 07 07\n" +
	"Statut: Actif\n" +
	"14:32\n" +
	"1. Retour"

func TestAnalyzeText_HighConfidenceProfile(t *testing.T) {
	res := AnalyzeText(orangeProfile, 85, "Jean Kouadio")

	assert.Equal(t, model.ProviderOrangeMoney, res.Provider)
	assert.Equal(t, model.ScreenProfile, res.ScreenType)
	require.NotNil(t, res.ExtractedName)
	assert.Equal(t, "KOUADIO JEAN", *res.ExtractedName)
	require.NotNil(t, res.ExtractedPhone)
	assert.Equal(t, "0707070707", *res.ExtractedPhone)
	require.NotNil(t, res.AccountStatus)
	assert.Equal(t, "actif", *res.AccountStatus)
	assert.Nil(t, res.ExtractedBalance)
	assert.Equal(t, 0, res.TamperingProbability)
	assert.Equal(t, 85, res.UIAuthenticityScore)

	require.NotNil(t, res.NameMatch)
	assert.True(t, res.NameMatch.IsMatch)
	assert.GreaterOrEqual(t, res.NameMatch.Score, NameMatchThreshold)
	assert.Equal(t, "Jean Kouadio", res.NameMatch.CNIName)

	cert := ValidateForCertification(res)
	assert.True(t, cert.CanCertify)
	assert.Equal(t, 100, cert.Score)
	assert.Empty(t, cert.Reasons)
}

func TestAnalyzeText_TamperedProfileRejected(t *testing.T) {
	text := "Mon compte\n" +
		"Profil\n" +
		"Statut: actif\n" +
		"Montant 1: 50 000\n" +
		"Montant 2: 100 000\n" +
		"Montant 3: 200 000"

	res := AnalyzeText(text, 40, "Jean Kouadio")

	assert.Equal(t, model.ProviderUnknown, res.Provider)
	assert.Equal(t, model.ScreenProfile, res.ScreenType)
	assert.Nil(t, res.ExtractedName)
	assert.Nil(t, res.ExtractedPhone)
	assert.Nil(t, res.NameMatch)
	assert.GreaterOrEqual(t, res.TamperingProbability, 55)

	cert := ValidateForCertification(res)
	assert.False(t, cert.CanCertify)
	assert.Less(t, cert.Score, CertifyMinScore)
	require.NotEmpty(t, cert.Reasons)
	assert.Contains(t, cert.Reasons[0], "tampering")
	assert.Contains(t, cert.Reasons[1], "blurry")
}

func TestAnalyzeText_NameMismatchBlocksCertification(t *testing.T) {
	res := AnalyzeText(orangeProfile, 85, "Aminata Traoré")

	require.NotNil(t, res.NameMatch)
	assert.False(t, res.NameMatch.IsMatch)

	cert := ValidateForCertification(res)
	assert.False(t, cert.CanCertify)
	assert.Equal(t, 90, cert.Score)
	require.Len(t, cert.Reasons, 1)
	assert.Contains(t, cert.Reasons[0], "does not match")
}

func TestAnalyzeText_NoDeclaredNameSkipsMatch(t *testing.T) {
	res := AnalyzeText(orangeProfile, 85, "  ")
	assert.Nil(t, res.NameMatch)

	cert := ValidateForCertification(res)
	assert.True(t, cert.CanCertify)
	assert.Equal(t, 90, cert.Score)
}

func TestAnalyzeText_BalanceScreen(t *testing.T) {
	text := "MTN MoMo\nSolde disponible: 125 000 FCFA\n12/01/2026 09:15"

	res := AnalyzeText(text, 90, "")

	assert.Equal(t, model.ProviderMTNMoMo, res.Provider)
	assert.Equal(t, model.ScreenBalance, res.ScreenType)
	require.NotNil(t, res.ExtractedBalance)
	assert.InDelta(t, 125000.0, *res.ExtractedBalance, 0.001)
	assert.Nil(t, res.ExtractedName)
}

func TestAnalyzeText_SplitGivenAndFamilyName(t *testing.T) {
	text := "Wave\nProfil\nNom: KONE\nPrénom: Awa\nTéléphone: +225 05 05 05 05 05"

	res := AnalyzeText(text, 80, "Awa Koné")

	assert.Equal(t, model.ProviderWave, res.Provider)
	require.NotNil(t, res.ExtractedName)
	assert.Equal(t, "Awa KONE", *res.ExtractedName)
	require.NotNil(t, res.ExtractedPhone)
	assert.Equal(t, "+2250505050505", *res.ExtractedPhone)
	require.NotNil(t, res.NameMatch)
	assert.True(t, res.NameMatch.IsMatch)
}

func TestDetectProvider(t *testing.T) {
	tests := []struct {
		text string
		want model.Provider
	}{
		{"Bienvenue sur Orange Money", model.ProviderOrangeMoney},
		{"Composez #144 pour continuer", model.ProviderOrangeMoney},
		{"MTN Mobile Money", model.ProviderMTNMoMo},
		{"*133# Menu", model.ProviderMTNMoMo},
		{"Wave", model.ProviderWave},
		{"Flooz: solde", model.ProviderMoov},
		{"*155#", model.ProviderMoov},
		{"Banque Atlantique", model.ProviderUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectProvider(tt.text))
		})
	}
}

func TestDetectScreenType(t *testing.T) {
	assert.Equal(t, model.ScreenUnknown, DetectScreenType("bonjour"))
	assert.Equal(t, model.ScreenMenu, DetectScreenType("Choisissez:\n1. Transfert\n2. Paiement\n0. Retour"))
	assert.Equal(t, model.ScreenHistory, DetectScreenType("Historique\n12/01 Reçu 5000\n13/01 Retrait 2000"))
	// Profile and balance tie on two hits each; profile comes first.
	assert.Equal(t, model.ScreenProfile, DetectScreenType("Mon compte\nStatut\nSolde\nXOF"))
}

func TestTamperingHeuristics(t *testing.T) {
	tests := []struct {
		name string
		text string
		conf float64
		want int
	}{
		{"clean", "Solde: 1 250 FCFA", 90, 0},
		{"low ocr", "Solde: 1 250 FCFA", 55, 20},
		{"round amounts", "10 000\n20 000\n30 000", 90, 10},
		{"two round amounts only", "10 000\n20 000\n31 000", 90, 0},
		{"mixed case", "soLDE: 1 250", 90, 15},
		{"empty profile", "Mon compte\nStatut", 90, 25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := AnalyzeText(tt.text, tt.conf, "")
			assert.Equal(t, tt.want, res.TamperingProbability)
		})
	}
}

func TestUIAuthenticityCapped(t *testing.T) {
	text := "Orange Money OM #144 Orange\nValider\n10:45\n4G 87%"
	res := AnalyzeText(text, 90, "")
	assert.Equal(t, 100, res.UIAuthenticityScore)
}

func TestValidPhoneBounds(t *testing.T) {
	_, ok := validPhone("1234567")
	assert.False(t, ok)
	_, ok = validPhone("1234567890123456")
	assert.False(t, ok)
	p, ok := validPhone("+225 07-07")
	assert.False(t, ok)
	assert.Empty(t, p)
	p, ok = validPhone("+225 07.07.07.07.07")
	assert.True(t, ok)
	assert.Equal(t, "+2250707070707", p)
}

func TestAnalyze_UsesRecognizer(t *testing.T) {
	rec := new(mockRecognizer)
	image := []byte("png bytes")
	rec.On("Recognize", mock.Anything, image, []string{"fra"}).
		Return(ocr.Recognition{Text: orangeProfile, Confidence: 85}, nil)

	a := NewAnalyzer(rec, WithLanguages("fra"))
	res, err := a.Analyze(context.Background(), image, "Jean Kouadio")
	require.NoError(t, err)

	assert.Equal(t, model.ProviderOrangeMoney, res.Provider)
	assert.GreaterOrEqual(t, res.ProcessingTimeMs, int64(0))
	rec.AssertExpectations(t)
}

func TestAnalyze_RecognizerError(t *testing.T) {
	rec := new(mockRecognizer)
	rec.On("Recognize", mock.Anything, mock.Anything, mock.Anything).
		Return(ocr.Recognition{}, errors.New("tesseract crashed"))

	_, err := NewAnalyzer(rec).Analyze(context.Background(), []byte("x"), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ussd: recognize screenshot")
}

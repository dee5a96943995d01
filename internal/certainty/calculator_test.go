package certainty

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/phonetrust/internal/model"
)

type mockLoader struct {
	mock.Mock
}

func (m *mockLoader) LoadCertaintyTable(ctx context.Context) (model.CertaintyTable, error) {
	args := m.Called(ctx)
	t, _ := args.Get(0).(model.CertaintyTable)
	return t, args.Error(1)
}

func TestDefaultTable_Valid(t *testing.T) {
	require.NoError(t, Validate(DefaultTable()))
}

func TestCertaintyOf_Monotonic(t *testing.T) {
	c := NewCalculator(nil)
	ctx := context.Background()
	for _, st := range model.SourceTypes {
		base := c.CertaintyOf(ctx, st, false)
		cert := c.CertaintyOf(ctx, st, true)
		assert.GreaterOrEqual(t, cert, base, st)
		assert.GreaterOrEqual(t, base, 0.0, st)
		assert.LessOrEqual(t, cert, 1.0, st)
	}
	assert.Equal(t, 0.0, c.CertaintyOf(ctx, "carrier_pigeon", true))
}

func TestCalculator_LoadsOnceAndCaches(t *testing.T) {
	table := DefaultTable()
	e := table[model.SourceDeclared]
	e.BaseCertainty = 0.25
	table[model.SourceDeclared] = e

	l := new(mockLoader)
	l.On("LoadCertaintyTable", mock.Anything).Return(table, nil).Once()

	c := NewCalculator(l)
	ctx := context.Background()
	assert.Equal(t, 0.25, c.CertaintyOf(ctx, model.SourceDeclared, false))
	assert.Equal(t, 0.25, c.CertaintyOf(ctx, model.SourceDeclared, false))
	assert.True(t, c.FromStore())
	l.AssertNumberOfCalls(t, "LoadCertaintyTable", 1)
}

func TestCalculator_FallsBackToBuiltIn(t *testing.T) {
	tests := []struct {
		name  string
		table model.CertaintyTable
		err   error
	}{
		{"store error", nil, errors.New("connection refused")},
		{"empty table", model.CertaintyTable{}, nil},
		{"missing source", model.CertaintyTable{
			model.SourceDeclared: DefaultTable()[model.SourceDeclared],
		}, nil},
		{"certified below base", func() model.CertaintyTable {
			tb := DefaultTable()
			e := tb[model.SourceSMSParsed]
			e.CertifiedCertainty = 0.1
			tb[model.SourceSMSParsed] = e
			return tb
		}(), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := new(mockLoader)
			l.On("LoadCertaintyTable", mock.Anything).Return(tt.table, tt.err)

			c := NewCalculator(l)
			assert.Equal(t, DefaultTable(), c.Table(context.Background()))
			assert.False(t, c.FromStore())
		})
	}
}

func TestCalculator_ResetAndReload(t *testing.T) {
	l := new(mockLoader)
	l.On("LoadCertaintyTable", mock.Anything).Return(nil, errors.New("down")).Once()
	l.On("LoadCertaintyTable", mock.Anything).Return(DefaultTable(), nil)

	c := NewCalculator(l)
	ctx := context.Background()
	c.Table(ctx)
	assert.False(t, c.FromStore())

	c.Reset()
	c.Table(ctx)
	assert.True(t, c.FromStore())

	c.Reload(ctx)
	l.AssertNumberOfCalls(t, "LoadCertaintyTable", 3)
}

func TestCheckCertification(t *testing.T) {
	c := NewCalculator(nil)
	ctx := context.Background()

	got := c.CheckCertification(ctx, model.SourceScreenshotOCR, []string{ProofLowTampering, ProofOCRConfidence70, ProofNameMatch})
	assert.True(t, got.IsCertified)
	assert.Empty(t, got.MissingRequirements)

	got = c.CheckCertification(ctx, model.SourceScreenshotOCR, []string{ProofNameMatch})
	assert.False(t, got.IsCertified)
	assert.Equal(t, []string{ProofOCRConfidence70, ProofLowTampering}, got.MissingRequirements)

	got = c.CheckCertification(ctx, "unknown", nil)
	assert.False(t, got.IsCertified)
}

func TestWeightedScore(t *testing.T) {
	c := NewCalculator(nil)
	ctx := context.Background()
	points := []model.CertifiedDataPoint{
		c.DataPoint(ctx, "income", "Monthly income", 80, model.SourceSMSParsed, true),
		c.DataPoint(ctx, "identity", "Identity", 100, model.SourceDeclared, false),
		c.DataPoint(ctx, "ignored", "No weight", 50, model.SourceAPIVerified, true),
	}
	weights := map[string]float64{"income": 3, "identity": 1}

	got := WeightedScore(points, weights)
	require.Len(t, got.Breakdown, 2)
	assert.InDelta(t, (3*80.0+100)/4, got.RawScore, 1e-9)
	assert.InDelta(t, (3*80*0.8+100*0.3)/4, got.CertifiedScore, 1e-9)
	assert.InDelta(t, (3*0.8+0.3)/4, got.OverallCertainty, 1e-9)
	assert.InDelta(t, 64.0, points[0].WeightedValue, 1e-9)

	empty := WeightedScore(points, nil)
	assert.Equal(t, 0.0, empty.RawScore)
	assert.Equal(t, 0.0, empty.CertifiedScore)
	assert.Empty(t, empty.Breakdown)
}

func TestTrustLevelFor(t *testing.T) {
	assert.Equal(t, model.TrustUnverified, TrustLevelFor(0))
	assert.Equal(t, model.TrustUnverified, TrustLevelFor(19.9))
	assert.Equal(t, model.TrustBasic, TrustLevelFor(20))
	assert.Equal(t, model.TrustVerified, TrustLevelFor(50))
	assert.Equal(t, model.TrustCertified, TrustLevelFor(70))
	assert.Equal(t, model.TrustGold, TrustLevelFor(90))
	assert.Equal(t, model.TrustGold, TrustLevelFor(100))
}

func TestActivityLevelFor(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	recent := now.AddDate(0, 0, -3)
	stale := now.AddDate(0, 0, -120)

	assert.Equal(t, model.ActivityDormant, ActivityLevelFor(80, &stale, now))
	assert.Equal(t, model.ActivityVeryHigh, ActivityLevelFor(80, &recent, now))
	assert.Equal(t, model.ActivityHigh, ActivityLevelFor(45, &recent, now))
	assert.Equal(t, model.ActivityMedium, ActivityLevelFor(12, &recent, now))
	assert.Equal(t, model.ActivityLow, ActivityLevelFor(3, &recent, now))
	assert.Equal(t, model.ActivityDormant, ActivityLevelFor(0, nil, now))
}

func TestFileTableStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "certainty.yaml")
	require.NoError(t, WriteTable(path, DefaultTable()))

	c := NewCalculator(&FileTableStore{Path: path})
	assert.Equal(t, DefaultTable(), c.Table(context.Background()))
	assert.True(t, c.FromStore())
}

func TestFileTableStore_MissingFile(t *testing.T) {
	fs := &FileTableStore{Path: filepath.Join(t.TempDir(), "nope.yaml")}
	_, err := fs.LoadCertaintyTable(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "certainty: read")
}

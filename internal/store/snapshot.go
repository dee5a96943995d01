package store

import (
	"time"

	"github.com/sells-group/phonetrust/internal/model"
)

const snapshotStatesQuery = `SELECT trust_level, COUNT(*), COALESCE(SUM(trust_score), 0),
	SUM(CASE WHEN score_stale THEN 1 ELSE 0 END),
	SUM(CASE WHEN multiple_users_detected THEN 1 ELSE 0 END),
	SUM(CASE WHEN otp_verified THEN 1 ELSE 0 END),
	SUM(CASE WHEN ussd_uploaded THEN 1 ELSE 0 END),
	SUM(CASE WHEN identity_cross_validated THEN 1 ELSE 0 END),
	SUM(CASE WHEN sms_consent_given THEN 1 ELSE 0 END)
FROM phone_trust_states GROUP BY trust_level`

// snapshotRow is one trust-level group of snapshotStatesQuery.
type snapshotRow struct {
	level    string
	count    int
	scoreSum float64
	stale    int
	multi    int
	otp      int
	ussd     int
	identity int
	sms      int
}

func (r *snapshotRow) dest() []any {
	return []any{&r.level, &r.count, &r.scoreSum, &r.stale, &r.multi, &r.otp, &r.ussd, &r.identity, &r.sms}
}

func newSnapshot(since time.Time) *Snapshot {
	return &Snapshot{
		StatesByLevel:   map[model.TrustLevel]int{},
		StagesCompleted: map[model.Stage]int{},
		Since:           since,
	}
}

func (s *Snapshot) add(r snapshotRow) {
	s.StatesTotal += r.count
	s.StatesByLevel[model.TrustLevel(r.level)] += r.count
	s.StaleScores += r.stale
	s.MultipleUsers += r.multi
	s.StagesCompleted[model.StageOTP] += r.otp
	s.StagesCompleted[model.StageUSSD] += r.ussd
	s.StagesCompleted[model.StageIdentity] += r.identity
	s.StagesCompleted[model.StageSMS] += r.sms
	s.AverageScore += r.scoreSum
}

// finish turns the accumulated score sum into a mean.
func (s *Snapshot) finish() {
	if s.StatesTotal > 0 {
		s.AverageScore /= float64(s.StatesTotal)
	} else {
		s.AverageScore = 0
	}
}

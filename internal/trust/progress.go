package trust

import "github.com/sells-group/phonetrust/internal/model"

var nextActions = map[model.Stage]string{
	model.StageOTP:      "Verify your phone number with the one-time code sent by SMS",
	model.StageUSSD:     "Upload a screenshot of your mobile money profile screen",
	model.StageIdentity: "Confirm that your ID card name matches your mobile money account",
	model.StageSMS:      "Allow analysis of your mobile money SMS history",
	model.StageComplete: "Validation complete",
}

// GetValidationProgress projects a state onto its progress. Every stage is
// worth 25 percent regardless of order; the current stage is the first
// incomplete one.
func GetValidationProgress(st *model.PhoneTrustState) model.ValidationProgress {
	p := model.ValidationProgress{
		CompletedStages: []model.Stage{},
		CurrentStage:    model.StageComplete,
		TrustScore:      st.TrustScore,
		TrustLevel:      st.TrustLevel,
		ScoreStale:      st.ScoreStale,
	}
	for _, stage := range model.Stages {
		if st.StageCompleted(stage) {
			p.CompletedStages = append(p.CompletedStages, stage)
			continue
		}
		if p.CurrentStage == model.StageComplete {
			p.CurrentStage = stage
		}
	}
	p.ProgressPercent = 25 * len(p.CompletedStages)
	p.NextAction = nextActions[p.CurrentStage]
	return p
}

package certainty

import (
	"context"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/phonetrust/internal/model"
)

// Proof identifiers accepted by CheckCertification.
const (
	ProofOTPVerified       = "otp_verified"
	ProofSMSConsent        = "sms_consent"
	ProofOCRConfidence70   = "ocr_confidence_70"
	ProofNameMatch         = "name_match"
	ProofLowTampering      = "low_tampering"
	ProofCNIMatch          = "cni_match"
	ProofUSSDMatch         = "ussd_match"
	ProofAPIResponseSigned = "api_response_signed"
	ProofPartnerSigned     = "partner_signed"
)

// DefaultTable returns the built-in certainty table. It is used whenever the
// configured store is unavailable or returns an unusable table.
func DefaultTable() model.CertaintyTable {
	return model.CertaintyTable{
		model.SourceDeclared: {
			SourceType:           model.SourceDeclared,
			Label:                "Declared by user",
			BaseCertainty:        0.3,
			CertifiedCertainty:   0.5,
			RequiredForCertified: []string{ProofOTPVerified},
		},
		model.SourceSMSParsed: {
			SourceType:           model.SourceSMSParsed,
			Label:                "Parsed from SMS history",
			BaseCertainty:        0.6,
			CertifiedCertainty:   0.8,
			RequiredForCertified: []string{ProofSMSConsent, ProofOTPVerified},
		},
		model.SourceScreenshotOCR: {
			SourceType:           model.SourceScreenshotOCR,
			Label:                "USSD screenshot OCR",
			BaseCertainty:        0.5,
			CertifiedCertainty:   0.85,
			RequiredForCertified: []string{ProofOCRConfidence70, ProofNameMatch, ProofLowTampering},
		},
		model.SourceCrossValidated: {
			SourceType:           model.SourceCrossValidated,
			Label:                "Cross-validated against identity document",
			BaseCertainty:        0.7,
			CertifiedCertainty:   0.95,
			RequiredForCertified: []string{ProofCNIMatch, ProofUSSDMatch},
		},
		model.SourceAPIVerified: {
			SourceType:           model.SourceAPIVerified,
			Label:                "Verified by operator API",
			BaseCertainty:        0.9,
			CertifiedCertainty:   1.0,
			RequiredForCertified: []string{ProofAPIResponseSigned},
		},
		model.SourcePartnerFeedback: {
			SourceType:           model.SourcePartnerFeedback,
			Label:                "Partner feedback",
			BaseCertainty:        0.8,
			CertifiedCertainty:   0.95,
			RequiredForCertified: []string{ProofPartnerSigned},
		},
	}
}

// Validate checks that a table covers every source type with coefficients in
// [0,1] and certified >= base.
func Validate(t model.CertaintyTable) error {
	if len(t) == 0 {
		return eris.New("certainty: empty table")
	}
	for _, st := range model.SourceTypes {
		e, ok := t[st]
		if !ok {
			return eris.Errorf("certainty: table missing source type %q", st)
		}
		if e.BaseCertainty < 0 || e.BaseCertainty > 1 || e.CertifiedCertainty < 0 || e.CertifiedCertainty > 1 {
			return eris.Errorf("certainty: %q coefficients outside [0,1]", st)
		}
		if e.CertifiedCertainty < e.BaseCertainty {
			return eris.Errorf("certainty: %q certified certainty below base", st)
		}
	}
	return nil
}

// FileTableStore loads a certainty table from a YAML file.
type FileTableStore struct {
	Path string
}

type tableFile struct {
	Sources []model.DataSourceCertainty `yaml:"sources"`
}

// LoadCertaintyTable reads and decodes the YAML file.
func (f *FileTableStore) LoadCertaintyTable(_ context.Context) (model.CertaintyTable, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, eris.Wrapf(err, "certainty: read %s", f.Path)
	}

	var tf tableFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, eris.Wrapf(err, "certainty: parse %s", f.Path)
	}

	table := make(model.CertaintyTable, len(tf.Sources))
	for _, s := range tf.Sources {
		if s.SourceType == "" {
			return nil, eris.Errorf("certainty: %s: entry without source_type", f.Path)
		}
		table[s.SourceType] = s
	}
	return table, nil
}

// WriteTable encodes a table in the format read by FileTableStore.
func WriteTable(path string, t model.CertaintyTable) error {
	tf := tableFile{}
	for _, st := range model.SourceTypes {
		if e, ok := t[st]; ok {
			tf.Sources = append(tf.Sources, e)
		}
	}
	data, err := yaml.Marshal(tf)
	if err != nil {
		return eris.Wrap(err, "certainty: encode table")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "certainty: write %s", path)
	}
	return nil
}

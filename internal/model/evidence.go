package model

import "time"

// SMSMessage is one raw message read from the device inbox.
type SMSMessage struct {
	ID     string    `json:"id"`
	Sender string    `json:"sender"`
	Body   string    `json:"body"`
	Date   time.Time `json:"date"`
	Read   bool      `json:"read"`
}

// ParsedSMS is the output of the single-message parser.
type ParsedSMS struct {
	Provider     string          `json:"provider"`
	Type         TransactionType `json:"type"`
	Amount       float64         `json:"amount"`
	Currency     string          `json:"currency"`
	BalanceAfter *float64        `json:"balance_after,omitempty"`
	Counterparty string          `json:"counterparty,omitempty"`
	Reference    string          `json:"reference,omitempty"`
	Confidence   float64         `json:"confidence"`
}

// ExtractedTransaction is a financial event derived from one SMS.
type ExtractedTransaction struct {
	ID           string          `json:"id,omitempty"`
	MessageID    string          `json:"message_id,omitempty"`
	Provider     string          `json:"provider"`
	Type         TransactionType `json:"type"`
	Amount       float64         `json:"amount"`
	Currency     string          `json:"currency"`
	BalanceAfter *float64        `json:"balance_after,omitempty"`
	Counterparty string          `json:"counterparty,omitempty"`
	Reference    string          `json:"reference,omitempty"`
	Date         time.Time       `json:"date"`
	Confidence   float64         `json:"confidence"`
	SourceType   SourceType      `json:"source_type"`
}

// UtilityBill is a recurring bill observed in SMS history.
type UtilityBill struct {
	ID         string        `json:"id,omitempty"`
	MessageID  string        `json:"message_id,omitempty"`
	Type       UtilityType   `json:"type"`
	Provider   string        `json:"provider"`
	Amount     float64       `json:"amount"`
	BillDate   *time.Time    `json:"bill_date,omitempty"`
	PaidDate   *time.Time    `json:"paid_date,omitempty"`
	Status     PaymentStatus `json:"status"`
	Reference  string        `json:"reference,omitempty"`
	Confidence float64       `json:"confidence"`
}

// TransactionSummary aggregates parsed transactions.
type TransactionSummary struct {
	TotalCredits       float64    `json:"total_credits"`
	TotalDebits        float64    `json:"total_debits"`
	CreditCount        int        `json:"credit_count"`
	DebitCount         int        `json:"debit_count"`
	TransactionCount   int        `json:"transaction_count"`
	AverageTransaction float64    `json:"average_transaction"`
	Providers          []string   `json:"providers"`
	LatestBalance      *float64   `json:"latest_balance,omitempty"`
	ActivityFrequency  string     `json:"activity_frequency"`
	OldestTransaction  *time.Time `json:"oldest_transaction,omitempty"`
	LatestTransaction  *time.Time `json:"latest_transaction,omitempty"`
}

// ProcessingStats reports extraction volume and timing.
type ProcessingStats struct {
	TotalMessages     int   `json:"total_messages"`
	ParsedCount       int   `json:"parsed_count"`
	UtilityBillsFound int   `json:"utility_bills_found"`
	DurationMs        int64 `json:"duration_ms"`
}

// ExtractionResult is the output of SMS history extraction.
type ExtractionResult struct {
	Transactions    []ExtractedTransaction `json:"transactions"`
	UtilityBills    []UtilityBill          `json:"utility_bills"`
	Summary         TransactionSummary     `json:"summary"`
	PhoneAgeMonths  *int                   `json:"phone_age_months,omitempty"`
	ProcessingStats ProcessingStats        `json:"processing_stats"`
}

// NameMatchResult is the cross-check of an extracted name against a declared
// identity document name.
type NameMatchResult struct {
	CNIName    string     `json:"cni_name"`
	Score      int        `json:"score"`
	Confidence Confidence `json:"confidence"`
	IsMatch    bool       `json:"is_match"`
	Details    []string   `json:"details"`
}

// USSDScreenshotResult is the evaluation of one uploaded screenshot.
type USSDScreenshotResult struct {
	Provider             Provider         `json:"provider"`
	ScreenType           ScreenType       `json:"screen_type"`
	ExtractedName        *string          `json:"extracted_name,omitempty"`
	ExtractedPhone       *string          `json:"extracted_phone,omitempty"`
	ExtractedBalance     *float64         `json:"extracted_balance,omitempty"`
	AccountStatus        *string          `json:"account_status,omitempty"`
	OCRConfidence        float64          `json:"ocr_confidence"`
	TamperingProbability int              `json:"tampering_probability"`
	UIAuthenticityScore  int              `json:"ui_authenticity_score"`
	NameMatch            *NameMatchResult `json:"name_match,omitempty"`
	OCRText              string           `json:"ocr_text"`
	ProcessingTimeMs     int64            `json:"processing_time_ms"`
}

// Certification is the verdict on whether a screenshot can certify data.
type Certification struct {
	CanCertify bool     `json:"can_certify"`
	Score      int      `json:"score"`
	Reasons    []string `json:"reasons"`
}

// ScreenshotValidation is the audit row written for every processed
// screenshot. It never carries image bytes.
type ScreenshotValidation struct {
	ID            string               `json:"id"`
	PhoneNumber   string               `json:"phone_number"`
	UserID        string               `json:"user_id"`
	ImageHash     string               `json:"image_hash"`
	Result        USSDScreenshotResult `json:"result"`
	Certification Certification        `json:"certification"`
	CreatedAt     time.Time            `json:"created_at"`
}

package models

import (
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// StagedRow carries the bookkeeping columns every staged file row has.
type StagedRow struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	SubmissionID uuid.UUID `gorm:"type:uuid;index;not null" json:"submission_id"`
	JobID        uuid.UUID `gorm:"type:uuid;index;not null" json:"job_id"`
	RowNumber    int       `gorm:"column:row_number;index;not null" json:"row_number"`
	// RawValues keeps the submitted text of cells whose typed value renders
	// differently, e.g. "1,000.50" staged as 1000.5.
	RawValues datatypes.JSONMap `gorm:"column:raw_values;type:json" json:"raw_values,omitempty"`
}

// TAS is the treasury account symbol component set shared by A, B and C.
// DisplayTAS is computed on load.
type TAS struct {
	AllocationTransferAgency      string `gorm:"column:allocation_transfer_agency;type:text" json:"allocation_transfer_agency"`
	AgencyIdentifier              string `gorm:"column:agency_identifier;type:text" json:"agency_identifier"`
	BeginningPeriodOfAvailability string `gorm:"column:beginning_period_of_availa;type:text" json:"beginning_period_of_availa"`
	EndingPeriodOfAvailability    string `gorm:"column:ending_period_of_availabil;type:text" json:"ending_period_of_availabil"`
	AvailabilityTypeCode          string `gorm:"column:availability_type_code;type:text" json:"availability_type_code"`
	MainAccountCode               string `gorm:"column:main_account_code;type:text" json:"main_account_code"`
	SubAccountCode                string `gorm:"column:sub_account_code;type:text" json:"sub_account_code"`
	DisplayTAS                    string `gorm:"column:display_tas;type:text;index" json:"display_tas"`
}

// TASComponents lists the TAS columns in display order.
var TASComponents = []string{
	"allocation_transfer_agency",
	"agency_identifier",
	"beginning_period_of_availa",
	"ending_period_of_availabil",
	"availability_type_code",
	"main_account_code",
	"sub_account_code",
}

// DisplayTAS renders the TAS components the way the treasury displays them:
// ATA-AID-BPOA/EPOA-MAIN-SUB, or ATA-AID-X-MAIN-SUB for no-year accounts.
// Blank leading components are omitted.
func DisplayTAS(ata, aid, bpoa, epoa, atc, main, sub string) string {
	var parts []string
	for _, p := range []string{ata, aid} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}

	if strings.EqualFold(strings.TrimSpace(atc), "X") {
		parts = append(parts, "X")
	} else if bpoa, epoa = strings.TrimSpace(bpoa), strings.TrimSpace(epoa); bpoa != "" || epoa != "" {
		parts = append(parts, bpoa+"/"+epoa)
	}

	if main = strings.TrimSpace(main); main != "" {
		parts = append(parts, main)
	}
	if sub = strings.TrimSpace(sub); sub != "" {
		parts = append(parts, sub)
	}
	return strings.ToUpper(strings.Join(parts, "-"))
}

// DisplayTASFromValues computes DisplayTAS from a staged value map.
func DisplayTASFromValues(values map[string]interface{}) string {
	get := func(k string) string {
		if s, ok := values[k].(string); ok {
			return s
		}
		return ""
	}
	return DisplayTAS(
		get("allocation_transfer_agency"),
		get("agency_identifier"),
		get("beginning_period_of_availa"),
		get("ending_period_of_availabil"),
		get("availability_type_code"),
		get("main_account_code"),
		get("sub_account_code"),
	)
}

// USSGLBalances are the downward adjustment and order balances reported on
// B and C.
type USSGLBalances struct {
	USSGL480100 *float64 `gorm:"column:ussgl480100_undelivered_or_cpe" json:"ussgl480100_undelivered_or_cpe"`
	USSGL490100 *float64 `gorm:"column:ussgl490100_delivered_orde_cpe" json:"ussgl490100_delivered_orde_cpe"`
	USSGL487100 *float64 `gorm:"column:ussgl487100_downward_adjus_cpe" json:"ussgl487100_downward_adjus_cpe"`
	USSGL497100 *float64 `gorm:"column:ussgl497100_downward_adjus_cpe" json:"ussgl497100_downward_adjus_cpe"`
	USSGL487200 *float64 `gorm:"column:ussgl487200_downward_adjus_cpe" json:"ussgl487200_downward_adjus_cpe"`
	USSGL497200 *float64 `gorm:"column:ussgl497200_downward_adjus_cpe" json:"ussgl497200_downward_adjus_cpe"`
}

// Appropriation is a staged file A row.
type Appropriation struct {
	StagedRow
	TAS
	BudgetAuthorityUnobligatedFYB  *float64 `gorm:"column:budget_authority_unobligat_fyb" json:"budget_authority_unobligat_fyb"`
	AdjustmentsToUnobligatedCPE    *float64 `gorm:"column:adjustments_to_unobligated_cpe" json:"adjustments_to_unobligated_cpe"`
	BudgetAuthorityAppropriatedCPE *float64 `gorm:"column:budget_authority_appropria_cpe" json:"budget_authority_appropria_cpe"`
	BorrowingAuthorityCPE          *float64 `gorm:"column:borrowing_authority_amount_cpe" json:"borrowing_authority_amount_cpe"`
	ContractAuthorityCPE           *float64 `gorm:"column:contract_authority_amount_cpe" json:"contract_authority_amount_cpe"`
	SpendingAuthorityCPE           *float64 `gorm:"column:spending_authority_from_of_cpe" json:"spending_authority_from_of_cpe"`
	OtherBudgetaryResourcesCPE     *float64 `gorm:"column:other_budgetary_resources_cpe" json:"other_budgetary_resources_cpe"`
	TotalBudgetaryResourcesCPE     *float64 `gorm:"column:total_budgetary_resources_cpe" json:"total_budgetary_resources_cpe"`
	GrossOutlayAmountCPE           *float64 `gorm:"column:gross_outlay_amount_by_tas_cpe" json:"gross_outlay_amount_by_tas_cpe"`
	ObligationsIncurredCPE         *float64 `gorm:"column:obligations_incurred_total_cpe" json:"obligations_incurred_total_cpe"`
	DeobligationsRecoveriesCPE     *float64 `gorm:"column:deobligations_recoveries_r_cpe" json:"deobligations_recoveries_r_cpe"`
	UnobligatedBalanceCPE          *float64 `gorm:"column:unobligated_balance_cpe" json:"unobligated_balance_cpe"`
	StatusOfBudgetaryResourcesCPE  *float64 `gorm:"column:status_of_budgetary_resour_cpe" json:"status_of_budgetary_resour_cpe"`
}

func (Appropriation) TableName() string {
	return "appropriation"
}

// ObjectClassProgramActivity is a staged file B row.
type ObjectClassProgramActivity struct {
	StagedRow
	TAS
	USSGLBalances
	ObjectClass                string   `gorm:"column:object_class;type:text" json:"object_class"`
	ProgramActivityCode        string   `gorm:"column:program_activity_code;type:text" json:"program_activity_code"`
	ProgramActivityName        string   `gorm:"column:program_activity_name;type:text" json:"program_activity_name"`
	ByDirectReimbursable       string   `gorm:"column:by_direct_reimbursable_fun;type:text" json:"by_direct_reimbursable_fun"`
	DisasterEmergencyFundCode  string   `gorm:"column:disaster_emergency_fund_code;type:text" json:"disaster_emergency_fund_code"`
	PriorYearAdjustment        string   `gorm:"column:prior_year_adjustment;type:text" json:"prior_year_adjustment"`
	GrossOutlayAmountCPE       *float64 `gorm:"column:gross_outlay_amount_by_pro_cpe" json:"gross_outlay_amount_by_pro_cpe"`
	ObligationsIncurredCPE     *float64 `gorm:"column:obligations_incurred_by_pr_cpe" json:"obligations_incurred_by_pr_cpe"`
	DeobligationsRecoveriesCPE *float64 `gorm:"column:deobligations_recov_by_pro_cpe" json:"deobligations_recov_by_pro_cpe"`
}

func (ObjectClassProgramActivity) TableName() string {
	return "object_class_program_activity"
}

// AwardFinancial is a staged file C row.
type AwardFinancial struct {
	StagedRow
	TAS
	USSGLBalances
	ObjectClass                 string   `gorm:"column:object_class;type:text" json:"object_class"`
	ProgramActivityCode         string   `gorm:"column:program_activity_code;type:text" json:"program_activity_code"`
	ProgramActivityName         string   `gorm:"column:program_activity_name;type:text" json:"program_activity_name"`
	ByDirectReimbursable        string   `gorm:"column:by_direct_reimbursable_fun;type:text" json:"by_direct_reimbursable_fun"`
	DisasterEmergencyFundCode   string   `gorm:"column:disaster_emergency_fund_code;type:text" json:"disaster_emergency_fund_code"`
	PriorYearAdjustment         string   `gorm:"column:prior_year_adjustment;type:text" json:"prior_year_adjustment"`
	PIID                        string   `gorm:"column:piid;type:text;index" json:"piid"`
	ParentAwardID               string   `gorm:"column:parent_award_id;type:text" json:"parent_award_id"`
	FAIN                        string   `gorm:"column:fain;type:text;index" json:"fain"`
	URI                         string   `gorm:"column:uri;type:text;index" json:"uri"`
	GeneralLedgerPostDate       string   `gorm:"column:general_ledger_post_date;type:text" json:"general_ledger_post_date"`
	TransactionObligatedAmount  *float64 `gorm:"column:transaction_obligated_amou" json:"transaction_obligated_amou"`
	GrossOutlayAmountByAwardCPE *float64 `gorm:"column:gross_outlay_amount_by_awa_cpe" json:"gross_outlay_amount_by_awa_cpe"`
}

func (AwardFinancial) TableName() string {
	return "award_financial"
}

// AwardProcurement is a staged file D1 row.
type AwardProcurement struct {
	StagedRow
	PIID                      string   `gorm:"column:piid;type:text;index" json:"piid"`
	ParentAwardID             string   `gorm:"column:parent_award_id;type:text" json:"parent_award_id"`
	AwardModificationAmendme  string   `gorm:"column:award_modification_amendme;type:text" json:"award_modification_amendme"`
	AwardingSubTierAgencyCode string   `gorm:"column:awarding_sub_tier_agency_c;type:text" json:"awarding_sub_tier_agency_c"`
	AwardingOfficeCode        string   `gorm:"column:awarding_office_code;type:text" json:"awarding_office_code"`
	FundingSubTierAgencyCode  string   `gorm:"column:funding_sub_tier_agency_co;type:text" json:"funding_sub_tier_agency_co"`
	ActionDate                string   `gorm:"column:action_date;type:text" json:"action_date"`
	FederalActionObligation   *float64 `gorm:"column:federal_action_obligation" json:"federal_action_obligation"`
	UEI                       string   `gorm:"column:awardee_or_recipient_uei;type:text" json:"awardee_or_recipient_uei"`
	AwardeeOrRecipientLegal   string   `gorm:"column:awardee_or_recipient_legal;type:text" json:"awardee_or_recipient_legal"`
	LegalEntityCountryCode    string   `gorm:"column:legal_entity_country_code;type:text" json:"legal_entity_country_code"`
	PlaceOfPerformanceZip4a   string   `gorm:"column:place_of_performance_zip4a;type:text" json:"place_of_performance_zip4a"`
}

func (AwardProcurement) TableName() string {
	return "award_procurement"
}

// AwardFinancialAssistance is a staged file D2 row.
type AwardFinancialAssistance struct {
	StagedRow
	FAIN                      string   `gorm:"column:fain;type:text;index" json:"fain"`
	URI                       string   `gorm:"column:uri;type:text;index" json:"uri"`
	AwardModificationAmendme  string   `gorm:"column:award_modification_amendme;type:text" json:"award_modification_amendme"`
	AwardingSubTierAgencyCode string   `gorm:"column:awarding_sub_tier_agency_c;type:text" json:"awarding_sub_tier_agency_c"`
	ActionDate                string   `gorm:"column:action_date;type:text" json:"action_date"`
	FederalActionObligation   *float64 `gorm:"column:federal_action_obligation" json:"federal_action_obligation"`
	AssistanceType            string   `gorm:"column:assistance_type;type:text" json:"assistance_type"`
	RecordType                *int     `gorm:"column:record_type" json:"record_type"`
	CFDANumber                string   `gorm:"column:cfda_number;type:text" json:"cfda_number"`
	UEI                       string   `gorm:"column:awardee_or_recipient_uei;type:text" json:"awardee_or_recipient_uei"`
}

func (AwardFinancialAssistance) TableName() string {
	return "award_financial_assistance"
}

// StagingTable returns the staging model for a file type, or nil when the
// file type is not staged.
func StagingTable(ft FileType) interface{} {
	switch ft {
	case FileTypeAppropriations:
		return &Appropriation{}
	case FileTypeProgramActivity:
		return &ObjectClassProgramActivity{}
	case FileTypeAwardFinancial:
		return &AwardFinancial{}
	case FileTypeAwardProcurement:
		return &AwardProcurement{}
	case FileTypeAward:
		return &AwardFinancialAssistance{}
	case FileTypeFABS:
		return &FABS{}
	}
	return nil
}

// StagingTableName returns the table that holds staged rows of a file type.
func StagingTableName(ft FileType) string {
	switch ft {
	case FileTypeAppropriations:
		return Appropriation{}.TableName()
	case FileTypeProgramActivity:
		return ObjectClassProgramActivity{}.TableName()
	case FileTypeAwardFinancial:
		return AwardFinancial{}.TableName()
	case FileTypeAwardProcurement:
		return AwardProcurement{}.TableName()
	case FileTypeAward:
		return AwardFinancialAssistance{}.TableName()
	case FileTypeFABS:
		return FABS{}.TableName()
	}
	return ""
}

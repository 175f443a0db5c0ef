package models

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FABSFields are the columns an agency submits on a FABS file.
type FABSFields struct {
	ActionDate                 string   `gorm:"column:action_date;type:text" json:"action_date"`
	ActionType                 string   `gorm:"column:action_type;type:text" json:"action_type"`
	AssistanceType             string   `gorm:"column:assistance_type;type:text" json:"assistance_type"`
	AwardDescription           string   `gorm:"column:award_description;type:text" json:"award_description"`
	AwardModificationAmendme   string   `gorm:"column:award_modification_amendme;type:text" json:"award_modification_amendme"`
	AwardeeOrRecipientLegal    string   `gorm:"column:awardee_or_recipient_legal;type:text" json:"awardee_or_recipient_legal"`
	UEI                        string   `gorm:"column:uei;type:text;index" json:"uei"`
	AwardingOfficeCode         string   `gorm:"column:awarding_office_code;type:text" json:"awarding_office_code"`
	AwardingSubTierAgencyCode  string   `gorm:"column:awarding_sub_tier_agency_c;type:text;index" json:"awarding_sub_tier_agency_c"`
	BusinessFundsIndicator     string   `gorm:"column:business_funds_indicator;type:text" json:"business_funds_indicator"`
	BusinessTypes              string   `gorm:"column:business_types;type:text" json:"business_types"`
	CFDANumber                 string   `gorm:"column:cfda_number;type:text" json:"cfda_number"`
	CorrectionDeleteIndicator  string   `gorm:"column:correction_delete_indicatr;type:text" json:"correction_delete_indicatr"`
	FaceValueLoanGuarantee     *float64 `gorm:"column:face_value_loan_guarantee" json:"face_value_loan_guarantee"`
	FAIN                       string   `gorm:"column:fain;type:text;index" json:"fain"`
	FederalActionObligation    *float64 `gorm:"column:federal_action_obligation" json:"federal_action_obligation"`
	FundingOfficeCode          string   `gorm:"column:funding_office_code;type:text" json:"funding_office_code"`
	FundingOpportunityNumber   string   `gorm:"column:funding_opportunity_number;type:text" json:"funding_opportunity_number"`
	FundingSubTierAgencyCode   string   `gorm:"column:funding_sub_tier_agency_co;type:text" json:"funding_sub_tier_agency_co"`
	IndirectFederalSharing     *float64 `gorm:"column:indirect_federal_sharing" json:"indirect_federal_sharing"`
	LegalEntityAddressLine1    string   `gorm:"column:legal_entity_address_line1;type:text" json:"legal_entity_address_line1"`
	LegalEntityAddressLine2    string   `gorm:"column:legal_entity_address_line2;type:text" json:"legal_entity_address_line2"`
	LegalEntityCongressional   string   `gorm:"column:legal_entity_congressional;type:text" json:"legal_entity_congressional"`
	LegalEntityCountryCode     string   `gorm:"column:legal_entity_country_code;type:text" json:"legal_entity_country_code"`
	LegalEntityForeignCity     string   `gorm:"column:legal_entity_foreign_city;type:text" json:"legal_entity_foreign_city"`
	LegalEntityForeignPostal   string   `gorm:"column:legal_entity_foreign_posta;type:text" json:"legal_entity_foreign_posta"`
	LegalEntityForeignProvince string   `gorm:"column:legal_entity_foreign_provi;type:text" json:"legal_entity_foreign_provi"`
	LegalEntityZip5            string   `gorm:"column:legal_entity_zip5;type:text" json:"legal_entity_zip5"`
	LegalEntityZipLast4        string   `gorm:"column:legal_entity_zip_last4;type:text" json:"legal_entity_zip_last4"`
	NonFederalFundingAmount    *float64 `gorm:"column:non_federal_funding_amount" json:"non_federal_funding_amount"`
	OriginalLoanSubsidyCost    *float64 `gorm:"column:original_loan_subsidy_cost" json:"original_loan_subsidy_cost"`
	PeriodOfPerformanceCurr    string   `gorm:"column:period_of_performance_curr;type:text" json:"period_of_performance_curr"`
	PeriodOfPerformanceStar    string   `gorm:"column:period_of_performance_star;type:text" json:"period_of_performance_star"`
	PlaceOfPerformanceCode     string   `gorm:"column:place_of_performance_code;type:text" json:"place_of_performance_code"`
	PlaceOfPerformanceCongr    string   `gorm:"column:place_of_performance_congr;type:text" json:"place_of_performance_congr"`
	PlaceOfPerformanceCountry  string   `gorm:"column:place_of_perform_country_c;type:text" json:"place_of_perform_country_c"`
	PlaceOfPerformanceForeign  string   `gorm:"column:place_of_performance_forei;type:text" json:"place_of_performance_forei"`
	PlaceOfPerformanceZip4a    string   `gorm:"column:place_of_performance_zip4a;type:text" json:"place_of_performance_zip4a"`
	RecordType                 *int     `gorm:"column:record_type" json:"record_type"`
	SAINumber                  string   `gorm:"column:sai_number;type:text" json:"sai_number"`
	URI                        string   `gorm:"column:uri;type:text;index" json:"uri"`
}

// RecordTypeValue returns the record type or 0 when absent.
func (f FABSFields) RecordTypeValue() int {
	if f.RecordType == nil {
		return 0
	}
	return *f.RecordType
}

// CDI returns the upper-cased correction/delete indicator.
func (f FABSFields) CDI() string {
	return strings.ToUpper(strings.TrimSpace(f.CorrectionDeleteIndicator))
}

// Key returns the composite uniqueness key of the row.
func (f FABSFields) Key() string {
	return UniqueKey(f.FAIN, f.AwardModificationAmendme, f.URI, f.CFDANumber, f.AwardingSubTierAgencyCode)
}

// FABS is a staged FABS row.
type FABS struct {
	StagedRow
	FABSFields
	// AFAGeneratedUnique is the normalised composite key, computed on load.
	AFAGeneratedUnique string `gorm:"column:afa_generated_unique;type:text;index" json:"afa_generated_unique"`
}

func (FABS) TableName() string {
	return "fabs"
}

// FABSDerived are the columns the derivation pipeline fills on publication.
type FABSDerived struct {
	TotalFundingAmount            *float64 `gorm:"column:total_funding_amount" json:"total_funding_amount"`
	CFDATitle                     string   `gorm:"column:cfda_title;type:text" json:"cfda_title"`
	AwardingAgencyCode            string   `gorm:"column:awarding_agency_code;type:text" json:"awarding_agency_code"`
	AwardingAgencyName            string   `gorm:"column:awarding_agency_name;type:text" json:"awarding_agency_name"`
	AwardingSubTierAgencyName     string   `gorm:"column:awarding_sub_tier_agency_n;type:text" json:"awarding_sub_tier_agency_n"`
	AwardingOfficeName            string   `gorm:"column:awarding_office_name;type:text" json:"awarding_office_name"`
	FundingAgencyCode             string   `gorm:"column:funding_agency_code;type:text" json:"funding_agency_code"`
	FundingAgencyName             string   `gorm:"column:funding_agency_name;type:text" json:"funding_agency_name"`
	FundingSubTierAgencyName      string   `gorm:"column:funding_sub_tier_agency_na;type:text" json:"funding_sub_tier_agency_na"`
	FundingOfficeName             string   `gorm:"column:funding_office_name;type:text" json:"funding_office_name"`
	PlaceOfPerformanceStateCode   string   `gorm:"column:place_of_perfor_state_code;type:text" json:"place_of_perfor_state_code"`
	PlaceOfPerformanceStateName   string   `gorm:"column:place_of_perform_state_nam;type:text" json:"place_of_perform_state_nam"`
	PlaceOfPerformanceZip5        string   `gorm:"column:place_of_performance_zip5;type:text" json:"place_of_performance_zip5"`
	PlaceOfPerformanceZipLast4    string   `gorm:"column:place_of_perform_zip_last4;type:text" json:"place_of_perform_zip_last4"`
	PlaceOfPerformanceCountyCode  string   `gorm:"column:place_of_perform_county_co;type:text" json:"place_of_perform_county_co"`
	PlaceOfPerformanceCountyName  string   `gorm:"column:place_of_perform_county_na;type:text" json:"place_of_perform_county_na"`
	PlaceOfPerformanceCity        string   `gorm:"column:place_of_performance_city;type:text" json:"place_of_performance_city"`
	PlaceOfPerformanceCountryName string   `gorm:"column:place_of_perform_country_n;type:text" json:"place_of_perform_country_n"`
	PlaceOfPerformanceScope       string   `gorm:"column:place_of_performance_scope;type:text" json:"place_of_performance_scope"`
	LegalEntityStateCode          string   `gorm:"column:legal_entity_state_code;type:text" json:"legal_entity_state_code"`
	LegalEntityStateName          string   `gorm:"column:legal_entity_state_name;type:text" json:"legal_entity_state_name"`
	LegalEntityCountyCode         string   `gorm:"column:legal_entity_county_code;type:text" json:"legal_entity_county_code"`
	LegalEntityCountyName         string   `gorm:"column:legal_entity_county_name;type:text" json:"legal_entity_county_name"`
	LegalEntityCityName           string   `gorm:"column:legal_entity_city_name;type:text" json:"legal_entity_city_name"`
	LegalEntityCityCode           string   `gorm:"column:legal_entity_city_code;type:text" json:"legal_entity_city_code"`
	LegalEntityCountryName        string   `gorm:"column:legal_entity_country_name;type:text" json:"legal_entity_country_name"`
	UltimateParentUEI             string   `gorm:"column:ultimate_parent_uei;type:text" json:"ultimate_parent_uei"`
	UltimateParentLegalName       string   `gorm:"column:ultimate_parent_legal_enti;type:text" json:"ultimate_parent_legal_enti"`
	HighCompOfficer1FullName      string   `gorm:"column:high_comp_officer1_full_na;type:text" json:"high_comp_officer1_full_na"`
	HighCompOfficer1Amount        *float64 `gorm:"column:high_comp_officer1_amount" json:"high_comp_officer1_amount"`
	HighCompOfficer2FullName      string   `gorm:"column:high_comp_officer2_full_na;type:text" json:"high_comp_officer2_full_na"`
	HighCompOfficer2Amount        *float64 `gorm:"column:high_comp_officer2_amount" json:"high_comp_officer2_amount"`
	HighCompOfficer3FullName      string   `gorm:"column:high_comp_officer3_full_na;type:text" json:"high_comp_officer3_full_na"`
	HighCompOfficer3Amount        *float64 `gorm:"column:high_comp_officer3_amount" json:"high_comp_officer3_amount"`
	HighCompOfficer4FullName      string   `gorm:"column:high_comp_officer4_full_na;type:text" json:"high_comp_officer4_full_na"`
	HighCompOfficer4Amount        *float64 `gorm:"column:high_comp_officer4_amount" json:"high_comp_officer4_amount"`
	HighCompOfficer5FullName      string   `gorm:"column:high_comp_officer5_full_na;type:text" json:"high_comp_officer5_full_na"`
	HighCompOfficer5Amount        *float64 `gorm:"column:high_comp_officer5_amount" json:"high_comp_officer5_amount"`
	ActionTypeDescription         string   `gorm:"column:action_type_description;type:text" json:"action_type_description"`
	AssistanceTypeDescription     string   `gorm:"column:assistance_type_desc;type:text" json:"assistance_type_desc"`
	CorrectionDeleteDescription   string   `gorm:"column:correction_delete_ind_desc;type:text" json:"correction_delete_ind_desc"`
	RecordTypeDescription         string   `gorm:"column:record_type_description;type:text" json:"record_type_description"`
	BusinessFundsDescription      string   `gorm:"column:business_funds_ind_desc;type:text" json:"business_funds_ind_desc"`
	BusinessTypesDescription      string   `gorm:"column:business_types_desc;type:text" json:"business_types_desc"`
	BusinessCategories            string   `gorm:"column:business_categories;type:text" json:"business_categories"`
}

// PublishedFABS is an assistance row promoted from staging on publication.
type PublishedFABS struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	SubmissionID uuid.UUID `gorm:"type:uuid;index;not null" json:"submission_id"`
	RowNumber    int       `gorm:"column:row_number;not null" json:"row_number"`
	FABSFields
	FABSDerived
	AFAGeneratedUnique string     `gorm:"column:afa_generated_unique;type:text;index" json:"afa_generated_unique"`
	UniqueAwardKey     string     `gorm:"column:unique_award_key;type:text;index" json:"unique_award_key"`
	IsActive           bool       `gorm:"column:is_active;index;not null;default:false" json:"is_active"`
	CreatedAt          time.Time  `gorm:"not null" json:"created_at"`
	ModifiedAt         *time.Time `gorm:"column:modified_at" json:"modified_at,omitempty"`
}

func (PublishedFABS) TableName() string {
	return "published_fabs"
}

// keySeparator cannot appear in a normalised key component.
const keySeparator = "\x1f"

// UniqueKey normalises the (FAIN, modification, URI, CFDA, sub-tier) tuple:
// each component is trimmed and upper-cased, and components are joined with
// a separator that is stripped from the components first.
func UniqueKey(components ...string) string {
	parts := make([]string, len(components))
	for i, c := range components {
		c = strings.ReplaceAll(c, keySeparator, "")
		parts[i] = strings.ToUpper(strings.TrimSpace(c))
	}
	return strings.Join(parts, keySeparator)
}

// UniqueAwardKey builds the award level key: ASST_NON_<FAIN>_<SUBTIER> for
// non-aggregate records and ASST_AGG_<URI>_<SUBTIER> for aggregates.
func UniqueAwardKey(f FABSFields) string {
	subTier := strings.TrimSpace(f.AwardingSubTierAgencyCode)
	if subTier == "" {
		subTier = "-NONE-"
	}
	if f.RecordTypeValue() == 1 {
		return strings.ToUpper("ASST_AGG_" + orNone(f.URI) + "_" + subTier)
	}
	return strings.ToUpper("ASST_NON_" + orNone(f.FAIN) + "_" + subTier)
}

func orNone(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return "-NONE-"
	}
	return s
}

// FormatRecordType renders a record type for labels and reports.
func FormatRecordType(rt *int) string {
	if rt == nil {
		return ""
	}
	return strconv.Itoa(*rt)
}

package models

import "time"

type State struct {
	Code     string `gorm:"primaryKey;type:text" json:"code"`
	Name     string `gorm:"type:text;not null" json:"name"`
	FIPSCode string `gorm:"type:text" json:"fips_code,omitempty"`
}

func (State) TableName() string {
	return "states"
}

type CountyCode struct {
	ID           uint   `gorm:"primaryKey" json:"id"`
	StateCode    string `gorm:"type:text;index;not null" json:"state_code"`
	CountyNumber string `gorm:"type:text;not null" json:"county_number"`
	CountyName   string `gorm:"type:text;not null" json:"county_name"`
}

func (CountyCode) TableName() string {
	return "county_code"
}

type Zip struct {
	ID                    uint   `gorm:"primaryKey" json:"id"`
	Zip5                  string `gorm:"type:text;index;not null" json:"zip5"`
	ZipLast4              string `gorm:"type:text" json:"zip_last4,omitempty"`
	StateCode             string `gorm:"type:text;not null" json:"state_code"`
	CountyNumber          string `gorm:"type:text" json:"county_number,omitempty"`
	CongressionalDistrict string `gorm:"type:text" json:"congressional_district,omitempty"`
}

func (Zip) TableName() string {
	return "zips"
}

type ZipCity struct {
	Zip5     string `gorm:"primaryKey;type:text" json:"zip5"`
	CityName string `gorm:"type:text;not null" json:"city_name"`
}

func (ZipCity) TableName() string {
	return "zip_city"
}

type CityCode struct {
	ID           uint   `gorm:"primaryKey" json:"id"`
	StateCode    string `gorm:"type:text;index;not null" json:"state_code"`
	CityCode     string `gorm:"type:text;not null" json:"city_code"`
	FeatureName  string `gorm:"type:text;not null" json:"feature_name"`
	CountyNumber string `gorm:"type:text" json:"county_number,omitempty"`
	CountyName   string `gorm:"type:text" json:"county_name,omitempty"`
}

func (CityCode) TableName() string {
	return "city_code"
}

type CountryCode struct {
	Code      string `gorm:"primaryKey;type:text" json:"code"`
	Name      string `gorm:"type:text;not null" json:"name"`
	Territory bool   `gorm:"not null;default:false" json:"territory"`
}

func (CountryCode) TableName() string {
	return "country_code"
}

// CFDAProgram is an assistance listing. Archived programs remain valid for
// actions dated before the archive date.
type CFDAProgram struct {
	ProgramNumber string     `gorm:"primaryKey;type:text" json:"program_number"`
	ProgramTitle  string     `gorm:"type:text" json:"program_title"`
	PublishedDate *time.Time `json:"published_date,omitempty"`
	ArchivedDate  *time.Time `json:"archived_date,omitempty"`
}

func (CFDAProgram) TableName() string {
	return "cfda_program"
}

// Office is a federal hierarchy office with its capability flags and
// effective window.
type Office struct {
	Code                       string     `gorm:"primaryKey;type:text" json:"code"`
	Name                       string     `gorm:"type:text" json:"name"`
	SubTierCode                string     `gorm:"type:text;index" json:"sub_tier_code"`
	AgencyCode                 string     `gorm:"type:text" json:"agency_code"`
	FinancialAssistanceAwards  bool       `gorm:"not null;default:false" json:"financial_assistance_awards_office"`
	FinancialAssistanceFunding bool       `gorm:"not null;default:false" json:"financial_assistance_funding_office"`
	ContractFunding            bool       `gorm:"not null;default:false" json:"contract_funding_office"`
	ContractAwards             bool       `gorm:"not null;default:false" json:"contract_awards_office"`
	EffectiveStartDate         *time.Time `json:"effective_start_date,omitempty"`
	EffectiveEndDate           *time.Time `json:"effective_end_date,omitempty"`
}

func (Office) TableName() string {
	return "office"
}

// EffectiveOn reports whether the office window covers the date. Both ends
// are inclusive and a nil end is open ended.
func (o Office) EffectiveOn(d time.Time) bool {
	if o.EffectiveStartDate != nil && d.Before(truncateDay(*o.EffectiveStartDate)) {
		return false
	}
	if o.EffectiveEndDate != nil && d.After(truncateDay(*o.EffectiveEndDate)) {
		return false
	}
	return true
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type CGAC struct {
	Code       string `gorm:"primaryKey;type:text" json:"code"`
	AgencyName string `gorm:"type:text;not null" json:"agency_name"`
}

func (CGAC) TableName() string {
	return "cgac"
}

type FREC struct {
	Code       string `gorm:"primaryKey;type:text" json:"code"`
	AgencyName string `gorm:"type:text;not null" json:"agency_name"`
	CGACCode   string `gorm:"type:text" json:"cgac_code"`
}

func (FREC) TableName() string {
	return "frec"
}

// SubTierAgency links a sub-tier code to its top-tier agency. IsFREC selects
// the FREC code over the CGAC code as the owning agency.
type SubTierAgency struct {
	Code     string `gorm:"primaryKey;type:text" json:"code"`
	Name     string `gorm:"type:text;not null" json:"name"`
	CGACCode string `gorm:"type:text" json:"cgac_code"`
	FRECCode string `gorm:"type:text" json:"frec_code"`
	IsFREC   bool   `gorm:"not null;default:false" json:"is_frec"`
}

func (SubTierAgency) TableName() string {
	return "sub_tier_agency"
}

type SAMRecipient struct {
	UEI                      string     `gorm:"primaryKey;type:text" json:"uei"`
	LegalBusinessName        string     `gorm:"type:text" json:"legal_business_name"`
	UltimateParentUEI        string     `gorm:"type:text" json:"ultimate_parent_uei"`
	UltimateParentLegalName  string     `gorm:"type:text" json:"ultimate_parent_legal_enti"`
	BusinessTypes            string     `gorm:"type:text" json:"business_types"`
	HighCompOfficer1FullName string     `gorm:"type:text" json:"high_comp_officer1_full_na"`
	HighCompOfficer1Amount   *float64   `json:"high_comp_officer1_amount"`
	HighCompOfficer2FullName string     `gorm:"type:text" json:"high_comp_officer2_full_na"`
	HighCompOfficer2Amount   *float64   `json:"high_comp_officer2_amount"`
	HighCompOfficer3FullName string     `gorm:"type:text" json:"high_comp_officer3_full_na"`
	HighCompOfficer3Amount   *float64   `json:"high_comp_officer3_amount"`
	HighCompOfficer4FullName string     `gorm:"type:text" json:"high_comp_officer4_full_na"`
	HighCompOfficer4Amount   *float64   `json:"high_comp_officer4_amount"`
	HighCompOfficer5FullName string     `gorm:"type:text" json:"high_comp_officer5_full_na"`
	HighCompOfficer5Amount   *float64   `json:"high_comp_officer5_amount"`
	RegistrationDate         *time.Time `json:"registration_date,omitempty"`
	ExpirationDate           *time.Time `json:"expiration_date,omitempty"`
}

func (SAMRecipient) TableName() string {
	return "sam_recipient"
}

type SAMRecipientUnregistered struct {
	UEI               string `gorm:"primaryKey;type:text" json:"uei"`
	LegalBusinessName string `gorm:"type:text" json:"legal_business_name"`
}

func (SAMRecipientUnregistered) TableName() string {
	return "sam_recipient_unregistered"
}

// TASLookup is the treasury's list of valid account symbols.
type TASLookup struct {
	ID uint `gorm:"primaryKey" json:"id"`
	TAS
	AccountTitle string `gorm:"type:text" json:"account_title,omitempty"`
}

func (TASLookup) TableName() string {
	return "tas_lookup"
}

type ObjectClass struct {
	Code string `gorm:"primaryKey;type:text" json:"code"`
	Name string `gorm:"type:text;not null" json:"name"`
}

func (ObjectClass) TableName() string {
	return "object_class"
}

type ProgramActivity struct {
	ID                  uint   `gorm:"primaryKey" json:"id"`
	AgencyIdentifier    string `gorm:"type:text;index;not null" json:"agency_identifier"`
	MainAccountCode     string `gorm:"type:text;not null" json:"main_account_code"`
	ProgramActivityCode string `gorm:"type:text;not null" json:"program_activity_code"`
	ProgramActivityName string `gorm:"type:text" json:"program_activity_name"`
}

func (ProgramActivity) TableName() string {
	return "program_activity"
}

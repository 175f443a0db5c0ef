package derive

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/fedspend/broker/internal/models"
	"github.com/fedspend/broker/internal/reference"
)

// Record types.
const (
	aggregate     = 1
	nonAggregate  = 2
	piiRedacted   = 3
	foreignPoP    = "00FORGN"
	multiStatePoP = "00*****"
)

var (
	cityPoP   = regexp.MustCompile(`^[A-Z]{2}\d{4}[\dR]$`)
	countyPoP = regexp.MustCompile(`^[A-Z]{2}\*\*\d{3}$`)
	statePoP  = regexp.MustCompile(`^[A-Z]{2}\*{5}$`)
)

// Passes returns the publication passes in execution order.
func Passes() []Pass {
	return []Pass{
		{
			Name:   "total_funding_amount",
			Reads:  []string{"federal_action_obligation", "non_federal_funding_amount"},
			Writes: []string{"total_funding_amount"},
			Apply:  totalFunding,
		},
		{
			Name:   "cfda_title",
			Reads:  []string{"cfda_number"},
			Writes: []string{"cfda_title"},
			Apply:  cfdaTitle,
		},
		{
			Name:      "awarding_agency",
			Reads:     []string{"awarding_office_code", "awarding_sub_tier_agency_c"},
			Writes:    []string{"awarding_sub_tier_agency_c", "awarding_agency_code", "awarding_agency_name", "awarding_sub_tier_agency_n"},
			Tolerates: []string{"awarding_office_code"},
			Apply:     awardingAgency,
		},
		{
			Name:      "funding_agency",
			Reads:     []string{"funding_office_code", "funding_sub_tier_agency_co"},
			Writes:    []string{"funding_sub_tier_agency_co", "funding_agency_code", "funding_agency_name", "funding_sub_tier_agency_na"},
			Tolerates: []string{"funding_office_code"},
			Apply:     fundingAgency,
		},
		{
			Name:   "place_of_performance_state",
			Reads:  []string{"place_of_performance_code", "place_of_performance_zip4a"},
			Writes: []string{"place_of_perfor_state_code", "place_of_perform_state_nam"},
			Apply:  popState,
		},
		{
			Name:   "place_of_performance_zip",
			Reads:  []string{"place_of_performance_zip4a"},
			Writes: []string{"place_of_performance_zip5", "place_of_perform_zip_last4"},
			Apply:  popZip,
		},
		{
			Name: "place_of_performance_location",
			Reads: []string{
				"place_of_performance_zip5", "place_of_perform_zip_last4", "place_of_perfor_state_code",
				"place_of_performance_code", "place_of_performance_congr",
			},
			Writes: []string{
				"place_of_perform_county_co", "place_of_perform_county_na",
				"place_of_performance_city", "place_of_performance_congr",
			},
			RecordTypes: []int{aggregate, nonAggregate},
			Apply:       popLocation,
		},
		{
			Name: "legal_entity_from_place_of_performance",
			Reads: []string{
				"place_of_perfor_state_code", "place_of_perform_state_nam", "place_of_perform_county_co",
				"place_of_perform_county_na", "place_of_performance_city", "place_of_performance_congr",
				"place_of_performance_zip5", "place_of_perform_zip_last4", "place_of_perform_country_c",
			},
			Writes: []string{
				"legal_entity_state_code", "legal_entity_state_name", "legal_entity_county_code",
				"legal_entity_county_name", "legal_entity_city_name", "legal_entity_congressional",
				"legal_entity_zip5", "legal_entity_zip_last4", "legal_entity_country_code",
			},
			RecordTypes: []int{aggregate},
			Apply:       legalEntityFromPoP,
		},
		{
			Name:  "legal_entity_location",
			Reads: []string{"legal_entity_zip5", "legal_entity_zip_last4", "legal_entity_congressional"},
			Writes: []string{
				"legal_entity_state_code", "legal_entity_state_name", "legal_entity_county_code",
				"legal_entity_county_name", "legal_entity_city_name", "legal_entity_congressional",
			},
			RecordTypes: []int{nonAggregate, piiRedacted},
			Apply:       legalEntityLocation,
		},
		{
			Name: "office",
			Reads: []string{
				"fain", "uri", "record_type", "awarding_sub_tier_agency_c",
				"awarding_office_code", "funding_office_code",
			},
			Writes: []string{"awarding_office_code", "funding_office_code", "awarding_office_name", "funding_office_name"},
			Apply:  office,
		},
		{
			Name:   "legal_entity_city_code",
			Reads:  []string{"legal_entity_state_code", "legal_entity_city_name"},
			Writes: []string{"legal_entity_city_code"},
			Apply:  legalEntityCityCode,
		},
		{
			Name:   "country_name",
			Reads:  []string{"place_of_perform_country_c", "legal_entity_country_code"},
			Writes: []string{"place_of_perform_country_n", "legal_entity_country_name"},
			Apply:  countryName,
		},
		{
			Name: "place_of_performance_from_legal_entity",
			Reads: []string{
				"legal_entity_state_code", "legal_entity_state_name", "legal_entity_county_code",
				"legal_entity_county_name", "legal_entity_city_name", "legal_entity_congressional",
				"legal_entity_zip5", "legal_entity_zip_last4",
			},
			Writes: []string{
				"place_of_perfor_state_code", "place_of_perform_state_nam", "place_of_perform_county_co",
				"place_of_perform_county_na", "place_of_performance_city", "place_of_performance_congr",
				"place_of_performance_zip5", "place_of_perform_zip_last4",
			},
			RecordTypes: []int{piiRedacted},
			Apply:       popFromLegalEntity,
		},
		{
			Name:   "ultimate_parent",
			Reads:  []string{"uei"},
			Writes: []string{"ultimate_parent_uei", "ultimate_parent_legal_enti"},
			Apply:  ultimateParent,
		},
		{
			Name:   "executive_compensation",
			Reads:  []string{"uei"},
			Writes: officerColumns(),
			Apply:  executiveCompensation,
		},
		{
			Name: "labels",
			Reads: []string{
				"action_type", "assistance_type", "correction_delete_indicatr",
				"record_type", "business_funds_indicator", "business_types",
			},
			Writes: []string{
				"action_type_description", "assistance_type_desc", "correction_delete_ind_desc",
				"record_type_description", "business_funds_ind_desc", "business_types_desc",
			},
			Apply: labels,
		},
		{
			Name:   "place_of_performance_scope",
			Reads:  []string{"place_of_performance_code", "place_of_performance_zip4a"},
			Writes: []string{"place_of_performance_scope"},
			Apply:  popScope,
		},
		{
			Name:   "business_categories",
			Reads:  []string{"business_types"},
			Writes: []string{"business_categories"},
			Apply:  businessCategories,
		},
		{
			Name: "activate",
			Reads: []string{
				"fain", "award_modification_amendme", "uri", "cfda_number",
				"awarding_sub_tier_agency_c", "record_type",
			},
			Writes: []string{"afa_generated_unique", "unique_award_key", "is_active", "modified_at"},
			Apply:  activate,
		},
	}
}

func officerColumns() []string {
	out := make([]string, 0, 10)
	for i := 1; i <= 5; i++ {
		n := strconv.Itoa(i)
		out = append(out, "high_comp_officer"+n+"_full_na", "high_comp_officer"+n+"_amount")
	}
	return out
}

// fill sets a blank submitted column.
func fill(dst *string, v string) {
	if strings.TrimSpace(*dst) == "" {
		*dst = v
	}
}

func totalFunding(_ *Context, row *models.PublishedFABS) {
	total := 0.0
	if v := row.FederalActionObligation; v != nil {
		total += *v
	}
	if v := row.NonFederalFundingAmount; v != nil {
		total += *v
	}
	row.TotalFundingAmount = &total
}

func cfdaTitle(c *Context, row *models.PublishedFABS) {
	program, _ := c.Ref.CFDAProgram(row.CFDANumber)
	row.CFDATitle = program.ProgramTitle
}

// agency resolves a (sub-tier, office) pair to the sub-tier code and the
// agency chain.
func agency(ref *reference.Snapshot, subTier *string, officeCode string) (code, name, subTierName string) {
	if strings.TrimSpace(*subTier) == "" && strings.TrimSpace(officeCode) != "" {
		if o, ok := ref.Office(officeCode); ok {
			*subTier = o.SubTierCode
		}
	}
	code, name, _ = ref.Agency(*subTier)
	st, _ := ref.SubTier(*subTier)
	return code, name, st.Name
}

func awardingAgency(c *Context, row *models.PublishedFABS) {
	row.AwardingAgencyCode, row.AwardingAgencyName, row.AwardingSubTierAgencyName =
		agency(c.Ref, &row.AwardingSubTierAgencyCode, row.AwardingOfficeCode)
}

func fundingAgency(c *Context, row *models.PublishedFABS) {
	row.FundingAgencyCode, row.FundingAgencyName, row.FundingSubTierAgencyName =
		agency(c.Ref, &row.FundingSubTierAgencyCode, row.FundingOfficeCode)
}

func popState(c *Context, row *models.PublishedFABS) {
	code := strings.ToUpper(strings.TrimSpace(row.PlaceOfPerformanceCode))
	state := ""
	switch {
	case len(code) >= 2 && code[:2] != "00":
		state = code[:2]
	case code == "":
		if zip5, _, ok := reference.SplitZip4(row.PlaceOfPerformanceZip4a); ok {
			state = c.Ref.ZipState(zip5)
		}
	}
	st, _ := c.Ref.State(state)
	row.PlaceOfPerformanceStateCode = state
	row.PlaceOfPerformanceStateName = st.Name
}

func popZip(_ *Context, row *models.PublishedFABS) {
	zip5, last4, _ := reference.SplitZip4(row.PlaceOfPerformanceZip4a)
	row.PlaceOfPerformanceZip5 = zip5
	row.PlaceOfPerformanceZipLast4 = last4
}

func popLocation(c *Context, row *models.PublishedFABS) {
	state := row.PlaceOfPerformanceStateCode
	county := ""
	city := ""
	if zip5 := row.PlaceOfPerformanceZip5; zip5 != "" {
		last4 := row.PlaceOfPerformanceZipLast4
		county = c.Ref.ZipCounty(zip5, last4)
		city = c.Ref.ZipCity(zip5)
		fill(&row.PlaceOfPerformanceCongr, c.Ref.CongressionalDistrict(zip5, last4))
	} else if code := strings.ToUpper(strings.TrimSpace(row.PlaceOfPerformanceCode)); countyPoP.MatchString(code) {
		county = code[4:]
	}

	cc, _ := c.Ref.County(state, county)
	row.PlaceOfPerformanceCountyCode = county
	row.PlaceOfPerformanceCountyName = cc.CountyName
	row.PlaceOfPerformanceCity = city
}

func legalEntityFromPoP(_ *Context, row *models.PublishedFABS) {
	row.LegalEntityStateCode = row.PlaceOfPerformanceStateCode
	row.LegalEntityStateName = row.PlaceOfPerformanceStateName
	row.LegalEntityCountyCode = row.PlaceOfPerformanceCountyCode
	row.LegalEntityCountyName = row.PlaceOfPerformanceCountyName
	row.LegalEntityCityName = row.PlaceOfPerformanceCity
	row.LegalEntityCongressional = row.PlaceOfPerformanceCongr
	row.LegalEntityZip5 = row.PlaceOfPerformanceZip5
	row.LegalEntityZipLast4 = row.PlaceOfPerformanceZipLast4
	row.LegalEntityCountryCode = row.PlaceOfPerformanceCountry
}

func legalEntityLocation(c *Context, row *models.PublishedFABS) {
	zip5 := strings.TrimSpace(row.LegalEntityZip5)
	if zip5 == "" {
		return
	}
	last4 := strings.TrimSpace(row.LegalEntityZipLast4)
	state := c.Ref.ZipState(zip5)
	county := c.Ref.ZipCounty(zip5, last4)
	st, _ := c.Ref.State(state)
	cc, _ := c.Ref.County(state, county)

	row.LegalEntityStateCode = state
	row.LegalEntityStateName = st.Name
	row.LegalEntityCountyCode = county
	row.LegalEntityCountyName = cc.CountyName
	row.LegalEntityCityName = c.Ref.ZipCity(zip5)
	fill(&row.LegalEntityCongressional, c.Ref.CongressionalDistrict(zip5, last4))
}

// office fills blank office codes from the award's earliest published
// record still in force before this publication, then names both offices.
func office(c *Context, row *models.PublishedFABS) {
	if strings.TrimSpace(row.AwardingOfficeCode) == "" || strings.TrimSpace(row.FundingOfficeCode) == "" {
		agg := row.RecordTypeValue() == aggregate
		id := row.FAIN
		if agg {
			id = row.URI
		}
		prior := c.priorOffices(agg, strings.TrimSpace(id), row.AwardingSubTierAgencyCode)
		fill(&row.AwardingOfficeCode, prior.awarding)
		fill(&row.FundingOfficeCode, prior.funding)
	}

	awarding, _ := c.Ref.Office(row.AwardingOfficeCode)
	funding, _ := c.Ref.Office(row.FundingOfficeCode)
	row.AwardingOfficeName = awarding.Name
	row.FundingOfficeName = funding.Name
}

func legalEntityCityCode(c *Context, row *models.PublishedFABS) {
	city, _ := c.Ref.CityCode(row.LegalEntityStateCode, row.LegalEntityCityName)
	row.LegalEntityCityCode = city.CityCode
}

func countryName(c *Context, row *models.PublishedFABS) {
	pop, _ := c.Ref.Country(row.PlaceOfPerformanceCountry)
	le, _ := c.Ref.Country(row.LegalEntityCountryCode)
	row.PlaceOfPerformanceCountryName = pop.Name
	row.LegalEntityCountryName = le.Name
}

// popFromLegalEntity copies the recipient location into a redacted
// record's place of performance. The country is submitted and kept.
func popFromLegalEntity(_ *Context, row *models.PublishedFABS) {
	row.PlaceOfPerformanceStateCode = row.LegalEntityStateCode
	row.PlaceOfPerformanceStateName = row.LegalEntityStateName
	row.PlaceOfPerformanceCountyCode = row.LegalEntityCountyCode
	row.PlaceOfPerformanceCountyName = row.LegalEntityCountyName
	row.PlaceOfPerformanceCity = row.LegalEntityCityName
	row.PlaceOfPerformanceCongr = row.LegalEntityCongressional
	row.PlaceOfPerformanceZip5 = row.LegalEntityZip5
	row.PlaceOfPerformanceZipLast4 = row.LegalEntityZipLast4
}

func ultimateParent(c *Context, row *models.PublishedFABS) {
	r, _ := c.Ref.Recipient(row.UEI)
	row.UltimateParentUEI = r.UltimateParentUEI
	row.UltimateParentLegalName = r.UltimateParentLegalName
}

func executiveCompensation(c *Context, row *models.PublishedFABS) {
	r, _ := c.Ref.Recipient(row.UEI)
	row.HighCompOfficer1FullName, row.HighCompOfficer1Amount = r.HighCompOfficer1FullName, r.HighCompOfficer1Amount
	row.HighCompOfficer2FullName, row.HighCompOfficer2Amount = r.HighCompOfficer2FullName, r.HighCompOfficer2Amount
	row.HighCompOfficer3FullName, row.HighCompOfficer3Amount = r.HighCompOfficer3FullName, r.HighCompOfficer3Amount
	row.HighCompOfficer4FullName, row.HighCompOfficer4Amount = r.HighCompOfficer4FullName, r.HighCompOfficer4Amount
	row.HighCompOfficer5FullName, row.HighCompOfficer5Amount = r.HighCompOfficer5FullName, r.HighCompOfficer5Amount
}

func labels(c *Context, row *models.PublishedFABS) {
	l := c.Labels
	row.ActionTypeDescription = lookup(l.ActionType, row.ActionType)
	row.AssistanceTypeDescription = lookup(l.AssistanceType, row.AssistanceType)
	row.CorrectionDeleteDescription = lookup(l.CorrectionDelete, row.CorrectionDeleteIndicator)
	row.RecordTypeDescription = lookup(l.RecordType, models.FormatRecordType(row.RecordType))
	row.BusinessFundsDescription = lookup(l.BusinessFunds, row.BusinessFundsIndicator)
	row.BusinessTypesDescription = l.BusinessTypesDescription(row.BusinessTypes)
}

// Scope returns the place of performance scope of a code and ZIP+4.
func Scope(code, zip4a string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	zip4a = strings.TrimSpace(zip4a)
	switch {
	case code == foreignPoP:
		return "Foreign"
	case code == multiStatePoP:
		return "Multi-state"
	}
	if _, _, ok := reference.SplitZip4(zip4a); ok {
		return "Single ZIP Code"
	}
	switch {
	case strings.EqualFold(zip4a, "city-wide"), cityPoP.MatchString(code):
		return "City-wide"
	case countyPoP.MatchString(code):
		return "County-wide"
	case statePoP.MatchString(code):
		return "State-wide"
	}
	return ""
}

func popScope(_ *Context, row *models.PublishedFABS) {
	row.PlaceOfPerformanceScope = Scope(row.PlaceOfPerformanceCode, row.PlaceOfPerformanceZip4a)
}

func businessCategories(c *Context, row *models.PublishedFABS) {
	row.BusinessCategories = strings.Join(c.Labels.Categories(row.BusinessTypes), ",")
}

func activate(c *Context, row *models.PublishedFABS) {
	now := c.Now
	row.AFAGeneratedUnique = row.Key()
	row.UniqueAwardKey = models.UniqueAwardKey(row.FABSFields)
	row.IsActive = true
	row.ModifiedAt = &now
}

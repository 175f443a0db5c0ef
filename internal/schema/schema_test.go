package schema

import (
	"sync"
	"testing"

	"github.com/fedspend/broker/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	gormschema "gorm.io/gorm/schema"
)

type SchemaTestSuite struct {
	suite.Suite
}

func TestSchemaTestSuite(t *testing.T) {
	suite.Run(t, new(SchemaTestSuite))
}

func (s *SchemaTestSuite) TestEveryFieldHasAStagingColumn() {
	cache := &sync.Map{}
	for _, ft := range []models.FileType{
		models.FileTypeAppropriations,
		models.FileTypeProgramActivity,
		models.FileTypeAwardFinancial,
		models.FileTypeAwardProcurement,
		models.FileTypeAward,
		models.FileTypeFABS,
	} {
		sch, err := For(ft)
		s.Require().NoError(err, ft)

		parsed, err := gormschema.Parse(models.StagingTable(ft), cache, gormschema.NamingStrategy{})
		s.Require().NoError(err, ft)

		for _, name := range sch.Names() {
			s.NotNil(parsed.LookUpField(name), "%s.%s has no column", ft, name)
		}
		for _, part := range sch.UniqueID {
			s.NotNil(parsed.LookUpField(part.Field), "%s unique id %s has no column", ft, part.Field)
		}
	}
}

func (s *SchemaTestSuite) TestResolveLongShortAndAliasHeaders() {
	sch := MustFor(models.FileTypeProgramActivity)
	headers := sch.Headers()
	headers[0] = "allocation_transfer_agency"
	headers[12] = " pya "
	headers = append(headers, "Flex_Notes", "Unexpected")

	res := sch.Resolve(headers)
	s.True(res.OK())
	s.Empty(res.Missing)
	s.Equal([]string{"Unexpected"}, res.Dropped)

	var flex []string
	for _, c := range res.Columns {
		if c.Flex {
			flex = append(flex, c.Header)
		}
	}
	s.Equal([]string{"Flex_Notes"}, flex)
}

func (s *SchemaTestSuite) TestResolveMissingAndDuplicated() {
	sch := MustFor(models.FileTypeAppropriations)
	var headers []string
	for _, h := range sch.Headers() {
		if h == "AgencyIdentifier" {
			continue
		}
		headers = append(headers, h)
	}
	headers = append(headers, "AllocationTransferAgencyIdentifier", "allocationtransferagencyidentifier")

	res := sch.Resolve(headers)
	s.False(res.OK())
	s.Equal([]string{"AgencyIdentifier"}, res.Missing)
	s.Equal([]string{"AllocationTransferAgencyIdentifier", "allocationtransferagencyidentifier"}, res.Duplicated)
}

func TestParseTypesAndProblems(t *testing.T) {
	sch := MustFor(models.FileTypeFABS)

	row, problems := sch.Parse(map[string]string{
		"action_date":                "20150501",
		"assistance_type":            "02",
		"record_type":                "2",
		"federal_action_obligation":  "1,234.50",
		"non_federal_funding_amount": "abc",
		"legal_entity_zip5":          "123456",
		"fain":                       " F1 ",
	})

	assert.Equal(t, "2015-05-01", row.Values["action_date"])
	assert.Equal(t, 2, row.Values["record_type"])
	assert.Equal(t, 1234.5, row.Values["federal_action_obligation"])
	assert.Nil(t, row.Values["non_federal_funding_amount"])
	assert.Nil(t, row.Values["face_value_loan_guarantee"])
	assert.Equal(t, "F1", row.String("fain"))
	assert.Equal(t, "", row.String("uri"))
	assert.Equal(t, "1,234.50", row.Raw["federal_action_obligation"])

	byField := map[string]models.ErrorType{}
	for _, p := range problems {
		byField[p.Field] = p.Type
	}
	assert.Equal(t, models.ErrorTypeType, byField["non_federal_funding_amount"])
	assert.Equal(t, models.ErrorTypeLength, byField["legal_entity_zip5"])
	assert.Len(t, problems, 2)
}

func TestParseRequiredAndDisplayTAS(t *testing.T) {
	sch := MustFor(models.FileTypeAppropriations)

	row, problems := sch.Parse(map[string]string{
		"agency_identifier":      "097",
		"availability_type_code": "X",
		"main_account_code":      "0100",
	})
	require.Len(t, problems, 1)
	assert.Equal(t, "sub_account_code", problems[0].Field)
	assert.Equal(t, models.ErrorTypeRequired, problems[0].Type)
	assert.Equal(t, "097-X-0100", row.Values["display_tas"])
}

func TestParseDate(t *testing.T) {
	for _, in := range []string{"19991001", "1999-10-01", "10/01/1999", "10/1/1999"} {
		d, ok := ParseDate(in)
		require.True(t, ok, in)
		assert.Equal(t, "1999-10-01", d.Format(DateLayout))
	}
	_, ok := ParseDate("1999-13-01")
	assert.False(t, ok)
}

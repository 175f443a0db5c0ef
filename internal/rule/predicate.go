package rule

import (
	"regexp"
	"strings"
	"time"

	"github.com/fedspend/broker/internal/models"
	"github.com/fedspend/broker/internal/reference"
	"github.com/fedspend/broker/internal/schema"
)

// Env is what a row predicate may consult besides the row itself.
type Env struct {
	Ref *reference.Snapshot
}

// Check reports whether a row passes.
type Check func(env *Env, p *Predicate, row schema.Row) bool

var checks = map[string]Check{
	"required":               checkRequired,
	"blank":                  checkBlank,
	"one_of":                 checkOneOf,
	"pattern":                checkPattern,
	"date_range":             checkDateRange,
	"date_order":             checkDateOrder,
	"exclusive":              checkExclusive,
	"reference":              checkReference,
	"uei_registered":         checkUEIRegistered,
	"office_valid":           checkOfficeValid,
	"cfda_active":            checkCFDAActive,
	"business_types":         checkBusinessTypes,
	"pop_code":               checkPopCode,
	"congressional_district": checkCongressionalDistrict,
	"zip_exists":             checkZipExists,
}

// Kinds lists the registered predicate kinds.
func Kinds() []string {
	kinds := make([]string, 0, len(checks))
	for k := range checks {
		kinds = append(kinds, k)
	}
	return kinds
}

// Eval runs the predicate of a row rule. A row on which a guard condition
// does not hold passes.
func (r *Rule) Eval(env *Env, row schema.Row) bool {
	p := r.Predicate
	if p == nil {
		return true
	}
	if !holdAll(p.When, row) {
		return true
	}
	check, ok := checks[p.Kind]
	if !ok {
		return true
	}
	return check(env, p, row)
}

func checkRequired(_ *Env, p *Predicate, row schema.Row) bool {
	return Text(row, p.Field) != ""
}

func checkBlank(_ *Env, p *Predicate, row schema.Row) bool {
	return Text(row, p.Field) == ""
}

func checkOneOf(_ *Env, p *Predicate, row schema.Row) bool {
	v := Text(row, p.Field)
	return v == "" || containsFold(p.Values, v)
}

func checkPattern(_ *Env, p *Predicate, row schema.Row) bool {
	v := Text(row, p.Field)
	return v == "" || p.re == nil || p.re.MatchString(v)
}

func checkDateRange(_ *Env, p *Predicate, row schema.Row) bool {
	v := Text(row, p.Field)
	if v == "" {
		return true
	}
	if p.Min != "" && v < p.Min {
		return false
	}
	return p.Max == "" || v <= p.Max
}

// date_order: field must not be later than args.other.
func checkDateOrder(_ *Env, p *Predicate, row schema.Row) bool {
	v, other := Text(row, p.Field), Text(row, p.Arg("other", ""))
	return v == "" || other == "" || v <= other
}

// exclusive: at most one of the rule fields is present.
func checkExclusive(_ *Env, p *Predicate, row schema.Row) bool {
	present := 0
	for _, f := range p.fields {
		if Text(row, f) != "" {
			present++
		}
	}
	return present <= 1
}

func checkReference(env *Env, p *Predicate, row schema.Row) bool {
	v := Text(row, p.Field)
	table := p.Arg("table", "")
	if v == "" && table != "tas" {
		return true
	}
	ref := env.Ref
	switch table {
	case "state":
		_, ok := ref.State(v)
		return ok
	case "country":
		_, ok := ref.Country(v)
		return ok
	case "cfda":
		_, ok := ref.CFDAProgram(v)
		return ok
	case "office":
		_, ok := ref.Office(v)
		return ok
	case "sub_tier":
		_, ok := ref.SubTier(v)
		return ok
	case "object_class":
		_, ok := ref.ObjectClass(v)
		return ok
	case "program_activity":
		_, ok := ref.ProgramActivity(Text(row, "agency_identifier"), Text(row, "main_account_code"), v)
		return ok
	case "tas":
		display := models.DisplayTASFromValues(row.Values)
		return display == "" || ref.TASExists(display)
	}
	return false
}

// uei_registered: the UEI is in SAM, unless the action predates
// args.registered_since, or the recipient is foreign, the action is on or
// after args.unregistered_since and the UEI is on the unregistered list.
func checkUEIRegistered(env *Env, p *Predicate, row schema.Row) bool {
	uei := Text(row, p.Field)
	if uei == "" {
		return true
	}
	actionDate := Text(row, "action_date")
	if since := p.Arg("registered_since", "2010-10-01"); actionDate != "" && actionDate < since {
		return true
	}
	if _, ok := env.Ref.Recipient(uei); ok {
		return true
	}

	country := strings.ToUpper(Text(row, "legal_entity_country_code"))
	foreign := country != "" && country != "USA"
	if since := p.Arg("unregistered_since", "2024-10-01"); foreign && actionDate >= since {
		return env.Ref.Unregistered(uei)
	}
	return false
}

// office_valid: the office exists, carries the args.capability flag and is
// effective on the action date.
func checkOfficeValid(env *Env, p *Predicate, row schema.Row) bool {
	code := Text(row, p.Field)
	if code == "" {
		return true
	}
	office, ok := env.Ref.Office(code)
	if !ok {
		return false
	}

	switch p.Arg("capability", "") {
	case "awards":
		if !office.FinancialAssistanceAwards {
			return false
		}
	case "funding":
		if !office.FinancialAssistanceFunding {
			return false
		}
	case "contract_awards":
		if !office.ContractAwards {
			return false
		}
	case "contract_funding":
		if !office.ContractFunding {
			return false
		}
	}

	if d, ok := schema.ParseDate(Text(row, "action_date")); ok {
		return office.EffectiveOn(d)
	}
	return true
}

// cfda_active: the program exists, and the action date is on or after its
// publication and before its archive date.
func checkCFDAActive(env *Env, p *Predicate, row schema.Row) bool {
	number := Text(row, p.Field)
	if number == "" {
		return true
	}
	program, ok := env.Ref.CFDAProgram(number)
	if !ok {
		return false
	}
	d, ok := schema.ParseDate(Text(row, "action_date"))
	if !ok {
		return true
	}
	if program.PublishedDate != nil && d.Before(day(*program.PublishedDate)) {
		return false
	}
	return program.ArchivedDate == nil || d.Before(day(*program.ArchivedDate))
}

// business_types: one to three distinct codes from Values.
func checkBusinessTypes(_ *Env, p *Predicate, row schema.Row) bool {
	v := strings.ToUpper(Text(row, p.Field))
	if v == "" {
		return true
	}
	if len(v) > 3 {
		return false
	}
	seen := map[rune]bool{}
	for _, c := range v {
		if seen[c] || !containsFold(p.Values, string(c)) {
			return false
		}
		seen[c] = true
	}
	return true
}

var popCodePattern = regexp.MustCompile(`^(00FORGN|00\*{5}|[A-Z]{2}\*{5}|[A-Z]{2}\*{2}\d{3}|[A-Z]{2}\d{4}[\dR])$`)

// pop_code: a recognised place of performance form whose state, and county
// for XX**### codes, exist.
func checkPopCode(env *Env, p *Predicate, row schema.Row) bool {
	code := strings.ToUpper(Text(row, p.Field))
	if code == "" {
		return true
	}
	if !popCodePattern.MatchString(code) {
		return false
	}
	state := code[:2]
	if state == "00" {
		return true
	}
	if _, ok := env.Ref.State(state); !ok {
		return false
	}
	if code[2:4] == "**" && code[4] != '*' {
		_, ok := env.Ref.County(state, code[4:])
		return ok
	}
	return true
}

// congressional_district: two digits, "90" for multiple districts, or a
// district the state of args.state_field is known to have. A five digit
// state_field value is read as a ZIP code.
func checkCongressionalDistrict(env *Env, p *Predicate, row schema.Row) bool {
	cd := Text(row, p.Field)
	if cd == "" {
		return true
	}
	if len(cd) != 2 || !isDigits(cd) {
		return false
	}
	if cd == reference.MultipleDistricts {
		return true
	}

	state := stateOf(env, Text(row, p.Arg("state_field", "")))
	if state == "" {
		return true
	}
	return env.Ref.HasDistrict(state, cd)
}

// zip_exists: the ZIP+4 is in the zips table and lies in the state of the
// place of performance code named by args.state_field.
func checkZipExists(env *Env, p *Predicate, row schema.Row) bool {
	v := Text(row, p.Field)
	if v == "" || strings.EqualFold(v, "city-wide") {
		return true
	}
	zip5, last4, ok := reference.SplitZip4(v)
	if !ok || !env.Ref.ZipExists(zip5, last4) {
		return false
	}
	state := stateOf(env, Text(row, p.Arg("state_field", "")))
	if state == "" || state == "00" {
		return true
	}
	return strings.EqualFold(env.Ref.ZipState(zip5), state)
}

func stateOf(env *Env, v string) string {
	if len(v) == 5 && isDigits(v) {
		return env.Ref.ZipState(v)
	}
	if len(v) < 2 {
		return ""
	}
	return strings.ToUpper(v[:2])
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return s != ""
}

func day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

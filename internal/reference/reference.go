// Package reference holds an immutable in-memory snapshot of the reference
// tables. Validation and derivation share one snapshot without locking.
package reference

import (
	"context"
	"sort"
	"strings"

	"github.com/fedspend/broker/internal/models"
	"gorm.io/gorm"
)

// Records is the raw content of every reference table.
type Records struct {
	States               []models.State
	Counties             []models.CountyCode
	Zips                 []models.Zip
	ZipCities            []models.ZipCity
	CityCodes            []models.CityCode
	Countries            []models.CountryCode
	CFDAPrograms         []models.CFDAProgram
	Offices              []models.Office
	CGACs                []models.CGAC
	FRECs                []models.FREC
	SubTiers             []models.SubTierAgency
	Recipients           []models.SAMRecipient
	UnregisteredEntities []models.SAMRecipientUnregistered
	TAS                  []models.TASLookup
	ObjectClasses        []models.ObjectClass
	ProgramActivities    []models.ProgramActivity
}

// Snapshot indexes Records for lookup. Keys are upper-cased and trimmed.
type Snapshot struct {
	states            map[string]models.State
	counties          map[string]models.CountyCode
	zips              map[string][]models.Zip
	districts         map[string]struct{}
	zipCities         map[string]string
	cityCodes         map[string]models.CityCode
	countries         map[string]models.CountryCode
	cfda              map[string]models.CFDAProgram
	offices           map[string]models.Office
	cgacs             map[string]models.CGAC
	frecs             map[string]models.FREC
	subTiers          map[string]models.SubTierAgency
	recipients        map[string]models.SAMRecipient
	unregistered      map[string]struct{}
	tas               map[string]struct{}
	objectClasses     map[string]models.ObjectClass
	programActivities map[string]models.ProgramActivity
}

// Load reads every reference table.
func Load(ctx context.Context, db *gorm.DB) (*Snapshot, error) {
	var r Records
	tx := db.WithContext(ctx)
	for _, dst := range []interface{}{
		&r.States, &r.Counties, &r.Zips, &r.ZipCities, &r.CityCodes, &r.Countries,
		&r.CFDAPrograms, &r.Offices, &r.CGACs, &r.FRECs, &r.SubTiers, &r.Recipients,
		&r.UnregisteredEntities, &r.TAS, &r.ObjectClasses, &r.ProgramActivities,
	} {
		if err := tx.Find(dst).Error; err != nil {
			return nil, err
		}
	}
	return FromRecords(r), nil
}

// FromRecords builds a snapshot from already loaded rows.
func FromRecords(r Records) *Snapshot {
	s := &Snapshot{
		states:            make(map[string]models.State, len(r.States)),
		counties:          make(map[string]models.CountyCode, len(r.Counties)),
		zips:              make(map[string][]models.Zip, len(r.Zips)),
		districts:         make(map[string]struct{}),
		zipCities:         make(map[string]string, len(r.ZipCities)),
		cityCodes:         make(map[string]models.CityCode, len(r.CityCodes)),
		countries:         make(map[string]models.CountryCode, len(r.Countries)),
		cfda:              make(map[string]models.CFDAProgram, len(r.CFDAPrograms)),
		offices:           make(map[string]models.Office, len(r.Offices)),
		cgacs:             make(map[string]models.CGAC, len(r.CGACs)),
		frecs:             make(map[string]models.FREC, len(r.FRECs)),
		subTiers:          make(map[string]models.SubTierAgency, len(r.SubTiers)),
		recipients:        make(map[string]models.SAMRecipient, len(r.Recipients)),
		unregistered:      make(map[string]struct{}, len(r.UnregisteredEntities)),
		tas:               make(map[string]struct{}, len(r.TAS)),
		objectClasses:     make(map[string]models.ObjectClass, len(r.ObjectClasses)),
		programActivities: make(map[string]models.ProgramActivity, len(r.ProgramActivities)),
	}

	for _, v := range r.States {
		s.states[key(v.Code)] = v
	}
	for _, v := range r.Counties {
		s.counties[key(v.StateCode, v.CountyNumber)] = v
	}
	for _, v := range r.Zips {
		s.zips[key(v.Zip5)] = append(s.zips[key(v.Zip5)], v)
		if v.CongressionalDistrict != "" {
			s.districts[key(v.StateCode, v.CongressionalDistrict)] = struct{}{}
		}
	}
	for _, v := range r.ZipCities {
		s.zipCities[key(v.Zip5)] = v.CityName
	}
	for _, v := range r.CityCodes {
		s.cityCodes[key(v.StateCode, v.FeatureName)] = v
	}
	for _, v := range r.Countries {
		s.countries[key(v.Code)] = v
	}
	for _, v := range r.CFDAPrograms {
		s.cfda[key(v.ProgramNumber)] = v
	}
	for _, v := range r.Offices {
		s.offices[key(v.Code)] = v
	}
	for _, v := range r.CGACs {
		s.cgacs[key(v.Code)] = v
	}
	for _, v := range r.FRECs {
		s.frecs[key(v.Code)] = v
	}
	for _, v := range r.SubTiers {
		s.subTiers[key(v.Code)] = v
	}
	for _, v := range r.Recipients {
		s.recipients[key(v.UEI)] = v
	}
	for _, v := range r.UnregisteredEntities {
		s.unregistered[key(v.UEI)] = struct{}{}
	}
	for _, v := range r.TAS {
		display := v.DisplayTAS
		if display == "" {
			display = models.DisplayTAS(v.AllocationTransferAgency, v.AgencyIdentifier,
				v.BeginningPeriodOfAvailability, v.EndingPeriodOfAvailability,
				v.AvailabilityTypeCode, v.MainAccountCode, v.SubAccountCode)
		}
		s.tas[key(display)] = struct{}{}
	}
	for _, v := range r.ObjectClasses {
		s.objectClasses[key(v.Code)] = v
	}
	for _, v := range r.ProgramActivities {
		s.programActivities[key(v.AgencyIdentifier, v.MainAccountCode, v.ProgramActivityCode)] = v
	}
	return s
}

func key(parts ...string) string {
	for i := range parts {
		parts[i] = strings.ToUpper(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, "|")
}

func (s *Snapshot) State(code string) (models.State, bool) {
	v, ok := s.states[key(code)]
	return v, ok
}

// County returns the county of a state by its three digit number.
func (s *Snapshot) County(state, number string) (models.CountyCode, bool) {
	v, ok := s.counties[key(state, number)]
	return v, ok
}

// ZipExists reports whether the zip5 is known and, when last4 is given,
// whether the full ZIP+4 is known.
func (s *Snapshot) ZipExists(zip5, last4 string) bool {
	rows := s.zips[key(zip5)]
	if len(rows) == 0 {
		return false
	}
	if strings.TrimSpace(last4) == "" {
		return true
	}
	for _, z := range rows {
		if strings.EqualFold(z.ZipLast4, strings.TrimSpace(last4)) {
			return true
		}
	}
	return false
}

// ZipState returns the state of a zip5.
func (s *Snapshot) ZipState(zip5 string) string {
	if rows := s.zips[key(zip5)]; len(rows) > 0 {
		return strings.ToUpper(rows[0].StateCode)
	}
	return ""
}

// ZipCounty returns the county number for a ZIP, preferring the exact ZIP+4.
func (s *Snapshot) ZipCounty(zip5, last4 string) string {
	rows := s.zips[key(zip5)]
	if z, ok := exact(rows, last4); ok {
		return z.CountyNumber
	}
	if len(rows) > 0 {
		return rows[0].CountyNumber
	}
	return ""
}

// MultipleDistricts is assigned when a zip5 spans several districts and
// no ZIP+4 resolves the ambiguity.
const MultipleDistricts = "90"

// CongressionalDistrict resolves the district of a ZIP. An exact ZIP+4
// match wins; otherwise a zip5 with more than one district yields "90".
func (s *Snapshot) CongressionalDistrict(zip5, last4 string) string {
	rows := s.zips[key(zip5)]
	if z, ok := exact(rows, last4); ok && z.CongressionalDistrict != "" {
		return z.CongressionalDistrict
	}

	seen := map[string]struct{}{}
	for _, z := range rows {
		if z.CongressionalDistrict != "" {
			seen[z.CongressionalDistrict] = struct{}{}
		}
	}
	switch len(seen) {
	case 0:
		return ""
	case 1:
		for d := range seen {
			return d
		}
	}
	return MultipleDistricts
}

// StateDistricts lists the districts known for a state, sorted.
func (s *Snapshot) StateDistricts(state string) []string {
	prefix := key(state) + "|"
	var out []string
	for k := range s.districts {
		if strings.HasPrefix(k, prefix) {
			out = append(out, strings.TrimPrefix(k, prefix))
		}
	}
	sort.Strings(out)
	return out
}

// HasDistrict reports whether the state has the congressional district.
func (s *Snapshot) HasDistrict(state, district string) bool {
	_, ok := s.districts[key(state, district)]
	return ok
}

func exact(rows []models.Zip, last4 string) (models.Zip, bool) {
	last4 = strings.TrimSpace(last4)
	if last4 == "" {
		return models.Zip{}, false
	}
	for _, z := range rows {
		if strings.EqualFold(z.ZipLast4, last4) {
			return z, true
		}
	}
	return models.Zip{}, false
}

// ZipCity returns the primary city name of a zip5.
func (s *Snapshot) ZipCity(zip5 string) string {
	return s.zipCities[key(zip5)]
}

// CityCode looks up a city by state and feature name.
func (s *Snapshot) CityCode(state, name string) (models.CityCode, bool) {
	v, ok := s.cityCodes[key(state, name)]
	return v, ok
}

func (s *Snapshot) Country(code string) (models.CountryCode, bool) {
	v, ok := s.countries[key(code)]
	return v, ok
}

func (s *Snapshot) CFDAProgram(number string) (models.CFDAProgram, bool) {
	v, ok := s.cfda[key(number)]
	return v, ok
}

func (s *Snapshot) Office(code string) (models.Office, bool) {
	v, ok := s.offices[key(code)]
	return v, ok
}

func (s *Snapshot) SubTier(code string) (models.SubTierAgency, bool) {
	v, ok := s.subTiers[key(code)]
	return v, ok
}

// Agency resolves the owning top-tier agency code and name of a sub-tier.
func (s *Snapshot) Agency(subTier string) (code, name string, ok bool) {
	st, found := s.SubTier(subTier)
	if !found {
		return "", "", false
	}
	if st.IsFREC {
		if f, ok := s.frecs[key(st.FRECCode)]; ok {
			return f.Code, f.AgencyName, true
		}
		return st.FRECCode, "", st.FRECCode != ""
	}
	if c, ok := s.cgacs[key(st.CGACCode)]; ok {
		return c.Code, c.AgencyName, true
	}
	return st.CGACCode, "", st.CGACCode != ""
}

// Recipient returns the SAM registration of a UEI.
func (s *Snapshot) Recipient(uei string) (models.SAMRecipient, bool) {
	v, ok := s.recipients[key(uei)]
	return v, ok
}

// Unregistered reports whether the UEI is on the unregistered allow-list.
func (s *Snapshot) Unregistered(uei string) bool {
	_, ok := s.unregistered[key(uei)]
	return ok
}

// TASExists reports whether a display TAS is valid.
func (s *Snapshot) TASExists(display string) bool {
	_, ok := s.tas[key(display)]
	return ok
}

func (s *Snapshot) ObjectClass(code string) (models.ObjectClass, bool) {
	v, ok := s.objectClasses[key(code)]
	return v, ok
}

func (s *Snapshot) ProgramActivity(agency, mainAccount, code string) (models.ProgramActivity, bool) {
	v, ok := s.programActivities[key(agency, mainAccount, code)]
	return v, ok
}

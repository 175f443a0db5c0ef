package models

// All lists every model that is migrated at start-up.
var All = []interface{}{
	&Submission{},
	&Job{},
	&JobDependency{},
	&FlexField{},
	&ErrorMetadata{},
	&PublishHistory{},
	&Appropriation{},
	&ObjectClassProgramActivity{},
	&AwardFinancial{},
	&AwardProcurement{},
	&AwardFinancialAssistance{},
	&FABS{},
	&PublishedFABS{},
	&State{},
	&CountyCode{},
	&Zip{},
	&ZipCity{},
	&CityCode{},
	&CountryCode{},
	&CFDAProgram{},
	&Office{},
	&CGAC{},
	&FREC{},
	&SubTierAgency{},
	&SAMRecipient{},
	&SAMRecipientUnregistered{},
	&TASLookup{},
	&ObjectClass{},
	&ProgramActivity{},
}

// StagingTables lists the staged row models that are purged with their
// submission.
var StagingTables = []interface{}{
	&Appropriation{},
	&ObjectClassProgramActivity{},
	&AwardFinancial{},
	&AwardProcurement{},
	&AwardFinancialAssistance{},
	&FABS{},
}

package data

import (
	_ "embed"
)

// SampleRows is the minimal upload: header a,b and a single row 1,2
//
//go:embed samples/rows.csv
var SampleRows []byte

// SamplePeople has a quoted cell containing the delimiter and an empty trailing value
//
//go:embed samples/people.csv
var SamplePeople []byte

// SampleAccounts shares no columns with SamplePeople
//
//go:embed samples/accounts.csv
var SampleAccounts []byte

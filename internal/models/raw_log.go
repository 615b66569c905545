// Package models contains domain types for the equipment log analytics backend.
package models

import "time"

// LogNameFields holds the positional fields tokenized out of a raw LogName
// value. Missing positions stay nil; no semantic validation is applied, so a
// voltage-looking token can land in the temp slot when an upstream token is
// absent. Downstream consumers depend on this positional contract.
type LogNameFields struct {
	SampleNo  *string `json:"sampleNo"`
	Voltage   *string `json:"voltage"`
	TestItem  *string `json:"testItem"`
	Temp      *string `json:"temp"`
	Category  *string `json:"category"`
	Accessory *string `json:"accessory"`
	Site      *string `json:"site"`
	EngFlag   bool    `json:"engFlag"`
	EngTag    *string `json:"engTag"`
}

// RawLog represents one accepted line from a source log file. Rows are
// written once and never mutated; (Equipment, HashSig) is unique at the
// storage layer as the dedup backstop.
type RawLog struct {
	ID         string     `json:"id"`
	Equipment  string     `json:"equipment"`
	SourceFile string     `json:"sourceFile"`
	LineNo     int        `json:"lineNo"`
	StTime     *time.Time `json:"stTime"`
	SpTime     *time.Time `json:"spTime"`
	TotalS     *int       `json:"totalS"`

	ProjectRaw      *string `json:"projectRaw"`
	ProjectCustomer *string `json:"projectCustomer"`
	ProjectCode     *string `json:"projectCode"`

	User    *string `json:"user"`
	PrgVer  *string `json:"prgVer"`
	CodeVer *string `json:"codeVer"`

	LogNameRaw *string `json:"logNameRaw"`
	LogNameFields

	MissingUser    bool `json:"missingUser"`
	MissingPrgVer  bool `json:"missingPrgVer"`
	MissingCodeVer bool `json:"missingCodeVer"`

	HashSig    string    `json:"hashSig"`
	InsertedAt time.Time `json:"insertedAt"`
}

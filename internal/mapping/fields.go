// Package mapping maps CSV column headers to the canonical patient and
// consultation fields understood by the importer.
package mapping

import "fmt"

// FieldKey identifies the canonical field a CSV column feeds.
// The set is closed: every valid key is listed in allFields.
type FieldKey string

// Kind groups field keys by the record they populate.
type Kind int

const (
	KindIgnore Kind = iota
	KindPatient
	KindConsultation
)

// Patient fields.
const (
	LastName        FieldKey = "last_name"
	FirstName       FieldKey = "first_name"
	FullName        FieldKey = "full_name"
	Email           FieldKey = "email"
	Phone           FieldKey = "phone"
	BirthDate       FieldKey = "birth_date"
	Gender          FieldKey = "gender"
	Profession      FieldKey = "profession"
	TraumaHistory   FieldKey = "trauma_history"
	MedicalHistory  FieldKey = "medical_history"
	SurgicalHistory FieldKey = "surgical_history"
	FamilyHistory   FieldKey = "family_history"
)

// Consultation fields.
const (
	ConsultationDate FieldKey = "consultation_date"
	Reason           FieldKey = "reason"
	Anamnesis        FieldKey = "anamnesis"
	Examination      FieldKey = "examination"
	Advice           FieldKey = "advice"
)

// Ignore marks a column that feeds no field.
const Ignore FieldKey = "ignore"

var allFields = map[FieldKey]Kind{
	LastName:         KindPatient,
	FirstName:        KindPatient,
	FullName:         KindPatient,
	Email:            KindPatient,
	Phone:            KindPatient,
	BirthDate:        KindPatient,
	Gender:           KindPatient,
	Profession:       KindPatient,
	TraumaHistory:    KindPatient,
	MedicalHistory:   KindPatient,
	SurgicalHistory:  KindPatient,
	FamilyHistory:    KindPatient,
	ConsultationDate: KindConsultation,
	Reason:           KindConsultation,
	Anamnesis:        KindConsultation,
	Examination:      KindConsultation,
	Advice:           KindConsultation,
	Ignore:           KindIgnore,
}

// fieldOrder is the display order used by Fields.
var fieldOrder = []FieldKey{
	LastName, FirstName, FullName, Email, Phone, BirthDate, Gender, Profession,
	TraumaHistory, MedicalHistory, SurgicalHistory, FamilyHistory,
	ConsultationDate, Reason, Anamnesis, Examination, Advice,
	Ignore,
}

// Kind reports which record the key populates.
// Unknown keys report KindIgnore.
func (k FieldKey) Kind() Kind {
	return allFields[k]
}

// Valid reports whether k belongs to the closed set of field keys.
func (k FieldKey) Valid() bool {
	_, ok := allFields[k]
	return ok
}

// ParseFieldKey converts s to a FieldKey. An empty string parses as Ignore.
func ParseFieldKey(s string) (FieldKey, error) {
	if s == "" {
		return Ignore, nil
	}
	k := FieldKey(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown field %q", s)
	}
	return k, nil
}

// Fields returns every field key in display order, Ignore last.
func Fields() []FieldKey {
	out := make([]FieldKey, len(fieldOrder))
	copy(out, fieldOrder)
	return out
}

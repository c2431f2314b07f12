package core

// validation.go turns raw records into canonical records.
//
// Checks run in a fixed order so a record with several problems is always
// rejected for the same reason:
//  1. Every required field is present and non-blank (ErrMissingField)
//  2. Text fields are cleaned with CleanCell, whichever source they came from
//  3. Package id parses as a positive integer (ErrInvalidPackageID)
//  4. Timestamp parses as an ISO-8601 instant (ErrInvalidTimestamp)

// Validator converts raw records to canonical records. The zero value is
// ready to use.
type Validator struct{}

// NewValidator returns a Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks one raw record. On rejection the returned *RecordError
// unwraps to one of the record-level sentinel errors.
func (v *Validator) Validate(raw RawRecord) (CanonicalRecord, *RecordError) {
	text := make(map[string]string, len(RequiredFields))
	for _, name := range RequiredFields {
		val, ok := raw.Fields[name]
		if !ok {
			return CanonicalRecord{}, reject(raw.Ref, ErrMissingField, name, nil)
		}
		s, ok := toText(val)
		s = CleanCell(s)
		if !ok || s == "" {
			return CanonicalRecord{}, reject(raw.Ref, ErrMissingField, name, nil)
		}
		text[name] = s
	}

	id, err := ParsePackageID(raw.Fields[FieldPackageID])
	if err != nil {
		return CanonicalRecord{}, reject(raw.Ref, ErrInvalidPackageID, FieldPackageID, text[FieldPackageID])
	}

	ts, err := ParseTimestamp(raw.Fields[FieldTimestamp])
	if err != nil {
		return CanonicalRecord{}, reject(raw.Ref, ErrInvalidTimestamp, FieldTimestamp, text[FieldTimestamp])
	}

	return CanonicalRecord{
		Ref:         raw.Ref,
		PackageID:   id,
		Origin:      text[FieldOrigin],
		Destination: text[FieldDestination],
		Status:      text[FieldStatus],
		EventTime:   ts,
	}, nil
}

// ValidateAll validates every record, preserving input order for the
// accepted ones. Rejections are returned in input order too.
func (v *Validator) ValidateAll(raws []RawRecord) ([]CanonicalRecord, []*RecordError) {
	accepted := make([]CanonicalRecord, 0, len(raws))
	var rejected []*RecordError

	for _, raw := range raws {
		rec, rerr := v.Validate(raw)
		if rerr != nil {
			rejected = append(rejected, rerr)
			continue
		}
		accepted = append(accepted, rec)
	}

	return accepted, rejected
}

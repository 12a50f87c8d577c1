package model

import "strings"

// Field error messages shown on the household form.
const (
	MsgHouseholdNameRequired = "അംഗത്തിന്റെ പേര് ആവശ്യമാണ്"
	MsgPhoneNumberRequired   = "ഫോൺ നമ്പർ ആവശ്യമാണ്"
	MsgPhoneNumberMinLength  = "ഫോൺ നമ്പർ കുറഞ്ഞത് 10 അക്കമെങ്കിലും വേണം"
	MsgAreaRegionRequired    = "പ്രദേശം/മേഖല ആവശ്യമാണ്"
	MsgIssuesRequired        = "പ്രശ്നങ്ങൾ/ആശങ്കകൾ വിശദീകരിക്കുക"
	MsgSubmitFailed          = "എൻട്രി സമർപ്പിക്കാൻ കഴിഞ്ഞില്ല"
	MsgSubmitted             = "✓ എൻട്രി വിജയകരമായി സമർപ്പിച്ചു"
)

const minPhoneLength = 10

// ValidationError reports the first form field that failed.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// Submission is the user-entered part of a household record.
type Submission struct {
	HouseholdName    string `json:"householdName"`
	PhoneNumber      string `json:"phoneNumber"`
	Issues           string `json:"issues"`
	BoothNumberField string `json:"boothNumberField"`
	AreaRegion       string `json:"areaRegion"`
}

// Normalize trims every field.
func (s *Submission) Normalize() {
	s.HouseholdName = strings.TrimSpace(s.HouseholdName)
	s.PhoneNumber = strings.TrimSpace(s.PhoneNumber)
	s.Issues = strings.TrimSpace(s.Issues)
	s.BoothNumberField = strings.TrimSpace(s.BoothNumberField)
	s.AreaRegion = strings.TrimSpace(s.AreaRegion)
}

// Validate checks the fields in form order and returns the first failure.
// The phone length counts characters, not digits.
func (s *Submission) Validate() error {
	switch {
	case s.HouseholdName == "":
		return &ValidationError{Field: "householdName", Message: MsgHouseholdNameRequired}
	case s.PhoneNumber == "":
		return &ValidationError{Field: "phoneNumber", Message: MsgPhoneNumberRequired}
	case len([]rune(s.PhoneNumber)) < minPhoneLength:
		return &ValidationError{Field: "phoneNumber", Message: MsgPhoneNumberMinLength}
	case s.AreaRegion == "":
		return &ValidationError{Field: "areaRegion", Message: MsgAreaRegionRequired}
	case s.Issues == "":
		return &ValidationError{Field: "issues", Message: MsgIssuesRequired}
	}
	return nil
}

// Record builds the stored record for a submission made by u. The id and
// creation time are left for the store to assign.
func (s *Submission) Record(u *User) HouseholdRecord {
	phone := u.MobileNumber
	if phone == "" {
		phone = u.Phone
	}
	return HouseholdRecord{
		HouseholdName:    s.HouseholdName,
		PhoneNumber:      s.PhoneNumber,
		Issues:           s.Issues,
		BoothNumber:      u.BoothNumber,
		BoothNumberField: s.BoothNumberField,
		AreaRegion:       s.AreaRegion,
		UserID:           u.ID,
		UserName:         u.DisplayName(),
		UserPhone:        phone,
	}
}

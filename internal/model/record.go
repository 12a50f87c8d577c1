package model

import "time"

// HouseholdRecord is one survey submission. BoothNumber is the submitting
// user's booth; BoothNumberField is the booth the household itself reported.
type HouseholdRecord struct {
	ID               string     `json:"id"`
	CreatedAt        *time.Time `json:"createdAt"`
	HouseholdName    string     `json:"householdName"`
	PhoneNumber      string     `json:"phoneNumber"`
	Issues           string     `json:"issues"`
	BoothNumber      string     `json:"boothNumber"`
	BoothNumberField string     `json:"boothNumberField"`
	AreaRegion       string     `json:"areaRegion"`
	UserID           string     `json:"userId"`
	UserName         string     `json:"userName"`
	UserPhone        string     `json:"userPhone"`
}

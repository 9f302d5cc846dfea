package domain

import "time"

// Identity is the phone-related projection of an account record.
type Identity struct {
	IdentityID      string     `json:"id" dynamodbav:"identity_id"`
	PhonePrefix     string     `json:"phone_prefix,omitempty" dynamodbav:"phone_prefix,omitempty"`
	PhoneNumber     string     `json:"phone_number,omitempty" dynamodbav:"phone_number,omitempty"`
	PhoneE164       string     `json:"phone_e164,omitempty" dynamodbav:"phone_e164,omitempty"`
	PhoneLinked     bool       `json:"phone_linked" dynamodbav:"phone_linked"`
	PhoneVerified   bool       `json:"phone_verified" dynamodbav:"phone_verified"`
	PhoneVerifiedAt *time.Time `json:"phone_verified_at,omitempty" dynamodbav:"phone_verified_at,omitempty"`
	UpdatedAt       time.Time  `json:"updated" dynamodbav:"updated_at"`
}

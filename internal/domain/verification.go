package domain

// PhoneChallenge stores a dispatched SMS code until it is confirmed.
// PK: challenge_id. ExpiresAt is a Unix timestamp used as DynamoDB TTL.
type PhoneChallenge struct {
	ChallengeID string `json:"challenge_id" dynamodbav:"challenge_id"`
	PhoneNumber string `json:"phone_number" dynamodbav:"phone_number"` // E.164
	CodeHash    string `json:"-" dynamodbav:"code_hash"`               // bcrypt
	Attempts    int    `json:"attempts" dynamodbav:"attempts"`
	CreatedAt   int64  `json:"created_at" dynamodbav:"created_at"`
	ExpiresAt   int64  `json:"expires_at" dynamodbav:"expires_at"` // TTL (Unix seconds)
}

package dynamo

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-phone-verify/internal/domain"
)

const phoneIndex = "phone_e164-index"

// IdentityRepo provides the phone fields of the identities table.
type IdentityRepo struct {
	client    API
	tableName string
	nowF      func() time.Time
}

func NewIdentityRepo(client API, tableName string) *IdentityRepo {
	return &IdentityRepo{client: client, tableName: tableName, nowF: time.Now}
}

func (r *IdentityRepo) Get(ctx context.Context, identityID string) (*domain.Identity, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       strKey("identity_id", identityID),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("identity not found: %w", domain.ErrNotFound)
	}
	var id domain.Identity
	if err := attributevalue.UnmarshalMap(out.Item, &id); err != nil {
		return nil, err
	}
	return &id, nil
}

// GetByPhone returns the identity holding the E.164 number.
func (r *IdentityRepo) GetByPhone(ctx context.Context, e164 string) (*domain.Identity, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(r.tableName),
		IndexName:                 aws.String(phoneIndex),
		KeyConditionExpression:    aws.String("#a = :v"),
		ExpressionAttributeNames:  map[string]string{"#a": "phone_e164"},
		ExpressionAttributeValues: map[string]types.AttributeValue{":v": &types.AttributeValueMemberS{Value: e164}},
		Limit:                     aws.Int32(1),
	})
	if err != nil {
		return nil, err
	}
	if len(out.Items) == 0 {
		return nil, fmt.Errorf("identity with phone not found: %w", domain.ErrNotFound)
	}
	var id domain.Identity
	if err := attributevalue.UnmarshalMap(out.Items[0], &id); err != nil {
		return nil, err
	}
	return &id, nil
}

// LookupVerifiedPhone returns the verified phone of an identity, or nil when
// the identity is unknown or has no verified phone.
func (r *IdentityRepo) LookupVerifiedPhone(ctx context.Context, identityID string) (*domain.VerifiedPhone, error) {
	id, err := r.Get(ctx, identityID)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if !id.PhoneVerified || id.PhoneNumber == "" {
		return nil, nil
	}
	vp := &domain.VerifiedPhone{
		Prefix:     id.PhonePrefix,
		Number:     id.PhoneNumber,
		FullNumber: id.PhoneE164,
	}
	if id.PhoneVerifiedAt != nil {
		vp.VerifiedAt = *id.PhoneVerifiedAt
	}
	return vp, nil
}

// RecordVerifiedPhone marks the identity's phone as verified.
func (r *IdentityRepo) RecordVerifiedPhone(ctx context.Context, identityID, prefix, number string) error {
	now := r.nowF().UTC()
	return r.update(ctx, identityID, map[string]interface{}{
		"phone_prefix":      prefix,
		"phone_number":      number,
		"phone_e164":        prefix + number,
		"phone_verified":    true,
		"phone_verified_at": now,
	})
}

// LinkPhone attaches an E.164 number to the identity. It fails with
// domain.ErrConflict when another identity already holds the number.
func (r *IdentityRepo) LinkPhone(ctx context.Context, identityID, e164 string) error {
	owner, err := r.GetByPhone(ctx, e164)
	switch {
	case err == nil && owner.IdentityID != identityID:
		return fmt.Errorf("phone already linked to another identity: %w", domain.ErrConflict)
	case err != nil && !isNotFound(err):
		return err
	}
	return r.update(ctx, identityID, map[string]interface{}{
		"phone_e164":   e164,
		"phone_linked": true,
	})
}

func (r *IdentityRepo) update(ctx context.Context, identityID string, updates map[string]interface{}) error {
	updates["updated_at"] = r.nowF().UTC().Format(time.RFC3339)
	ue, err := buildUpdateExpr(updates)
	if err != nil {
		return err
	}
	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       strKey("identity_id", identityID),
		UpdateExpression:          aws.String(ue.Expr),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
	})
	return err
}

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/imrishuroy/photo-orderflow/internal/aws"
	"github.com/imrishuroy/photo-orderflow/internal/orders"
)

// dynamoItem is the shape persisted in both order tables. The full record
// travels as a JSON document; the other attributes are there for console
// inspection and ad-hoc scans.
type dynamoItem struct {
	Reference string    `dynamodbav:"reference"` // PK
	SessionID string    `dynamodbav:"session_id,omitempty"`
	State     string    `dynamodbav:"state"`
	UpdatedAt time.Time `dynamodbav:"updated_at"`
	Version   int64     `dynamodbav:"version"`
	Doc       string    `dynamodbav:"doc"`
}

// sessionItem maps a session to its finalized order.
type sessionItem struct {
	SessionID string `dynamodbav:"session_id"` // PK
	Reference string `dynamodbav:"order_reference"`
}

// DynamoBackend keeps temp and final records in two DynamoDB tables keyed by
// reference, and session claims in a third table keyed by session id.
// Writes carry condition expressions on the version attribute.
type DynamoBackend struct {
	client   aws.DynamoDBAPI
	tables   map[orders.Area]string
	sessions string
}

// NewDynamoBackend binds the backend to its tables.
func NewDynamoBackend(client aws.DynamoDBAPI, tempTable, finalTable, sessionTable string) *DynamoBackend {
	return &DynamoBackend{
		client: client,
		tables: map[orders.Area]string{
			orders.AreaTemp:  tempTable,
			orders.AreaFinal: finalTable,
		},
		sessions: sessionTable,
	}
}

func (d *DynamoBackend) table(area orders.Area) (*string, error) {
	name, ok := d.tables[area]
	if !ok || name == "" {
		return nil, fmt.Errorf("no table configured for area %q", area)
	}
	return &name, nil
}

func refKey(ref string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"reference": &types.AttributeValueMemberS{Value: ref},
	}
}

func marshalRecord(rec *orders.Record) (map[string]types.AttributeValue, error) {
	doc, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	item, err := attributevalue.MarshalMap(dynamoItem{
		Reference: rec.Reference,
		SessionID: rec.SessionID,
		State:     string(rec.State),
		UpdatedAt: rec.UpdatedAt,
		Version:   rec.Version,
		Doc:       string(doc),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal record item: %w", err)
	}
	return item, nil
}

func unmarshalRecord(item map[string]types.AttributeValue) (*orders.Record, error) {
	var di dynamoItem
	if err := attributevalue.UnmarshalMap(item, &di); err != nil {
		return nil, fmt.Errorf("unmarshal record item: %w", err)
	}
	var rec orders.Record
	if err := json.Unmarshal([]byte(di.Doc), &rec); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", di.Reference, err)
	}
	return &rec, nil
}

// condition renders cond as a condition expression; nil means unconditional.
func condition(cond Precondition) (*string, map[string]string, map[string]types.AttributeValue) {
	switch {
	case cond.Absent:
		return awsString("attribute_not_exists(#ref)"), map[string]string{"#ref": "reference"}, nil
	case cond.Version != 0:
		return awsString("#ver = :ver"), map[string]string{"#ver": "version"},
			map[string]types.AttributeValue{":ver": &types.AttributeValueMemberN{Value: strconv.FormatInt(cond.Version, 10)}}
	}
	return nil, nil, nil
}

// classify adds the service error code to err when there is one. Failed
// condition checks are reported as orders.ErrConflict.
func classify(op string, err error) error {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return fmt.Errorf("%s: %w: %w", op, orders.ErrConflict, err)
	}
	var tce *types.TransactionCanceledException
	if errors.As(err, &tce) {
		for _, reason := range tce.CancellationReasons {
			if reason.Code != nil && *reason.Code == "ConditionalCheckFailed" {
				return fmt.Errorf("%s: %w: %w", op, orders.ErrConflict, err)
			}
		}
		return fmt.Errorf("%s: transaction canceled: %w", op, err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %s: %w", op, apiErr.ErrorCode(), err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (d *DynamoBackend) Get(ctx context.Context, area orders.Area, ref string) (*orders.Record, error) {
	tbl, err := d.table(area)
	if err != nil {
		return nil, err
	}
	out, err := d.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      tbl,
		Key:            refKey(ref),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, classify("get item", err)
	}
	if len(out.Item) == 0 {
		return nil, orders.ErrNotFound
	}
	return unmarshalRecord(out.Item)
}

func (d *DynamoBackend) Put(ctx context.Context, rec *orders.Record, cond Precondition) error {
	tbl, err := d.table(rec.Area)
	if err != nil {
		return err
	}
	item, err := marshalRecord(rec)
	if err != nil {
		return err
	}
	expr, names, values := condition(cond)
	if _, err := d.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:                 tbl,
		Item:                      item,
		ConditionExpression:       expr,
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	}); err != nil {
		return classify("put item", err)
	}
	return nil
}

func (d *DynamoBackend) List(ctx context.Context, area orders.Area) ([]*orders.Record, error) {
	tbl, err := d.table(area)
	if err != nil {
		return nil, err
	}
	var out []*orders.Record
	pager := dyn.NewScanPaginator(d.client, &dyn.ScanInput{
		TableName:      tbl,
		ConsistentRead: awsBool(true),
	})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, classify("scan", err)
		}
		for _, item := range page.Items {
			rec, err := unmarshalRecord(item)
			if err != nil {
				return nil, err
			}
			out = append(out, rec)
		}
	}
	return out, nil
}

func (d *DynamoBackend) Delete(ctx context.Context, area orders.Area, ref string, cond Precondition) error {
	tbl, err := d.table(area)
	if err != nil {
		return err
	}
	expr, names, values := condition(cond)
	if _, err := d.client.DeleteItem(ctx, &dyn.DeleteItemInput{
		TableName:                 tbl,
		Key:                       refKey(ref),
		ConditionExpression:       expr,
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	}); err != nil {
		return classify("delete item", err)
	}
	return nil
}

// Move writes the record into its new table and deletes the old item in one
// TransactWriteItems call. The put requires the reference to be absent from
// the new table and the delete applies cond to the old item.
func (d *DynamoBackend) Move(ctx context.Context, rec *orders.Record, from orders.Area, cond Precondition) error {
	dst, err := d.table(rec.Area)
	if err != nil {
		return err
	}
	src, err := d.table(from)
	if err != nil {
		return err
	}
	item, err := marshalRecord(rec)
	if err != nil {
		return err
	}
	putExpr, putNames, _ := condition(Precondition{Absent: true})
	delExpr, delNames, delValues := condition(cond)
	_, err = d.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{
				TableName:                dst,
				Item:                     item,
				ConditionExpression:      putExpr,
				ExpressionAttributeNames: putNames,
			}},
			{Delete: &types.Delete{
				TableName:                 src,
				Key:                       refKey(rec.Reference),
				ConditionExpression:       delExpr,
				ExpressionAttributeNames:  delNames,
				ExpressionAttributeValues: delValues,
			}},
		},
	})
	if err != nil {
		return classify("transact move", err)
	}
	return nil
}

func sessionKey(session string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"session_id": &types.AttributeValueMemberS{Value: session},
	}
}

func (d *DynamoBackend) SessionOrder(ctx context.Context, session string) (string, error) {
	out, err := d.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      awsString(d.sessions),
		Key:            sessionKey(session),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return "", classify("get session", err)
	}
	if len(out.Item) == 0 {
		return "", orders.ErrNotFound
	}
	var si sessionItem
	if err := attributevalue.UnmarshalMap(out.Item, &si); err != nil {
		return "", fmt.Errorf("unmarshal session item: %w", err)
	}
	return si.Reference, nil
}

// SwapSessionOrder conditions the write on the current holder so two
// finalisations of one session cannot both claim it.
func (d *DynamoBackend) SwapSessionOrder(ctx context.Context, session, prev, ref string) error {
	expr := awsString("attribute_not_exists(#sid)")
	names := map[string]string{"#sid": "session_id"}
	var values map[string]types.AttributeValue
	if prev != "" {
		expr = awsString("#ord = :prev")
		names = map[string]string{"#ord": "order_reference"}
		values = map[string]types.AttributeValue{":prev": &types.AttributeValueMemberS{Value: prev}}
	}

	if ref == "" {
		if prev == "" {
			return nil
		}
		_, err := d.client.DeleteItem(ctx, &dyn.DeleteItemInput{
			TableName:                 awsString(d.sessions),
			Key:                       sessionKey(session),
			ConditionExpression:       expr,
			ExpressionAttributeNames:  names,
			ExpressionAttributeValues: values,
		})
		if err != nil {
			return classify("release session", err)
		}
		return nil
	}

	item, err := attributevalue.MarshalMap(sessionItem{SessionID: session, Reference: ref})
	if err != nil {
		return fmt.Errorf("marshal session item: %w", err)
	}
	_, err = d.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:                 awsString(d.sessions),
		Item:                      item,
		ConditionExpression:       expr,
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if err != nil {
		return classify("claim session", err)
	}
	return nil
}

func awsBool(b bool) *bool { return &b }

func awsString(s string) *string { return &s }

package dynamodb

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	goswrcache "github.com/dgduncan/go-swr-cache"
	"github.com/dgduncan/go-swr-cache/caches"
)

const attrKey = "key"

// API is the subset of *dynamodb.Client used by the storage.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Config defines the configuration options for the DynamoDB storage.
type Config struct {
	DeleteExpiredItems bool // Controls if the expired_at TTL attribute is written to allow automatic deletion of expired items

	ItemExpiration time.Duration // How long an item stays in the table. This is independent of the mirror TTL.
	Table          string
}

// Cache implements goswrcache.Storage using Amazon DynamoDB.
type Cache struct {
	client API

	table         string
	expiration    time.Duration
	deleteExpired bool
	now           func() time.Time
}

type storageItem struct {
	Key       string `json:"key" dynamodbav:"key"`
	Value     []byte `json:"value" dynamodbav:"value"`
	UpdatedAt int64  `json:"updated_at" dynamodbav:"updated_at"`
	ExpiredAt int64  `json:"expired_at,omitempty" dynamodbav:"expired_at,omitempty"`
}

func (c *Cache) keyAttr(k string) (map[string]types.AttributeValue, error) {
	key, err := attributevalue.Marshal(k)
	if err != nil {
		return nil, err
	}
	return map[string]types.AttributeValue{attrKey: key}, nil
}

// Get retrieves the value for k. Items past their expired_at are reported as missing
// even before DynamoDB's TTL sweeper removes them.
func (c *Cache) Get(ctx context.Context, k string) ([]byte, error) {
	key, err := c.keyAttr(k)
	if err != nil {
		return nil, err
	}

	output, err := c.client.GetItem(ctx, &dynamodb.GetItemInput{
		Key:            key,
		ConsistentRead: aws.Bool(true),
		TableName:      aws.String(c.table),
	})
	if err != nil {
		return nil, err
	}

	if output.Item == nil {
		return nil, goswrcache.ErrNotFound
	}

	var item storageItem
	if err := attributevalue.UnmarshalMap(output.Item, &item); err != nil {
		return nil, err
	}

	if item.ExpiredAt != 0 && c.now().UTC().Unix() >= item.ExpiredAt {
		return nil, goswrcache.ErrNotFound
	}

	return item.Value, nil
}

// Set stores v under k, replacing any previous item.
func (c *Cache) Set(ctx context.Context, k string, v []byte) error {
	now := c.now().UTC()

	i := storageItem{
		Key:       k,
		Value:     v,
		UpdatedAt: now.Unix(),
	}
	if c.deleteExpired {
		i.ExpiredAt = now.Add(c.expiration).Unix()
	}

	av, err := attributevalue.MarshalMap(i)
	if err != nil {
		return err
	}

	_, err = c.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.table),
		Item:      av,
	})
	return err
}

// Delete removes k.
func (c *Cache) Delete(ctx context.Context, k string) error {
	key, err := c.keyAttr(k)
	if err != nil {
		return err
	}

	_, err = c.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(c.table),
		Key:       key,
	})
	return err
}

// Keys scans the table for keys beginning with prefix.
func (c *Cache) Keys(ctx context.Context, prefix string) ([]string, error) {
	p := dynamodb.NewScanPaginator(c.client, &dynamodb.ScanInput{
		TableName:            aws.String(c.table),
		ProjectionExpression: aws.String("#k"),
		FilterExpression:     aws.String("begins_with(#k, :prefix)"),
		ExpressionAttributeNames: map[string]string{
			"#k": attrKey,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":prefix": &types.AttributeValueMemberS{Value: prefix},
		},
	})

	var keys []string
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}

		var items []storageItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, err
		}
		for _, i := range items {
			keys = append(keys, i.Key)
		}
	}

	return keys, nil
}

// New creates a new DynamoDB storage with the provided configuration.
// Returns an error if the client is nil or no table is configured.
func New(_ context.Context, client API, config *Config) (*Cache, error) {
	if client == nil {
		return nil, caches.ValidationError{
			Reason: "nil client",
		}
	}

	if config == nil || config.Table == "" {
		return nil, caches.ValidationError{
			Reason: "empty table name",
		}
	}

	itemExpiration := config.ItemExpiration
	if itemExpiration == 0 {
		itemExpiration = caches.DefaultExpiredDuration
	}

	return &Cache{
		client: client,

		table:         config.Table,
		expiration:    itemExpiration,
		deleteExpired: config.DeleteExpiredItems,
		now:           time.Now,
	}, nil
}
